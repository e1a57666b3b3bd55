package main

import (
	"github.com/constructsafe/constructsafe/cmd"
)

func main() {
	cmd.Execute()
}
