// Package sources verifies the official portal links declared in the legal
// source catalog: domain sanity via the public suffix list, then a fetch that
// reports HTTP status and page title.
package sources

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/weppos/publicsuffix-go/publicsuffix"

	"github.com/constructsafe/constructsafe/pkg/catalog"
)

// Result is the verification outcome for one source portal.
type Result struct {
	SourceID   string `json:"source_id"`
	Portal     string `json:"portal"`
	Domain     string `json:"domain,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	Title      string `json:"title,omitempty"`
	Err        string `json:"error,omitempty"`
}

// NewHTTPClient returns the retrying client used for portal fetches.
func NewHTTPClient() *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.Logger = nil
	rc.HTTPClient.Timeout = 15 * time.Second
	return rc.StandardClient()
}

// Verify checks every distinct portal referenced by the clause catalog.
// A nil client skips the network fetch and only validates domains.
func Verify(ctx context.Context, cat *catalog.Catalog, client *http.Client) []Result {
	seen := make(map[string]struct{})
	var results []Result

	for _, cl := range cat.Clauses() {
		if cl.Portal == "" {
			continue
		}
		if _, dup := seen[cl.Portal]; dup {
			continue
		}
		seen[cl.Portal] = struct{}{}
		results = append(results, verifyOne(ctx, cl, client))
	}
	return results
}

func verifyOne(ctx context.Context, cl catalog.Clause, client *http.Client) Result {
	res := Result{SourceID: cl.SourceID, Portal: cl.Portal}

	rawURL := cl.Portal
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		res.Err = "invalid portal URL"
		return res
	}

	domain, err := publicsuffix.Domain(u.Hostname())
	if err != nil {
		res.Err = "no registrable domain: " + err.Error()
		return res
	}
	res.Domain = domain

	if client == nil {
		return res
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		res.Err = err.Error()
		return res
	}
	resp, err := client.Do(req)
	if err != nil {
		res.Err = err.Error()
		return res
	}
	defer resp.Body.Close()

	res.StatusCode = resp.StatusCode
	if doc, err := goquery.NewDocumentFromReader(resp.Body); err == nil {
		res.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	return res
}
