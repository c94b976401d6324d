// Package nightly crawls the KOReader nightly build directory listing.
//
// The listing is a plain web server index: one sub-directory per nightly,
// each holding the archives of the platforms it was built for. Not every
// nightly is built for every platform, so the crawl walks them from the newest
// down until one ships a Kobo archive.
package nightly

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/maruel/natural"
	"golang.org/x/net/html"

	"github.com/oshokin/ocp-packager/internal/logger"
	"github.com/oshokin/ocp-packager/internal/version"
)

const (
	// kobo marks the Kobo archive in a nightly listing.
	kobo = "koreader-kobo"
	// commitSeparator starts the git hash suffix of a nightly name.
	commitSeparator = "-g"
)

var (
	// ErrNoBuild is returned when no nightly ships a Kobo archive.
	ErrNoBuild = errors.New("couldn't find the latest KOReader nightly")
	// errBadHTTPStatus is returned for any listing that is not served with 200.
	errBadHTTPStatus = errors.New("unexpected http status")
)

// Build is a nightly build shipping a Kobo archive.
type Build struct {
	// Name is the nightly directory name, e.g. v2024.11-45-g1a2b3c4_2024-12-01.
	Name string
	// Version is Name cut before its commit hash, e.g. v2024.11-45.
	Version string
	// URL is the download URL of the Kobo archive.
	URL string
}

// Crawler browses the nightly listing.
type Crawler struct {
	// client performs the listing requests.
	client *http.Client
	// indexURL is the nightly listing, ending with a slash.
	indexURL string
}

// NewCrawler creates a Crawler for the listing at indexURL.
func NewCrawler(client *http.Client, indexURL string) *Crawler {
	if client == nil {
		client = http.DefaultClient
	}

	if !strings.HasSuffix(indexURL, "/") {
		indexURL += "/"
	}

	return &Crawler{
		client:   client,
		indexURL: indexURL,
	}
}

// Latest returns the newest nightly that ships a Kobo archive.
func (c *Crawler) Latest(ctx context.Context) (*Build, error) {
	logger.InfoKV(ctx, "Looking for the latest KOReader nightly", "index", c.indexURL)

	links, err := c.links(ctx, c.indexURL)
	if err != nil {
		return nil, fmt.Errorf("crawl nightlies: %w", err)
	}

	nightlies := SortNewestFirst(directories(links))

	for _, nightly := range nightlies {
		logger.DebugKV(ctx, "Looking at nightly", "name", nightly)

		var files []string

		files, err = c.links(ctx, c.indexURL+nightly+"/")
		if err != nil {
			return nil, fmt.Errorf("crawl nightly %s: %w", nightly, err)
		}

		if !slices.ContainsFunc(files, func(href string) bool { return strings.Contains(href, kobo) }) {
			continue
		}

		return &Build{
			Name:    nightly,
			Version: strings.SplitN(nightly, commitSeparator, 2)[0], //nolint:mnd // Head and tail.
			URL:     fmt.Sprintf("%s%s/%s-%s.zip", c.indexURL, nightly, kobo, nightly),
		}, nil
	}

	return nil, ErrNoBuild
}

// SortNewestFirst orders nightly names from the newest to the oldest.
// Dots are compared as '~' so that a point release sorts after the
// nightlies of its base release.
func SortNewestFirst(names []string) []string {
	sorted := slices.Clone(names)

	key := func(name string) string {
		return strings.ReplaceAll(name, ".", "~")
	}

	slices.SortStableFunc(sorted, func(a, b string) int {
		switch ka, kb := key(a), key(b); {
		case natural.Less(kb, ka):
			return -1
		case natural.Less(ka, kb):
			return 1
		default:
			return 0
		}
	})

	return sorted
}

// directories keeps the sub-directory links of a listing, without their trailing slash.
func directories(links []string) []string {
	result := make([]string, 0, len(links))

	for _, href := range links {
		name, isDir := strings.CutSuffix(href, "/")
		if !isDir || name == "" || name == ".." || name == "." ||
			strings.ContainsAny(name, "?/:#") {
			continue
		}

		result = append(result, name)
	}

	return result
}

// links fetches a listing and returns the href of every anchor.
func (c *Crawler) links(ctx context.Context, pageURL string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", version.UserAgent())

	response, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s, %s: %w", pageURL, response.Status, errBadHTTPStatus)
	}

	return parseLinks(response.Body)
}

// parseLinks extracts anchor targets from an HTML document.
func parseLinks(r io.Reader) ([]string, error) {
	var (
		tokenizer = html.NewTokenizer(r)
		hrefs     []string
	)

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			if errors.Is(tokenizer.Err(), io.EOF) {
				return hrefs, nil
			}

			return nil, tokenizer.Err()
		case html.StartTagToken, html.SelfClosingTagToken:
			token := tokenizer.Token()
			if token.Data != "a" {
				continue
			}

			for _, attr := range token.Attr {
				if attr.Key == "href" {
					hrefs = append(hrefs, attr.Val)
				}
			}
		default:
		}
	}
}
