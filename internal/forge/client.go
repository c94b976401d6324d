package forge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v66/github"

	"github.com/oshokin/ocp-packager/internal/config"
	"github.com/oshokin/ocp-packager/internal/logger"
	"github.com/oshokin/ocp-packager/internal/version"
)

var (
	// ErrAssetNotFound is returned when the latest release does not ship the expected asset.
	ErrAssetNotFound = errors.New("couldn't find the release asset")
	// errNoTags is returned when a hotfix lookup finds an untagged repository.
	errNoTags = errors.New("repository has no tags")
)

// Release is the resolved latest release of an upstream project.
type Release struct {
	// Project is the repository name, used in logs and reports.
	Project string
	// Version is the release tag, possibly replaced by a newer hotfix tag.
	Version string
	// URL is the download URL of the archive to bundle.
	URL string
}

// Client wraps a GitHub client.
type Client struct {
	// gh is the underlying REST client.
	gh *github.Client
}

// Option customizes a Client.
type Option func(*options)

// options collects Client settings.
type options struct {
	// httpClient performs the API requests.
	httpClient *http.Client
	// token authenticates requests, raising the rate limit.
	token string
	// baseURL overrides the API endpoint.
	baseURL string
}

// WithHTTPClient sets the HTTP client used for API requests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(o *options) {
		o.httpClient = httpClient
	}
}

// WithToken authenticates API requests.
func WithToken(token string) Option {
	return func(o *options) {
		o.token = token
	}
}

// WithBaseURL points the client to another API endpoint.
func WithBaseURL(baseURL string) Option {
	return func(o *options) {
		o.baseURL = baseURL
	}
}

// NewClient creates a Client.
func NewClient(opts ...Option) (*Client, error) {
	o := new(options)
	for _, opt := range opts {
		opt(o)
	}

	gh := github.NewClient(o.httpClient)
	gh.UserAgent = version.UserAgent()

	if o.token != "" {
		gh = gh.WithAuthToken(o.token)
	}

	if o.baseURL != "" {
		baseURL := o.baseURL
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}

		parsed, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse API base URL: %w", err)
		}

		gh.BaseURL = parsed
	}

	return &Client{gh: gh}, nil
}

// LatestRelease resolves the latest release of upstream.
//
// With a URL template the release tag is all that is needed. Otherwise the
// asset named after the tag must be attached to the release. With
// PreferHotfixTag the newest repository tag is considered too: an asset named
// after it wins, and replaces the version, unless the asset named after the
// release tag comes first.
func (c *Client) LatestRelease(ctx context.Context, upstream *config.Upstream) (*Release, error) {
	ctx = logger.WithKV(ctx, "project", upstream.Repo)

	logger.InfoKV(ctx, "Looking for the latest release", "owner", upstream.Owner)

	latest, _, err := c.gh.Repositories.GetLatestRelease(ctx, upstream.Owner, upstream.Repo)
	if err != nil {
		return nil, fmt.Errorf("latest release of %s/%s: %w", upstream.Owner, upstream.Repo, err)
	}

	release := &Release{
		Project: upstream.Repo,
		Version: latest.GetTagName(),
	}

	logger.InfoKV(ctx, "Looking at release", "version", release.Version)

	if upstream.URL != "" {
		release.URL = config.Expand(upstream.URL, release.Version)

		return release, nil
	}

	var hotfixTag string

	if upstream.PreferHotfixTag {
		hotfixTag, err = c.newestTag(ctx, upstream)
		if err != nil {
			return nil, err
		}
	}

	releaseAsset := config.Expand(upstream.Asset, release.Version)
	hotfixAsset := config.Expand(upstream.Asset, hotfixTag)

	for _, asset := range latest.Assets {
		switch asset.GetName() {
		case releaseAsset:
			release.URL = asset.GetBrowserDownloadURL()
		case hotfixAsset:
			if hotfixTag == "" {
				continue
			}

			release.URL = asset.GetBrowserDownloadURL()
			release.Version = hotfixTag

			logger.InfoKV(ctx, "Picked up a hotfix", "version", hotfixTag)
		default:
			continue
		}

		return release, nil
	}

	return nil, fmt.Errorf("%s in %s/%s %s: %w",
		releaseAsset, upstream.Owner, upstream.Repo, release.Version, ErrAssetNotFound)
}

// newestTag returns the first tag listed by the API, which is the most recent one.
func (c *Client) newestTag(ctx context.Context, upstream *config.Upstream) (string, error) {
	tags, _, err := c.gh.Repositories.ListTags(ctx, upstream.Owner, upstream.Repo, &github.ListOptions{PerPage: 1})
	if err != nil {
		return "", fmt.Errorf("tags of %s/%s: %w", upstream.Owner, upstream.Repo, err)
	}

	if len(tags) == 0 {
		return "", fmt.Errorf("%s/%s: %w", upstream.Owner, upstream.Repo, errNoTags)
	}

	return tags[0].GetName(), nil
}
