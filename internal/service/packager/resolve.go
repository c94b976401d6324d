package packager

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/oshokin/ocp-packager/internal/forge"
	"github.com/oshokin/ocp-packager/internal/logger"
	"github.com/oshokin/ocp-packager/internal/nightly"
)

// resolution holds the upstream lookups of a run.
type resolution struct {
	// NickelMenu is the latest NickelMenu release.
	NickelMenu *forge.Release
	// Plato is the latest Plato release.
	Plato *forge.Release
	// KOReader is the latest KOReader release, hotfix included.
	KOReader *forge.Release
	// Nightly is the latest KOReader nightly, only crawled on request.
	Nightly *nightly.Build
}

// koreader returns the KOReader build to bundle.
func (res *resolution) koreader(useNightly bool) *forge.Release {
	if !useNightly || res.Nightly == nil {
		return res.KOReader
	}

	return &forge.Release{
		Project: res.KOReader.Project,
		Version: res.Nightly.Version,
		URL:     res.Nightly.URL,
	}
}

// resolve looks the upstreams up. The lookups are independent read-only
// requests, so they run side by side and the first failure cancels the rest.
func (r *runner) resolve(ctx context.Context) error {
	res := new(resolution)
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		release, err := r.forge.LatestRelease(groupCtx, &r.cfg.Upstreams.NickelMenu)
		if err != nil {
			return fmt.Errorf("couldn't find the latest NickelMenu package: %w", err)
		}

		res.NickelMenu = release

		return nil
	})

	group.Go(func() error {
		release, err := r.forge.LatestRelease(groupCtx, &r.cfg.Upstreams.Plato)
		if err != nil {
			return fmt.Errorf("couldn't find the latest Plato package: %w", err)
		}

		res.Plato = release

		return nil
	})

	group.Go(func() error {
		release, err := r.forge.LatestRelease(groupCtx, &r.cfg.Upstreams.KOReader)
		if err != nil {
			return fmt.Errorf("couldn't find the latest KOReader package: %w", err)
		}

		res.KOReader = release

		return nil
	})

	if r.opts.Nightly {
		group.Go(func() error {
			build, err := r.crawler.Latest(groupCtx)
			if err != nil {
				return err
			}

			res.Nightly = build

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Resolved upstreams",
		"nickelmenu", res.NickelMenu.Version,
		"plato", res.Plato.Version,
		"koreader", res.KOReader.Version)

	r.resolved = res

	return nil
}
