package packager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/oshokin/ocp-packager/internal/bundle"
	"github.com/oshokin/ocp-packager/internal/config"
	"github.com/oshokin/ocp-packager/internal/fetch"
	"github.com/oshokin/ocp-packager/internal/forge"
	"github.com/oshokin/ocp-packager/internal/kfmon"
	"github.com/oshokin/ocp-packager/internal/logger"
	"github.com/oshokin/ocp-packager/internal/manifest"
	"github.com/oshokin/ocp-packager/internal/nightly"
	"github.com/oshokin/ocp-packager/internal/repository/lock"
)

// Scratch file names inside the work directory.
const (
	nickelMenuDir     = "NickelMenu"
	nickelMenuTarball = "NickelMenu.tgz"
	platoArchive      = "Plato.zip"
	koreaderArchive   = "KOReader.zip"
)

// Options contains inputs for the packager entry points.
type Options struct {
	// ConfigPath is an optional path to the settings YAML file.
	ConfigPath string
	// Nightly bundles the latest KOReader nightly instead of the latest release.
	Nightly bool
	// OutputDir overrides the configured publishing directory.
	OutputDir string
	// KeepScratch leaves downloaded archives in the work directory.
	KeepScratch bool
	// Out receives the human-readable recaps. Nil discards them.
	Out io.Writer
	// Progress receives download progress bars. Nil disables them.
	Progress io.Writer
}

// runner holds the state of a single packaging run.
// It is unexported: callers should use Run or Resolve.
type runner struct {
	// cfg is the loaded configuration.
	cfg *config.Config
	// opts are the caller options.
	opts *Options
	// out receives recaps.
	out io.Writer
	// kfmon is the local KFMon package.
	kfmon *kfmon.Package
	// forge resolves upstream releases.
	forge *forge.Client
	// crawler finds nightlies.
	crawler *nightly.Crawler
	// downloader fetches archives.
	downloader *fetch.Downloader
	// resolved holds the upstream lookups.
	resolved *resolution
	// downloads maps scratch archive names to their download results.
	downloads map[string]*fetch.Result
	// artifacts are the bundles built so far.
	artifacts []*bundle.Artifact
}

// Run executes the whole packaging pipeline.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "ocp-packager")

	r, err := newRunner(ctx, opts)
	if err != nil {
		return err
	}

	if err = r.resolve(ctx); err != nil {
		return err
	}

	r.printResolution()

	guard := lock.NewFileLock(r.cfg.WorkDir, nil)
	if err = guard.Acquire(ctx); err != nil {
		return err
	}

	defer func() {
		if releaseErr := guard.Release(); releaseErr != nil {
			logger.WarnKV(ctx, "Could not release the lock", "error", releaseErr)
		}
	}()

	defer r.cleanup(ctx)

	if err = r.build(ctx); err != nil {
		logger.ErrorKV(ctx, "Packaging failed", "error", err)
		return err
	}

	if err = r.publish(ctx); err != nil {
		return fmt.Errorf("publish bundles: %w", err)
	}

	r.printArtifacts()

	logger.Info(ctx, "Packager completed successfully")

	return nil
}

// Resolve looks up the upstream releases and prints them, without building anything.
func Resolve(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "ocp-packager")

	r, err := newRunner(ctx, opts)
	if err != nil {
		return err
	}

	if err = r.resolve(ctx); err != nil {
		return err
	}

	r.printResolution()

	return nil
}

// newRunner loads the configuration and locates the KFMon package.
// Nothing touches the network before the KFMon package is found.
func newRunner(ctx context.Context, opts *Options) (*runner, error) {
	if opts == nil {
		opts = new(Options)
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	if opts.OutputDir != "" {
		cfg.OutputDir = opts.OutputDir
	}

	logger.Info(ctx, "Looking for the latest KFMon install package")

	pkg, err := kfmon.Find(cfg.KFMonDir)
	if err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Found KFMon", "path", pkg.Path, "version", pkg.Version)

	httpClient := &http.Client{Timeout: cfg.Timeout}

	forgeOptions := []forge.Option{
		forge.WithHTTPClient(httpClient),
		forge.WithBaseURL(cfg.APIBaseURL),
	}

	if token := os.Getenv(cfg.TokenEnv); token != "" {
		forgeOptions = append(forgeOptions, forge.WithToken(token))
	}

	forgeClient, err := forge.NewClient(forgeOptions...)
	if err != nil {
		return nil, err
	}

	var downloadOptions []fetch.Option
	if opts.Progress != nil {
		downloadOptions = append(downloadOptions, fetch.WithProgress(opts.Progress))
	}

	out := opts.Out
	if out == nil {
		out = io.Discard
	}

	return &runner{
		cfg:        cfg,
		opts:       opts,
		out:        out,
		kfmon:      pkg,
		forge:      forgeClient,
		crawler:    nightly.NewCrawler(httpClient, cfg.NightlyIndexURL),
		downloader: fetch.NewDownloader(httpClient, downloadOptions...),
		downloads:  make(map[string]*fetch.Result),
	}, nil
}

// build downloads the upstream archives and builds every bundle variant.
func (r *runner) build(ctx context.Context) error {
	workDir := r.cfg.WorkDir
	koreader := r.resolved.koreader(r.opts.Nightly)

	if r.opts.Nightly {
		logger.InfoKV(ctx, "Using the latest nightly instead of the latest release for KOReader",
			"version", koreader.Version)
	}

	// NickelMenu first, it is merged into the KFMon KoboRoot.
	if err := r.download(ctx, r.resolved.NickelMenu.URL, filepath.Join(nickelMenuDir, nickelMenuTarball)); err != nil {
		return err
	}

	koboRoot, err := bundle.MergeKoboRoot(ctx, r.kfmon.Path,
		r.scratch(filepath.Join(nickelMenuDir, nickelMenuTarball)), r.scratch(nickelMenuDir))
	if err != nil {
		return fmt.Errorf("merge KoboRoot: %w", err)
	}

	if err = r.download(ctx, r.resolved.Plato.URL, platoArchive); err != nil {
		return err
	}

	if err = r.download(ctx, koreader.URL, koreaderArchive); err != nil {
		return err
	}

	inputs := &bundle.Inputs{
		KFMonVersion:    r.kfmon.Version,
		KFMonModTime:    r.kfmon.ModTime,
		PlatoVersion:    r.resolved.Plato.Version,
		PlatoArchive:    r.scratch(platoArchive),
		PlatoModTime:    r.downloads[platoArchive].LastModified,
		KOReaderVersion: koreader.Version,
		KOReaderArchive: r.scratch(koreaderArchive),
		KOReaderModTime: r.downloads[koreaderArchive].LastModified,
	}

	builder := bundle.NewBuilder(workDir, r.kfmon.Path, koboRoot, r.cfg.NMConfigDir)

	for _, recipe := range bundle.Recipes(inputs) {
		logger.InfoKV(ctx, "Creating a one-click package", "bundle", recipe.Name)

		artifact, buildErr := builder.Build(ctx, recipe)
		if buildErr != nil {
			return buildErr
		}

		r.artifacts = append(r.artifacts, artifact)
	}

	return nil
}

// download fetches url into the scratch file name.
func (r *runner) download(ctx context.Context, url, name string) error {
	result, err := r.downloader.Download(ctx, url, r.scratch(name))
	if err != nil {
		return err
	}

	r.downloads[name] = result

	return nil
}

// scratch returns the location of name in the work directory.
func (r *runner) scratch(name string) string {
	return filepath.Join(r.cfg.WorkDir, name)
}

// cleanup removes downloaded archives and the merge tree.
func (r *runner) cleanup(ctx context.Context) {
	if r.opts.KeepScratch {
		logger.InfoKV(ctx, "Keeping scratch files", "path", r.cfg.WorkDir)
		return
	}

	for _, name := range []string{nickelMenuDir, platoArchive, koreaderArchive} {
		if err := os.RemoveAll(r.scratch(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.WarnKV(ctx, "Could not remove scratch file", "path", r.scratch(name), "error", err)
		}
	}
}

// versions lists the bundled project versions for the manifest.
func (r *runner) versions() map[string]string {
	return map[string]string{
		"kfmon":      r.kfmon.Version,
		"nickelmenu": r.resolved.NickelMenu.Version,
		"plato":      r.resolved.Plato.Version,
		"koreader":   r.resolved.koreader(r.opts.Nightly).Version,
	}
}

// manifestPath is where the manifest of this run is written.
func (r *runner) manifestPath() string {
	dir := r.cfg.OutputDir
	if dir == "" {
		dir = r.cfg.WorkDir
	}

	return filepath.Join(dir, manifest.Filename)
}
