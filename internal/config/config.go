package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Upstream describes a project whose latest release is pulled from the forge.
type Upstream struct {
	// Owner is the forge account owning the repository.
	Owner string `yaml:"owner"`
	// Repo is the repository name.
	Repo string `yaml:"repo"`
	// Asset is the release asset name template, {version} is replaced by the tag.
	Asset string `yaml:"asset,omitempty"`
	// URL is an optional download URL template used instead of release assets.
	URL string `yaml:"url,omitempty"`
	// PreferHotfixTag lets the newest tag override the latest release when it ships the asset.
	PreferHotfixTag bool `yaml:"prefer_hotfix_tag,omitempty"`
}

// Upstreams groups the three projects bundled with KFMon.
type Upstreams struct {
	// NickelMenu is merged into the KFMon KoboRoot tarball.
	NickelMenu Upstream `yaml:"nickelmenu"`
	// Plato is the first reader payload.
	Plato Upstream `yaml:"plato"`
	// KOReader is the second reader payload.
	KOReader Upstream `yaml:"koreader"`
}

// Config holds every knob of the one-click packager.
type Config struct {
	// KFMonDir is where the locally built KFMon-v*.zip package lives.
	KFMonDir string `yaml:"kfmon_dir"`
	// NMConfigDir holds the NickelMenu config shards (kfmon, koreader, plato).
	NMConfigDir string `yaml:"nm_config_dir"`
	// WorkDir is the scratch directory where bundles are staged and created.
	WorkDir string `yaml:"work_dir"`
	// OutputDir is where finished bundles are published. Empty keeps them in WorkDir.
	OutputDir string `yaml:"output_dir,omitempty"`
	// APIBaseURL overrides the forge API endpoint.
	APIBaseURL string `yaml:"api_base_url,omitempty"`
	// TokenEnv names the environment variable holding an optional API token.
	TokenEnv string `yaml:"token_env"`
	// NightlyIndexURL is the directory listing of KOReader nightly builds.
	NightlyIndexURL string `yaml:"nightly_index_url"`
	// Timeout bounds every single HTTP exchange, downloads included.
	Timeout time.Duration `yaml:"timeout"`
	// Upstreams describes the projects to fetch.
	Upstreams Upstreams `yaml:"upstreams"`
}

const (
	// DefaultConfigFilename is the default filename for packager settings.
	DefaultConfigFilename = "ocp-packager.yaml"

	// DefaultKFMonDir is the default location of the local KFMon package.
	DefaultKFMonDir = "Kobo"

	// DefaultNMConfigDir is the default location of the NickelMenu config shards.
	DefaultNMConfigDir = "nm"

	// DefaultWorkDirName is created under the system temp directory.
	DefaultWorkDirName = "KFMon"

	// DefaultTokenEnv is the environment variable read for the API token.
	DefaultTokenEnv = "GH_API_ACCESS_TOK"

	// DefaultNightlyIndexURL lists the KOReader nightlies.
	DefaultNightlyIndexURL = "http://build.koreader.rocks/download/nightly/"

	// DefaultTimeout bounds a single HTTP exchange.
	DefaultTimeout = 10 * time.Minute

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600

	// VersionPlaceholder is substituted in asset and URL templates.
	VersionPlaceholder = "{version}"
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errUpstreamIncomplete is returned when owner or repo are missing.
	errUpstreamIncomplete = errors.New("upstream owner and repo must be provided")
	// errUpstreamNoSource is returned when neither an asset nor a URL template is given.
	errUpstreamNoSource = errors.New("upstream needs an asset or url template")
	// errTemplateNoVersion is returned when a template lacks the version placeholder.
	errTemplateNoVersion = errors.New("template must contain " + VersionPlaceholder)
)

// Default returns the configuration matching the upstream projects bundled with KFMon.
func Default() *Config {
	return &Config{
		KFMonDir:        DefaultKFMonDir,
		NMConfigDir:     DefaultNMConfigDir,
		WorkDir:         filepath.Join(os.TempDir(), DefaultWorkDirName),
		TokenEnv:        DefaultTokenEnv,
		NightlyIndexURL: DefaultNightlyIndexURL,
		Timeout:         DefaultTimeout,
		Upstreams: Upstreams{
			NickelMenu: Upstream{
				Owner: "pgaskin",
				Repo:  "NickelMenu",
				// Customized builds with the auto-uninstaller built in.
				URL: "https://nm.storage.pgaskin.net/artifacts/tag/{version}/with-NM_UNINSTALL_CONFIGDIR/KoboRoot.tgz",
			},
			Plato: Upstream{
				Owner: "baskerville",
				Repo:  "plato",
				Asset: "plato-{version}.zip",
			},
			KOReader: Upstream{
				Owner:           "koreader",
				Repo:            "koreader",
				Asset:           "koreader-kobo-{version}.zip",
				PreferHotfixTag: true,
			},
		},
	}
}

// Load reads configuration from the provided path on top of Default.
// A missing file at the default path is not an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFilename
	}

	cfg := Default()

	contents, err := os.ReadFile(filepath.Clean(path))
	switch {
	case err == nil:
		if err = yaml.Unmarshal(contents, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// Defaults only.
	default:
		return nil, fmt.Errorf("read settings: %w", err)
	}

	if err = Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings and fills in defaults for empty fields.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	defaults := Default()

	if cfg.KFMonDir == "" {
		cfg.KFMonDir = defaults.KFMonDir
	}

	if cfg.NMConfigDir == "" {
		cfg.NMConfigDir = defaults.NMConfigDir
	}

	if cfg.WorkDir == "" {
		cfg.WorkDir = defaults.WorkDir
	}

	if cfg.TokenEnv == "" {
		cfg.TokenEnv = defaults.TokenEnv
	}

	if cfg.NightlyIndexURL == "" {
		cfg.NightlyIndexURL = defaults.NightlyIndexURL
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}

	if _, err := url.ParseRequestURI(cfg.NightlyIndexURL); err != nil {
		return fmt.Errorf("invalid nightly index URL: %w", err)
	}

	// Links found in the index are resolved relative to it.
	if !strings.HasSuffix(cfg.NightlyIndexURL, "/") {
		cfg.NightlyIndexURL += "/"
	}

	if cfg.APIBaseURL != "" {
		if _, err := url.ParseRequestURI(cfg.APIBaseURL); err != nil {
			return fmt.Errorf("invalid API base URL: %w", err)
		}
	}

	upstreams := map[string]*Upstream{
		"nickelmenu": &cfg.Upstreams.NickelMenu,
		"plato":      &cfg.Upstreams.Plato,
		"koreader":   &cfg.Upstreams.KOReader,
	}

	for name, upstream := range upstreams {
		if err := validateUpstream(upstream); err != nil {
			return fmt.Errorf("upstream %s: %w", name, err)
		}
	}

	return nil
}

// Expand substitutes the version placeholder in a template.
func Expand(template, version string) string {
	return strings.ReplaceAll(template, VersionPlaceholder, version)
}

func validateUpstream(upstream *Upstream) error {
	if upstream.Owner == "" || upstream.Repo == "" {
		return errUpstreamIncomplete
	}

	if upstream.Asset == "" && upstream.URL == "" {
		return errUpstreamNoSource
	}

	if upstream.Asset != "" && !strings.Contains(upstream.Asset, VersionPlaceholder) {
		return fmt.Errorf("asset %q: %w", upstream.Asset, errTemplateNoVersion)
	}

	if upstream.URL == "" {
		return nil
	}

	if !strings.Contains(upstream.URL, VersionPlaceholder) {
		return fmt.Errorf("url %q: %w", upstream.URL, errTemplateNoVersion)
	}

	if _, err := url.ParseRequestURI(Expand(upstream.URL, "v0")); err != nil {
		return fmt.Errorf("invalid url template: %w", err)
	}

	return nil
}
