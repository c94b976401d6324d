package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/ocp-packager/internal/config"
	"github.com/oshokin/ocp-packager/internal/logger"
	"github.com/oshokin/ocp-packager/internal/service/packager"
	"github.com/oshokin/ocp-packager/internal/version"
)

// nightlyArg is the positional argument selecting the KOReader nightly.
const nightlyArg = "nightly"

var (
	// configPath stores the path to the configuration YAML file.
	configPath string
	// logLevel is the minimum level of printed log lines.
	logLevel string
	// nightly bundles the latest KOReader nightly.
	nightly bool
	// outputDir overrides the publishing directory.
	outputDir string
	// keepScratch leaves downloads in the work directory.
	keepScratch bool

	// rootCmd builds every one-click package.
	rootCmd = &cobra.Command{
		Use:   "ocp-packager [nightly]",
		Short: "Build KFMon one-click packages for Kobo e-readers.",
		Long: `Builds the KFMon one-click packages (OCP) for Kobo e-readers.

Looks for the local KFMon-v*.zip install package, resolves the latest NickelMenu,
Plato and KOReader releases, downloads them and assembles four bundles:
Plato, KOReader, Plato with KOReader, and a KFMon-only fixup package.

Pass "nightly" (or --nightly) to bundle the latest KOReader nightly instead of
the latest release.`,
		Args:              cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs:         []string{nightlyArg},
		SilenceUsage:      true,
		PersistentPreRunE: applyLogLevel,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return packager.Run(ctx, packagerOptions(cmd, args))
		},
	}

	// resolveCmd prints what would be bundled.
	resolveCmd = &cobra.Command{
		Use:   "resolve [nightly]",
		Short: "Print the latest upstream versions without building anything.",
		Args:  cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return packager.Resolve(ctx, packagerOptions(cmd, args))
		},
		ValidArgs: []string{nightlyArg},
	}

	// force allows init-config to replace an existing file.
	force bool

	// initConfigCmd writes the default configuration.
	initConfigCmd = &cobra.Command{
		Use:   "init-config",
		Short: "Write the default configuration file.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := configPath
			if path == "" {
				path = config.DefaultConfigFilename
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to replace it", path)
			}

			if err := config.Save(path, config.Default()); err != nil {
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Configuration written to", path)

			return nil
		},
	}
)

// Execute runs the ocp-packager CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// applyLogLevel sets the global log level from the --log-level flag.
func applyLogLevel(_ *cobra.Command, _ []string) error {
	level, ok := logger.ParseLogLevel(logLevel)
	if !ok {
		return fmt.Errorf("unknown log level %q", logLevel)
	}

	logger.SetLevel(level)

	return nil
}

// packagerOptions collects the flags and arguments of a packaging command.
func packagerOptions(cmd *cobra.Command, args []string) *packager.Options {
	return &packager.Options{
		ConfigPath:  configPath,
		Nightly:     useNightly(nightly, args),
		OutputDir:   outputDir,
		KeepScratch: keepScratch,
		Out:         cmd.OutOrStdout(),
		Progress:    cmd.ErrOrStderr(),
	}
}

// useNightly reports whether the nightly channel was requested by flag or argument.
func useNightly(flag bool, args []string) bool {
	return flag || (len(args) > 0 && args[0] == nightlyArg)
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to configuration file (default "+config.DefaultConfigFilename+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVarP(&nightly, "nightly", "n", false, "bundle the latest KOReader nightly")

	rootCmd.Flags().StringVarP(&outputDir, "output", "o", "", "publish the bundles and their manifest to this directory")
	rootCmd.Flags().BoolVar(&keepScratch, "keep-scratch", false, "keep downloaded archives in the work directory")

	initConfigCmd.Flags().BoolVarP(&force, "force", "f", false, "replace an existing configuration file")

	rootCmd.AddCommand(resolveCmd, initConfigCmd)
}
