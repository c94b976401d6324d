package version

import (
	"fmt"

	"github.com/spf13/cobra"
)

// AttachCobraVersionCommand adds a `version` subcommand to root.
func AttachCobraVersionCommand(root *cobra.Command) {
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the packager release and build details.",
		Long: `Print the ocp-packager release, the git commit and build time stamped in through ldflags,
and the User-Agent sent to the release API, the KOReader nightly index and the download hosts.
The release is also recorded in every bundle manifest.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), Full())
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "user agent:", UserAgent())
		},
	})
}
