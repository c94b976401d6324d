package packager

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

//nolint:gochecknoglobals // Styles are immutable once built.
var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	nameStyle  = lipgloss.NewStyle().Bold(true)
	urlStyle   = lipgloss.NewStyle().Faint(true)
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// renderResolution renders what was found upstream.
func renderResolution(res *resolution, kfmonVersion string, useNightly bool) string {
	var builder strings.Builder

	builder.WriteString(titleStyle.Render("Upstream releases"))
	builder.WriteString("\n\n")

	line := func(name, version, url string) {
		builder.WriteString(nameStyle.Render(fmt.Sprintf("%s %s", name, version)))
		builder.WriteString("\n")
		builder.WriteString(urlStyle.Render(url))
		builder.WriteString("\n")
	}

	line("KFMon", kfmonVersion, "(local package)")
	line("NickelMenu", res.NickelMenu.Version, res.NickelMenu.URL)
	line("KOReader Release", res.KOReader.Version, res.KOReader.URL)

	if res.Nightly != nil {
		line("KOReader Nightly", res.Nightly.Version, res.Nightly.URL)
	}

	line("Plato", res.Plato.Version, res.Plato.URL)

	if useNightly {
		builder.WriteString("\nKOReader will be bundled from the latest nightly.")
	}

	return boxStyle.Render(strings.TrimRight(builder.String(), "\n"))
}

// renderArtifacts renders the list of created bundles.
func renderArtifacts(paths []string) string {
	var builder strings.Builder

	builder.WriteString(titleStyle.Render("Here are the packages we created"))
	builder.WriteString("\n")

	for _, path := range paths {
		builder.WriteString("\n")
		builder.WriteString(path)
	}

	return boxStyle.Render(builder.String())
}

func (r *runner) printResolution() {
	_, _ = fmt.Fprintln(r.out, renderResolution(r.resolved, r.kfmon.Version, r.opts.Nightly))
}

func (r *runner) printArtifacts() {
	paths := make([]string, 0, len(r.artifacts))
	for _, artifact := range r.artifacts {
		paths = append(paths, artifact.Path)
	}

	_, _ = fmt.Fprintln(r.out, renderArtifacts(paths))
}
