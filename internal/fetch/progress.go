package fetch

import (
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/progress"
)

const (
	// barWidth is the width of the rendered bar in cells.
	barWidth = 40
	// redrawStep is the byte count between redraws when the size is unknown.
	redrawStep = 1 << 20
	// kibi is the unit divisor used in size labels.
	kibi = 1024
)

// progressWriter renders a bubbles progress bar while bytes flow through it.
type progressWriter struct {
	// out receives the rendered bar.
	out io.Writer
	// bar renders the percentage.
	bar progress.Model
	// total is the expected size, <= 0 if unknown.
	total int64
	// written counts bytes so far.
	written int64
	// drawn is the last rendered position, in percent or redraw steps.
	drawn int64
}

// newProgress returns nil when out is nil.
func newProgress(out io.Writer, total int64) *progressWriter {
	if out == nil {
		return nil
	}

	return &progressWriter{
		out:   out,
		bar:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(barWidth)),
		total: total,
		drawn: -1,
	}
}

// Write counts p and redraws the bar when it moved.
func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))

	position := p.written / redrawStep
	if p.total > 0 {
		position = p.written * 100 / p.total //nolint:mnd // Percent.
	}

	if position != p.drawn {
		p.drawn = position
		p.render()
	}

	return len(b), nil
}

// finish draws the final state and ends the line.
func (p *progressWriter) finish() {
	if p == nil {
		return
	}

	p.render()
	_, _ = fmt.Fprintln(p.out)
}

func (p *progressWriter) render() {
	if p.total <= 0 {
		_, _ = fmt.Fprintf(p.out, "\r%s", humanize(p.written))
		return
	}

	ratio := float64(p.written) / float64(p.total)
	if ratio > 1 {
		ratio = 1
	}

	_, _ = fmt.Fprintf(p.out, "\r%s %s/%s", p.bar.ViewAs(ratio), humanize(p.written), humanize(p.total))
}

// humanize renders a byte count with binary units.
func humanize(n int64) string {
	if n < kibi {
		return fmt.Sprintf("%dB", n)
	}

	value, unit := float64(n), 0

	units := []string{"KiB", "MiB", "GiB", "TiB"}
	for value /= kibi; value >= kibi && unit < len(units)-1; unit++ {
		value /= kibi
	}

	return fmt.Sprintf("%.1f%s", value, units[unit])
}
