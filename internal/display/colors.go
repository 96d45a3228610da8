// Package display renders run summaries and dry-run plans for a terminal or a log pipe.
package display

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Palette colors status words. A disabled palette returns text unchanged.
type Palette struct {
	enabled bool

	success *color.Color
	warning *color.Color
	failure *color.Color
	muted   *color.Color
	header  *color.Color
}

// NewPalette enables colors only when w is a terminal whose environment
// allows them (NO_COLOR, TERM=dumb and CLICOLOR_FORCE are honored) and
// noColor is not set
func NewPalette(w io.Writer, noColor bool) *Palette {
	return newPalette(!noColor && colorSupported(w))
}

func newPalette(enabled bool) *Palette {
	p := &Palette{
		enabled: enabled,
		success: color.New(color.FgHiGreen),
		warning: color.New(color.FgHiYellow),
		failure: color.New(color.FgHiRed, color.Bold),
		muted:   color.New(color.FgWhite),
		header:  color.New(color.FgHiBlue, color.Bold),
	}
	// fatih/color decides from os.Stdout on its own; the writer we detected wins
	for _, c := range []*color.Color{p.success, p.warning, p.failure, p.muted, p.header} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func colorSupported(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
		return false
	}
	return termenv.NewOutput(f).EnvColorProfile() != termenv.Ascii
}

// Enabled reports whether escape codes are emitted
func (p *Palette) Enabled() bool {
	return p.enabled
}

func (p *Palette) Success(s string) string { return p.paint(p.success, s) }
func (p *Palette) Warning(s string) string { return p.paint(p.warning, s) }
func (p *Palette) Failure(s string) string { return p.paint(p.failure, s) }
func (p *Palette) Muted(s string) string   { return p.paint(p.muted, s) }
func (p *Palette) Header(s string) string  { return p.paint(p.header, s) }

func (p *Palette) paint(c *color.Color, s string) string {
	if !p.enabled {
		return s
	}
	return c.Sprint(s)
}
