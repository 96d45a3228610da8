package display

import (
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// Alignment represents column alignment options
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

const defaultWidth = 120

// Table is a plain ASCII table. Cells are padded before they are painted so
// escape codes never disturb the column widths.
type Table struct {
	headers    []string
	rows       [][]string
	alignments map[int]Alignment
	// paint colors a padded cell; row -1 is the header
	paint    func(row, col int, padded string) string
	maxWidth int
}

// NewTable creates a table sized to the terminal on stdout
func NewTable(headers ...string) *Table {
	return &Table{
		headers:    headers,
		alignments: make(map[int]Alignment),
		maxWidth:   TerminalWidth(os.Stdout),
	}
}

// AddRow appends a row; missing cells render empty
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// SetAlignment sets the alignment of a column
func (t *Table) SetAlignment(col int, a Alignment) {
	t.alignments[col] = a
}

// SetPainter installs a function that colors padded cells
func (t *Table) SetPainter(fn func(row, col int, padded string) string) {
	t.paint = fn
}

// SetMaxWidth overrides the detected terminal width; 0 disables the limit
func (t *Table) SetMaxWidth(w int) {
	t.maxWidth = w
}

// Render writes the table to w
func (t *Table) Render(w io.Writer) error {
	widths := t.columnWidths()

	var b strings.Builder
	border := t.border(widths)
	b.WriteString(border)
	b.WriteString(t.line(-1, t.headers, widths))
	b.WriteString(border)
	for i, row := range t.rows {
		b.WriteString(t.line(i, row, widths))
	}
	b.WriteString(border)

	_, err := io.WriteString(w, b.String())
	return err
}

func (t *Table) columnWidths() []int {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range t.rows {
		for i := 0; i < len(widths) && i < len(row); i++ {
			if n := utf8.RuneCountInString(row[i]); n > widths[i] {
				widths[i] = n
			}
		}
	}

	if t.maxWidth <= 0 {
		return widths
	}
	// shrink the widest column until the table fits, never below 8 runes
	for total(widths) > t.maxWidth {
		widest := 0
		for i := range widths {
			if widths[i] > widths[widest] {
				widest = i
			}
		}
		if widths[widest] <= 8 {
			break
		}
		widths[widest]--
	}
	return widths
}

// total is the rendered width: cells, one space of padding each side, and borders
func total(widths []int) int {
	n := 1
	for _, w := range widths {
		n += w + 3
	}
	return n
}

func (t *Table) border(widths []int) string {
	var b strings.Builder
	b.WriteString("+")
	for _, w := range widths {
		b.WriteString(strings.Repeat("-", w+2))
		b.WriteString("+")
	}
	b.WriteString("\n")
	return b.String()
}

func (t *Table) line(row int, cells []string, widths []int) string {
	var b strings.Builder
	b.WriteString("|")
	for col, w := range widths {
		cell := ""
		if col < len(cells) {
			cell = cells[col]
		}
		padded := pad(truncate(cell, w), w, t.alignments[col])
		if t.paint != nil {
			padded = t.paint(row, col, padded)
		}
		b.WriteString(" ")
		b.WriteString(padded)
		b.WriteString(" |")
	}
	b.WriteString("\n")
	return b.String()
}

func truncate(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	if width <= 3 {
		return string([]rune(s)[:width])
	}
	return string([]rune(s)[:width-3]) + "..."
}

func pad(s string, width int, a Alignment) string {
	gap := width - utf8.RuneCountInString(s)
	if gap <= 0 {
		return s
	}
	if a == AlignRight {
		return strings.Repeat(" ", gap) + s
	}
	return s + strings.Repeat(" ", gap)
}

// TerminalWidth returns the width of w if it is a terminal, else a default
func TerminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return defaultWidth
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return defaultWidth
	}
	return width
}
