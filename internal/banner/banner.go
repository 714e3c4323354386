// Package banner prints the colored console output of termserve: the
// startup box, one status block per server and the shutdown messages.
package banner

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
	"golang.org/x/text/width"
)

// Title lines shown inside the startup box.
var Title = []string{
	"TERMINAL HACKER CHESS CLOCK SERVERS",
	"Mobile-First Design",
}

// boxWidth is the number of columns between the box borders.
const boxWidth = 59

// Printer writes console messages. It is safe for concurrent use so that
// server workers can print their status blocks as they come up.
type Printer struct {
	out     io.Writer
	noColor bool
	mu      sync.Mutex
}

// New returns a Printer writing to out. With noColor set, no escape
// sequences are written regardless of the terminal.
func New(out io.Writer, noColor bool) *Printer {
	return &Printer{out: out, noColor: noColor}
}

func (p *Printer) color(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if p.noColor {
		c.DisableColor()
	}
	return c
}

// Banner prints the startup box.
func (p *Printer) Banner() {
	p.mu.Lock()
	defer p.mu.Unlock()

	bold := p.color(color.Bold)
	fmt.Fprintln(p.out)
	bold.Fprintln(p.out, strings.Join(Box(Title, boxWidth), "\n"))
	fmt.Fprintln(p.out)
}

// Missing reports the directories that prevented startup.
func (p *Printer) Missing(dirs []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintln(p.out)
	p.color(color.Bold).Fprintln(p.out, "Error: Missing directories:")
	for _, d := range dirs {
		fmt.Fprintf(p.out, "  - %s\n", d)
	}
}

// Starting announces that servers are about to start.
func (p *Printer) Starting() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.color(color.Bold).Fprintln(p.out, "Starting servers...")
	fmt.Fprintln(p.out)
}

// Server prints the status block of a server that is up: a checkmark with
// its name, its URL and, when known, the title of its index page.
func (p *Printer) Server(name, url, title string, attr color.Attribute) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.color(attr, color.Bold).Fprintf(p.out, "✓ %s\n", name)
	fmt.Fprint(p.out, "  ")
	p.color(attr).Fprintln(p.out, url)
	if title != "" {
		fmt.Fprint(p.out, "  ")
		p.color(attr, color.Faint).Fprintln(p.out, title)
	}
}

// Stopped reports a server whose serve loop ended with an error.
func (p *Printer) Stopped(name string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.color(color.FgHiRed, color.Bold).Fprintf(p.out, "✗ %s stopped: %v\n", name, err)
}

// Running prints the all-servers-up message.
func (p *Printer) Running() {
	p.mu.Lock()
	defer p.mu.Unlock()

	bold := p.color(color.Bold)
	fmt.Fprintln(p.out)
	bold.Fprintln(p.out, "All servers running!")
	bold.Fprintln(p.out, "Press Ctrl+C to stop all servers")
	fmt.Fprintln(p.out)
}

// ShuttingDown announces the start of shutdown.
func (p *Printer) ShuttingDown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprint(p.out, "\n\n")
	p.color(color.Bold).Fprintln(p.out, "Shutting down all servers...")
}

// Goodbye prints the farewell line.
func (p *Printer) Goodbye() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.color(color.Bold).Fprintln(p.out, "Goodbye!")
	fmt.Fprintln(p.out)
}

// Box frames lines in a double-line box with inner columns of space,
// centering each line by its display width. Lines wider than inner widen
// the box.
func Box(lines []string, inner int) []string {
	for _, l := range lines {
		if w := DisplayWidth(l); w > inner {
			inner = w
		}
	}

	out := make([]string, 0, len(lines)+2)
	out = append(out, "╔"+strings.Repeat("═", inner)+"╗")
	for _, l := range lines {
		pad := inner - DisplayWidth(l)
		left := pad / 2
		out = append(out, "║"+strings.Repeat(" ", left)+l+strings.Repeat(" ", pad-left)+"║")
	}
	out = append(out, "╚"+strings.Repeat("═", inner)+"╝")
	return out
}

// DisplayWidth returns the number of terminal columns s occupies. Wide and
// fullwidth East Asian runes count as two.
func DisplayWidth(s string) int {
	n := 0
	for _, r := range s {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			n += 2
		default:
			n++
		}
	}
	return n
}
