package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
)

// colorNames maps config color names to the bright foreground attributes
// (SGR 90-97).
var colorNames = map[string]color.Attribute{
	"black":   color.FgHiBlack,
	"red":     color.FgHiRed,
	"green":   color.FgHiGreen,
	"yellow":  color.FgHiYellow,
	"blue":    color.FgHiBlue,
	"magenta": color.FgHiMagenta,
	"cyan":    color.FgHiCyan,
	"white":   color.FgHiWhite,
}

// ParseColor resolves a color name or a raw foreground SGR code
// (30-37 or 90-97) to a fatih/color attribute.
func ParseColor(s string) (color.Attribute, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if attr, ok := colorNames[s]; ok {
		return attr, nil
	}
	n, err := strconv.Atoi(s)
	if err == nil && ((n >= 30 && n <= 37) || (n >= 90 && n <= 97)) {
		return color.Attribute(n), nil
	}
	return 0, fmt.Errorf("unknown color %q", s)
}

// Attribute returns the spec's color, falling back to white when the color
// does not parse. Validate rejects such specs before they reach a server.
func (s ServerSpec) Attribute() color.Attribute {
	attr, err := ParseColor(s.Color)
	if err != nil {
		return color.FgHiWhite
	}
	return attr
}
