package util

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// PadRight pads or truncates str to exactly width terminal cells.
func PadRight(str string, width int) string {
	w := runewidth.StringWidth(str)
	if w > width {
		return runewidth.Truncate(str, width, "...")
	}
	return str + strings.Repeat(" ", width-w)
}

// SingleLine collapses line breaks and tabs so a message preview fits on
// one table row.
func SingleLine(str string) string {
	return strings.Join(strings.Fields(str), " ")
}
