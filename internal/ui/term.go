package ui

import (
	"io"

	"golang.org/x/term"
)

// plainWidth is the divider width when output is not a terminal.
const plainWidth = 40

// dividerWidth fits dividers to the terminal behind w, capped at
// maxDivider.
func dividerWidth(w io.Writer) int {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return plainWidth
	}
	cols, _, err := term.GetSize(int(f.Fd()))
	if err != nil || cols <= 0 {
		return plainWidth
	}
	return min(cols, maxDivider)
}
