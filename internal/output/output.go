package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

const defaultWidth = 80

// Width returns the width of the terminal behind w, or a default when w is
// not a terminal.
func Width(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return defaultWidth
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return defaultWidth
	}
	return width
}

// PrintRight overwrites the current line of w with text aligned right.
func PrintRight(w io.Writer, text string) {
	padding := max(Width(w)-len([]rune(text)), 0)
	fmt.Fprintf(w, "\r%s%s", strings.Repeat(" ", padding), text)
}

func ProgressBar(percent int, width int) string {
	percent = min(max(percent, 0), 100)
	filled := (percent * width) / 100
	return strings.Repeat("█", filled) + strings.Repeat(" ", width-filled)
}
