package ui

import (
	"bufio"
	"fmt"
	"io"
)

// CompletionText is shown once every batch of a run has been exported.
const CompletionText = "쿨쿨ZZZ"

// Notify prints the completion notice to out. When in is non-nil it
// blocks until the user presses Enter, like a dialog would.
func Notify(out io.Writer, in io.Reader) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, CompletionText)

	if in == nil {
		return
	}

	fmt.Fprint(out, "Press Enter to close.")
	_, _ = bufio.NewReader(in).ReadString('\n')
	fmt.Fprintln(out)
}
