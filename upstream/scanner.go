package upstream

import (
	"bufio"
	"io"
)

// newLineScanner wraps body in a bufio.Scanner configured for the large
// lines upstream SSE/NDJSON frames can carry (a single chunk may embed a
// full message), rather than bufio.Scanner's small default buffer.
func newLineScanner(body io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(body)
	const maxLineSize = 1 << 20 // 1MiB
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return scanner
}
