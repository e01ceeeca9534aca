package ffmpeg

import (
	"bytes"
	"strings"
	"sync"
)

// outputTail keeps the last lines an ffmpeg process wrote to stderr so a
// failure can be reported with its cause.
type outputTail struct {
	mu       sync.Mutex
	lines    []string
	next     int
	full     bool
	partial  bytes.Buffer
	maxLines int
}

func newOutputTail(maxLines int) *outputTail {
	return &outputTail{lines: make([]string, maxLines), maxLines: maxLines}
}

func (t *outputTail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.partial.Write(p)
	for {
		line, err := t.partial.ReadString('\n')
		if err != nil {
			// no newline yet: keep the fragment for the next write
			t.partial.Reset()
			t.partial.WriteString(line)
			break
		}
		t.add(strings.TrimRight(line, "\r\n"))
	}
	return len(p), nil
}

func (t *outputTail) add(line string) {
	if line == "" {
		return
	}
	t.lines[t.next] = line
	t.next = (t.next + 1) % t.maxLines
	if t.next == 0 {
		t.full = true
	}
}

// String returns the retained lines, oldest first.
func (t *outputTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []string
	start, n := 0, t.next
	if t.full {
		start, n = t.next, t.maxLines
	}
	for i := 0; i < n; i++ {
		if l := t.lines[(start+i)%t.maxLines]; l != "" {
			out = append(out, l)
		}
	}
	if t.partial.Len() > 0 {
		out = append(out, t.partial.String())
	}
	return strings.Join(out, "\n")
}
