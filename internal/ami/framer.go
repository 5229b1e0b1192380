package ami

import (
	"bufio"
	"io"
	"strings"
)

// Framer splits a raw byte stream into protocol blocks: runs of non-empty
// lines terminated by a blank line. It buffers partial blocks across read
// boundaries and knows nothing about message semantics.
type Framer struct {
	r *bufio.Reader
}

// NewFramer wraps the given stream. The Framer owns read buffering; callers
// must not read from r directly afterwards.
func NewFramer(r io.Reader) *Framer {
	return &Framer{r: bufio.NewReader(r)}
}

// ReadLine reads a single raw line, used for the server greeting that
// precedes block framing. Both \r\n and \n terminators are accepted.
func (f *Framer) ReadLine() (string, error) {
	line, err := f.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Next returns the lines of the next complete block. Stray blank lines
// between blocks are skipped. When the stream closes cleanly it returns
// io.EOF; any partial trailing block is discarded. Other read errors are
// returned as-is, terminating the sequence.
func (f *Framer) Next() ([]string, error) {
	var block []string
	for {
		line, err := f.ReadLine()
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(line) == "" {
			if len(block) == 0 {
				continue // stray separator between blocks
			}
			return block, nil
		}
		block = append(block, line)
	}
}
