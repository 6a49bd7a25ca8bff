package recipe

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// ScanLines calls fn with each line of r, without its line ending, until fn
// returns false or the input ends. A line longer than maxLineSize is dropped
// whole and reading resumes at the next line. The slice passed to fn is only
// valid until fn returns.
func ScanLines(r io.Reader, fn func(line []byte) bool) error {
	br := bufio.NewReaderSize(r, maxLineSize)
	oversized := false
	for {
		line, err := br.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			oversized = true
			continue
		}
		if oversized {
			// Tail of a dropped line.
			oversized = false
		} else if len(line) > 0 && (err == nil || errors.Is(err, io.EOF)) {
			if !fn(trimLineEnd(line)) {
				return nil
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func trimLineEnd(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte{'\n'})
	return bytes.TrimSuffix(line, []byte{'\r'})
}
