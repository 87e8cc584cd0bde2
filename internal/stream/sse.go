package stream

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	initialScanBuffer = 64 * 1024
	maxScanBuffer     = 8 * 1024 * 1024
)

// errEndOfStream is returned by frameReader when the body ends cleanly.
var errEndOfStream = errors.New("end of stream")

// frame is one dispatched server-sent event.
type frame struct {
	event string
	data  string
}

// frameReader splits a text/event-stream body into frames. Comment lines
// are skipped, data lines are joined with "\n", and id/retry fields are
// ignored since the client never resumes.
type frameReader struct {
	scanner *bufio.Scanner
}

func newFrameReader(r io.Reader) *frameReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initialScanBuffer), maxScanBuffer)
	scanner.Split(lineSplitter())
	return &frameReader{scanner: scanner}
}

// lineSplitter returns a bufio.SplitFunc for event-stream lines, which may
// end in "\r\n", "\n" or a bare "\r". A "\r" ending the buffered data ends
// its line at once; a "\n" arriving right after it is dropped.
func lineSplitter() bufio.SplitFunc {
	afterCR := false
	return func(data []byte, atEOF bool) (int, []byte, error) {
		if afterCR && len(data) > 0 {
			afterCR = false
			if data[0] == '\n' {
				return 1, nil, nil
			}
		}
		if atEOF && len(data) == 0 {
			return 0, nil, nil
		}
		if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
			if data[i] == '\n' {
				return i + 1, data[:i], nil
			}
			if i+1 == len(data) {
				afterCR = true
				return i + 1, data[:i], nil
			}
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		if atEOF {
			return len(data), data, nil
		}
		return 0, nil, nil
	}
}

// next returns the next frame that carries data. A blank line with no
// pending data dispatches nothing.
func (fr *frameReader) next() (frame, error) {
	var (
		event     string
		dataLines []string
	)
	for fr.scanner.Scan() {
		line := fr.scanner.Text()
		if line == "" {
			if len(dataLines) == 0 {
				event = ""
				continue
			}
			return frame{event: event, data: strings.Join(dataLines, "\n")}, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event = value
		case "data":
			dataLines = append(dataLines, value)
		}
	}
	if err := fr.scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return frame{}, fmt.Errorf("event exceeded max size (%d bytes)", maxScanBuffer)
		}
		return frame{}, err
	}
	// A frame without its terminating blank line is incomplete and dropped.
	return frame{}, errEndOfStream
}
