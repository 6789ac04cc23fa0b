package protocol

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// DefaultMaxLineBytes bounds a single frame.
const DefaultMaxLineBytes = 16 * 1024 * 1024

// ErrLineTooLong is returned for a frame exceeding the reader limit. The
// oversized line is discarded and the reader stays usable.
var ErrLineTooLong = errors.New("frame exceeds maximum line length")

// LineReader splits a byte stream into newline-terminated frames, buffering
// partial input until a full line is available.
type LineReader struct {
	r       *bufio.Reader
	maxLine int
}

// NewLineReader wraps r. maxLine <= 0 selects DefaultMaxLineBytes.
func NewLineReader(r io.Reader, maxLine int) *LineReader {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineBytes
	}
	return &LineReader{r: bufio.NewReaderSize(r, 64*1024), maxLine: maxLine}
}

// Next returns the next non-empty line without its terminator. A trailing
// line without a newline is returned at EOF.
func (l *LineReader) Next() ([]byte, error) {
	for {
		line, err := l.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) && len(line) > 0 {
				return trimCR(line), nil
			}
			return nil, err
		}
		line = trimCR(line)
		if len(line) == 0 {
			continue
		}
		return line, nil
	}
}

func (l *LineReader) readLine() ([]byte, error) {
	var buf []byte
	tooLong := false
	for {
		chunk, err := l.r.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(chunk) > l.maxLine+1 {
				tooLong = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		switch {
		case err == nil:
			if tooLong {
				return nil, ErrLineTooLong
			}
			return buf[:len(buf)-1], nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			if tooLong {
				return nil, ErrLineTooLong
			}
			return buf, err
		}
	}
}

func trimCR(line []byte) []byte {
	if n := len(line); n > 0 && line[n-1] == '\r' {
		return line[:n-1]
	}
	return line
}

// LineWriter encodes frames one per line. Safe for concurrent use; frames
// are never interleaved.
type LineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewLineWriter(w io.Writer) *LineWriter {
	return &LineWriter{w: w}
}

// WriteFrame marshals v and writes it followed by a newline.
func (w *LineWriter) WriteFrame(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}
