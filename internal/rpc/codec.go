package rpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// frameReader yields complete newline-terminated frames from a byte stream,
// stripping the terminator and skipping empty lines. A malformed line never
// stops the reader: the caller decides what to do with a parse failure and
// calls next again for the following line.
type frameReader struct {
	scanner *bufio.Scanner
}

func newFrameReader(r io.Reader) *frameReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &frameReader{scanner: scanner}
}

// next returns the next non-empty line, or io.EOF when the stream is
// exhausted (or the underlying scanner error, if any).
func (f *frameReader) next() ([]byte, error) {
	for f.scanner.Scan() {
		line := f.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		out := make([]byte, len(line))
		copy(out, line)
		return out, nil
	}
	if err := f.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// frameWriter serialises JSON frames onto an output stream: each call to
// write emits exactly one JSON object followed by a newline, and concurrent
// callers never interleave their bytes.
type frameWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func newFrameWriter(w io.Writer) *frameWriter {
	return &frameWriter{w: w}
}

// fallbackFrame is emitted verbatim when encoding the caller's value fails,
// so the peer still receives a well-formed frame and can keep advancing.
const fallbackFrame = `{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal error"}}` + "\n"

func (f *frameWriter) write(v any) error {
	encoded, err := json.Marshal(v)
	if err != nil {
		f.mu.Lock()
		_, werr := io.WriteString(f.w, fallbackFrame)
		f.mu.Unlock()
		if werr != nil {
			return fmt.Errorf("write fallback frame: %w", werr)
		}
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.w.Write(encoded); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if _, err := io.WriteString(f.w, "\n"); err != nil {
		return fmt.Errorf("write frame terminator: %w", err)
	}
	return nil
}
