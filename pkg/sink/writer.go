package sink

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// DefaultDelimiter terminates every record written by a WriterSink.
const DefaultDelimiter = "\n"

// WriterSink appends records to an io.Writer.
// Each record is written as payload followed by the delimiter and flushed to
// the underlying writer inside one critical section, so a nil error from
// Append means the bytes reached the writer.
type WriterSink struct {
	mu        sync.Mutex
	kind      string
	buf       *bufio.Writer
	closer    io.Closer
	delimiter []byte
	closed    bool
}

// NewWriterSink wraps w. The writer is not closed on Close.
func NewWriterSink(w io.Writer, delimiter string) *WriterSink {
	return newWriterSink("writer", w, nil, delimiter)
}

func newWriterSink(kind string, w io.Writer, closer io.Closer, delimiter string) *WriterSink {
	return &WriterSink{
		kind:      kind,
		buf:       bufio.NewWriterSize(w, 64*1024),
		closer:    closer,
		delimiter: []byte(delimiter),
	}
}

// Append writes the record's payload and the delimiter through to the writer.
// Once a write has failed every later Append fails with the same error.
func (s *WriterSink) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	err := s.write(rec.Payload)
	observe(s.kind, rec, err)
	if err != nil {
		return fmt.Errorf("write %s record: %w", s.kind, err)
	}
	return nil
}

// write must be called with mu held. bufio keeps the first write error, so a
// failed sink stays failed.
func (s *WriterSink) write(payload []byte) error {
	if _, err := s.buf.Write(payload); err != nil {
		return err
	}
	if len(s.delimiter) > 0 {
		if _, err := s.buf.Write(s.delimiter); err != nil {
			return err
		}
	}
	return s.buf.Flush()
}

// Close closes the underlying writer if owned.
// Nothing is buffered between appends, so Close never loses records.
func (s *WriterSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.closer != nil {
		if err := s.closer.Close(); err != nil {
			return fmt.Errorf("close %s sink: %w", s.kind, err)
		}
	}
	return nil
}

// FileSink appends records to a file opened in append mode.
type FileSink struct {
	*WriterSink
	path string
}

// NewFileSink opens (creating if needed) path for appending.
func NewFileSink(path, delimiter string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open sink file %s: %w", path, err)
	}
	return &FileSink{
		WriterSink: newWriterSink("file", f, f, delimiter),
		path:       path,
	}, nil
}

// Path returns the file the sink appends to.
func (s *FileSink) Path() string {
	return s.path
}
