package transport

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rcedaq/daqlink-go/pkg/log"
	"github.com/rcedaq/daqlink-go/pkg/wire"
)

// Framing constants.
const (
	// DefaultMaxFrameSize bounds the bytes buffered while waiting for a
	// delimiter. A full snapshot of a large device is a few megabytes.
	DefaultMaxFrameSize = 16 << 20

	// ReadChunkSize is the size of a single socket read.
	ReadChunkSize = 65536

	// EndOfTransmission is accepted by devices as an alternative terminator.
	EndOfTransmission byte = 0x04
)

// IndexDelimiter returns the index of the first delim in buf, or -1.
func IndexDelimiter(buf []byte, delim byte) int {
	return bytes.IndexByte(buf, delim)
}

// Splitter turns a byte stream into delimiter-terminated frames.
// Bytes are appended with Write; complete frames are taken with Next and
// the remainder is kept for the next frame. It is not safe for
// concurrent use.
type Splitter struct {
	buf     []byte
	delims  []byte
	maxSize int
}

// NewSplitter creates a splitter for the given delimiters, or
// wire.Delimiter when none are given.
func NewSplitter(delims ...byte) *Splitter {
	if len(delims) == 0 {
		delims = []byte{wire.Delimiter}
	}
	return &Splitter{delims: delims, maxSize: DefaultMaxFrameSize}
}

// SetMaxSize sets the largest frame accepted.
func (s *Splitter) SetMaxSize(n int) {
	s.maxSize = n
}

// Write appends p. It fails with ErrFrameTooLarge once more than the
// maximum frame size is buffered without a delimiter; the buffer is
// dropped in that case.
func (s *Splitter) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	if len(s.buf) > s.maxSize && s.index() < 0 {
		n := len(s.buf)
		s.buf = nil
		return len(p), fmt.Errorf("%w: %d bytes without delimiter", ErrFrameTooLarge, n)
	}
	return len(p), nil
}

// Next returns the next complete frame without its delimiter.
func (s *Splitter) Next() ([]byte, bool) {
	i := s.index()
	if i < 0 {
		return nil, false
	}
	frame := make([]byte, i)
	copy(frame, s.buf[:i])
	rest := copy(s.buf, s.buf[i+1:])
	s.buf = s.buf[:rest]
	return frame, true
}

// Buffered returns the number of bytes waiting for a delimiter.
func (s *Splitter) Buffered() int {
	return len(s.buf)
}

// Reset drops buffered bytes.
func (s *Splitter) Reset() {
	s.buf = s.buf[:0]
}

func (s *Splitter) index() int {
	if len(s.delims) == 1 {
		return IndexDelimiter(s.buf, s.delims[0])
	}
	return bytes.IndexAny(s.buf, string(s.delims))
}

// FrameReader reads delimiter-terminated frames from an io.Reader.
type FrameReader struct {
	r        io.Reader
	splitter *Splitter
	chunk    []byte
	err      error

	logger log.Logger
	connID string
}

// NewFrameReader creates a frame reader using wire.Delimiter.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{
		r:        r,
		splitter: NewSplitter(),
		chunk:    make([]byte, ReadChunkSize),
	}
}

// SetLogger configures protocol logging. Pass nil to disable.
func (fr *FrameReader) SetLogger(logger log.Logger, connID string) {
	fr.logger = logger
	fr.connID = connID
}

// SetMaxFrameSize updates the maximum frame size.
func (fr *FrameReader) SetMaxFrameSize(n int) {
	fr.splitter.SetMaxSize(n)
}

// ReadFrame returns the next frame payload. Frames completed by the
// read that returned an error are still delivered; the error is reported
// on the following call. A trailing partial frame is discarded.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	for {
		if frame, ok := fr.splitter.Next(); ok {
			if fr.logger != nil {
				fr.logger.Log(frameEvent(fr.connID, frame, log.DirectionIn))
			}
			return frame, nil
		}
		if fr.err != nil {
			return nil, fr.err
		}
		n, err := fr.r.Read(fr.chunk)
		if n > 0 {
			if _, werr := fr.splitter.Write(fr.chunk[:n]); werr != nil {
				return nil, &FrameError{Err: werr}
			}
		}
		if err != nil {
			fr.err = err
		}
	}
}

// FrameWriter writes delimiter-terminated frames.
type FrameWriter struct {
	mu sync.Mutex
	w  io.Writer

	logger log.Logger
	connID string
}

// NewFrameWriter creates a new frame writer.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// SetLogger configures protocol logging. Pass nil to disable.
func (fw *FrameWriter) SetLogger(logger log.Logger, connID string) {
	fw.logger = logger
	fw.connID = connID
}

// WriteFrame writes payload followed by the delimiter in one write.
// It is safe for concurrent use.
func (fw *FrameWriter) WriteFrame(payload []byte) error {
	if len(payload) == 0 {
		return ErrMessageEmpty
	}
	if IndexDelimiter(payload, wire.Delimiter) >= 0 {
		return ErrDelimiterInPayload
	}
	frame := make([]byte, len(payload)+1)
	copy(frame, payload)
	frame[len(payload)] = wire.Delimiter
	return fw.WriteMessage(frame)
}

// WriteMessage writes an already terminated message as produced by the
// encoders in package wire.
func (fw *FrameWriter) WriteMessage(msg []byte) error {
	if err := ValidateMessage(msg); err != nil {
		return err
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if _, err := fw.w.Write(msg); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	if fw.logger != nil {
		fw.logger.Log(frameEvent(fw.connID, msg, log.DirectionOut))
	}
	return nil
}

// ValidateMessage checks that msg is non-empty and contains the
// delimiter exactly once, as its last byte.
func ValidateMessage(msg []byte) error {
	if len(msg) <= 1 {
		return ErrMessageEmpty
	}
	i := IndexDelimiter(msg, wire.Delimiter)
	switch {
	case i < 0:
		return ErrNotTerminated
	case i != len(msg)-1:
		return ErrDelimiterInPayload
	}
	return nil
}

// Framer combines frame reading and writing.
type Framer struct {
	*FrameReader
	*FrameWriter
}

// NewFramer creates a framer for bidirectional communication.
func NewFramer(rw io.ReadWriter) *Framer {
	return &Framer{
		FrameReader: NewFrameReader(rw),
		FrameWriter: NewFrameWriter(rw),
	}
}

// SetLogger configures logging for both directions.
func (f *Framer) SetLogger(logger log.Logger, connID string) {
	f.FrameReader.SetLogger(logger, connID)
	f.FrameWriter.SetLogger(logger, connID)
}

func frameEvent(connID string, data []byte, dir log.Direction) log.Event {
	size := len(data)
	if dir == log.DirectionIn {
		size++
	}
	return log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		Frame:        log.NewFrameEvent(data, size),
	}
}
