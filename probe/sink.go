package probe

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// ErrSinkClosed is returned by writes after Close.
var ErrSinkClosed = errors.New("log sink closed")

// CompressedSuffix marks zstd-compressed log files.
const CompressedSuffix = ".zst"

// Sink is an append-only log file owned by one recorder. The file is
// created on the first write. The mutex guards the file handle, which
// a session may close from a signal goroutine.
type Sink struct {
	mu       sync.Mutex
	path     string
	compress bool
	file     *os.File
	zw       *zstd.Encoder
	w        *bufio.Writer
	closed   bool
}

// NewSink returns a sink for thread inside dir. The file name is
// log<thread>_<unix millis>, with a .zst suffix when compress is set.
// The thread name is path-escaped so the file always lands in dir.
func NewSink(dir, thread string, now time.Time, compress bool) *Sink {
	name := "log" + url.PathEscape(thread) + "_" + strconv.FormatInt(now.UnixMilli(), 10)
	if compress {
		name += CompressedSuffix
	}
	return &Sink{path: filepath.Join(dir, name), compress: compress}
}

// Path returns the file the sink writes to.
func (s *Sink) Path() string { return s.path }

// WriteLine appends one encoded record.
func (s *Sink) WriteLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	if s.w == nil {
		if err := s.open(); err != nil {
			return err
		}
	}
	if _, err := s.w.WriteString(line); err != nil {
		return fmt.Errorf("writing %s: %w", s.path, err)
	}
	return nil
}

func (s *Sink) open() error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	var w io.Writer = f
	if s.compress {
		zw, err := zstd.NewWriter(f)
		if err != nil {
			f.Close()
			return fmt.Errorf("creating zstd writer: %w", err)
		}
		s.zw = zw
		w = zw
	}
	s.file = f
	s.w = bufio.NewWriter(w)
	return nil
}

// Flush pushes buffered records to the file.
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil || s.closed {
		return nil
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("flushing %s: %w", s.path, err)
	}
	if s.zw != nil {
		if err := s.zw.Flush(); err != nil {
			return fmt.Errorf("flushing %s: %w", s.path, err)
		}
	}
	return nil
}

// Close flushes and closes the file. Closing twice is a no-op.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.w == nil {
		return nil
	}
	var errs []error
	if err := s.w.Flush(); err != nil {
		errs = append(errs, err)
	}
	if s.zw != nil {
		if err := s.zw.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.file.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("closing %s: %w", s.path, err)
	}
	return nil
}
