package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
)

// Options configures a Session.
type Options struct {
	// Dir is the log directory. When empty, FindLogDir is used from
	// the working directory.
	Dir string

	// Compress writes zstd-compressed log files.
	Compress bool

	// Logger receives diagnostics. Defaults to a discard logger.
	Logger *log.Logger

	// Now overrides the clock used for log file names.
	Now func() time.Time
}

// Session owns the recorders of one traced process and closes their
// sinks when the process finishes or is interrupted.
type Session struct {
	dir       string
	compress  bool
	logger    *log.Logger
	now       func() time.Time
	mu        sync.Mutex
	recorders map[string]*Recorder
	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// NewSession resolves the log directory and returns a session.
func NewSession(opts Options) (*Session, error) {
	dir := opts.Dir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("getting working directory: %w", err)
		}
		dir, err = FindLogDir(wd)
		if err != nil {
			return nil, err
		}
	} else if !IsLogDir(dir) {
		return nil, fmt.Errorf("%w: %s", ErrNoLogDir, dir)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Session{
		dir:       dir,
		compress:  opts.Compress,
		logger:    logger,
		now:       now,
		recorders: make(map[string]*Recorder),
		closed:    make(chan struct{}),
	}, nil
}

// Dir returns the log directory.
func (s *Session) Dir() string { return s.dir }

// Recorder returns the recorder for thread, creating it on first use.
// The returned recorder must only be used by the goroutine that
// executes thread's instrumented code.
func (s *Session) Recorder(thread string) *Recorder {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.recorders[thread]; ok {
		return r
	}
	sink := NewSink(s.dir, thread, s.now(), s.compress)
	r := NewRecorder(thread, sink)
	s.recorders[thread] = r
	s.logger.Debug("recorder created", "thread", thread, "file", sink.Path())
	return r
}

// Threads returns the names of every recorder, sorted.
func (s *Session) Threads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.recorders))
	for name := range s.recorders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close flushes and closes every sink. It is safe to call more than
// once and from any goroutine; later calls return the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		var errs []error
		for thread, r := range s.recorders {
			if r.sink == nil {
				continue
			}
			if err := r.sink.Close(); err != nil {
				s.logger.Warn("closing trace log", "thread", thread, "err", err)
				errs = append(errs, err)
			}
		}
		s.closeErr = errors.Join(errs...)
		close(s.closed)
	})
	return s.closeErr
}

// Done is closed once Close has finished.
func (s *Session) Done() <-chan struct{} { return s.closed }

// HandleSignals closes the session when the process receives SIGINT
// or SIGTERM, or when ctx is cancelled. The returned stop function
// unregisters the handler and waits for its goroutine to exit; it
// does not close the session.
func (s *Session) HandleSignals(ctx context.Context) (stop func()) {
	sigCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-sigCtx.Done():
			select {
			case <-stopped:
				return
			default:
			}
			if ctx.Err() == nil {
				s.logger.Info("signal received, closing trace logs")
			}
			if err := s.Close(); err != nil {
				s.logger.Error("closing trace logs", "err", err)
			}
		case <-stopped:
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(stopped)
			cancel()
			<-done
		})
	}
}
