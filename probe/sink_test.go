package probe_test

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"

	"github.com/unbound-force/amplify/probe"
	"github.com/unbound-force/amplify/value"
)

var fixedNow = time.UnixMilli(1700000000123)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var r io.Reader = f
	if strings.HasSuffix(path, probe.CompressedSuffix) {
		zr, err := zstd.NewReader(f)
		require.NoError(t, err)
		defer zr.Close()
		r = zr
	}
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestSink_FileName(t *testing.T) {
	s := probe.NewSink("/tmp/log", "7", fixedNow, false)
	require.Equal(t, "/tmp/log/log7_1700000000123", s.Path())
	s = probe.NewSink("/tmp/log", "7", fixedNow, true)
	require.Equal(t, "/tmp/log/log7_1700000000123.zst", s.Path())
}

func TestSink_ThreadNameStaysInDir(t *testing.T) {
	dir := t.TempDir()
	s := probe.NewSink(dir, "/../../x", fixedNow, false)
	require.Equal(t, dir, filepath.Dir(s.Path()))
	require.Equal(t, "log%2F..%2F..%2Fx_1700000000123", filepath.Base(s.Path()))

	require.NoError(t, s.WriteLine("line\n"))
	require.NoError(t, s.Close())
	_, err := os.Stat(s.Path())
	require.NoError(t, err)
}

func TestSink_CreatedLazily(t *testing.T) {
	dir := t.TempDir()
	s := probe.NewSink(dir, "main", fixedNow, false)
	_, err := os.Stat(s.Path())
	require.True(t, os.IsNotExist(err), "file exists before the first write")

	require.NoError(t, s.WriteLine("hello\n"))
	require.NoError(t, s.Close())
	require.Equal(t, []string{"hello"}, readLines(t, s.Path()))
}

func TestSink_CloseWithoutWritesCreatesNothing(t *testing.T) {
	dir := t.TempDir()
	s := probe.NewSink(dir, "main", fixedNow, false)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err := os.Stat(s.Path())
	require.True(t, os.IsNotExist(err))
}

func TestSink_WriteAfterClose(t *testing.T) {
	s := probe.NewSink(t.TempDir(), "main", fixedNow, false)
	require.NoError(t, s.Close())
	err := s.WriteLine("x\n")
	require.True(t, errors.Is(err, probe.ErrSinkClosed), "err = %v", err)
}

func TestSink_Compressed(t *testing.T) {
	s := probe.NewSink(t.TempDir(), "w1", fixedNow, true)
	for _, l := range []string{"a\n", "b\n", "c\n"} {
		require.NoError(t, s.WriteLine(l))
	}
	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())
	require.Equal(t, []string{"a", "b", "c"}, readLines(t, s.Path()))
}

func TestRecorder_WritesDecodableRecords(t *testing.T) {
	dir := t.TempDir()
	sink := probe.NewSink(dir, "main", fixedNow, false)
	r := probe.NewRecorder("main", sink)

	r.OnPrimitive("geo.NewPoint", "geo.NewPoint", 1, 2.5)
	r.OnEnter("geo.Double", 7)
	r.OnExit("geo.Double", 14)
	require.NoError(t, sink.Close())

	lines := readLines(t, sink.Path())
	require.Len(t, lines, 2)

	p, err := probe.DecodePrimitive(lines[0])
	require.NoError(t, err)
	require.Equal(t, "geo.NewPoint", p.ConstructorID)
	require.Equal(t, 1, p.ArgIndex)
	require.True(t, value.Equal(value.Of(2.5), p.Value))

	c, err := probe.DecodeCall(lines[1])
	require.NoError(t, err)
	require.Equal(t, "geo.Double", c.MethodID)
	require.Zero(t, c.Depth)
	require.Len(t, c.Args, 1)
	require.True(t, value.Equal(value.Of(7), c.Args[0]))
	require.True(t, value.Equal(value.Of(14), c.Target))
}

func TestRecorder_SinkErrorsAreCounted(t *testing.T) {
	sink := probe.NewSink(t.TempDir(), "main", fixedNow, false)
	require.NoError(t, sink.Close())
	r := probe.NewRecorder("main", sink)
	r.OnEnter("geo.A")
	require.Equal(t, probe.Completed, r.OnExit("geo.A", nil))
	require.Equal(t, 1, r.Stats().SinkErrors)
	require.ErrorIs(t, r.Err(), probe.ErrSinkClosed)
}

func TestSession_RequiresInfoMarker(t *testing.T) {
	_, err := probe.NewSession(probe.Options{Dir: t.TempDir()})
	require.ErrorIs(t, err, probe.ErrNoLogDir)
}

func TestSession_RecorderPerThread(t *testing.T) {
	dir, err := probe.InitLogDir(t.TempDir())
	require.NoError(t, err)
	s, err := probe.NewSession(probe.Options{Dir: dir, Now: func() time.Time { return fixedNow }})
	require.NoError(t, err)
	defer s.Close()

	a := s.Recorder("1")
	require.Same(t, a, s.Recorder("1"))
	require.NotSame(t, a, s.Recorder("2"))
	require.Equal(t, []string{"1", "2"}, s.Threads())
}

func TestSession_CloseFlushesAllSinks(t *testing.T) {
	dir, err := probe.InitLogDir(t.TempDir())
	require.NoError(t, err)
	s, err := probe.NewSession(probe.Options{Dir: dir, Compress: true, Now: func() time.Time { return fixedNow }})
	require.NoError(t, err)

	for _, thread := range []string{"1", "2"} {
		r := s.Recorder(thread)
		r.OnEnter("geo.A", thread)
		r.OnExit("geo.A", nil)
	}
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	matches, err := filepath.Glob(filepath.Join(dir, "log*"+probe.CompressedSuffix))
	require.NoError(t, err)
	require.Len(t, matches, 2)
	for _, m := range matches {
		require.Len(t, readLines(t, m), 1)
	}
}

func TestSession_ContextCancelClosesSinks(t *testing.T) {
	dir, err := probe.InitLogDir(t.TempDir())
	require.NoError(t, err)
	s, err := probe.NewSession(probe.Options{Dir: dir})
	require.NoError(t, err)

	r := s.Recorder("main")
	ctx, cancel := context.WithCancel(context.Background())
	stop := s.HandleSignals(ctx)
	cancel()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session not closed after context cancellation")
	}
	stop()

	r.OnEnter("geo.A")
	r.OnExit("geo.A", nil)
	require.ErrorIs(t, r.Err(), probe.ErrSinkClosed)
}

func TestSession_StopLeavesSessionOpen(t *testing.T) {
	dir, err := probe.InitLogDir(t.TempDir())
	require.NoError(t, err)
	s, err := probe.NewSession(probe.Options{Dir: dir})
	require.NoError(t, err)
	defer s.Close()

	stop := s.HandleSignals(context.Background())
	stop()
	stop()

	r := s.Recorder("main")
	r.OnEnter("geo.A")
	r.OnExit("geo.A", nil)
	require.NoError(t, r.Err())
}
