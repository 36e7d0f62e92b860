package replay_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/unbound-force/amplify/internal/replay"
	"github.com/unbound-force/amplify/internal/tracelog"
	"github.com/unbound-force/amplify/probe"
	"github.com/unbound-force/amplify/value"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newSession(t *testing.T) *probe.Session {
	t.Helper()
	dir, err := probe.InitLogDir(t.TempDir())
	require.NoError(t, err)
	s, err := probe.NewSession(probe.Options{Dir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func stream(t *testing.T, events ...replay.Event) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ev := range events {
		require.NoError(t, enc.Encode(ev))
	}
	return &buf
}

func ptr(v value.Value) *value.Value { return &v }

func TestRun_RebuildsCallsPerThread(t *testing.T) {
	s := newSession(t)
	in := stream(t,
		replay.Event{Thread: "1", Op: replay.Enter, Method: "geo.Double", Args: []value.Value{value.Of(7)}},
		replay.Event{Thread: "2", Op: replay.Enter, Method: "geo.Shout", Args: []value.Value{value.Of("hi")}},
		replay.Event{Thread: "1", Op: replay.Primitive, Method: "geo.Double", Constructor: "geo.Double", Index: 0, Value: ptr(value.Of(7))},
		replay.Event{Thread: "1", Op: replay.Exit, Method: "geo.Double", Target: ptr(value.Of(14))},
		replay.Event{Thread: "2", Op: replay.Exit, Method: "geo.Shout"},
	)

	counts, err := replay.Run(context.Background(), s, in, replay.Options{})
	require.NoError(t, err)
	require.Equal(t, 5, counts.Events)
	require.Equal(t, 2, counts.Threads)
	require.Equal(t, 5, counts.Outcomes[probe.Completed])
	require.NoError(t, s.Close())

	tr, err := tracelog.Load(s.Dir())
	require.NoError(t, err)
	groups := tr.ByMethod()
	require.Len(t, groups["geo.Double"], 1)
	double := groups["geo.Double"][0]
	require.Equal(t, int64(7), double.Args[0].Int)
	require.Equal(t, value.Int, double.Args[0].Kind)
	require.Equal(t, int64(14), double.Target.Int)
	require.Len(t, groups["geo.Shout"], 1)
	require.Equal(t, value.Nil, groups["geo.Shout"][0].Target.Kind)

	v, ok := tr.Primitive("geo.Double", 0)
	require.True(t, ok)
	require.Equal(t, int64(7), v.Int)
}

func TestRun_FieldReadCollapses(t *testing.T) {
	s := newSession(t)
	in := stream(t,
		replay.Event{Thread: "t", Op: replay.Enter, Method: "a"},
		replay.Event{Thread: "t", Op: replay.Write, Method: "a", Receiver: "obj1", Field: "X"},
		replay.Event{Thread: "t", Op: replay.Enter, Method: "b"},
		replay.Event{Thread: "t", Op: replay.Read, Method: "b", Receiver: "obj1", Field: "X"},
		replay.Event{Thread: "t", Op: replay.Read, Method: "b", Receiver: "obj2", Field: "X"},
	)
	counts, err := replay.Run(context.Background(), s, in, replay.Options{Buffer: 1})
	require.NoError(t, err)
	require.Equal(t, 4, counts.Outcomes[probe.Completed])
	require.Equal(t, 1, counts.Outcomes[probe.Corrupted])

	rec := s.Recorder("t")
	require.Equal(t, 1, rec.Stats().Collapsed)
	require.Equal(t, 1, rec.Stats().Cleared)
	require.Zero(t, rec.OpenFrames())
}

func TestRun_MalformedLinesSkipped(t *testing.T) {
	s := newSession(t)
	in := strings.NewReader("{not json}\n" +
		`{"thread":"1","op":"teleport","method":"x"}` + "\n" +
		`{"thread":"1","op":"exit","method":"x"}`)
	counts, err := replay.Run(context.Background(), s, in, replay.Options{})
	require.NoError(t, err)
	require.Equal(t, 2, counts.Malformed)
	require.Equal(t, 1, counts.Events)
	require.Equal(t, 1, counts.Outcomes[probe.Skipped])
}

func TestRun_CancelledContext(t *testing.T) {
	s := newSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var events []replay.Event
	for i := 0; i < 10; i++ {
		events = append(events, replay.Event{Thread: "1", Op: replay.Enter, Method: "m"})
	}
	_, err := replay.Run(ctx, s, stream(t, events...), replay.Options{Buffer: 1})
	require.ErrorIs(t, err, context.Canceled)
}
