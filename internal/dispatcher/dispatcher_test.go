package dispatcher

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder captures log lines as "LEVEL msg".
type recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *recorder) add(level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, level+" "+msg)
}

func (r *recorder) Debug(msg string, _ ...any) { r.add("DEBUG", msg) }
func (r *recorder) Info(msg string, _ ...any)  { r.add("INFO", msg) }
func (r *recorder) Error(msg string, _ ...any) { r.add("ERROR", msg) }

func (r *recorder) count(level string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, l := range r.lines {
		if strings.HasPrefix(l, level+" ") {
			n++
		}
	}
	return n
}

func newDispatcher(t *testing.T) (*Dispatcher, *recorder) {
	t.Helper()
	rec := &recorder{}
	d, err := New(rec)
	require.NoError(t, err)
	return d, rec
}

func TestDispatch_Inline(t *testing.T) {
	d, _ := newDispatcher(t)

	var seen Event
	d.Register("derive", func(e Event) (any, error) {
		seen = e
		return e.Payload.(int) * 2, nil
	})

	got, err := d.Dispatch(Event{Command: "derive", Payload: 21})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.False(t, seen.Timestamp.IsZero(), "timestamp defaulted")

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	_, err = d.Dispatch(Event{Command: "derive", Payload: 1, Timestamp: at})
	require.NoError(t, err)
	assert.Equal(t, at, seen.Timestamp)
}

func TestDispatch_UnknownCommand(t *testing.T) {
	d, _ := newDispatcher(t)
	_, err := d.Dispatch(Event{Command: "missing"})
	assert.EqualError(t, err, "unknown command: missing")
}

func TestDispatch_InlineMayDispatchAgain(t *testing.T) {
	d, _ := newDispatcher(t)
	d.Register("inner", func(Event) (any, error) { return "inner", nil })
	d.Register("outer", func(Event) (any, error) {
		return d.Dispatch(Event{Command: "inner"})
	})

	got, err := d.Dispatch(Event{Command: "outer"})
	require.NoError(t, err)
	assert.Equal(t, "inner", got)
}

func TestDispatch_Buffered(t *testing.T) {
	d, _ := newDispatcher(t)

	var sum atomic.Int64
	d.Register("save", func(e Event) (any, error) {
		sum.Add(int64(e.Payload.(int)))
		return nil, nil
	}, Buffered(16))

	for i := 1; i <= 4; i++ {
		got, err := d.Dispatch(Event{Command: "save", Payload: i})
		require.NoError(t, err)
		assert.Equal(t, Queued, got)
	}
	require.NoError(t, d.Close())
	assert.Equal(t, int64(10), sum.Load())
}

func TestDispatch_QueueFull(t *testing.T) {
	d, _ := newDispatcher(t)

	release := make(chan struct{})
	d.Register("slow", func(Event) (any, error) {
		<-release
		return nil, nil
	}, Buffered(2))
	t.Cleanup(func() {
		close(release)
		_ = d.Close()
	})

	// one event may be in the handler, two fill the queue
	var err error
	for range 4 {
		if _, err = d.Dispatch(Event{Command: "slow"}); err != nil {
			break
		}
	}
	require.ErrorIs(t, err, ErrQueueFull)
	assert.Contains(t, err.Error(), "slow")
}

func TestDispatch_BlockingWaitsForRoom(t *testing.T) {
	d, _ := newDispatcher(t)

	release := make(chan struct{})
	d.Register("slow", func(Event) (any, error) {
		<-release
		return nil, nil
	}, Buffered(1), Blocking())

	_, _ = d.Dispatch(Event{Command: "slow"})
	_, _ = d.Dispatch(Event{Command: "slow"})

	done := make(chan struct{})
	go func() {
		_, _ = d.Dispatch(Event{Command: "slow"})
		_, _ = d.Dispatch(Event{Command: "slow"})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("dispatch returned while the queue was full")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch still blocked after the handler drained")
	}
	require.NoError(t, d.Close())
}

func TestLogged(t *testing.T) {
	d, rec := newDispatcher(t)

	d.Register("ok", func(Event) (any, error) { return "ok", nil }, Logged())
	d.Register("bad", func(Event) (any, error) { return nil, fmt.Errorf("nope") }, Logged())

	_, err := d.Dispatch(Event{Command: "ok"})
	require.NoError(t, err)
	assert.Equal(t, 2, rec.count("DEBUG"))

	_, err = d.Dispatch(Event{Command: "bad"})
	require.EqualError(t, err, "nope")
	assert.Equal(t, 1, rec.count("ERROR"))
}

func TestClose_DrainsAndRejects(t *testing.T) {
	d, _ := newDispatcher(t)

	var done atomic.Int32
	d.Register("drain", func(Event) (any, error) {
		time.Sleep(time.Millisecond)
		done.Add(1)
		return nil, nil
	}, Buffered(8), Blocking())
	d.Register("inline", func(Event) (any, error) { return nil, nil })

	for i := range 5 {
		_, err := d.Dispatch(Event{Command: "drain", Payload: i})
		require.NoError(t, err)
	}

	require.NoError(t, d.Close())
	assert.Equal(t, int32(5), done.Load())

	_, err := d.Dispatch(Event{Command: "drain"})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = d.Dispatch(Event{Command: "inline"})
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, d.Close(), "second close")
}

func TestClose_JoinsHandlerErrors(t *testing.T) {
	d, rec := newDispatcher(t)

	d.Register("fail", func(e Event) (any, error) {
		return nil, fmt.Errorf("thread %v rejected", e.Payload)
	}, Buffered(4), Blocking(), Logged())

	for i := range 2 {
		_, err := d.Dispatch(Event{Command: "fail", Payload: i})
		require.NoError(t, err)
	}

	err := d.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fail: thread 0 rejected")
	assert.Contains(t, err.Error(), "fail: thread 1 rejected")
	assert.Equal(t, 2, rec.count("ERROR"))
}

func TestRegister_ReplacesBufferedRoute(t *testing.T) {
	d, _ := newDispatcher(t)

	var first, second atomic.Int32
	d.Register("save", func(Event) (any, error) { first.Add(1); return nil, nil }, Buffered(4), Blocking())
	_, err := d.Dispatch(Event{Command: "save"})
	require.NoError(t, err)

	d.Register("save", func(Event) (any, error) { second.Add(1); return nil, nil }, Buffered(4), Blocking())
	_, err = d.Dispatch(Event{Command: "save"})
	require.NoError(t, err)

	// Close must not hang on the replaced worker.
	require.NoError(t, d.Close())
	assert.Equal(t, int32(1), first.Load())
	assert.Equal(t, int32(1), second.Load())
}

func TestHasHandler(t *testing.T) {
	d, _ := newDispatcher(t)
	d.Register("derive", func(Event) (any, error) { return nil, nil })

	assert.True(t, d.HasHandler("derive"))
	assert.False(t, d.HasHandler("filter"))
}
