package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failing rejects every record.
type failing struct{ slog.Handler }

func (failing) Enabled(context.Context, slog.Level) bool { return true }

func (failing) Handle(context.Context, slog.Record) error { return errors.New("sink down") }

func textAt(buf *bytes.Buffer, lvl slog.Level) slog.Handler {
	return slog.NewTextHandler(buf, &slog.HandlerOptions{Level: lvl})
}

func TestMultiHandler_Delivery(t *testing.T) {
	var info, debug bytes.Buffer
	logger := slog.New(NewMultiHandler(nil, textAt(&info, slog.LevelInfo), textAt(&debug, slog.LevelDebug)))

	logger.Debug("row skipped")
	logger.Info("thread derived")

	assert.NotContains(t, info.String(), "row skipped")
	assert.Contains(t, info.String(), "thread derived")
	assert.Contains(t, debug.String(), "row skipped")
	assert.Contains(t, debug.String(), "thread derived")
}

func TestMultiHandler_Enabled(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer

	assert.False(t, NewMultiHandler().Enabled(ctx, slog.LevelError))

	infoOnly := NewMultiHandler(textAt(&buf, slog.LevelInfo))
	assert.False(t, infoOnly.Enabled(ctx, slog.LevelDebug))
	assert.True(t, infoOnly.Enabled(ctx, slog.LevelInfo))

	mixed := NewMultiHandler(textAt(&buf, slog.LevelInfo), textAt(&buf, slog.LevelDebug))
	assert.True(t, mixed.Enabled(ctx, slog.LevelDebug))
}

func TestMultiHandler_NilEntriesDropped(t *testing.T) {
	var buf bytes.Buffer
	hs := []slog.Handler{nil, textAt(&buf, slog.LevelInfo), nil}

	m := NewMultiHandler(hs...)
	require.Len(t, m.handlers, 1)
	assert.Nil(t, hs[0], "caller slice untouched")
}

func TestMultiHandler_AttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	m := NewMultiHandler(textAt(&buf, slog.LevelInfo))

	slog.New(m.WithAttrs([]slog.Attr{slog.String("command", "filter")})).Info("a")
	slog.New(m.WithGroup("range")).Info("b", "start", 5)

	assert.Contains(t, buf.String(), "command=filter")
	assert.Contains(t, buf.String(), "range.start=5")
	assert.Same(t, m, m.WithGroup(""))
}

func TestMultiHandler_Errors(t *testing.T) {
	var buf bytes.Buffer
	m := NewMultiHandler(failing{}, textAt(&buf, slog.LevelInfo), failing{})

	err := m.Handle(context.Background(), slog.NewRecord(time.Time{}, slog.LevelInfo, "still delivered", 0))

	assert.Contains(t, buf.String(), "still delivered")
	require.Error(t, err)
	assert.Len(t, err.(interface{ Unwrap() []error }).Unwrap(), 2)
}
