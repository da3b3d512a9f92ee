package logging

import "github.com/rs/zerolog"

// DispatcherLogger lets the event dispatcher log through zerolog, the
// logger the storage managers already share.
type DispatcherLogger struct {
	logger zerolog.Logger
}

func NewDispatcherLogger(logger zerolog.Logger) *DispatcherLogger {
	return &DispatcherLogger{logger: logger}
}

func (l *DispatcherLogger) Debug(msg string, keysAndValues ...any) {
	emit(l.logger.Debug(), msg, keysAndValues)
}

func (l *DispatcherLogger) Info(msg string, keysAndValues ...any) {
	emit(l.logger.Info(), msg, keysAndValues)
}

func (l *DispatcherLogger) Error(msg string, keysAndValues ...any) {
	emit(l.logger.Error(), msg, keysAndValues)
}

// emit writes an "error" value with Err so zerolog renders it under its
// error field name. ev is nil when the level is disabled.
func emit(ev *zerolog.Event, msg string, keysAndValues []any) {
	if ev == nil {
		return
	}
	fields := toFields(keysAndValues)
	if err, ok := fields["error"].(error); ok {
		delete(fields, "error")
		ev = ev.Err(err)
	}
	ev.Fields(fields).Msg(msg)
}

// toFields pairs up keys and values, skipping non-string keys and a
// trailing key without value.
func toFields(keysAndValues []any) map[string]any {
	fields := make(map[string]any, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			fields[key] = keysAndValues[i+1]
		}
	}
	return fields
}
