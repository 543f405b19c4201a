package audit

import (
	"context"

	"github.com/yanun0323/logs"
)

// LogSink writes events to the process log.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Handle(_ context.Context, ev Event) error {
	logs.Infof("important event [%s] %s", ev.Kind, ev.Details)
	return nil
}

func (LogSink) Close() error { return nil }
