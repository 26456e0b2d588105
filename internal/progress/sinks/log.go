package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/supplier-discovery/internal/progress"
)

// LogSink writes each progress event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a LogSink writing to logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs the batch. Per-page events go to debug, failures to warn.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		level := levelFor(evt.Stage)
		if ce := s.logger.Check(level, "progress "+string(evt.Stage)); ce != nil {
			ce.Write(eventFields(evt)...)
		}
	}
	return nil
}

// Close is a no-op.
func (s *LogSink) Close(context.Context) error {
	return nil
}

func levelFor(stage progress.Stage) zapcore.Level {
	switch stage {
	case progress.StageFetchDone, progress.StageDiscovery, progress.StageBatchFlush:
		return zapcore.DebugLevel
	case progress.StageFetchError, progress.StageRunError:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

// eventFields renders only the populated fields of evt.
func eventFields(evt progress.Event) []zap.Field {
	fields := []zap.Field{zap.Stringer("run_id", evt.RunUUID())}
	if evt.Site != "" {
		fields = append(fields, zap.String("site", evt.Site))
	}
	if evt.URL != "" {
		fields = append(fields, zap.String("url", evt.URL))
	}
	if evt.StatusClass != "" {
		fields = append(fields, zap.String("status_class", string(evt.StatusClass)))
	}
	if evt.Kind != "" {
		fields = append(fields, zap.String("kind", evt.Kind))
	}
	if evt.Bytes > 0 {
		fields = append(fields, zap.Int64("bytes", evt.Bytes))
	}
	if evt.Visits > 0 {
		fields = append(fields, zap.Int64("visits", evt.Visits))
	}
	if evt.Discoveries > 0 {
		fields = append(fields, zap.Int64("discoveries", evt.Discoveries))
	}
	if evt.Errors > 0 {
		fields = append(fields, zap.Int64("errors", evt.Errors))
	}
	if evt.Dur > 0 {
		fields = append(fields, zap.Duration("dur", evt.Dur))
	}
	if evt.Note != "" {
		fields = append(fields, zap.String("note", evt.Note))
	}
	return fields
}
