package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/docqa/internal/config"
)

// HandlersRegistry routes task types to handlers and logs every run.
type HandlersRegistry struct {
	mux *asynq.ServeMux
}

func NewHandlersRegistry() *HandlersRegistry {
	mux := asynq.NewServeMux()
	mux.Use(logTasks)
	return &HandlersRegistry{mux: mux}
}

func (r *HandlersRegistry) Register(taskType string, handler asynq.HandlerFunc) {
	r.mux.Handle(taskType, handler)
}

func (r *HandlersRegistry) Mux() *asynq.ServeMux {
	return r.mux
}

// NewServer builds a worker server processing up to cfg.Concurrency tasks at once.
func NewServer(redis config.RedisConfig, cfg config.QueueConfig) *asynq.Server {
	return asynq.NewServer(RedisOpt(redis), asynq.Config{
		Concurrency: cfg.Concurrency,
		Logger:      slogLogger{},
	})
}

func logTasks(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		start := time.Now()
		id, _ := asynq.GetTaskID(ctx)
		retried, _ := asynq.GetRetryCount(ctx)

		err := next.ProcessTask(ctx, t)

		attrs := []any{"type", t.Type(), "task_id", id, "retry", retried, "duration_ms", time.Since(start).Milliseconds()}
		if err != nil {
			slog.Error("task failed", append(attrs, "error", err)...)
			return err
		}
		slog.Info("task done", attrs...)
		return nil
	})
}

// slogLogger routes asynq's own logging through slog.
type slogLogger struct{}

func (slogLogger) Debug(args ...any) { slog.Debug("asynq", "msg", args) }
func (slogLogger) Info(args ...any)  { slog.Info("asynq", "msg", args) }
func (slogLogger) Warn(args ...any)  { slog.Warn("asynq", "msg", args) }
func (slogLogger) Error(args ...any) { slog.Error("asynq", "msg", args) }
func (slogLogger) Fatal(args ...any) { slog.Error("asynq fatal", "msg", args) }
