package proactor

import (
	"context"
	"log/slog"

	"github.com/randalmurphal/proactor/pkg/proactor/pool"
)

// Context is passed to every Processor.
// It embeds the event's context, so cancelling the event cancels it.
type Context interface {
	context.Context

	// Logger returns a logger enriched with event, stage and worker.
	Logger() *slog.Logger

	// EventID returns the ID of the event being processed.
	EventID() string

	// Pipeline returns the chain name.
	Pipeline() string

	// Stage returns the processor name.
	Stage() string

	// StageIndex returns the processor's position in the chain.
	StageIndex() int

	// Worker identifies the pool worker running the stage.
	Worker() pool.Worker
}

type stageContext struct {
	context.Context
	logger   *slog.Logger
	eventID  string
	pipeline string
	stage    string
	index    int
	worker   pool.Worker
}

func (c *stageContext) Logger() *slog.Logger { return c.logger }
func (c *stageContext) EventID() string      { return c.eventID }
func (c *stageContext) Pipeline() string     { return c.pipeline }
func (c *stageContext) Stage() string        { return c.stage }
func (c *stageContext) StageIndex() int      { return c.index }
func (c *stageContext) Worker() pool.Worker  { return c.worker }

// workerOf returns the worker carried by a task context. Work started
// outside any pool reports the caller worker.
func workerOf(ctx context.Context) pool.Worker {
	if w, ok := pool.CurrentWorker(ctx); ok {
		return w
	}
	return pool.CallerWorker
}
