package fanin

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"trustlines-relay/internal/events"
	"trustlines-relay/internal/metrics"
)

const DefaultConcurrency = 32

// Task queries one source. It should return promptly once ctx is done.
type Task struct {
	Name string
	Run  func(ctx context.Context) ([]events.Event, error)
}

// Engine runs query tasks concurrently and merges what completes in time.
// The concurrency bound applies per Aggregate call, so tasks abandoned by one
// call never hold slots of a later one.
type Engine struct {
	concurrency int64
	logger      *zap.Logger
}

func NewEngine(concurrency int, logger *zap.Logger) *Engine {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		concurrency: int64(concurrency),
		logger:      logger,
	}
}

type result struct {
	index  int
	events []events.Event
	err    error
}

// Aggregate runs every task and returns the merged events of the tasks that
// finished successfully before the deadline. Failed tasks contribute nothing and
// unfinished tasks are abandoned. A zero deadline waits for all tasks.
func (e *Engine) Aggregate(ctx context.Context, tasks []Task, deadline time.Duration) []events.Event {
	if len(tasks) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { metrics.FanInDuration.Observe(time.Since(start).Seconds()) }()

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if deadline > 0 {
		runCtx, cancel = context.WithTimeout(ctx, deadline)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	gate := semaphore.NewWeighted(e.concurrency)
	// Buffered so abandoned tasks never block on send.
	results := make(chan result, len(tasks))
	for i, task := range tasks {
		go func(i int, task Task) {
			if err := gate.Acquire(runCtx, 1); err != nil {
				results <- result{index: i, err: err}
				return
			}
			defer gate.Release(1)
			evs, err := runTask(runCtx, task)
			results <- result{index: i, events: evs, err: err}
		}(i, task)
	}

	collected := make([][]events.Event, len(tasks))
	done := make([]bool, len(tasks))
wait:
	for pending := len(tasks); pending > 0; pending-- {
		select {
		case r := <-results:
			e.record(tasks[r.index], r, collected, done)
		case <-runCtx.Done():
			e.drain(results, tasks, collected, done)
			e.abandon(tasks, done)
			break wait
		}
	}
	return events.MergeSorted(collected...)
}

// drain collects results that are already queued when the deadline fires.
func (e *Engine) drain(results <-chan result, tasks []Task, collected [][]events.Event, done []bool) {
	for {
		select {
		case r := <-results:
			e.record(tasks[r.index], r, collected, done)
		default:
			return
		}
	}
}

func (e *Engine) record(task Task, r result, collected [][]events.Event, done []bool) {
	done[r.index] = true
	if r.err != nil {
		metrics.FanInTasks.WithLabelValues("failed").Inc()
		e.logger.Warn("fan-in task failed", zap.String("task", task.Name), zap.Error(r.err))
		return
	}
	metrics.FanInTasks.WithLabelValues("ok").Inc()
	collected[r.index] = r.events
}

func (e *Engine) abandon(tasks []Task, done []bool) {
	for i, finished := range done {
		if finished {
			continue
		}
		metrics.FanInTasks.WithLabelValues("abandoned").Inc()
		e.logger.Warn("fan-in task abandoned at deadline", zap.String("task", tasks[i].Name))
	}
}

func runTask(ctx context.Context, task Task) (evs []events.Event, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task panicked: %v", rec)
		}
	}()
	return task.Run(ctx)
}
