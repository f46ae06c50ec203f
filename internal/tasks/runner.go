// Package tasks runs long jobs in the background and keeps their status by run id.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// Status is the lifecycle state of a task
type Status string

const (
	StatusPending Status = "PENDING"
	StatusStarted Status = "STARTED"
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// DefaultRetention is how many finished or running tasks are remembered
const DefaultRetention = 1000

// ErrClosed is returned by Submit after Close
var ErrClosed = errors.New("task runner closed")

// Func is the body of a task. The returned value becomes the task result.
type Func func(ctx context.Context) (interface{}, error)

// Info is a snapshot of a task
type Info struct {
	ID          string      `json:"run_id"`
	Kind        string      `json:"kind"`
	Status      Status      `json:"status"`
	Result      interface{} `json:"result"`
	Error       string      `json:"error,omitempty"`
	SubmittedAt time.Time   `json:"submitted_at"`
	StartedAt   time.Time   `json:"started_at,omitzero"`
	FinishedAt  time.Time   `json:"finished_at,omitzero"`
}

// Config contains configuration for the runner
type Config struct {
	Retention     int
	MaxConcurrent int // 0 means unbounded
}

// Runner executes tasks on goroutines with a detached context, so a task keeps
// running after the request that submitted it returns.
type Runner struct {
	mu     sync.Mutex
	tasks  *lru.Cache[string, *Info]
	sem    chan struct{}
	wg     sync.WaitGroup
	closed bool
	logger *zap.Logger
}

// New creates a runner
func New(logger *zap.Logger, cfg Config) (*Runner, error) {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	cache, err := lru.New[string, *Info](cfg.Retention)
	if err != nil {
		return nil, fmt.Errorf("failed to create task store: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{tasks: cache, logger: logger}
	if cfg.MaxConcurrent > 0 {
		r.sem = make(chan struct{}, cfg.MaxConcurrent)
	}
	return r, nil
}

// Submit schedules fn and returns its run id immediately
func (r *Runner) Submit(kind string, fn Func) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", ErrClosed
	}

	info := &Info{ID: uuid.NewString(), Kind: kind, Status: StatusPending, SubmittedAt: time.Now()}
	r.tasks.Add(info.ID, info)
	r.wg.Add(1)
	go r.run(info, fn)
	return info.ID, nil
}

func (r *Runner) run(info *Info, fn Func) {
	defer r.wg.Done()
	if r.sem != nil {
		r.sem <- struct{}{}
		defer func() { <-r.sem }()
	}

	r.update(info, func(i *Info) {
		i.Status = StatusStarted
		i.StartedAt = time.Now()
	})
	logger := r.logger.With(zap.String("run_id", info.ID), zap.String("kind", info.Kind))
	logger.Info("task started")

	result, err := safeCall(fn)

	r.update(info, func(i *Info) {
		i.FinishedAt = time.Now()
		if err != nil {
			i.Status = StatusFailure
			i.Error = err.Error()
			return
		}
		i.Status = StatusSuccess
		i.Result = result
	})
	if err != nil {
		logger.Error("task failed", zap.Error(err))
		return
	}
	logger.Info("task succeeded")
}

// safeCall turns a panicking task into a failed one
func safeCall(fn Func) (result interface{}, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panicked: %v", p)
		}
	}()
	return fn(context.Background())
}

func (r *Runner) update(info *Info, apply func(*Info)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	apply(info)
}

// Get returns a snapshot of a task
func (r *Runner) Get(id string) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.tasks.Get(id)
	if !ok {
		return Info{}, false
	}
	return *info, true
}

// Close stops accepting tasks and waits for running ones
func (r *Runner) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.wg.Wait()
}
