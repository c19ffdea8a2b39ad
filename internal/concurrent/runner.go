// Package concurrent provides the executors the model provider posts work to.
//
// A MainThreadRunner delivers observer callbacks; a TaskQueue runs deferred
// model work such as synthetic token handling. Both preserve submission order.
//
// Implementations:
//   - Serial: one goroutine draining an unbounded queue
//   - Immediate: runs the function on the caller's goroutine
//   - Queued: records functions until RunAll, for tests that need queue mode
package concurrent

import (
	"sync"

	"go.uber.org/zap"
)

// Task names a unit of work submitted to a TaskQueue.
type Task string

const (
	TaskHandleSyntheticToken Task = "handle_synthetic_token"
	TaskHandleToken          Task = "handle_token"
	TaskCommit               Task = "commit"
)

// TaskType is the scheduling class of a task.
type TaskType int

const (
	TaskTypeImmediate TaskType = iota
	TaskTypeUserFacing
	TaskTypeBackground
)

// TaskQueue runs deferred work.
type TaskQueue interface {
	Execute(task Task, taskType TaskType, fn func())
}

// MainThreadRunner runs observer callbacks.
type MainThreadRunner interface {
	Execute(name string, fn func())
}

// Serial runs submitted functions one at a time on its own goroutine.
// Execute never blocks, so work running on the executor may submit more work
// to it.
type Serial struct {
	name    string
	logger  *zap.Logger
	backlog int
	done    chan struct{}

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	warned bool
}

// NewSerial starts a serial executor. A warning is logged whenever the
// backlog reaches depth.
func NewSerial(name string, depth int, logger *zap.Logger) *Serial {
	if logger == nil {
		logger = zap.NewNop()
	}
	if depth <= 0 {
		depth = 256
	}
	s := &Serial{
		name:    name,
		logger:  logger,
		backlog: depth,
		done:    make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.loop()
	return s
}

func (s *Serial) loop() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		fn := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		if len(s.queue) < s.backlog {
			s.warned = false
		}
		s.mu.Unlock()

		s.run(fn)
	}
}

func (s *Serial) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task panicked", zap.String("executor", s.name), zap.Any("panic", r))
		}
	}()
	fn()
}

// Execute implements MainThreadRunner.
func (s *Serial) Execute(name string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.logger.Warn("dropping task on closed executor",
			zap.String("executor", s.name),
			zap.String("task", name),
		)
		return
	}
	s.queue = append(s.queue, fn)
	if len(s.queue) >= s.backlog && !s.warned {
		s.warned = true
		s.logger.Warn("executor backlog is growing",
			zap.String("executor", s.name),
			zap.Int("queued", len(s.queue)),
		)
	}
	s.cond.Signal()
}

// ExecuteTask implements TaskQueue through TaskQueueFunc.
func (s *Serial) ExecuteTask(task Task, _ TaskType, fn func()) {
	s.Execute(string(task), fn)
}

// Close stops accepting work and waits for queued work to finish. It must
// not be called from work running on the executor.
func (s *Serial) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	<-s.done
}

// TaskQueueFunc adapts a function to TaskQueue.
type TaskQueueFunc func(task Task, taskType TaskType, fn func())

// Execute implements TaskQueue.
func (f TaskQueueFunc) Execute(task Task, taskType TaskType, fn func()) {
	f(task, taskType, fn)
}

// Immediate runs everything inline.
type Immediate struct{}

// Execute implements MainThreadRunner.
func (Immediate) Execute(_ string, fn func()) { fn() }

// ExecuteTask runs fn inline.
func (Immediate) ExecuteTask(_ Task, _ TaskType, fn func()) { fn() }

// Queued records submitted functions until they are drained.
type Queued struct {
	mu    sync.Mutex
	names []string
	queue []func()
}

// Execute implements MainThreadRunner.
func (q *Queued) Execute(name string, fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.names = append(q.names, name)
	q.queue = append(q.queue, fn)
}

// ExecuteTask implements TaskQueue through TaskQueueFunc.
func (q *Queued) ExecuteTask(task Task, _ TaskType, fn func()) {
	q.Execute(string(task), fn)
}

// Pending returns the number of queued functions.
func (q *Queued) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// Names returns the names of the queued functions in order.
func (q *Queued) Names() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.names))
	copy(out, q.names)
	return out
}

// RunAll drains the queue, including work queued by the functions it runs.
func (q *Queued) RunAll() int {
	ran := 0
	for {
		q.mu.Lock()
		if len(q.queue) == 0 {
			q.mu.Unlock()
			return ran
		}
		fn := q.queue[0]
		q.queue = q.queue[1:]
		q.names = q.names[1:]
		q.mu.Unlock()

		fn()
		ran++
	}
}
