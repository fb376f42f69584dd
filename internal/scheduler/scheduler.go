package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GoCodeAlone/repost/internal/eventbus"
	"github.com/GoCodeAlone/repost/internal/gate"
	"github.com/GoCodeAlone/repost/internal/logging"
	"github.com/GoCodeAlone/repost/internal/model"
	"github.com/GoCodeAlone/repost/internal/store"
)

// Repository is the persistence surface a scheduler drives. The store
// package provides the sqlite implementations.
type Repository interface {
	GetMultiple(ctx context.Context, filter model.TaskFilter) ([]model.Item, error)
	Get(ctx context.Context, id int64) (model.Item, error)
	Create(ctx context.Context, item model.Item) (model.Item, error)
	Update(ctx context.Context, item model.Item) (model.Item, error)
	Delete(ctx context.Context, id int64) (bool, error)
}

// TaskError is the payload of processing-error topics.
type TaskError struct {
	Err  error
	Task model.Item
}

// Copy implements eventbus.Copier.
func (e *TaskError) Copy() any {
	return &TaskError{Err: e.Err, Task: e.Task.Clone()}
}

// parkedWorker is a suspended worker held off the concurrency gate.
// started marks whether a Start call is still pending on it; workers
// parked straight from storage at load time have never been started.
type parkedWorker struct {
	worker  Worker
	cancel  context.CancelFunc
	started bool
}

// Config carries the per-instance scheduler settings.
type Config struct {
	// Name tags log lines, e.g. "download" or "upload".
	Name string
	// MaxConcurrent is the number of workers allowed to run at once.
	MaxConcurrent int
	// RetryDelay is how long a retried task waits before re-queueing.
	RetryDelay time.Duration
	// AutoRetry re-queues failed tasks automatically after RetryDelay.
	AutoRetry bool
	// FeedMapper turns a feed entry into a new task. Only set on
	// schedulers that consume a feed topic.
	FeedMapper func(*model.Feed) model.Item
}

// Scheduler owns the lifecycle of one task variant: intake, queueing,
// bounded-concurrency processing, pause/suspend bookkeeping and
// terminal-state tracking. All mutations funnel through the transition
// table; bus listeners and HTTP handlers only feed it events.
type Scheduler struct {
	name       string
	repo       Repository
	bus        *eventbus.Bus
	gate       *gate.Gate
	factory    WorkerFactory
	topics     Topics
	feedMapper func(*model.Feed) model.Item
	logger     logging.Logger

	retryDelay atomic.Int64 // nanoseconds
	autoRetry  bool

	queue *taskQueue

	mu            sync.Mutex
	waiting       map[int64]model.Item
	timers        map[int64]*time.Timer
	suspended     map[int64]parkedWorker
	ongoing       map[int64]Worker
	ongoingTasks  map[int64]model.Item
	ongoingCancel map[int64]context.CancelFunc
	completed     map[int64]model.Item
	failed        map[int64]model.Item

	workerCtx context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup
}

// New builds a scheduler and binds its bus topics. Workers do not run
// until LoadTasks/Run are called.
func New(cfg Config, repo Repository, bus *eventbus.Bus, factory WorkerFactory, topics Topics, logger logging.Logger) (*Scheduler, error) {
	g, err := gate.New(cfg.MaxConcurrent)
	if err != nil {
		return nil, fmt.Errorf("scheduler %s: %w", cfg.Name, err)
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		name:          cfg.Name,
		repo:          repo,
		bus:           bus,
		gate:          g,
		factory:       factory,
		topics:        topics,
		feedMapper:    cfg.FeedMapper,
		logger:        logger,
		autoRetry:     cfg.AutoRetry,
		queue:         newTaskQueue(),
		waiting:       make(map[int64]model.Item),
		timers:        make(map[int64]*time.Timer),
		suspended:     make(map[int64]parkedWorker),
		ongoing:       make(map[int64]Worker),
		ongoingTasks:  make(map[int64]model.Item),
		ongoingCancel: make(map[int64]context.CancelFunc),
		completed:     make(map[int64]model.Item),
		failed:        make(map[int64]model.Item),
		workerCtx:     ctx,
		cancelAll:     cancel,
	}
	s.retryDelay.Store(int64(cfg.RetryDelay))
	s.bindTopics()
	return s, nil
}

func (s *Scheduler) bindTopics() {
	if s.bus == nil {
		return
	}
	s.bus.Bind(s.topics.NewTask, func(ctx context.Context, payload any) error {
		task, ok := payload.(model.Item)
		if !ok {
			return fmt.Errorf("%s new task: %w", s.name, ErrWrongPayload)
		}
		_, err := s.AddNewTask(ctx, task)
		return err
	})
	s.bus.Bind(s.topics.Edit, func(ctx context.Context, payload any) error {
		patch, ok := payload.(model.Patch)
		if !ok {
			return fmt.Errorf("%s edit: %w", s.name, ErrWrongPayload)
		}
		_, err := s.EditTask(ctx, patch)
		return err
	})
	s.bindTaskEvent(s.topics.Pause, eventPause)
	s.bindTaskEvent(s.topics.Resume, eventResume)
	s.bindTaskEvent(s.topics.Cancel, eventCancel)
	s.bindTaskEvent(s.topics.Suspend, eventSuspend)
	s.bindTaskEvent(s.topics.Force, eventForce)
	s.bindTaskEvent(s.topics.Retry, eventRetry)
	if s.topics.Feed != "" && s.feedMapper != nil {
		s.bus.Bind(s.topics.Feed, func(ctx context.Context, payload any) error {
			feed, ok := payload.(*model.Feed)
			if !ok {
				return fmt.Errorf("%s feed: %w", s.name, ErrWrongPayload)
			}
			_, err := s.AddNewTask(ctx, s.feedMapper(feed))
			return err
		})
	}
	if s.autoRetry && s.topics.ProcessingError != "" && s.topics.Retry != "" {
		s.bus.Bind(s.topics.ProcessingError, func(ctx context.Context, payload any) error {
			te, ok := payload.(*TaskError)
			if !ok {
				return fmt.Errorf("%s auto retry: %w", s.name, ErrWrongPayload)
			}
			s.bus.Emit(ctx, s.topics.Retry, te.Task)
			return nil
		})
	}
}

func (s *Scheduler) bindTaskEvent(topic string, ev event) {
	if topic == "" {
		return
	}
	s.bus.Bind(topic, func(ctx context.Context, payload any) error {
		task, ok := payload.(model.Item)
		if !ok {
			return fmt.Errorf("%s %s: %w", s.name, ev, ErrWrongPayload)
		}
		return s.dispatch(ctx, task, ev)
	})
}

// AddNewTask persists a task and routes it to the wait room or the
// queue depending on its wait time.
func (s *Scheduler) AddNewTask(ctx context.Context, task model.Item) (model.Item, error) {
	meta := task.Meta()
	now := time.Now().Unix()
	if meta.WaitTime > now {
		meta.State = model.StateWaiting
	} else {
		meta.State = model.StateInQueue
	}
	persisted, err := s.repo.Create(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("%s add task: %w", s.name, err)
	}
	s.emit(ctx, s.topics.Created, persisted)
	pm := persisted.Meta()
	if pm.State == model.StateWaiting {
		s.putTaskToWait(ctx, persisted, time.Until(time.Unix(pm.WaitTime, 0)))
	} else {
		s.enqueue(ctx, persisted, pm.Priority)
	}
	s.logger.Info("task added", "scheduler", s.name, "task", pm.ID, "state", pm.State)
	return persisted, nil
}

// EditTask applies a partial update. Tasks being processed cannot be
// edited; pause them first.
func (s *Scheduler) EditTask(ctx context.Context, patch model.Patch) (model.Item, error) {
	task, err := s.repo.Get(ctx, patch.TaskID())
	if err != nil {
		return nil, fmt.Errorf("%s edit task: %w", s.name, err)
	}
	if task.Meta().State == model.StateProcessing {
		return nil, fmt.Errorf("%s edit task %d: %w", s.name, patch.TaskID(), ErrEditRejected)
	}
	if err := patch.Apply(task); err != nil {
		return nil, fmt.Errorf("%s edit task: %w", s.name, err)
	}
	updated, err := s.repo.Update(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("%s edit task: %w", s.name, err)
	}
	s.refresh(updated)
	s.emit(ctx, s.topics.Edited, updated)
	return updated, nil
}

// refresh swaps the scheduler's in-memory copy of an edited task so
// later transitions see the new values. A waiting task whose wait_time
// changed gets its timer re-armed at the new deadline.
func (s *Scheduler) refresh(task model.Item) {
	meta := task.Meta()
	id := meta.ID
	if _, ok := s.queue.Remove(id); ok {
		s.queue.Put(task, meta.Priority)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.waiting[id]; ok {
		s.waiting[id] = task
		if prev.Meta().WaitTime != meta.WaitTime {
			if timer, armed := s.timers[id]; armed {
				timer.Stop()
			}
			s.timers[id] = time.AfterFunc(time.Until(time.Unix(meta.WaitTime, 0)), func() {
				s.wakeWaiting(id)
			})
		}
	}
	if _, ok := s.completed[id]; ok {
		s.completed[id] = task
	}
	if _, ok := s.failed[id]; ok {
		s.failed[id] = task
	}
}

// LoadTasks replays persisted tasks through the load transition,
// rebuilding queues, timers and parked workers after a restart.
func (s *Scheduler) LoadTasks(ctx context.Context) error {
	items, err := s.repo.GetMultiple(ctx, model.TaskFilter{})
	if err != nil {
		return fmt.Errorf("%s load tasks: %w", s.name, err)
	}
	for _, task := range items {
		if err := s.dispatch(ctx, task, eventLoad); err != nil {
			return fmt.Errorf("%s load task %d: %w", s.name, task.Meta().ID, err)
		}
	}
	s.logger.Info("tasks loaded", "scheduler", s.name, "count", len(items))
	return nil
}

// Run is the dispatcher loop: it pops queued tasks and starts them,
// blocking on the concurrency gate as needed. It returns when ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler running", "scheduler", s.name, "max_concurrent", s.gate.Capacity())
	for {
		task, err := s.queue.Get(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		if err := s.dispatch(ctx, task, eventStart); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			s.logger.Error("task start failed", "scheduler", s.name,
				"task", task.Meta().ID, "error", err)
		}
	}
}

// Stop cancels running workers and waits for them to unwind.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancelAll()
	s.mu.Lock()
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	workers := make([]Worker, 0, len(s.ongoing))
	for _, w := range s.ongoing {
		workers = append(workers, w)
	}
	s.mu.Unlock()
	for _, w := range workers {
		if err := w.Cancel(); err != nil {
			s.logger.Warn("worker cancel on shutdown", "scheduler", s.name, "error", err)
		}
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s stop: %w", s.name, ctx.Err())
	}
}

// SetConcurrent resizes the worker gate. The call drains in-flight
// workers first, so it can take as long as the slowest one.
func (s *Scheduler) SetConcurrent(ctx context.Context, n int) error {
	if err := s.gate.SetCapacity(ctx, n); err != nil {
		return fmt.Errorf("%s set concurrent: %w", s.name, err)
	}
	s.logger.Info("concurrency changed", "scheduler", s.name, "max_concurrent", n)
	return nil
}

// Concurrent reports the current worker slot count.
func (s *Scheduler) Concurrent() int {
	return s.gate.Capacity()
}

// RetryDelay is the current delay applied before a retried task
// re-enters the queue.
func (s *Scheduler) RetryDelay() time.Duration {
	return time.Duration(s.retryDelay.Load())
}

// SetRetryDelay changes the retry delay for future retries.
func (s *Scheduler) SetRetryDelay(d time.Duration) {
	s.retryDelay.Store(int64(d))
}

// Progress reports the progress of an in-flight task, or false when no
// worker is running it.
func (s *Scheduler) Progress(id int64) (float64, bool) {
	s.mu.Lock()
	w, ok := s.ongoing[id]
	s.mu.Unlock()
	if !ok {
		return 0, false
	}
	return w.Progress(), true
}

// CurrentTasks snapshots the tasks with a running worker.
func (s *Scheduler) CurrentTasks() []model.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Item, 0, len(s.ongoingTasks))
	for _, task := range s.ongoingTasks {
		out = append(out, task)
	}
	return out
}

// --- internal plumbing ---

func (s *Scheduler) emit(ctx context.Context, topic string, payload any) {
	if s.bus == nil || topic == "" {
		return
	}
	s.bus.Emit(ctx, topic, payload)
}

// persist writes the task's current field values back. A vanished row
// means the task was destroyed concurrently; that is not an error here.
func (s *Scheduler) persist(ctx context.Context, task model.Item) {
	if _, err := s.repo.Update(ctx, task); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Debug("persist skipped, task gone", "scheduler", s.name, "task", task.Meta().ID)
			return
		}
		s.logger.Error("task persist failed", "scheduler", s.name,
			"task", task.Meta().ID, "error", err)
	}
}

func (s *Scheduler) enqueue(ctx context.Context, task model.Item, priority model.TaskPriority) {
	s.queue.Put(task, priority)
}

// putTaskToWait parks a task on a timer. The waiting map is the source
// of truth: a timer that fires after skipWait removed the entry is a
// no-op.
func (s *Scheduler) putTaskToWait(ctx context.Context, task model.Item, delay time.Duration) {
	id := task.Meta().ID
	s.mu.Lock()
	s.waiting[id] = task
	s.timers[id] = time.AfterFunc(delay, func() { s.wakeWaiting(id) })
	s.mu.Unlock()
	s.emit(ctx, s.topics.Waiting, task)
	s.logger.Debug("task waiting", "scheduler", s.name, "task", id, "delay", delay)
}

func (s *Scheduler) wakeWaiting(id int64) {
	s.mu.Lock()
	task, ok := s.waiting[id]
	if ok {
		delete(s.waiting, id)
		delete(s.timers, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	meta := task.Meta()
	meta.State = model.StateInQueue
	s.persist(s.workerCtx, task)
	s.enqueue(s.workerCtx, task, meta.Priority)
}

// skipWait removes a task from the wait room before its timer fires.
func (s *Scheduler) skipWait(id int64) (model.Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.waiting[id]
	if !ok {
		return nil, false
	}
	delete(s.waiting, id)
	if timer, ok := s.timers[id]; ok {
		timer.Stop()
		delete(s.timers, id)
	}
	return task, true
}

// spawnWorker registers a worker for a task and launches it. The caller
// must already hold a gate slot; ownership of the slot passes to
// whichever path later removes the worker records.
func (s *Scheduler) spawnWorker(task model.Item) {
	id := task.Meta().ID
	s.mu.Lock()
	parked, wasParked := s.suspended[id]
	if wasParked {
		delete(s.suspended, id)
	}
	if wasParked && parked.started {
		// The original Start call is still pending inside its
		// goroutine; waking the worker is all that is needed.
		s.ongoing[id] = parked.worker
		s.ongoingTasks[id] = task
		s.ongoingCancel[id] = parked.cancel
		s.mu.Unlock()
		if err := parked.worker.Resume(); err != nil {
			s.logger.Error("worker resume failed", "scheduler", s.name, "task", id, "error", err)
		}
		return
	}
	var w Worker
	if wasParked {
		// Parked at load time, or its first run finished while the
		// suspend was landing: run it fresh.
		w = parked.worker
	} else {
		w = s.factory(task)
	}
	wctx, cancel := context.WithCancel(s.workerCtx)
	s.ongoing[id] = w
	s.ongoingTasks[id] = task
	s.ongoingCancel[id] = cancel
	s.mu.Unlock()
	s.wg.Add(1)
	go s.runWorker(wctx, task, w)
}

func (s *Scheduler) runWorker(ctx context.Context, task model.Item, w Worker) {
	defer s.wg.Done()
	err := w.Start(ctx)
	s.finishWorker(task, w, err)
}

// finishWorker settles a worker whose Start returned. Only the path
// that still finds its records releases the gate slot; cancel and
// suspend already took them, and the release, with it.
func (s *Scheduler) finishWorker(task model.Item, w Worker, err error) {
	id := task.Meta().ID
	s.mu.Lock()
	current, ok := s.ongoing[id]
	owns := ok && current == w
	var cancel context.CancelFunc
	if owns {
		delete(s.ongoing, id)
		delete(s.ongoingTasks, id)
		cancel = s.ongoingCancel[id]
		delete(s.ongoingCancel, id)
	} else if parked, parkedOK := s.suspended[id]; parkedOK && parked.worker == w {
		// Finished in the instant it was being parked. Mark it
		// unstarted so a later resume runs the work again instead of
		// waking a dead worker.
		parked.started = false
		s.suspended[id] = parked
	}
	s.mu.Unlock()
	if !owns {
		return
	}
	if cancel != nil {
		cancel()
	}
	s.gate.Release()

	ctx := context.Background()
	meta := task.Meta()
	if err != nil {
		meta.State = model.StateFailed
		s.persist(ctx, task)
		s.recordFailed(task)
		s.logger.Warn("task failed", "scheduler", s.name, "task", id, "error", err)
		s.emit(ctx, s.topics.ProcessingError, &TaskError{Err: err, Task: task})
		return
	}
	meta.State = model.StateCompleted
	s.persist(ctx, task)
	s.recordCompleted(task)
	s.logger.Info("task complete", "scheduler", s.name, "task", id)
	s.emit(ctx, s.topics.Complete, task)
}

func (s *Scheduler) pauseWorker(id int64) {
	s.mu.Lock()
	w, ok := s.ongoing[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := w.Pause(); err != nil {
		s.logger.Error("worker pause failed", "scheduler", s.name, "task", id, "error", err)
	}
}

func (s *Scheduler) resumeWorker(id int64) {
	s.mu.Lock()
	w, ok := s.ongoing[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := w.Resume(); err != nil {
		s.logger.Error("worker resume failed", "scheduler", s.name, "task", id, "error", err)
	}
}

// cancelWorkerByID tears a running worker down and frees its slot. The
// pending Start call unblocks and its finishWorker finds the records
// gone, so the slot is released exactly once, here.
func (s *Scheduler) cancelWorker(id int64) bool {
	s.mu.Lock()
	w, ok := s.ongoing[id]
	var cancel context.CancelFunc
	if ok {
		delete(s.ongoing, id)
		delete(s.ongoingTasks, id)
		cancel = s.ongoingCancel[id]
		delete(s.ongoingCancel, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	if err := w.Cancel(); err != nil {
		s.logger.Error("worker cancel failed", "scheduler", s.name, "task", id, "error", err)
	}
	if cancel != nil {
		cancel()
	}
	s.gate.Release()
	return true
}

// suspendWorker pauses a running worker and parks it off the gate so
// other tasks can use its slot. Its Start call stays pending. The worker
// is parked in the same critical section that removes its running
// records: a Start that returns mid-pause must find the parked entry in
// finishWorker, or the worker would vanish from both maps.
func (s *Scheduler) suspendWorker(id int64) {
	s.mu.Lock()
	w, ok := s.ongoing[id]
	if ok {
		cancel := s.ongoingCancel[id]
		delete(s.ongoing, id)
		delete(s.ongoingTasks, id)
		delete(s.ongoingCancel, id)
		s.suspended[id] = parkedWorker{worker: w, cancel: cancel, started: true}
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := w.Pause(); err != nil {
		s.logger.Error("worker pause failed", "scheduler", s.name, "task", id, "error", err)
	}
	s.gate.Release()
}

// parkFreshWorker registers a never-started worker for a task loaded in
// the suspended state.
func (s *Scheduler) parkFreshWorker(task model.Item) {
	id := task.Meta().ID
	s.mu.Lock()
	s.suspended[id] = parkedWorker{worker: s.factory(task), started: false}
	s.mu.Unlock()
}

func (s *Scheduler) recordCompleted(task model.Item) {
	s.mu.Lock()
	s.completed[task.Meta().ID] = task
	s.mu.Unlock()
}

func (s *Scheduler) recordFailed(task model.Item) {
	s.mu.Lock()
	s.failed[task.Meta().ID] = task
	s.mu.Unlock()
}

// forgetTerminal clears the terminal-state record ahead of a retry.
func (s *Scheduler) forgetTerminal(id int64) {
	s.mu.Lock()
	delete(s.completed, id)
	delete(s.failed, id)
	s.mu.Unlock()
}

// destroyTask removes the task row and any terminal record.
func (s *Scheduler) destroyTask(ctx context.Context, task model.Item) error {
	id := task.Meta().ID
	s.forgetTerminal(id)
	found, err := s.repo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("%s destroy task %d: %w", s.name, id, err)
	}
	if !found {
		s.logger.Debug("destroy: task already gone", "scheduler", s.name, "task", id)
	}
	s.logger.Info("task removed", "scheduler", s.name, "task", id)
	return nil
}
