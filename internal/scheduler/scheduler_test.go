package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/repost/internal/eventbus"
	"github.com/GoCodeAlone/repost/internal/model"
	"github.com/GoCodeAlone/repost/internal/store"
)

// memRepo is an in-memory Repository for scheduler tests.
type memRepo struct {
	mu     sync.Mutex
	items  map[int64]model.Item
	nextID int64
}

func newMemRepo() *memRepo {
	return &memRepo{items: make(map[int64]model.Item)}
}

func (r *memRepo) GetMultiple(_ context.Context, filter model.TaskFilter) ([]model.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Item
	for _, item := range r.items {
		if filter.Matches(item.Meta().State) {
			out = append(out, item.Clone())
		}
	}
	return out, nil
}

func (r *memRepo) Get(_ context.Context, id int64) (model.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return nil, fmt.Errorf("task %d: %w", id, store.ErrNotFound)
	}
	return item.Clone(), nil
}

func (r *memRepo) Create(_ context.Context, item model.Item) (model.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	clone := item.Clone()
	clone.Meta().ID = r.nextID
	r.items[r.nextID] = clone
	return clone.Clone(), nil
}

func (r *memRepo) Update(_ context.Context, item model.Item) (model.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := item.Meta().ID
	if _, ok := r.items[id]; !ok {
		return nil, fmt.Errorf("task %d: %w", id, store.ErrNotFound)
	}
	r.items[id] = item.Clone()
	return item.Clone(), nil
}

func (r *memRepo) Delete(_ context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return false, nil
	}
	delete(r.items, id)
	return true, nil
}

func (r *memRepo) state(id int64) model.TaskState {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return 0
	}
	return item.Meta().State
}

func (r *memRepo) name(id int64) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return ""
	}
	return item.Meta().Name
}

func (r *memRepo) exists(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.items[id]
	return ok
}

func (r *memRepo) seed(item model.Item) model.Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	clone := item.Clone()
	clone.Meta().ID = r.nextID
	r.items[r.nextID] = clone
	return clone
}

// fakeWorker blocks in Start until told to finish, mirroring a long
// download.
type fakeWorker struct {
	done      chan error
	cancelled chan struct{}
	cancelOne sync.Once

	mu      sync.Mutex
	pauses  int
	resumes int
}

func newFakeWorker() *fakeWorker {
	return &fakeWorker{
		done:      make(chan error, 1),
		cancelled: make(chan struct{}),
	}
}

func (w *fakeWorker) Start(ctx context.Context) error {
	select {
	case err := <-w.done:
		return err
	case <-w.cancelled:
		return errors.New("worker cancelled")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *fakeWorker) Pause() error {
	w.mu.Lock()
	w.pauses++
	w.mu.Unlock()
	return nil
}

func (w *fakeWorker) Resume() error {
	w.mu.Lock()
	w.resumes++
	w.mu.Unlock()
	return nil
}

func (w *fakeWorker) Cancel() error {
	w.cancelOne.Do(func() { close(w.cancelled) })
	return nil
}

func (w *fakeWorker) Progress() float64 { return 0.5 }

func (w *fakeWorker) finish(err error) { w.done <- err }

func (w *fakeWorker) pauseCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pauses
}

func (w *fakeWorker) resumeCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.resumes
}

// pauseRacer finishes its pending Start the moment it is paused,
// mimicking a fast job that exits just as a suspend lands.
type pauseRacer struct {
	*fakeWorker
}

func (w *pauseRacer) Pause() error {
	w.finish(nil)
	return w.fakeWorker.Pause()
}

// workerTracker hands out fakeWorkers and remembers them per task id.
type workerTracker struct {
	mu      sync.Mutex
	workers map[int64][]*fakeWorker
}

func newWorkerTracker() *workerTracker {
	return &workerTracker{workers: make(map[int64][]*fakeWorker)}
}

func (wt *workerTracker) factory(task model.Item) Worker {
	w := newFakeWorker()
	wt.mu.Lock()
	wt.workers[task.Meta().ID] = append(wt.workers[task.Meta().ID], w)
	wt.mu.Unlock()
	return w
}

func (wt *workerTracker) latest(id int64) *fakeWorker {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	ws := wt.workers[id]
	if len(ws) == 0 {
		return nil
	}
	return ws[len(ws)-1]
}

func (wt *workerTracker) count(id int64) int {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	return len(wt.workers[id])
}

func newTestScheduler(t *testing.T, maxConcurrent int, bus *eventbus.Bus) (*Scheduler, *memRepo, *workerTracker) {
	t.Helper()
	repo := newMemRepo()
	tracker := newWorkerTracker()
	topics := DownloadTopics()
	if bus == nil {
		topics = Topics{} // no emissions, no bindings
	}
	s, err := New(Config{
		Name:          "download",
		MaxConcurrent: maxConcurrent,
		RetryDelay:    20 * time.Millisecond,
		AutoRetry:     bus != nil,
	}, repo, bus, tracker.factory, topics, nil)
	require.NoError(t, err)
	return s, repo, tracker
}

func newDL(name string) *model.DownloadTask {
	task := &model.DownloadTask{URL: "https://example.com/v/" + name, Site: "youtube"}
	task.Name = name
	task.Priority = model.PriorityDefault
	return task
}

func startDispatcher(t *testing.T, s *Scheduler) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		_ = s.Stop(stopCtx)
	})
	return cancel
}

func (s *Scheduler) ongoingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ongoing)
}

func (s *Scheduler) isWaiting(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.waiting[id]
	return ok
}

func (s *Scheduler) isSuspended(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.suspended[id]
	return ok
}

func (s *Scheduler) parkedUnstarted(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	parked, ok := s.suspended[id]
	return ok && !parked.started
}

func (s *Scheduler) isOngoing(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ongoing[id]
	return ok
}

func (s *Scheduler) isCompleted(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.completed[id]
	return ok
}

func (s *Scheduler) isFailed(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.failed[id]
	return ok
}

func TestAddNewTaskImmediate(t *testing.T) {
	s, repo, _ := newTestScheduler(t, 1, nil)
	task, err := s.AddNewTask(context.Background(), newDL("clip"))
	require.NoError(t, err)

	assert.Equal(t, model.StateInQueue, task.Meta().State)
	assert.Equal(t, model.StateInQueue, repo.state(task.Meta().ID))
	assert.True(t, s.queue.Contains(task.Meta().ID))
}

func TestAddNewTaskDeferred(t *testing.T) {
	s, repo, _ := newTestScheduler(t, 1, nil)
	dl := newDL("later")
	dl.WaitTime = time.Now().Add(time.Hour).Unix()
	task, err := s.AddNewTask(context.Background(), dl)
	require.NoError(t, err)

	id := task.Meta().ID
	assert.Equal(t, model.StateWaiting, repo.state(id))
	assert.True(t, s.isWaiting(id))
	assert.False(t, s.queue.Contains(id))
}

func TestWaitTimerMovesTaskToQueue(t *testing.T) {
	s, repo, _ := newTestScheduler(t, 1, nil)
	task := repo.seed(newDL("soon"))
	task.Meta().State = model.StateWaiting
	s.putTaskToWait(context.Background(), task, 30*time.Millisecond)

	id := task.Meta().ID
	require.Eventually(t, func() bool {
		return s.queue.Contains(id)
	}, time.Second, 5*time.Millisecond)
	assert.False(t, s.isWaiting(id))
	assert.Equal(t, model.StateInQueue, repo.state(id))
}

func TestRunProcessesTaskToCompletion(t *testing.T) {
	s, repo, tracker := newTestScheduler(t, 1, nil)
	startDispatcher(t, s)

	task, err := s.AddNewTask(context.Background(), newDL("clip"))
	require.NoError(t, err)
	id := task.Meta().ID

	require.Eventually(t, func() bool {
		return tracker.latest(id) != nil
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, model.StateProcessing, repo.state(id))
	assert.True(t, s.isOngoing(id))

	tracker.latest(id).finish(nil)
	require.Eventually(t, func() bool {
		return repo.state(id) == model.StateCompleted
	}, time.Second, 5*time.Millisecond)
	assert.True(t, s.isCompleted(id))
	assert.False(t, s.isOngoing(id))
	assert.Equal(t, 0, s.gate.InFlight())
}

func TestConcurrencyNeverExceedsLimit(t *testing.T) {
	s, _, tracker := newTestScheduler(t, 2, nil)
	startDispatcher(t, s)

	var ids []int64
	for i := 0; i < 4; i++ {
		task, err := s.AddNewTask(context.Background(), newDL(fmt.Sprintf("clip-%d", i)))
		require.NoError(t, err)
		ids = append(ids, task.Meta().ID)
	}

	require.Eventually(t, func() bool {
		return s.ongoingCount() == 2
	}, time.Second, 5*time.Millisecond)
	// The dispatcher is now blocked on the gate; give it a moment to
	// prove it stays there.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, s.ongoingCount())
	assert.Equal(t, 2, s.gate.InFlight())

	for _, id := range ids {
		if w := tracker.latest(id); w != nil {
			w.finish(nil)
		}
	}
	require.Eventually(t, func() bool {
		running := 0
		for _, id := range ids {
			if s.isOngoing(id) {
				running++
			}
		}
		return running > 0
	}, time.Second, 5*time.Millisecond)
}

func TestPauseResumeCancelSingleSlot(t *testing.T) {
	s, repo, tracker := newTestScheduler(t, 1, nil)
	startDispatcher(t, s)
	ctx := context.Background()

	task, err := s.AddNewTask(ctx, newDL("clip"))
	require.NoError(t, err)
	id := task.Meta().ID
	require.Eventually(t, func() bool {
		return tracker.latest(id) != nil
	}, time.Second, 5*time.Millisecond)
	w := tracker.latest(id)

	// Pause keeps the worker registered and the slot held.
	current, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.NoError(t, s.dispatch(ctx, current, eventPause))
	assert.Equal(t, model.StatePause, repo.state(id))
	assert.Equal(t, 1, w.pauseCount())
	assert.True(t, s.isOngoing(id))
	assert.Equal(t, 1, s.gate.InFlight())

	// Resume picks up where it left off.
	current, err = repo.Get(ctx, id)
	require.NoError(t, err)
	require.NoError(t, s.dispatch(ctx, current, eventResume))
	assert.Equal(t, model.StateProcessing, repo.state(id))
	assert.Equal(t, 1, w.resumeCount())

	// Cancel tears everything down and frees the slot.
	current, err = repo.Get(ctx, id)
	require.NoError(t, err)
	require.NoError(t, s.dispatch(ctx, current, eventCancel))
	require.Eventually(t, func() bool {
		return s.gate.InFlight() == 0
	}, time.Second, 5*time.Millisecond)
	assert.False(t, repo.exists(id))
	assert.False(t, s.isOngoing(id))
	assert.False(t, s.isFailed(id))
}

func TestCancelWhilePausedReleasesSlotOnce(t *testing.T) {
	s, repo, tracker := newTestScheduler(t, 1, nil)
	startDispatcher(t, s)
	ctx := context.Background()

	task, err := s.AddNewTask(ctx, newDL("clip"))
	require.NoError(t, err)
	id := task.Meta().ID
	require.Eventually(t, func() bool {
		return tracker.latest(id) != nil
	}, time.Second, 5*time.Millisecond)

	current, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.NoError(t, s.dispatch(ctx, current, eventPause))

	current, err = repo.Get(ctx, id)
	require.NoError(t, err)
	require.NoError(t, s.dispatch(ctx, current, eventCancel))

	require.Eventually(t, func() bool {
		select {
		case <-s.gate.Idle():
			return s.gate.InFlight() == 0
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	assert.False(t, repo.exists(id))

	// The slot freed by cancel must admit the next task.
	next, err := s.AddNewTask(ctx, newDL("next"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return s.isOngoing(next.Meta().ID)
	}, time.Second, 5*time.Millisecond)
}

func TestSuspendFreesSlotAndResumeReclaims(t *testing.T) {
	s, repo, tracker := newTestScheduler(t, 1, nil)
	startDispatcher(t, s)
	ctx := context.Background()

	a, err := s.AddNewTask(ctx, newDL("first"))
	require.NoError(t, err)
	aID := a.Meta().ID
	require.Eventually(t, func() bool {
		return tracker.latest(aID) != nil
	}, time.Second, 5*time.Millisecond)
	aWorker := tracker.latest(aID)

	current, err := repo.Get(ctx, aID)
	require.NoError(t, err)
	require.NoError(t, s.dispatch(ctx, current, eventSuspend))
	assert.Equal(t, model.StateSuspended, repo.state(aID))
	assert.True(t, s.isSuspended(aID))
	assert.Equal(t, 1, aWorker.pauseCount())
	assert.Equal(t, 0, s.gate.InFlight())

	// The freed slot admits another task.
	b, err := s.AddNewTask(ctx, newDL("second"))
	require.NoError(t, err)
	bID := b.Meta().ID
	require.Eventually(t, func() bool {
		return s.isOngoing(bID)
	}, time.Second, 5*time.Millisecond)

	// Resuming the suspended task re-queues it behind the running one.
	// The parked worker stays put until the dispatcher reclaims it at
	// start time.
	current, err = repo.Get(ctx, aID)
	require.NoError(t, err)
	require.NoError(t, s.dispatch(ctx, current, eventResume))
	assert.Equal(t, model.StateInQueue, repo.state(aID))
	assert.True(t, s.isSuspended(aID))

	tracker.latest(bID).finish(nil)
	require.Eventually(t, func() bool {
		return s.isOngoing(aID)
	}, time.Second, 5*time.Millisecond)
	// Same worker instance, woken rather than rebuilt.
	assert.False(t, s.isSuspended(aID))
	assert.Equal(t, 1, tracker.count(aID))
	assert.Equal(t, 1, aWorker.resumeCount())

	aWorker.finish(nil)
	require.Eventually(t, func() bool {
		return repo.state(aID) == model.StateCompleted
	}, time.Second, 5*time.Millisecond)
}

func TestWorkerFinishingDuringSuspendIsRerun(t *testing.T) {
	repo := newMemRepo()
	tracker := newWorkerTracker()
	factory := func(task model.Item) Worker {
		return &pauseRacer{fakeWorker: tracker.factory(task).(*fakeWorker)}
	}
	s, err := New(Config{
		Name:          "download",
		MaxConcurrent: 1,
		RetryDelay:    20 * time.Millisecond,
	}, repo, nil, factory, Topics{}, nil)
	require.NoError(t, err)
	startDispatcher(t, s)
	ctx := context.Background()

	task, err := s.AddNewTask(ctx, newDL("racy"))
	require.NoError(t, err)
	id := task.Meta().ID
	require.Eventually(t, func() bool {
		return tracker.latest(id) != nil
	}, time.Second, 5*time.Millisecond)

	current, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.NoError(t, s.dispatch(ctx, current, eventSuspend))
	assert.Equal(t, model.StateSuspended, repo.state(id))
	assert.Equal(t, 0, s.gate.InFlight())

	// The finish raced the pause; the parked entry must be marked
	// unstarted so resume runs the work again instead of waking a dead
	// worker.
	require.Eventually(t, func() bool {
		return s.parkedUnstarted(id)
	}, time.Second, 5*time.Millisecond)

	current, err = repo.Get(ctx, id)
	require.NoError(t, err)
	require.NoError(t, s.dispatch(ctx, current, eventResume))

	require.Eventually(t, func() bool {
		return s.isOngoing(id)
	}, time.Second, 5*time.Millisecond)
	tracker.latest(id).finish(nil)
	require.Eventually(t, func() bool {
		return repo.state(id) == model.StateCompleted
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, s.gate.InFlight())
}

func TestForcePromotesWaitingTask(t *testing.T) {
	s, repo, _ := newTestScheduler(t, 1, nil)
	ctx := context.Background()

	queued, err := s.AddNewTask(ctx, newDL("ordinary"))
	require.NoError(t, err)

	dl := newDL("urgent")
	dl.WaitTime = time.Now().Add(time.Hour).Unix()
	forced, err := s.AddNewTask(ctx, dl)
	require.NoError(t, err)
	fID := forced.Meta().ID
	require.True(t, s.isWaiting(fID))

	current, err := repo.Get(ctx, fID)
	require.NoError(t, err)
	require.NoError(t, s.dispatch(ctx, current, eventForce))
	assert.False(t, s.isWaiting(fID))
	assert.Equal(t, model.StateInQueue, repo.state(fID))

	// Forced task dequeues ahead of the older default-priority one.
	task, err := s.queue.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, fID, task.Meta().ID)
	assert.Equal(t, model.PriorityInHurry, task.Meta().Priority)

	task, err = s.queue.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, queued.Meta().ID, task.Meta().ID)
}

func TestForceQueuedTaskIsIdempotent(t *testing.T) {
	s, repo, _ := newTestScheduler(t, 1, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := s.AddNewTask(ctx, newDL(fmt.Sprintf("filler-%d", i)))
		require.NoError(t, err)
	}
	task, err := s.AddNewTask(ctx, newDL("urgent"))
	require.NoError(t, err)
	id := task.Meta().ID

	for i := 0; i < 2; i++ {
		current, err := repo.Get(ctx, id)
		require.NoError(t, err)
		require.NoError(t, s.dispatch(ctx, current, eventForce))
	}
	assert.Equal(t, 3, s.queue.Len())

	got, err := s.queue.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, got.Meta().ID)
	assert.False(t, s.queue.Contains(id))
}

func TestCancelQueuedTaskDeletesIt(t *testing.T) {
	s, repo, _ := newTestScheduler(t, 1, nil)
	ctx := context.Background()

	task, err := s.AddNewTask(ctx, newDL("doomed"))
	require.NoError(t, err)
	id := task.Meta().ID

	current, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.NoError(t, s.dispatch(ctx, current, eventCancel))
	assert.False(t, repo.exists(id))
	assert.False(t, s.queue.Contains(id))
}

func TestEditRejectedWhileProcessing(t *testing.T) {
	s, repo, tracker := newTestScheduler(t, 1, nil)
	startDispatcher(t, s)
	ctx := context.Background()

	task, err := s.AddNewTask(ctx, newDL("busy"))
	require.NoError(t, err)
	id := task.Meta().ID
	require.Eventually(t, func() bool {
		return tracker.latest(id) != nil
	}, time.Second, 5*time.Millisecond)

	name := "renamed"
	_, err = s.EditTask(ctx, &model.DownloadTaskPatch{ID: id, Name: &name})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEditRejected)
	assert.NotEqual(t, "renamed", repo.name(id))
}

func TestEditQueuedTaskAppliesPatch(t *testing.T) {
	s, repo, _ := newTestScheduler(t, 1, nil)
	ctx := context.Background()

	task, err := s.AddNewTask(ctx, newDL("plain"))
	require.NoError(t, err)
	id := task.Meta().ID

	name := "fancy"
	updated, err := s.EditTask(ctx, &model.DownloadTaskPatch{ID: id, Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "fancy", updated.Meta().Name)
	assert.Equal(t, "fancy", repo.name(id))
	assert.True(t, s.queue.Contains(id))
}

func TestEditWaitingTaskReschedulesTimer(t *testing.T) {
	s, repo, _ := newTestScheduler(t, 1, nil)
	ctx := context.Background()

	dl := newDL("later")
	dl.WaitTime = time.Now().Add(time.Hour).Unix()
	task, err := s.AddNewTask(ctx, dl)
	require.NoError(t, err)
	id := task.Meta().ID
	require.True(t, s.isWaiting(id))

	// Pulling the wait time in must re-arm the timer; the original one
	// would not fire for an hour.
	soon := time.Now().Unix()
	updated, err := s.EditTask(ctx, &model.DownloadTaskPatch{ID: id, WaitTime: &soon})
	require.NoError(t, err)
	assert.Equal(t, soon, updated.Meta().WaitTime)

	require.Eventually(t, func() bool {
		return s.queue.Contains(id)
	}, time.Second, 5*time.Millisecond)
	assert.False(t, s.isWaiting(id))
	assert.Equal(t, model.StateInQueue, repo.state(id))
}

func TestFailureRecordsAndAutoRetryCompletes(t *testing.T) {
	bus := eventbus.New()
	s, repo, tracker := newTestScheduler(t, 1, bus)
	s.SetRetryDelay(20 * time.Millisecond)
	startDispatcher(t, s)
	ctx := context.Background()

	// The failure record only lives until auto-retry fires, so observe
	// the failure through the error topic rather than polling for it.
	failures := make(chan *TaskError, 1)
	bus.Bind(eventbus.TopicDownloadError, func(ctx context.Context, payload any) error {
		if te, ok := payload.(*TaskError); ok {
			failures <- te
		}
		return nil
	})

	task, err := s.AddNewTask(ctx, newDL("flaky"))
	require.NoError(t, err)
	id := task.Meta().ID
	require.Eventually(t, func() bool {
		return tracker.latest(id) != nil
	}, time.Second, 5*time.Millisecond)

	tracker.latest(id).finish(errors.New("network down"))
	select {
	case te := <-failures:
		assert.Equal(t, id, te.Task.Meta().ID)
		assert.ErrorContains(t, te.Err, "network down")
	case <-time.After(2 * time.Second):
		t.Fatal("failure event never arrived")
	}

	// Auto-retry waits out the delay, re-queues, and a fresh worker runs.
	require.Eventually(t, func() bool {
		return tracker.count(id) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, s.isFailed(id))

	tracker.latest(id).finish(nil)
	require.Eventually(t, func() bool {
		return repo.state(id) == model.StateCompleted
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, bus.Close(ctx))
}

func TestRetryDelayIsAdjustable(t *testing.T) {
	s, _, _ := newTestScheduler(t, 1, nil)
	assert.Equal(t, 20*time.Millisecond, s.RetryDelay())
	s.SetRetryDelay(5 * time.Minute)
	assert.Equal(t, 5*time.Minute, s.RetryDelay())
}

func TestRetryFailedTaskWaitsDelay(t *testing.T) {
	s, repo, _ := newTestScheduler(t, 1, nil)
	s.SetRetryDelay(30 * time.Millisecond)
	ctx := context.Background()

	dl := newDL("failed-before")
	dl.State = model.StateFailed
	task := repo.seed(dl)
	s.recordFailed(task)
	id := task.Meta().ID

	require.NoError(t, s.dispatch(ctx, task, eventRetry))
	assert.True(t, s.isWaiting(id))
	assert.False(t, s.isFailed(id))
	assert.Equal(t, model.StateWaiting, repo.state(id))

	require.Eventually(t, func() bool {
		return s.queue.Contains(id)
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, model.StateInQueue, repo.state(id))
}

func TestSetConcurrentWaitsForIdle(t *testing.T) {
	s, _, tracker := newTestScheduler(t, 1, nil)
	startDispatcher(t, s)
	ctx := context.Background()

	task, err := s.AddNewTask(ctx, newDL("busy"))
	require.NoError(t, err)
	id := task.Meta().ID
	require.Eventually(t, func() bool {
		return tracker.latest(id) != nil
	}, time.Second, 5*time.Millisecond)

	resized := make(chan error, 1)
	go func() { resized <- s.SetConcurrent(context.Background(), 3) }()

	select {
	case err := <-resized:
		t.Fatalf("resize finished while a worker was running: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	tracker.latest(id).finish(nil)
	select {
	case err := <-resized:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("resize did not complete after workers drained")
	}
	assert.Equal(t, 3, s.gate.Capacity())
}

func TestLoadTasksRebuildsState(t *testing.T) {
	s, repo, _ := newTestScheduler(t, 2, nil)
	ctx := context.Background()

	overdue := newDL("overdue")
	overdue.State = model.StateWaiting
	overdue.WaitTime = time.Now().Add(-time.Minute).Unix()
	overdueTask := repo.seed(overdue)

	future := newDL("future")
	future.State = model.StateWaiting
	future.WaitTime = time.Now().Add(time.Hour).Unix()
	futureTask := repo.seed(future)

	queued := newDL("queued")
	queued.State = model.StateInQueue
	queuedTask := repo.seed(queued)

	suspended := newDL("suspended")
	suspended.State = model.StateSuspended
	suspendedTask := repo.seed(suspended)

	done := newDL("done")
	done.State = model.StateCompleted
	doneTask := repo.seed(done)

	failed := newDL("failed")
	failed.State = model.StateFailed
	failedTask := repo.seed(failed)

	require.NoError(t, s.LoadTasks(ctx))

	assert.True(t, s.queue.Contains(overdueTask.Meta().ID))
	assert.True(t, s.isWaiting(futureTask.Meta().ID))
	assert.True(t, s.queue.Contains(queuedTask.Meta().ID))
	assert.True(t, s.isSuspended(suspendedTask.Meta().ID))
	assert.True(t, s.isCompleted(doneTask.Meta().ID))
	assert.True(t, s.isFailed(failedTask.Meta().ID))
}

func TestLoadTasksRestartsProcessing(t *testing.T) {
	s, repo, tracker := newTestScheduler(t, 1, nil)
	startDispatcher(t, s)
	ctx := context.Background()

	running := newDL("interrupted")
	running.State = model.StateProcessing
	task := repo.seed(running)
	id := task.Meta().ID

	require.NoError(t, s.LoadTasks(ctx))
	require.Eventually(t, func() bool {
		return s.isOngoing(id)
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, s.gate.InFlight())

	tracker.latest(id).finish(nil)
	require.Eventually(t, func() bool {
		return repo.state(id) == model.StateCompleted
	}, time.Second, 5*time.Millisecond)
}

func TestBusEventsDriveScheduler(t *testing.T) {
	bus := eventbus.New()
	s, repo, tracker := newTestScheduler(t, 1, bus)
	startDispatcher(t, s)
	ctx := context.Background()

	bus.Emit(ctx, eventbus.TopicNewDownload, newDL("via-bus"))
	require.Eventually(t, func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		return len(repo.items) == 1
	}, time.Second, 5*time.Millisecond)

	var id int64
	repo.mu.Lock()
	for taskID := range repo.items {
		id = taskID
	}
	repo.mu.Unlock()

	require.Eventually(t, func() bool {
		return tracker.latest(id) != nil
	}, time.Second, 5*time.Millisecond)
	tracker.latest(id).finish(nil)
	require.Eventually(t, func() bool {
		return repo.state(id) == model.StateCompleted
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, bus.Close(ctx))
}
