package scheduler

import (
	"context"
	"time"

	"github.com/GoCodeAlone/repost/internal/model"
)

// event is a state machine input.
type event int

const (
	eventLoad event = iota
	eventStart
	eventPause
	eventResume
	eventCancel
	eventSuspend
	eventRetry
	eventForce
)

var eventNames = map[event]string{
	eventLoad:    "load",
	eventStart:   "start",
	eventPause:   "pause",
	eventResume:  "resume",
	eventCancel:  "cancel",
	eventSuspend: "suspend",
	eventRetry:   "retry",
	eventForce:   "force",
}

func (e event) String() string { return eventNames[e] }

type transitionFunc func(ctx context.Context, s *Scheduler, task model.Item) error

// transitions encodes the per-state transition table. A missing cell
// means the event is ignored in that state, so out-of-order events under
// races degrade to no-ops instead of faults.
var transitions = map[model.TaskState]map[event]transitionFunc{
	model.StateWaiting: {
		eventLoad:   loadWaiting,
		eventCancel: cancelWaiting,
		eventForce:  forceWaiting,
	},
	model.StateInQueue: {
		eventLoad:   loadInQueue,
		eventStart:  startInQueue,
		eventCancel: cancelInQueue,
		eventForce:  forceInQueue,
	},
	model.StateProcessing: {
		eventLoad:    loadProcessing,
		eventPause:   pauseProcessing,
		eventSuspend: suspendProcessing,
		eventCancel:  cancelProcessing,
	},
	model.StatePause: {
		eventLoad:   loadPause,
		eventResume: resumePause,
		eventCancel: cancelPause,
		eventForce:  resumePause,
	},
	model.StateSuspended: {
		eventLoad:   loadSuspended,
		eventResume: resumeSuspended,
		eventForce:  forceSuspended,
	},
	model.StateCompleted: {
		eventLoad:  loadCompleted,
		eventRetry: retryTerminal,
	},
	model.StateFailed: {
		eventLoad:  loadFailed,
		eventRetry: retryTerminal,
	},
}

// dispatch routes an event through the transition table.
func (s *Scheduler) dispatch(ctx context.Context, task model.Item, ev event) error {
	meta := task.Meta()
	fn := transitions[meta.State][ev]
	if fn == nil {
		s.logger.Debug("transition ignored", "scheduler", s.name,
			"task", meta.ID, "state", meta.State, "event", ev)
		return nil
	}
	return fn(ctx, s, task)
}

func loadWaiting(ctx context.Context, s *Scheduler, task model.Item) error {
	meta := task.Meta()
	now := time.Now().Unix()
	if meta.WaitTime <= now {
		meta.State = model.StateInQueue
		s.persist(ctx, task)
		s.enqueue(ctx, task, meta.Priority)
		return nil
	}
	s.putTaskToWait(ctx, task, time.Until(time.Unix(meta.WaitTime, 0)))
	return nil
}

func cancelWaiting(ctx context.Context, s *Scheduler, task model.Item) error {
	s.skipWait(task.Meta().ID)
	return s.destroyTask(ctx, task)
}

func forceWaiting(ctx context.Context, s *Scheduler, task model.Item) error {
	if parked, ok := s.skipWait(task.Meta().ID); ok {
		task = parked
	}
	meta := task.Meta()
	meta.State = model.StateInQueue
	meta.Priority = model.PriorityInHurry
	s.persist(ctx, task)
	s.enqueue(ctx, task, model.PriorityInHurry)
	return nil
}

func loadInQueue(ctx context.Context, s *Scheduler, task model.Item) error {
	s.enqueue(ctx, task, task.Meta().Priority)
	return nil
}

func startInQueue(ctx context.Context, s *Scheduler, task model.Item) error {
	if err := s.gate.Acquire(ctx); err != nil {
		// Shutdown race: give the slot request up and put the task back.
		s.enqueue(ctx, task, task.Meta().Priority)
		return err
	}
	meta := task.Meta()
	meta.State = model.StateProcessing
	s.persist(ctx, task)
	s.spawnWorker(task)
	s.emit(ctx, s.topics.Processing, task)
	return nil
}

func cancelInQueue(ctx context.Context, s *Scheduler, task model.Item) error {
	if queued, ok := s.queue.Remove(task.Meta().ID); ok {
		task = queued
	}
	return s.destroyTask(ctx, task)
}

func forceInQueue(ctx context.Context, s *Scheduler, task model.Item) error {
	id := task.Meta().ID
	if queued, ok := s.queue.Remove(id); ok {
		task = queued
	}
	task.Meta().Priority = model.PriorityInHurry
	s.persist(ctx, task)
	s.enqueue(ctx, task, model.PriorityInHurry)
	return nil
}

func loadProcessing(ctx context.Context, s *Scheduler, task model.Item) error {
	// Recovery restarts the worker from scratch; the slot is accounted
	// like any other start.
	if err := s.gate.Acquire(ctx); err != nil {
		return err
	}
	s.spawnWorker(task)
	s.emit(ctx, s.topics.Processing, task)
	return nil
}

func pauseProcessing(ctx context.Context, s *Scheduler, task model.Item) error {
	task.Meta().State = model.StatePause
	s.persist(ctx, task)
	s.pauseWorker(task.Meta().ID)
	return nil
}

func suspendProcessing(ctx context.Context, s *Scheduler, task model.Item) error {
	task.Meta().State = model.StateSuspended
	s.persist(ctx, task)
	s.suspendWorker(task.Meta().ID)
	return nil
}

func cancelProcessing(ctx context.Context, s *Scheduler, task model.Item) error {
	s.cancelWorker(task.Meta().ID)
	return s.destroyTask(ctx, task)
}

func loadPause(ctx context.Context, s *Scheduler, task model.Item) error {
	if err := s.gate.Acquire(ctx); err != nil {
		return err
	}
	s.spawnWorker(task)
	s.pauseWorker(task.Meta().ID)
	return nil
}

func resumePause(ctx context.Context, s *Scheduler, task model.Item) error {
	task.Meta().State = model.StateProcessing
	s.persist(ctx, task)
	s.resumeWorker(task.Meta().ID)
	s.emit(ctx, s.topics.Processing, task)
	return nil
}

func cancelPause(ctx context.Context, s *Scheduler, task model.Item) error {
	s.cancelWorker(task.Meta().ID)
	return s.destroyTask(ctx, task)
}

func loadSuspended(ctx context.Context, s *Scheduler, task model.Item) error {
	s.parkFreshWorker(task)
	return nil
}

func resumeSuspended(ctx context.Context, s *Scheduler, task model.Item) error {
	meta := task.Meta()
	meta.State = model.StateInQueue
	s.persist(ctx, task)
	s.enqueue(ctx, task, meta.Priority)
	return nil
}

func forceSuspended(ctx context.Context, s *Scheduler, task model.Item) error {
	meta := task.Meta()
	meta.State = model.StateInQueue
	meta.Priority = model.PriorityInHurry
	s.persist(ctx, task)
	s.enqueue(ctx, task, model.PriorityInHurry)
	return nil
}

func loadCompleted(ctx context.Context, s *Scheduler, task model.Item) error {
	s.recordCompleted(task)
	return nil
}

func loadFailed(ctx context.Context, s *Scheduler, task model.Item) error {
	s.recordFailed(task)
	return nil
}

func retryTerminal(ctx context.Context, s *Scheduler, task model.Item) error {
	meta := task.Meta()
	s.forgetTerminal(meta.ID)
	delay := s.RetryDelay()
	meta.State = model.StateWaiting
	meta.WaitTime = time.Now().Add(delay).Unix()
	s.putTaskToWait(ctx, task, delay)
	return nil
}
