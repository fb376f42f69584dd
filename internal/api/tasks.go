package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/GoCodeAlone/repost/internal/eventbus"
	"github.com/GoCodeAlone/repost/internal/model"
	"github.com/GoCodeAlone/repost/internal/scheduler"
	"github.com/GoCodeAlone/repost/internal/store"
)

// taskResource serves one task variant's routes. Mutating lifecycle
// actions go through the bus so the scheduler stays the single writer;
// the sync variants call the scheduler directly and wait.
type taskResource struct {
	kind        string
	repo        scheduler.Repository
	sched       *scheduler.Scheduler
	bus         *eventbus.Bus
	topics      scheduler.Topics
	decodeTask  func(io.Reader) (model.Item, error)
	decodePatch func(io.Reader) (model.Patch, error)
}

func decodeDownloadTask(r io.Reader) (model.Item, error) {
	task := &model.DownloadTask{}
	task.Priority = model.PriorityDefault
	if err := json.NewDecoder(r).Decode(task); err != nil {
		return nil, err
	}
	return task, nil
}

func decodeDownloadPatch(r io.Reader) (model.Patch, error) {
	var patch model.DownloadTaskPatch
	if err := json.NewDecoder(r).Decode(&patch); err != nil {
		return nil, err
	}
	return &patch, nil
}

func decodeUploadTask(r io.Reader) (model.Item, error) {
	task := &model.UploadTask{}
	task.Priority = model.PriorityDefault
	if err := json.NewDecoder(r).Decode(task); err != nil {
		return nil, err
	}
	return task, nil
}

func decodeUploadPatch(r io.Reader) (model.Patch, error) {
	var patch model.UploadTaskPatch
	if err := json.NewDecoder(r).Decode(&patch); err != nil {
		return nil, err
	}
	return &patch, nil
}

func (t *taskResource) routes(r chi.Router) {
	r.Get("/", t.list)
	r.Post("/", t.add)
	r.Post("/sync", t.addSync)
	r.Post("/get_all", t.filtered)
	r.Get("/current", t.current)
	r.Post("/settings", t.settings)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", t.get)
		r.Post("/", t.edit)
		r.Put("/", t.pause)
		r.Patch("/", t.resume)
		r.Delete("/", t.cancel)
		r.Put("/suspend", t.suspend)
		r.Get("/force", t.force)
		r.Get("/retry", t.retry)
	})
}

func taskID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (t *taskResource) list(w http.ResponseWriter, r *http.Request) {
	tasks, err := t.repo.GetMultiple(r.Context(), model.TaskFilter{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writePayloads(w, tasks)
}

func (t *taskResource) filtered(w http.ResponseWriter, r *http.Request) {
	var filter model.TaskFilter
	if err := json.NewDecoder(r.Body).Decode(&filter); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tasks, err := t.repo.GetMultiple(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writePayloads(w, tasks)
}

func (t *taskResource) get(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	task, err := t.repo.Get(r.Context(), id)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writePayload(w, task)
}

// add queues the task creation through the bus and acknowledges.
func (t *taskResource) add(w http.ResponseWriter, r *http.Request) {
	task, err := t.decodeTask(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	t.bus.Emit(r.Context(), t.topics.NewTask, task)
	writeOK(w, t.kind+" task accepted")
}

// addSync creates the task in-line and returns it with its id.
func (t *taskResource) addSync(w http.ResponseWriter, r *http.Request) {
	task, err := t.decodeTask(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	created, err := t.sched.AddNewTask(r.Context(), task)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writePayload(w, created)
}

func (t *taskResource) edit(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	patch, err := t.decodePatch(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if patch.TaskID() != id {
		writeError(w, http.StatusBadRequest, model.ErrPatchMismatch)
		return
	}
	updated, err := t.sched.EditTask(r.Context(), patch)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writePayload(w, updated)
}

func (t *taskResource) pause(w http.ResponseWriter, r *http.Request) {
	t.dispatch(w, r, t.topics.Pause, "pause")
}

func (t *taskResource) resume(w http.ResponseWriter, r *http.Request) {
	t.dispatch(w, r, t.topics.Resume, "resume")
}

func (t *taskResource) cancel(w http.ResponseWriter, r *http.Request) {
	t.dispatch(w, r, t.topics.Cancel, "cancel")
}

func (t *taskResource) suspend(w http.ResponseWriter, r *http.Request) {
	t.dispatch(w, r, t.topics.Suspend, "suspend")
}

func (t *taskResource) force(w http.ResponseWriter, r *http.Request) {
	t.dispatch(w, r, t.topics.Force, "force")
}

func (t *taskResource) retry(w http.ResponseWriter, r *http.Request) {
	t.dispatch(w, r, t.topics.Retry, "retry")
}

// dispatch looks the task up and emits it on the lifecycle topic. The
// scheduler's state machine decides whether the event applies.
func (t *taskResource) dispatch(w http.ResponseWriter, r *http.Request, topic, action string) {
	id, err := taskID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	task, err := t.repo.Get(r.Context(), id)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	t.bus.Emit(r.Context(), topic, task)
	writeOK(w, t.kind+" "+action+" requested")
}

func writeTaskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, scheduler.ErrEditRejected):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, model.ErrPatchMismatch):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
