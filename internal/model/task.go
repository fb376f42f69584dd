// Package model holds the persisted entities shared by the schedulers,
// the subscriber and the HTTP surface: tasks, hubs, subscriptions and feeds.
package model

import (
	"encoding/json"
	"fmt"
	"path/filepath"
)

// TaskState is the lifecycle state of a task as persisted in the store.
type TaskState int

const (
	StateWaiting TaskState = iota + 1
	StateInQueue
	StateProcessing
	StatePause
	StateSuspended
	StateCompleted
	StateFailed
)

var stateNames = map[TaskState]string{
	StateWaiting:    "WAITING",
	StateInQueue:    "IN_QUEUE",
	StateProcessing: "PROCESSING",
	StatePause:      "PAUSE",
	StateSuspended:  "SUSPENDED",
	StateCompleted:  "COMPLETED",
	StateFailed:     "FAILED",
}

func (s TaskState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("TaskState(%d)", int(s))
}

// ParseTaskState maps a stored state name back to its TaskState value.
func ParseTaskState(name string) (TaskState, error) {
	for state, n := range stateNames {
		if n == name {
			return state, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownState, name)
}

// MarshalJSON encodes the state by name so API payloads stay readable.
func (s TaskState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts the state name.
func (s *TaskState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("decoding task state: %w", err)
	}
	state, err := ParseTaskState(name)
	if err != nil {
		return err
	}
	*s = state
	return nil
}

// TaskPriority orders queue entries. Higher values dequeue first.
type TaskPriority int

const (
	PriorityNoHurry TaskPriority = 0
	PriorityDefault TaskPriority = 1
	PriorityInHurry TaskPriority = 2
)

func (p TaskPriority) String() string {
	switch p {
	case PriorityNoHurry:
		return "NO_HURRY"
	case PriorityDefault:
		return "DEFAULT"
	case PriorityInHurry:
		return "IN_HURRY"
	}
	return fmt.Sprintf("TaskPriority(%d)", int(p))
}

// Task is the base record embedded by the download and upload variants.
// WaitTime is absolute epoch seconds at which the task becomes eligible to
// enter the queue; zero means immediately.
type Task struct {
	ID        int64        `json:"id"`
	Name      string       `json:"name"`
	Extension string       `json:"extension"`
	Path      string       `json:"path"`
	WaitTime  int64        `json:"wait_time"`
	State     TaskState    `json:"state"`
	Priority  TaskPriority `json:"priority"`
}

// FilePath is the on-disk location of the task's artifact.
func (t *Task) FilePath() string {
	return filepath.Join(t.Path, t.Name+t.Extension)
}

// Item is implemented by the concrete task variants so the scheduler can
// stay agnostic of which direction it is driving.
type Item interface {
	// Meta returns the embedded base record; mutations through it are
	// visible on the variant.
	Meta() *Task
	// Clone returns a deep copy. The event bus clones payloads before
	// fan-out so listener mutations do not leak.
	Clone() Item
	// Kind names the variant for logging and persistence ("download",
	// "upload").
	Kind() string
}

// DownloadTask pulls one published item from a source site into the cache.
// The codec and resolution knobs are opaque to the scheduler; they are
// forwarded to the worker factory.
type DownloadTask struct {
	Task
	URL             string `json:"url"`
	Site            string `json:"site"`
	WithDescription bool   `json:"with_description"`
	WithSubtitles   bool   `json:"with_subtitles"`
	WithThumbnail   bool   `json:"with_thumbnail"`
	Format          string `json:"format,omitempty"`
	ResolutionX     int    `json:"resolution_x,omitempty"`
	ResolutionY     int    `json:"resolution_y,omitempty"`
	VideoCodec      string `json:"video_codec,omitempty"`
	AudioCodec      string `json:"audio_codec,omitempty"`
	VideoBitRate    int    `json:"video_bit_rate,omitempty"`
	AudioBitRate    int    `json:"audio_bit_rate,omitempty"`
	SampleRate      int    `json:"sample_rate,omitempty"`
	FrameRate       int    `json:"frame_rate,omitempty"`
}

func (t *DownloadTask) Meta() *Task { return &t.Task }

func (t *DownloadTask) Clone() Item {
	c := *t
	return &c
}

func (t *DownloadTask) Kind() string { return "download" }

// Copy satisfies the event bus Copier contract.
func (t *DownloadTask) Copy() any { return t.Clone() }

// UploadTask pushes a downloaded artifact to a destination platform.
type UploadTask struct {
	Task
	Destination string `json:"destination"`
}

func (t *UploadTask) Meta() *Task { return &t.Task }

func (t *UploadTask) Clone() Item {
	c := *t
	return &c
}

func (t *UploadTask) Kind() string { return "upload" }

// Copy satisfies the event bus Copier contract.
func (t *UploadTask) Copy() any { return t.Clone() }

// TaskFilter selects tasks by state. FilterOut inverts the selection.
type TaskFilter struct {
	States    []TaskState `json:"states"`
	FilterOut bool        `json:"filter_out"`
}

// Matches reports whether a task in the given state passes the filter.
func (f TaskFilter) Matches(state TaskState) bool {
	if len(f.States) == 0 {
		return true
	}
	found := false
	for _, s := range f.States {
		if s == state {
			found = true
			break
		}
	}
	if f.FilterOut {
		return !found
	}
	return found
}
