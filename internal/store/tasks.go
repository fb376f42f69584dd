package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/GoCodeAlone/repost/internal/model"
)

const downloadColumns = `id, name, extension, path, wait_time, state, priority,
	url, site, with_description, with_subtitles, with_thumbnail, format,
	resolution_x, resolution_y, video_codec, audio_codec,
	video_bit_rate, audio_bit_rate, sample_rate, frame_rate`

// DownloadTasks is the task repository for the download direction.
type DownloadTasks struct {
	db *sql.DB
}

// NewDownloadTasks creates the download task repository.
func NewDownloadTasks(s *Service) *DownloadTasks {
	return &DownloadTasks{db: s.DB()}
}

func filterClause(filter model.TaskFilter) (string, []any) {
	if len(filter.States) == 0 {
		return "", nil
	}
	placeholders := make([]string, len(filter.States))
	args := make([]any, len(filter.States))
	for i, state := range filter.States {
		placeholders[i] = "?"
		args[i] = state.String()
	}
	op := "IN"
	if filter.FilterOut {
		op = "NOT IN"
	}
	return fmt.Sprintf(" WHERE state %s (%s)", op, strings.Join(placeholders, ", ")), args
}

func scanDownload(scan func(dest ...any) error) (*model.DownloadTask, error) {
	var t model.DownloadTask
	var state string
	err := scan(&t.ID, &t.Name, &t.Extension, &t.Path, &t.WaitTime, &state, &t.Priority,
		&t.URL, &t.Site, &t.WithDescription, &t.WithSubtitles, &t.WithThumbnail, &t.Format,
		&t.ResolutionX, &t.ResolutionY, &t.VideoCodec, &t.AudioCodec,
		&t.VideoBitRate, &t.AudioBitRate, &t.SampleRate, &t.FrameRate)
	if err != nil {
		return nil, err
	}
	t.State, err = model.ParseTaskState(state)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetMultiple returns all tasks passing the state filter.
func (r *DownloadTasks) GetMultiple(ctx context.Context, filter model.TaskFilter) ([]model.Item, error) {
	clause, args := filterClause(filter)
	rows, err := r.db.QueryContext(ctx, `SELECT `+downloadColumns+` FROM download_tasks`+clause+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing download tasks: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		t, err := scanDownload(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning download task: %w", err)
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating download tasks: %w", err)
	}
	return items, nil
}

// Get returns the task with the given id or ErrNotFound.
func (r *DownloadTasks) Get(ctx context.Context, id int64) (model.Item, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+downloadColumns+` FROM download_tasks WHERE id = ?`, id)
	t, err := scanDownload(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: download task %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting download task %d: %w", id, err)
	}
	return t, nil
}

// Create persists a new task and returns it with the assigned id.
func (r *DownloadTasks) Create(ctx context.Context, item model.Item) (model.Item, error) {
	t, ok := item.(*model.DownloadTask)
	if !ok {
		return nil, ErrWrongKind
	}
	result, err := r.db.ExecContext(ctx, `INSERT INTO download_tasks
		(name, extension, path, wait_time, state, priority, url, site,
		 with_description, with_subtitles, with_thumbnail, format,
		 resolution_x, resolution_y, video_codec, audio_codec,
		 video_bit_rate, audio_bit_rate, sample_rate, frame_rate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Name, t.Extension, t.Path, t.WaitTime, t.State.String(), t.Priority, t.URL, t.Site,
		t.WithDescription, t.WithSubtitles, t.WithThumbnail, t.Format,
		t.ResolutionX, t.ResolutionY, t.VideoCodec, t.AudioCodec,
		t.VideoBitRate, t.AudioBitRate, t.SampleRate, t.FrameRate)
	if err != nil {
		return nil, fmt.Errorf("creating download task: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading download task id: %w", err)
	}
	persisted := t.Clone().(*model.DownloadTask)
	persisted.ID = id
	return persisted, nil
}

// Update overwrites the persisted task and returns it, or ErrNotFound.
func (r *DownloadTasks) Update(ctx context.Context, item model.Item) (model.Item, error) {
	t, ok := item.(*model.DownloadTask)
	if !ok {
		return nil, ErrWrongKind
	}
	result, err := r.db.ExecContext(ctx, `UPDATE download_tasks SET
		name = ?, extension = ?, path = ?, wait_time = ?, state = ?, priority = ?,
		url = ?, site = ?, with_description = ?, with_subtitles = ?, with_thumbnail = ?,
		format = ?, resolution_x = ?, resolution_y = ?, video_codec = ?, audio_codec = ?,
		video_bit_rate = ?, audio_bit_rate = ?, sample_rate = ?, frame_rate = ?
		WHERE id = ?`,
		t.Name, t.Extension, t.Path, t.WaitTime, t.State.String(), t.Priority,
		t.URL, t.Site, t.WithDescription, t.WithSubtitles, t.WithThumbnail,
		t.Format, t.ResolutionX, t.ResolutionY, t.VideoCodec, t.AudioCodec,
		t.VideoBitRate, t.AudioBitRate, t.SampleRate, t.FrameRate, t.ID)
	if err != nil {
		return nil, fmt.Errorf("updating download task %d: %w", t.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking download task update: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: download task %d", ErrNotFound, t.ID)
	}
	return t.Clone(), nil
}

// Delete removes the task. It reports whether a row was deleted.
func (r *DownloadTasks) Delete(ctx context.Context, id int64) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM download_tasks WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("deleting download task %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking download task delete: %w", err)
	}
	return affected > 0, nil
}

const uploadColumns = `id, name, extension, path, wait_time, state, priority, destination`

// UploadTasks is the task repository for the upload direction.
type UploadTasks struct {
	db *sql.DB
}

// NewUploadTasks creates the upload task repository.
func NewUploadTasks(s *Service) *UploadTasks {
	return &UploadTasks{db: s.DB()}
}

func scanUpload(scan func(dest ...any) error) (*model.UploadTask, error) {
	var t model.UploadTask
	var state string
	err := scan(&t.ID, &t.Name, &t.Extension, &t.Path, &t.WaitTime, &state, &t.Priority, &t.Destination)
	if err != nil {
		return nil, err
	}
	t.State, err = model.ParseTaskState(state)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetMultiple returns all tasks passing the state filter.
func (r *UploadTasks) GetMultiple(ctx context.Context, filter model.TaskFilter) ([]model.Item, error) {
	clause, args := filterClause(filter)
	rows, err := r.db.QueryContext(ctx, `SELECT `+uploadColumns+` FROM upload_tasks`+clause+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing upload tasks: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		t, err := scanUpload(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning upload task: %w", err)
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating upload tasks: %w", err)
	}
	return items, nil
}

// Get returns the task with the given id or ErrNotFound.
func (r *UploadTasks) Get(ctx context.Context, id int64) (model.Item, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+uploadColumns+` FROM upload_tasks WHERE id = ?`, id)
	t, err := scanUpload(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: upload task %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting upload task %d: %w", id, err)
	}
	return t, nil
}

// Create persists a new task and returns it with the assigned id.
func (r *UploadTasks) Create(ctx context.Context, item model.Item) (model.Item, error) {
	t, ok := item.(*model.UploadTask)
	if !ok {
		return nil, ErrWrongKind
	}
	result, err := r.db.ExecContext(ctx, `INSERT INTO upload_tasks
		(name, extension, path, wait_time, state, priority, destination)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.Name, t.Extension, t.Path, t.WaitTime, t.State.String(), t.Priority, t.Destination)
	if err != nil {
		return nil, fmt.Errorf("creating upload task: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading upload task id: %w", err)
	}
	persisted := t.Clone().(*model.UploadTask)
	persisted.ID = id
	return persisted, nil
}

// Update overwrites the persisted task and returns it, or ErrNotFound.
func (r *UploadTasks) Update(ctx context.Context, item model.Item) (model.Item, error) {
	t, ok := item.(*model.UploadTask)
	if !ok {
		return nil, ErrWrongKind
	}
	result, err := r.db.ExecContext(ctx, `UPDATE upload_tasks SET
		name = ?, extension = ?, path = ?, wait_time = ?, state = ?, priority = ?, destination = ?
		WHERE id = ?`,
		t.Name, t.Extension, t.Path, t.WaitTime, t.State.String(), t.Priority, t.Destination, t.ID)
	if err != nil {
		return nil, fmt.Errorf("updating upload task %d: %w", t.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking upload task update: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: upload task %d", ErrNotFound, t.ID)
	}
	return t.Clone(), nil
}

// Delete removes the task. It reports whether a row was deleted.
func (r *UploadTasks) Delete(ctx context.Context, id int64) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM upload_tasks WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("deleting upload task %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking upload task delete: %w", err)
	}
	return affected > 0, nil
}
