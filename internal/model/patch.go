package model

// Patch carries the non-null fields of a task edit. Apply merges them onto
// the persisted task; nil fields are left untouched.
type Patch interface {
	TaskID() int64
	Apply(item Item) error
}

// DownloadTaskPatch edits a download task. Pointer fields are optional.
type DownloadTaskPatch struct {
	ID              int64         `json:"id"`
	Name            *string       `json:"name,omitempty"`
	URL             *string       `json:"url,omitempty"`
	Site            *string       `json:"site,omitempty"`
	WaitTime        *int64        `json:"wait_time,omitempty"`
	Priority        *TaskPriority `json:"priority,omitempty"`
	WithDescription *bool         `json:"with_description,omitempty"`
	WithSubtitles   *bool         `json:"with_subtitles,omitempty"`
	WithThumbnail   *bool         `json:"with_thumbnail,omitempty"`
	Format          *string       `json:"format,omitempty"`
	ResolutionX     *int          `json:"resolution_x,omitempty"`
	ResolutionY     *int          `json:"resolution_y,omitempty"`
	VideoCodec      *string       `json:"video_codec,omitempty"`
	AudioCodec      *string       `json:"audio_codec,omitempty"`
	VideoBitRate    *int          `json:"video_bit_rate,omitempty"`
	AudioBitRate    *int          `json:"audio_bit_rate,omitempty"`
	SampleRate      *int          `json:"sample_rate,omitempty"`
	FrameRate       *int          `json:"frame_rate,omitempty"`
}

func (p *DownloadTaskPatch) TaskID() int64 { return p.ID }

func (p *DownloadTaskPatch) Apply(item Item) error {
	task, ok := item.(*DownloadTask)
	if !ok {
		return ErrPatchMismatch
	}
	setString(&task.Name, p.Name)
	setString(&task.URL, p.URL)
	setString(&task.Site, p.Site)
	setInt64(&task.WaitTime, p.WaitTime)
	if p.Priority != nil {
		task.Priority = *p.Priority
	}
	setBool(&task.WithDescription, p.WithDescription)
	setBool(&task.WithSubtitles, p.WithSubtitles)
	setBool(&task.WithThumbnail, p.WithThumbnail)
	setString(&task.Format, p.Format)
	setInt(&task.ResolutionX, p.ResolutionX)
	setInt(&task.ResolutionY, p.ResolutionY)
	setString(&task.VideoCodec, p.VideoCodec)
	setString(&task.AudioCodec, p.AudioCodec)
	setInt(&task.VideoBitRate, p.VideoBitRate)
	setInt(&task.AudioBitRate, p.AudioBitRate)
	setInt(&task.SampleRate, p.SampleRate)
	setInt(&task.FrameRate, p.FrameRate)
	return nil
}

// Copy satisfies the event bus Copier contract.
func (p *DownloadTaskPatch) Copy() any {
	c := *p
	return &c
}

// UploadTaskPatch edits an upload task.
type UploadTaskPatch struct {
	ID          int64         `json:"id"`
	Name        *string       `json:"name,omitempty"`
	Destination *string       `json:"destination,omitempty"`
	WaitTime    *int64        `json:"wait_time,omitempty"`
	Priority    *TaskPriority `json:"priority,omitempty"`
}

func (p *UploadTaskPatch) TaskID() int64 { return p.ID }

func (p *UploadTaskPatch) Apply(item Item) error {
	task, ok := item.(*UploadTask)
	if !ok {
		return ErrPatchMismatch
	}
	setString(&task.Name, p.Name)
	setString(&task.Destination, p.Destination)
	setInt64(&task.WaitTime, p.WaitTime)
	if p.Priority != nil {
		task.Priority = *p.Priority
	}
	return nil
}

// Copy satisfies the event bus Copier contract.
func (p *UploadTaskPatch) Copy() any {
	c := *p
	return &c
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setInt64(dst *int64, src *int64) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}
