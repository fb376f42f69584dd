package scheduler

import "github.com/GoCodeAlone/repost/internal/eventbus"

// Topics names the bus topics one scheduler instance consumes and
// produces. Empty names disable the corresponding emission or binding.
type Topics struct {
	// consumed
	NewTask string
	Edit    string
	Pause   string
	Resume  string
	Cancel  string
	Suspend string
	Force   string
	Retry   string
	Feed    string

	// produced
	Created         string
	Edited          string
	Waiting         string
	Processing      string
	Complete        string
	ProcessingError string
}

// DownloadTopics is the wiring for the download scheduler.
func DownloadTopics() Topics {
	return Topics{
		NewTask:         eventbus.TopicNewDownload,
		Edit:            eventbus.TopicDownloadEdit,
		Pause:           eventbus.TopicDownloadPause,
		Resume:          eventbus.TopicDownloadResume,
		Cancel:          eventbus.TopicDownloadCancel,
		Suspend:         eventbus.TopicDownloadSuspend,
		Force:           eventbus.TopicDownloadForce,
		Retry:           eventbus.TopicDownloadRetry,
		Feed:            eventbus.TopicChannelUpdate,
		Created:         eventbus.TopicDownloadCreated,
		Edited:          eventbus.TopicDownloadEdited,
		Waiting:         eventbus.TopicDownloadWaiting,
		Processing:      eventbus.TopicDownloading,
		Complete:        eventbus.TopicDownloadComplete,
		ProcessingError: eventbus.TopicDownloadError,
	}
}

// UploadTopics is the wiring for the upload scheduler. Uploads are not
// fed directly from channel updates.
func UploadTopics() Topics {
	return Topics{
		NewTask:         eventbus.TopicNewUpload,
		Edit:            eventbus.TopicUploadEdit,
		Pause:           eventbus.TopicUploadPause,
		Resume:          eventbus.TopicUploadResume,
		Cancel:          eventbus.TopicUploadCancel,
		Suspend:         eventbus.TopicUploadSuspend,
		Force:           eventbus.TopicUploadForce,
		Retry:           eventbus.TopicUploadRetry,
		Created:         eventbus.TopicUploadCreated,
		Edited:          eventbus.TopicUploadEdited,
		Waiting:         eventbus.TopicUploadWaiting,
		Processing:      eventbus.TopicUploading,
		Complete:        eventbus.TopicUploadComplete,
		ProcessingError: eventbus.TopicUploadError,
	}
}
