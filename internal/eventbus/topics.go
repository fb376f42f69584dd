package eventbus

// Topic names. One payload type per topic:
//
//	*model.DownloadTask / *model.UploadTask  task lifecycle topics
//	*model.DownloadTaskPatch / *model.UploadTaskPatch  edit topics
//	*model.Feed      channel update / new feed
//	*model.Subscription  subscribe / unsubscribe
//	*ErrorEvent      error topic
const (
	// TopicError is the implicit error channel; every listener failure
	// is re-emitted here.
	TopicError = "error"

	TopicChannelUpdate     = "channel.update"
	TopicNewFeed           = "feed.new"
	TopicSubscribe         = "subscription.subscribe"
	TopicUnsubscribe       = "subscription.unsubscribe"
	TopicSubscribeComplete = "subscription.complete"

	TopicNewDownload      = "download.new"
	TopicDownloadCreated  = "download.created"
	TopicDownloadEdit     = "download.edit"
	TopicDownloadEdited   = "download.edited"
	TopicDownloadPause    = "download.pause"
	TopicDownloadResume   = "download.resume"
	TopicDownloadCancel   = "download.cancel"
	TopicDownloadSuspend  = "download.suspend"
	TopicDownloadForce    = "download.force"
	TopicDownloadRetry    = "download.retry"
	TopicDownloadWaiting  = "download.waiting"
	TopicDownloading      = "download.processing"
	TopicDownloadComplete = "download.complete"
	TopicDownloadError    = "download.error"

	TopicNewUpload      = "upload.new"
	TopicUploadCreated  = "upload.created"
	TopicUploadEdit     = "upload.edit"
	TopicUploadEdited   = "upload.edited"
	TopicUploadPause    = "upload.pause"
	TopicUploadResume   = "upload.resume"
	TopicUploadCancel   = "upload.cancel"
	TopicUploadSuspend  = "upload.suspend"
	TopicUploadForce    = "upload.force"
	TopicUploadRetry    = "upload.retry"
	TopicUploadWaiting  = "upload.waiting"
	TopicUploading      = "upload.processing"
	TopicUploadComplete = "upload.complete"
	TopicUploadError    = "upload.error"
)
