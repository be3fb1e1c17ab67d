package eventbus

// Event types carried over the bus and the WebSocket stream. These are wire
// values consumed by the desktop shell; renaming one is a breaking change.
const (
	// EventTypeShutdown is the sentinel that terminates subscriber streams.
	EventTypeShutdown = "__shutdown__"

	// Single-file transcription lifecycle.
	EventTypeProgress = "progress"
	EventTypeFinished = "finished"
	EventTypeError    = "error"

	// Batch transcription lifecycle.
	EventTypeBatchProgress = "batch_progress"
	EventTypeBatchFinished = "batch_finished"

	// Realtime capture.
	EventTypeVolumeChanged = "volume_changed"
	EventTypeTextReady     = "text_ready"
	EventTypeStatusChanged = "status_changed"

	// Folder monitoring.
	EventTypeNewFilesDetected = "new_files_detected"
	EventTypeStatusUpdate     = "status_update"
)
