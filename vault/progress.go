package vault

// Stage identifies a pipeline phase for progress reporting.
type Stage string

const (
	// Upload stages.
	StageEncrypting Stage = "encrypting"
	StageChunking   Stage = "chunking"
	StageUploading  Stage = "uploading"
	StageFinalizing Stage = "finalizing"

	// Download stages.
	StageLoadingMetadata Stage = "loading-metadata"
	StageValidating      Stage = "validating"
	StageVerifying       Stage = "verifying"
	StageDownloading     Stage = "downloading"
	StageReassembling    Stage = "reassembling"
	StageDecrypting      Stage = "decrypting"

	// Terminal stages.
	StageComplete Stage = "complete"
	StageError    Stage = "error"
)

// Progress is one event in the stage/percentage stream consumed by the UI
// layer. CurrentChunk and TotalChunks are populated during uploading and
// downloading stages only.
type Progress struct {
	FileID       string
	Stage        Stage
	Percent      float64
	CurrentChunk int
	TotalChunks  int
}

// ProgressFunc receives progress events. Callbacks run synchronously on
// the orchestrator goroutine; they must not block.
type ProgressFunc func(Progress)

// report emits an event when a callback is registered.
func report(fn ProgressFunc, p Progress) {
	if fn != nil {
		fn(p)
	}
}
