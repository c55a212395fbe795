package progress

// Step is a server-side processing step identifier.
type Step string

const (
	StepQueued         Step = "queued"
	StepAudioLoading   Step = "audio_loading"
	StepPreprocessing  Step = "preprocessing"
	StepTranscription  Step = "transcription"
	StepDiarization    Step = "diarization"
	StepPostprocessing Step = "post_processing"
	StepSaving         Step = "saving"
	StepAnalysis       Step = "analysis"
)

// Steps lists the known steps in pipeline order.
var Steps = []Step{
	StepQueued,
	StepAudioLoading,
	StepPreprocessing,
	StepTranscription,
	StepDiarization,
	StepPostprocessing,
	StepSaving,
	StepAnalysis,
}

var stepLabels = map[Step]string{
	StepQueued:         "Waiting in the transcription queue…",
	StepAudioLoading:   "Loading audio…",
	StepPreprocessing:  "Preparing audio for transcription…",
	StepTranscription:  "Transcribing speech…",
	StepDiarization:    "Identifying speakers…",
	StepPostprocessing: "Cleaning up the transcript…",
	StepSaving:         "Saving transcription…",
	StepAnalysis:       "Generating summary and topics…",
}

const (
	LabelIdle         = "Ready"
	LabelUploading    = "Uploading audio…"
	LabelUploaded     = "Upload complete, waiting for the server…"
	LabelStarted      = "Transcription started…"
	LabelProcessing   = "Processing…"
	LabelCompleted    = "Transcription complete"
	LabelFailedPrefix = "Transcription failed"
)

// StepLabel resolves the display text for a step. Unknown steps fall back to
// the server message, then to a generic label.
func StepLabel(step, serverMessage string) string {
	if label, ok := stepLabels[Step(step)]; ok {
		return label
	}
	if serverMessage != "" {
		return serverMessage
	}
	return LabelProcessing
}
