package worker

// BatchRequestEvent asks the worker to synthesize one batch. The input text
// file is fetched from the object store under InputKey; Format carries the
// file extension ("txt", "csv", "xlsx", "json") when the key itself does not.
type BatchRequestEvent struct {
	BatchID  string `json:"batch_id,omitempty"`
	InputKey string `json:"input_key"`
	Format   string `json:"format,omitempty"`

	Language       string `json:"language,omitempty"`
	SplitSentences *bool  `json:"split_sentences,omitempty"`
	SameVoice      bool   `json:"same_voice,omitempty"`
	PromptName     string `json:"prompt_name,omitempty"`
	Emotion        string `json:"emotion,omitempty"`

	// Parameter values as strings so "random" can be requested per batch.
	// Empty fields fall back to the worker's configured defaults.
	Temperature       string `json:"temperature,omitempty"`
	LengthPenalty     string `json:"length_penalty,omitempty"`
	RepetitionPenalty string `json:"repetition_penalty,omitempty"`
	TopK              string `json:"top_k,omitempty"`
	TopP              string `json:"top_p,omitempty"`
	Speed             string `json:"speed,omitempty"`

	// Optional noise post-process over successful outputs. A nil SNR keeps
	// the worker's configured default, so a requested 0 dB stays 0 dB.
	NoiseType  string   `json:"noise_type,omitempty"`
	NoiseSNRdB *float64 `json:"noise_snr_db,omitempty"`
	NoiseCount int      `json:"noise_count,omitempty"`

	// Ingestion hints for column- or key-based formats.
	TextColumn string `json:"text_column,omitempty"`
	IDColumn   string `json:"id_column,omitempty"`
	SheetName  string `json:"sheet_name,omitempty"`
}

// BatchFinishedEvent reports the outcome of one batch. MetaKey names the
// uploaded metadata report in the object store.
type BatchFinishedEvent struct {
	BatchID      string `json:"batch_id"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
	MetaKey      string `json:"meta_key,omitempty"`
	TotalCount   int    `json:"total_count"`
	SuccessCount int    `json:"success_count"`
	FailureCount int    `json:"failure_count"`
}
