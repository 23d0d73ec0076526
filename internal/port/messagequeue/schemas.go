package messagequeue

// RunStartedPayload is the schema for devsync.run.started messages.
type RunStartedPayload struct {
	RunID     string `json:"run_id"`
	Lookback  string `json:"lookback"`
	Trigger   string `json:"trigger"`
	StartedAt string `json:"started_at"`
}

// RunFinishedPayload is the schema for devsync.run.completed,
// devsync.run.failed and devsync.run.cancelled messages.
type RunFinishedPayload struct {
	RunID      string           `json:"run_id"`
	Status     string           `json:"status"`
	Error      string           `json:"error,omitempty"`
	DurationMS int64            `json:"duration_ms"`
	Written    map[string]int64 `json:"written"`
	Skipped    int64            `json:"skipped"`
}
