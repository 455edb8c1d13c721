package messagequeue

// TaskStartedPayload is the schema for tasks.started messages.
type TaskStartedPayload struct {
	TaskID    string `json:"task_id"`
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// TaskFinishedPayload is the schema for tasks.finished messages.
type TaskFinishedPayload struct {
	TaskID    string `json:"task_id"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Domain    string `json:"domain,omitempty"`
	Failure   string `json:"failure,omitempty"`
	Calls     int    `json:"calls"`
}

// TaskToolCallPayload is the schema for tasks.toolcall messages.
type TaskToolCallPayload struct {
	TaskID   string `json:"task_id"`
	Sequence int    `json:"sequence"`
	Tool     string `json:"tool"`
	Outcome  string `json:"outcome"`
	Kind     string `json:"kind,omitempty"`
	Attempts int    `json:"attempts"`
}

// TaskConfirmationPayload is the schema for tasks.confirmation messages.
type TaskConfirmationPayload struct {
	TaskID      string `json:"task_id"`
	Tool        string `json:"tool"`
	Fingerprint string `json:"fingerprint"`
}
