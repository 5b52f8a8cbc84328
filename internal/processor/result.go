package processor

// RecordResult is the per-photo outcome reported back in the Lambda response
// body. OK is true only for records the vision model judged; validation
// rejections and faulted records report ok=false, with Reason or Error
// saying why.
type RecordResult struct {
	OK        bool   `json:"ok"`
	Bucket    string `json:"bucket"`
	Key       string `json:"key"`
	MissionID string `json:"mission_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	StepIndex int    `json:"step_index"`
	Status    string `json:"status,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
}

// BatchSummary is the response payload for one invocation.
type BatchSummary struct {
	Results []RecordResult `json:"results"`
}
