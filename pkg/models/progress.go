package models

// ProgressEvent is a side-channel notification emitted on every coordinator
// state transition. Its delivery never blocks or alters the state machine.
type ProgressEvent struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
	Percent *int   `json:"progress_percent,omitempty"`
}

// Progress builds an event without a percentage.
func Progress(stage, message string) ProgressEvent {
	return ProgressEvent{Stage: stage, Message: message}
}

// ProgressPct builds an event with a percentage.
func ProgressPct(stage, message string, pct int) ProgressEvent {
	return ProgressEvent{Stage: stage, Message: message, Percent: &pct}
}

// Terminal is the exactly-once final outcome of a coordinator run: either
// Result or Err is set, never both.
type Terminal struct {
	Result *QueryResult `json:"result,omitempty"`
	Err    *RunError    `json:"error,omitempty"`
}

// RunError carries the last diagnostic message plus attempt count for a run
// that exhausted its budget or failed fatally.
type RunError struct {
	Message  string `json:"message"`
	Attempts int    `json:"attempts"`
}
