package engine

// Error is an execution failure reported by the query engine. Message holds
// the engine's error text verbatim; the repair loop and the error knowledge
// base both match on it, so it must not be rewritten or truncated.
type Error struct {
	Message     string
	Code        string
	ExecutionID string
}

func (e *Error) Error() string {
	return e.Message
}
