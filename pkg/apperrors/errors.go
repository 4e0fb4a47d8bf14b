package apperrors

import "errors"

var (
	// ErrGeneration indicates the upstream generation capability was unreachable
	// or returned an empty/unparseable statement. Not retriable at the generator
	// layer; the coordinator decides whether to start over.
	ErrGeneration = errors.New("sql generation failed")

	// ErrRepairStagnation indicates a repair produced SQL identical to its input.
	// Always terminal: an unmodified retry would loop forever.
	ErrRepairStagnation = errors.New("repair produced identical sql")

	// ErrAttemptsExhausted indicates the repair budget ran out.
	ErrAttemptsExhausted = errors.New("repair attempts exhausted")

	// ErrCacheCorruption indicates a stored cache entry could not be decoded.
	// Treated as a miss; the offending row is purged.
	ErrCacheCorruption = errors.New("cache entry corrupted")

	// ErrSchemaMismatch indicates the request references tables or columns that
	// are not present in the resolved schema context.
	ErrSchemaMismatch = errors.New("selected tables not present in schema")

	ErrNotFound = errors.New("not found")
)
