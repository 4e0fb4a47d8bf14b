package engine

import "context"

// MockEngine is a configurable mock for testing the execution pipeline.
// Set the function fields to control behavior in tests.
type MockEngine struct {
	DryRunFunc       func(ctx context.Context, sql string) error
	ExecuteCTASFunc  func(ctx context.Context, sql, resultTable string) (*ExecutionResult, error)
	PreviewTableFunc func(ctx context.Context, resultTable string, maxRows int) (*Preview, error)
	TableExistsFunc  func(ctx context.Context, resultTable string) (bool, error)
	DropTableFunc    func(ctx context.Context, resultTable string) error

	// Call tracking for verification
	DryRunCalls      int
	ExecuteCTASCalls int
	PreviewCalls     int
	DropTableCalls   []string
}

// NewMockEngine creates a new mock engine.
func NewMockEngine() *MockEngine {
	return &MockEngine{}
}

// DryRun implements Engine.
func (m *MockEngine) DryRun(ctx context.Context, sql string) error {
	m.DryRunCalls++
	if m.DryRunFunc != nil {
		return m.DryRunFunc(ctx, sql)
	}
	return nil
}

// ExecuteCTAS implements Engine.
func (m *MockEngine) ExecuteCTAS(ctx context.Context, sql, resultTable string) (*ExecutionResult, error) {
	m.ExecuteCTASCalls++
	if m.ExecuteCTASFunc != nil {
		return m.ExecuteCTASFunc(ctx, sql, resultTable)
	}
	return &ExecutionResult{ExecutionID: "mock-execution", RowCount: 1}, nil
}

// PreviewTable implements Engine.
func (m *MockEngine) PreviewTable(ctx context.Context, resultTable string, maxRows int) (*Preview, error) {
	m.PreviewCalls++
	if m.PreviewTableFunc != nil {
		return m.PreviewTableFunc(ctx, resultTable, maxRows)
	}
	return &Preview{Columns: []string{"id"}, Rows: []map[string]any{{"id": 1}}}, nil
}

// TableExists implements Engine.
func (m *MockEngine) TableExists(ctx context.Context, resultTable string) (bool, error) {
	if m.TableExistsFunc != nil {
		return m.TableExistsFunc(ctx, resultTable)
	}
	return true, nil
}

// DropTable implements Engine.
func (m *MockEngine) DropTable(ctx context.Context, resultTable string) error {
	m.DropTableCalls = append(m.DropTableCalls, resultTable)
	if m.DropTableFunc != nil {
		return m.DropTableFunc(ctx, resultTable)
	}
	return nil
}

// Ping implements Engine.
func (m *MockEngine) Ping(ctx context.Context) error {
	return nil
}

// Ensure MockEngine implements Engine at compile time.
var _ Engine = (*MockEngine)(nil)
