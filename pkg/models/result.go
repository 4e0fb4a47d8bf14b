package models

// QueryResult is the terminal payload of a successful coordinator run.
// PreviewData holds at most MaxPreviewRows rows; the full result lives in the
// materialized result table owned by the query engine.
type QueryResult struct {
	ResultTable          string           `json:"ctas_table_name"`
	Database             string           `json:"database"`
	SQL                  string           `json:"sql"`
	ExecutionID          string           `json:"execution_id,omitempty"`
	RowCount             int              `json:"row_count"`
	BytesScanned         int64            `json:"bytes_scanned"`
	ExecutionTimeSeconds float64          `json:"execution_time_seconds"`
	PreviewData          []map[string]any `json:"preview_data"`
	ColumnNames          []string         `json:"column_names"`
	HasGeometry          bool             `json:"has_geometry"`
	Status               string           `json:"status"`
	CacheHit             bool             `json:"cache_hit"`
	CacheAgeHours        float64          `json:"cache_age_hours,omitempty"`
	Reexecuted           bool             `json:"reexecuted,omitempty"`
	Attempts             int              `json:"attempts"`
}

// MaxPreviewRows caps the number of rows returned inline with a result.
const MaxPreviewRows = 1000
