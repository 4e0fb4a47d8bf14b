package models

// CandidateSource records how a candidate SQL statement came to be.
type CandidateSource string

const (
	SourceGenerated CandidateSource = "generated"
	SourceRepaired  CandidateSource = "repaired"
	SourceCached    CandidateSource = "cached"
)

// Candidate is one version of SQL under consideration by the pipeline.
// Candidates are immutable once validated: a repair allocates a new Candidate
// with an incremented attempt number so the attempt history stays intact for
// diagnostics.
type Candidate struct {
	SQL     string          `json:"sql"`
	Attempt int             `json:"attempt"`
	Source  CandidateSource `json:"source"`
}

// NewGenerated returns a first-attempt candidate from the generator.
func NewGenerated(sql string) *Candidate {
	return &Candidate{SQL: sql, Attempt: 1, Source: SourceGenerated}
}

// NewRepaired returns the successor candidate produced by a repair of c.
func NewRepaired(c *Candidate, sql string) *Candidate {
	return &Candidate{SQL: sql, Attempt: c.Attempt + 1, Source: SourceRepaired}
}

// NewCached returns a candidate backed by previously cached SQL.
func NewCached(sql string) *Candidate {
	return &Candidate{SQL: sql, Attempt: 1, Source: SourceCached}
}
