package models

import (
	"encoding/json"
	"strconv"
)

// Record is one entry of the planning dataset. It is produced by the
// dataset converter, submitted for reasoning generation, and finally
// updated in place by the reasoning merger, which fills the Process
// field with the generated reasoning text.
type Record struct {
	ProblemID   *int            `json:"problem_id"`
	Problem     string          `json:"problem"`
	DataType    string          `json:"data_type"`
	ProblemType string          `json:"problem_type"`
	Options     []string        `json:"options"`
	Process     string          `json:"process"`
	Solution    string          `json:"solution"`
	Path        json.RawMessage `json:"path,omitempty"`
	DataSource  string          `json:"data_source"`
}

// CorrelationID returns the stable identifier used to match this record
// against a batch response line. Empty when the record carries no
// problem_id; the encoder then synthesizes one.
func (r *Record) CorrelationID() string {
	if r.ProblemID == nil {
		return ""
	}
	return strconv.Itoa(*r.ProblemID)
}
