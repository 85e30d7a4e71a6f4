package model

import "time"

// RunResult is the persisted outcome of processing one document.
type RunResult struct {
	Timeline     Timeline              `json:"timeline"`
	Fields       map[string]FieldValue `json:"fields"`
	MergeRecords []FieldMergeRecord    `json:"merge_records"`
	Warnings     []string              `json:"warnings,omitempty"`
}

// Run is one stored pipeline execution for a document.
type Run struct {
	ID         string     `json:"id"`
	DocumentID string     `json:"document_id"`
	Result     *RunResult `json:"result,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
