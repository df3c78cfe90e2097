package model

import "time"

// IssueType classifies data-quality findings.
type IssueType string

const (
	IssueInvalid      IssueType = "invalid"
	IssueDuplicate    IssueType = "duplicate"
	IssueMissing      IssueType = "missing"
	IssueInconsistent IssueType = "inconsistent"
)

// CleansingIssue is a detected data-quality problem. Issues are appended,
// never merged across runs; Resolved flips true only through an explicit
// manual action.
type CleansingIssue struct {
	ID            string    `json:"id"`
	ProductID     string    `json:"product_id"`
	AttributeName string    `json:"attribute_name"`
	IssueType     IssueType `json:"issue_type"`
	Details       string    `json:"details"`
	Resolved      bool      `json:"resolved"`
	DetectedAt    time.Time `json:"detected_at"`
}
