package models

import "time"

// DocumentStatus is the review state of a submission. StatusMissing is only
// ever derived, never stored.
type DocumentStatus string

const (
	StatusMissing     DocumentStatus = "missing"
	StatusPending     DocumentStatus = "pending"
	StatusApproved    DocumentStatus = "approved"
	StatusRejected    DocumentStatus = "rejected"
	StatusUnderReview DocumentStatus = "under_review"
)

// Normalize folds the legacy under_review status into pending.
func (s DocumentStatus) Normalize() DocumentStatus {
	if s == StatusUnderReview {
		return StatusPending
	}
	return s
}

// Submission is a student's current upload for a checklist item.
// FileURL holds the object key, not a public link.
type Submission struct {
	ID              string         `db:"id" json:"id"`
	StudentID       string         `db:"student_id" json:"student_id"`
	ChecklistItemID string         `db:"checklist_item_id" json:"checklist_item_id"`
	Title           string         `db:"title" json:"title"`
	FileURL         string         `db:"file_url" json:"file_url"`
	Status          DocumentStatus `db:"status" json:"status"`
	Version         int            `db:"version" json:"version"`
	Remarks         *string        `db:"remarks" json:"remarks,omitempty"`
	SubmissionDate  time.Time      `db:"submission_date" json:"submission_date"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

// StatusLogEntry is an append-only record of a review decision.
type StatusLogEntry struct {
	ID            string         `db:"id" json:"id"`
	DocumentID    string         `db:"document_id" json:"document_id"`
	OldStatus     DocumentStatus `db:"old_status" json:"old_status"`
	NewStatus     DocumentStatus `db:"new_status" json:"new_status"`
	ChangedBy     string         `db:"changed_by" json:"changed_by"`
	ChangedByName *string        `db:"changed_by_name" json:"changed_by_name,omitempty"`
	Remarks       *string        `db:"remarks" json:"remarks,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
}

// StatusTransition describes one guarded status mutation with its log entry.
type StatusTransition struct {
	DocumentID string
	From       DocumentStatus
	To         DocumentStatus
	ChangedBy  string
	Remarks    *string
	LogRemarks *string
}

// Upload is a validated file ready to be stored.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Content     []byte
}

// DocumentHistoryEntry is a submission with its status log, newest first.
type DocumentHistoryEntry struct {
	Submission
	ItemTitle string           `json:"item_title"`
	Logs      []StatusLogEntry `json:"logs"`
}

// DerivedChecklistRow is one checklist item joined with its submission.
type DerivedChecklistRow struct {
	Item           ChecklistItem  `json:"item"`
	DocumentID     *string        `json:"document_id,omitempty"`
	Status         DocumentStatus `json:"status"`
	Version        int            `json:"version"`
	FileURL        *string        `json:"file_url,omitempty"`
	Remarks        *string        `json:"remarks,omitempty"`
	SubmissionDate *time.Time     `json:"submission_date,omitempty"`
}

// SummaryLabel is the coarse checklist state of a student.
type SummaryLabel string

const (
	LabelComplete   SummaryLabel = "Complete"
	LabelPending    SummaryLabel = "Pending"
	LabelIncomplete SummaryLabel = "Incomplete"
)

// StudentSummary aggregates derived checklist rows.
type StudentSummary struct {
	Total      int          `json:"total"`
	Approved   int          `json:"approved"`
	Pending    int          `json:"pending"`
	Rejected   int          `json:"rejected"`
	Missing    int          `json:"missing"`
	Completion int          `json:"completion"`
	Label      SummaryLabel `json:"label"`
}

// SignedDocumentURL is a time-limited link to a stored document.
type SignedDocumentURL struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RejectRequest carries the reviewer's remarks.
type RejectRequest struct {
	Remarks string `json:"remarks" validate:"required,notblank,max=2000"`
}

// HistoryQuery narrows and formats the upload history.
type HistoryQuery struct {
	Status DocumentStatus `form:"status" validate:"omitempty,docstatus"`
	Format ReportFormat   `form:"format" validate:"omitempty,reportformat"`
}
