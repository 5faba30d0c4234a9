package models

import "time"

// CoarseStatus is the per-student progress bucket used by reports.
type CoarseStatus string

const (
	CoarseComplete   CoarseStatus = "COMPLETE"
	CoarseInProgress CoarseStatus = "IN PROGRESS"
	CoarseNotStarted CoarseStatus = "NOT STARTED"
)

// Valid reports whether s is a known coarse status.
func (s CoarseStatus) Valid() bool {
	switch s {
	case CoarseComplete, CoarseInProgress, CoarseNotStarted:
		return true
	default:
		return false
	}
}

// ReportFilter narrows the student report. Empty fields match everything.
type ReportFilter struct {
	ProgramID string       `json:"programId,omitempty" form:"programId"`
	Status    CoarseStatus `json:"status,omitempty" form:"status"`
}

// ReportInput is the raw material of the student report.
type ReportInput struct {
	Students    []User
	Programs    []Program
	Items       []ChecklistItem
	Submissions []Submission
}

// ReportRow is one student's line in the report.
type ReportRow struct {
	StudentID          string       `json:"student_id"`
	Name               string       `json:"name"`
	RegistrationNumber string       `json:"registration_number"`
	ProgramID          string       `json:"program_id,omitempty"`
	ProgramName        string       `json:"program_name"`
	Status             CoarseStatus `json:"status"`
	Submitted          int          `json:"submitted"`
	Approved           int          `json:"approved"`
	Pending            int          `json:"pending"`
	Rejected           int          `json:"rejected"`
	Required           int          `json:"required"`
}

// ReportStats summarises filtered rows.
type ReportStats struct {
	TotalStudents       int            `json:"totalStudents"`
	ActiveStudents      int            `json:"activeStudents"`
	CompletedStudents   int            `json:"completedStudents"`
	ProgramDistribution map[string]int `json:"programDistribution"`
	StatusDistribution  map[string]int `json:"statusDistribution"`
}

// ReportOverview carries portal-wide figures that ignore filters.
type ReportOverview struct {
	MSStudents     int                    `json:"msStudents"`
	PhDStudents    int                    `json:"phdStudents"`
	DocumentCounts map[DocumentStatus]int `json:"documentCounts"`
}

// ReportResult is the aggregated report.
type ReportResult struct {
	Rows        []ReportRow    `json:"rows"`
	Stats       ReportStats    `json:"stats"`
	Overview    ReportOverview `json:"overview"`
	Filter      ReportFilter   `json:"filter"`
	GeneratedAt time.Time      `json:"generatedAt"`
}
