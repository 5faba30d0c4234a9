package models

import (
	"time"

	"github.com/lib/pq"
)

// ResearchDetail is a student's thesis metadata, one row per student.
type ResearchDetail struct {
	ID           string         `db:"id" json:"id"`
	StudentID    string         `db:"student_id" json:"student_id"`
	Title        string         `db:"title" json:"title"`
	Abstract     *string        `db:"abstract" json:"abstract,omitempty"`
	Supervisor   *string        `db:"supervisor" json:"supervisor,omitempty"`
	CoSupervisor *string        `db:"co_supervisor" json:"co_supervisor,omitempty"`
	Keywords     pq.StringArray `db:"keywords" json:"keywords"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// UpsertResearchRequest edits research details. Keywords is comma separated.
type UpsertResearchRequest struct {
	Title        string  `json:"title" validate:"required,notblank,max=500"`
	Abstract     *string `json:"abstract" validate:"omitempty,max=10000"`
	Supervisor   *string `json:"supervisor" validate:"omitempty,max=200"`
	CoSupervisor *string `json:"co_supervisor" validate:"omitempty,max=200"`
	Keywords     string  `json:"keywords" validate:"omitempty,max=1000"`
}
