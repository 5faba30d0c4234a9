package models

import "time"

// StudentDashboard is what a student sees after login. Checklist and summary
// are withheld until the account is approved.
type StudentDashboard struct {
	Profile       User                     `json:"profile"`
	AccountStatus AccountStatus            `json:"account_status"`
	Checklist     []DerivedChecklistRow    `json:"checklist,omitempty"`
	Summary       *StudentSummary          `json:"summary,omitempty"`
	Research      *ResearchDetail          `json:"research,omitempty"`
	Announcements ReadResult[Announcement] `json:"announcements"`
	AvatarURL     *string                  `json:"avatar_url,omitempty"`
}

// StudentDetail is the coordinator's per-student and quick view.
type StudentDetail struct {
	Profile   User                  `json:"profile"`
	Checklist []DerivedChecklistRow `json:"checklist"`
	Summary   StudentSummary        `json:"summary"`
	Research  *ResearchDetail       `json:"research,omitempty"`
	Logs      []StatusLogEntry      `json:"logs,omitempty"`
	AvatarURL *string               `json:"avatar_url,omitempty"`
}

// PendingStudent is an account awaiting approval.
type PendingStudent struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Email              string    `json:"email"`
	RegistrationNumber string    `json:"registration_number"`
	Program            string    `json:"program"`
	Department         string    `json:"department"`
	CreatedAt          time.Time `json:"created_at"`
}

// RosterRow is one active student in the coordinator roster.
type RosterRow struct {
	ID                 string       `json:"id"`
	Name               string       `json:"name"`
	Email              string       `json:"email"`
	RegistrationNumber string       `json:"registration_number"`
	Program            string       `json:"program"`
	ProgramID          string       `json:"program_id"`
	Department         string       `json:"department"`
	Batch              string       `json:"batch"`
	Status             SummaryLabel `json:"status"`
	MissingDocs        int          `json:"missing_docs"`
	AvatarURL          *string      `json:"avatar_url,omitempty"`
}

// RosterStats are the coordinator dashboard counters.
type RosterStats struct {
	TotalStudents  int `json:"total_students"`
	PendingReviews int `json:"pending_reviews"`
	Incomplete     int `json:"incomplete"`
	Complete       int `json:"complete"`
}

// Roster is the coordinator dashboard payload.
type Roster struct {
	Pending []PendingStudent `json:"pending"`
	Active  []RosterRow      `json:"active"`
	Stats   RosterStats      `json:"stats"`
}
