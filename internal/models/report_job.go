package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ReportType enumerates supported asynchronous report categories.
type ReportType string

const (
	// ReportTypeStudents is the comprehensive per-student progress report.
	ReportTypeStudents ReportType = "students"
	// ReportTypeRoster is the coordinator roster export.
	ReportTypeRoster ReportType = "roster"
)

// ReportFormat enumerates supported export formats.
type ReportFormat string

const (
	ReportFormatCSV ReportFormat = "csv"
	ReportFormatPDF ReportFormat = "pdf"
)

// ReportStatus captures background job lifecycle states.
type ReportStatus string

const (
	ReportStatusQueued     ReportStatus = "QUEUED"
	ReportStatusProcessing ReportStatus = "PROCESSING"
	ReportStatusFinished   ReportStatus = "FINISHED"
	ReportStatusFailed     ReportStatus = "FAILED"
)

// ReportJob persisted background job metadata.
type ReportJob struct {
	ID           string          `db:"id" json:"id"`
	Type         ReportType      `db:"type" json:"type"`
	Params       ReportJobParams `db:"params" json:"params"`
	Status       ReportStatus    `db:"status" json:"status"`
	Progress     int             `db:"progress" json:"progress"`
	ResultURL    *string         `db:"result_url" json:"result_url,omitempty"`
	CreatedBy    string          `db:"created_by" json:"created_by"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	FinishedAt   *time.Time      `db:"finished_at" json:"finished_at,omitempty"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
}

// ReportJobParams stores request-scoped options persisted as JSONB.
type ReportJobParams struct {
	ProgramID string       `json:"programId,omitempty"`
	Status    CoarseStatus `json:"status,omitempty"`
	Format    ReportFormat `json:"format"`
}

// Filter returns the report filter encoded in the params.
func (p ReportJobParams) Filter() ReportFilter {
	return ReportFilter{ProgramID: p.ProgramID, Status: p.Status}
}

// Value marshals params to JSON for persistence.
func (p ReportJobParams) Value() (driver.Value, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal report job params: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the params struct.
func (p *ReportJobParams) Scan(value interface{}) error {
	if value == nil {
		*p = ReportJobParams{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for ReportJobParams", value)
	}
	if len(data) == 0 {
		*p = ReportJobParams{}
		return nil
	}
	if err := json.Unmarshal(data, p); err != nil {
		return fmt.Errorf("unmarshal report job params: %w", err)
	}
	return nil
}

// ReportRequest enqueues an asynchronous report.
type ReportRequest struct {
	Type      ReportType   `json:"type" validate:"required,oneof=students roster"`
	Format    ReportFormat `json:"format" validate:"required,reportformat"`
	ProgramID string       `json:"programId" validate:"omitempty,uuid"`
	Status    CoarseStatus `json:"status" validate:"omitempty,oneof=COMPLETE 'IN PROGRESS' 'NOT STARTED'"`
}

// ReportJobResponse is returned once a job is accepted.
type ReportJobResponse struct {
	ID       string       `json:"id"`
	Status   ReportStatus `json:"status"`
	Progress int          `json:"progress"`
}

// ReportStatusResponse exposes job progress and the download link once finished.
type ReportStatusResponse struct {
	ID        string       `json:"id"`
	Type      ReportType   `json:"type"`
	Status    ReportStatus `json:"status"`
	Progress  int          `json:"progress"`
	ResultURL *string      `json:"resultUrl,omitempty"`
	Error     *string      `json:"error,omitempty"`
}
