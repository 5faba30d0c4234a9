package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/research-docs-api/internal/models"
	"github.com/noah-isme/research-docs-api/pkg/database"
)

// ErrStaleState is returned when a guarded update finds the document in a
// different status than the caller read.
var ErrStaleState = errors.New("document status changed concurrently")

const submissionColumns = `id, student_id, checklist_item_id, title, file_url, status, version, remarks, submission_date, created_at, updated_at`

// DocumentRepository persists student submissions and their status log.
type DocumentRepository struct {
	db *sqlx.DB
}

// NewDocumentRepository constructs the repository.
func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// FindByID returns a submission.
func (r *DocumentRepository) FindByID(ctx context.Context, id string) (*models.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM student_documents WHERE id = $1`
	var sub models.Submission
	if err := r.db.GetContext(ctx, &sub, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find document: %w", err)
	}
	return &sub, nil
}

// FindByStudentAndItem returns the submission of a student for a checklist item.
func (r *DocumentRepository) FindByStudentAndItem(ctx context.Context, studentID, itemID string) (*models.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM student_documents WHERE student_id = $1 AND checklist_item_id = $2 ORDER BY created_at ASC LIMIT 1`
	var sub models.Submission
	if err := r.db.GetContext(ctx, &sub, query, studentID, itemID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find document by item: %w", err)
	}
	return &sub, nil
}

// ListByStudent returns a student's submissions, newest first.
func (r *DocumentRepository) ListByStudent(ctx context.Context, studentID string) ([]models.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM student_documents WHERE student_id = $1 ORDER BY submission_date DESC, id ASC`
	var subs []models.Submission
	if err := r.db.SelectContext(ctx, &subs, query, studentID); err != nil {
		return nil, fmt.Errorf("list documents by student: %w", err)
	}
	return subs, nil
}

// ListByStudents returns the submissions of several students.
func (r *DocumentRepository) ListByStudents(ctx context.Context, studentIDs []string) ([]models.Submission, error) {
	if len(studentIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + submissionColumns + ` FROM student_documents WHERE student_id = ANY($1) ORDER BY created_at ASC, id ASC`
	var subs []models.Submission
	if err := r.db.SelectContext(ctx, &subs, query, pq.Array(studentIDs)); err != nil {
		return nil, fmt.Errorf("list documents by students: %w", err)
	}
	return subs, nil
}

// ListAll returns every submission.
func (r *DocumentRepository) ListAll(ctx context.Context) ([]models.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM student_documents ORDER BY created_at ASC, id ASC`
	var subs []models.Submission
	if err := r.db.SelectContext(ctx, &subs, query); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return subs, nil
}

// Create inserts a first submission.
func (r *DocumentRepository) Create(ctx context.Context, sub *models.Submission) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if sub.SubmissionDate.IsZero() {
		sub.SubmissionDate = now
	}
	sub.CreatedAt = now
	sub.UpdatedAt = now
	const query = `INSERT INTO student_documents (id, student_id, checklist_item_id, title, file_url, status, version, remarks, submission_date, created_at, updated_at)
VALUES (:id, :student_id, :checklist_item_id, :title, :file_url, :status, :version, :remarks, :submission_date, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, sub); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrStaleState
		}
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

// Resubmit replaces the file of a rejected submission, bumping the version
// and clearing remarks. It fails with ErrStaleState unless the row is still
// in the expected status.
func (r *DocumentRepository) Resubmit(ctx context.Context, sub *models.Submission, from models.DocumentStatus) error {
	now := time.Now().UTC()
	const query = `UPDATE student_documents
SET file_url = $2, title = $3, status = 'pending', remarks = NULL, version = version + 1, submission_date = $4, updated_at = $4
WHERE id = $1 AND status = $5
RETURNING version`
	var version int
	if err := r.db.GetContext(ctx, &version, query, sub.ID, sub.FileURL, sub.Title, now, from); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrStaleState
		}
		return fmt.Errorf("resubmit document: %w", err)
	}
	sub.Version = version
	sub.Status = models.StatusPending
	sub.Remarks = nil
	sub.SubmissionDate = now
	sub.UpdatedAt = now
	return nil
}

// ApplyTransition updates the status of a document and appends the log entry
// in one transaction. The update is guarded on the prior status.
func (r *DocumentRepository) ApplyTransition(ctx context.Context, tr models.StatusTransition) (*models.StatusLogEntry, error) {
	entry := &models.StatusLogEntry{
		ID:         uuid.NewString(),
		DocumentID: tr.DocumentID,
		OldStatus:  tr.From,
		NewStatus:  tr.To,
		ChangedBy:  tr.ChangedBy,
		Remarks:    tr.LogRemarks,
		CreatedAt:  time.Now().UTC(),
	}
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		const update = `UPDATE student_documents SET status = $2, remarks = $3, updated_at = $4 WHERE id = $1 AND status = $5`
		res, err := tx.ExecContext(ctx, update, tr.DocumentID, tr.To, tr.Remarks, entry.CreatedAt, tr.From)
		if err != nil {
			return fmt.Errorf("update document status: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return ErrStaleState
		}
		const insert = `INSERT INTO document_logs (id, document_id, old_status, new_status, changed_by, remarks, created_at) VALUES (:id, :document_id, :old_status, :new_status, :changed_by, :remarks, :created_at)`
		if _, err := tx.NamedExecContext(ctx, insert, entry); err != nil {
			return fmt.Errorf("insert document log: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

const logSelect = `SELECT l.id, l.document_id, l.old_status, l.new_status, l.changed_by, u.full_name AS changed_by_name, l.remarks, l.created_at
FROM document_logs l
LEFT JOIN users u ON u.id = l.changed_by`

// ListLogs returns the status log of a document, newest first.
func (r *DocumentRepository) ListLogs(ctx context.Context, documentID string) ([]models.StatusLogEntry, error) {
	query := logSelect + ` WHERE l.document_id = $1 ORDER BY l.created_at DESC, l.id DESC`
	var logs []models.StatusLogEntry
	if err := r.db.SelectContext(ctx, &logs, query, documentID); err != nil {
		return nil, fmt.Errorf("list document logs: %w", err)
	}
	return logs, nil
}

// ListLogsByDocuments returns the logs of several documents, newest first.
func (r *DocumentRepository) ListLogsByDocuments(ctx context.Context, documentIDs []string) ([]models.StatusLogEntry, error) {
	if len(documentIDs) == 0 {
		return nil, nil
	}
	query := logSelect + ` WHERE l.document_id = ANY($1) ORDER BY l.created_at DESC, l.id DESC`
	var logs []models.StatusLogEntry
	if err := r.db.SelectContext(ctx, &logs, query, pq.Array(documentIDs)); err != nil {
		return nil, fmt.Errorf("list logs by documents: %w", err)
	}
	return logs, nil
}
