package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/research-docs-api/internal/models"
)

// ResearchRepository persists research details.
type ResearchRepository struct {
	db *sqlx.DB
}

// NewResearchRepository constructs the repository.
func NewResearchRepository(db *sqlx.DB) *ResearchRepository {
	return &ResearchRepository{db: db}
}

// FindByStudent returns the research details of a student.
func (r *ResearchRepository) FindByStudent(ctx context.Context, studentID string) (*models.ResearchDetail, error) {
	const query = `SELECT id, student_id, title, abstract, supervisor, co_supervisor, keywords, updated_at FROM research_details WHERE student_id = $1`
	var detail models.ResearchDetail
	if err := r.db.GetContext(ctx, &detail, query, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find research details: %w", err)
	}
	return &detail, nil
}

// Upsert inserts or replaces the research details keyed on student_id.
func (r *ResearchRepository) Upsert(ctx context.Context, detail *models.ResearchDetail) error {
	if detail.ID == "" {
		detail.ID = uuid.NewString()
	}
	detail.UpdatedAt = time.Now().UTC()
	const query = `INSERT INTO research_details (id, student_id, title, abstract, supervisor, co_supervisor, keywords, updated_at)
VALUES (:id, :student_id, :title, :abstract, :supervisor, :co_supervisor, :keywords, :updated_at)
ON CONFLICT (student_id) DO UPDATE SET title = EXCLUDED.title, abstract = EXCLUDED.abstract, supervisor = EXCLUDED.supervisor,
	co_supervisor = EXCLUDED.co_supervisor, keywords = EXCLUDED.keywords, updated_at = EXCLUDED.updated_at
RETURNING id`
	rows, err := r.db.NamedQueryContext(ctx, query, detail)
	if err != nil {
		return fmt.Errorf("upsert research details: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	if rows.Next() {
		if err := rows.Scan(&detail.ID); err != nil {
			return fmt.Errorf("scan research id: %w", err)
		}
	}
	return rows.Err()
}
