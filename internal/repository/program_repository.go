package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/research-docs-api/internal/models"
)

// ProgramRepository reads programs, batches and their checklists. These
// tables are maintained outside the API.
type ProgramRepository struct {
	db *sqlx.DB
}

// NewProgramRepository constructs the repository.
func NewProgramRepository(db *sqlx.DB) *ProgramRepository {
	return &ProgramRepository{db: db}
}

// ListPrograms returns every program ordered by name.
func (r *ProgramRepository) ListPrograms(ctx context.Context) ([]models.Program, error) {
	const query = `SELECT id, name, type FROM programs ORDER BY name ASC`
	var programs []models.Program
	if err := r.db.SelectContext(ctx, &programs, query); err != nil {
		return nil, fmt.Errorf("list programs: %w", err)
	}
	return programs, nil
}

// ListBatches returns every batch ordered by name.
func (r *ProgramRepository) ListBatches(ctx context.Context) ([]models.Batch, error) {
	const query = `SELECT id, name FROM batches ORDER BY name ASC`
	var batches []models.Batch
	if err := r.db.SelectContext(ctx, &batches, query); err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	return batches, nil
}

// ListChecklist returns the checklist of a program in display order.
func (r *ProgramRepository) ListChecklist(ctx context.Context, programID string) ([]models.ChecklistItem, error) {
	const query = `SELECT id, program_id, title, description, is_required, order_index FROM checklist_items WHERE program_id = $1 ORDER BY order_index ASC, id ASC`
	var items []models.ChecklistItem
	if err := r.db.SelectContext(ctx, &items, query, programID); err != nil {
		return nil, fmt.Errorf("list checklist: %w", err)
	}
	return items, nil
}

// ListAllChecklistItems returns the checklists of every program.
func (r *ProgramRepository) ListAllChecklistItems(ctx context.Context) ([]models.ChecklistItem, error) {
	const query = `SELECT id, program_id, title, description, is_required, order_index FROM checklist_items ORDER BY program_id ASC, order_index ASC, id ASC`
	var items []models.ChecklistItem
	if err := r.db.SelectContext(ctx, &items, query); err != nil {
		return nil, fmt.Errorf("list checklist items: %w", err)
	}
	return items, nil
}

// FindChecklistItem returns one checklist item.
func (r *ProgramRepository) FindChecklistItem(ctx context.Context, id string) (*models.ChecklistItem, error) {
	const query = `SELECT id, program_id, title, description, is_required, order_index FROM checklist_items WHERE id = $1`
	var item models.ChecklistItem
	if err := r.db.GetContext(ctx, &item, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find checklist item: %w", err)
	}
	return &item, nil
}
