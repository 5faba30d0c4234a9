package models

// ChecklistItem is one required document of a program checklist.
type ChecklistItem struct {
	ID          string  `db:"id" json:"id"`
	ProgramID   string  `db:"program_id" json:"program_id"`
	Title       string  `db:"title" json:"title"`
	Description *string `db:"description" json:"description,omitempty"`
	IsRequired  bool    `db:"is_required" json:"is_required"`
	OrderIndex  int     `db:"order_index" json:"order_index"`
}
