package models

import "time"

// Announcement is a portal-wide notice. Pinned announcements list first.
type Announcement struct {
	ID         string    `db:"id" json:"id"`
	Title      string    `db:"title" json:"title"`
	Content    string    `db:"content" json:"content"`
	CreatedBy  string    `db:"created_by" json:"created_by"`
	AuthorName *string   `db:"author_name" json:"author_name,omitempty"`
	IsPinned   bool      `db:"is_pinned" json:"is_pinned"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// CreateAnnouncementRequest posts a new announcement.
type CreateAnnouncementRequest struct {
	Title    string `json:"title" validate:"required,notblank,max=200"`
	Content  string `json:"content" validate:"required,notblank"`
	IsPinned bool   `json:"is_pinned"`
}
