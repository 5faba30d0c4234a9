package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/research-docs-api/internal/models"
)

var messageCols = []string{"id", "sender_id", "receiver_id", "content", "attachment_url", "attachment_name", "created_at"}

func TestMessageRepositoryListConversationAscending(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewMessageRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)")).
		WithArgs("a", "b", 200).
		WillReturnRows(sqlmock.NewRows(messageCols).
			AddRow("m1", "a", "b", "hello", nil, nil, now.Add(-time.Minute)).
			AddRow("m2", "b", "a", "", "http://x/chat/f.pdf", "f.pdf", now))

	msgs, err := repo.ListConversation(context.Background(), "a", "b", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "f.pdf", *msgs[1].AttachmentName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewMessageRepository(db)

	mock.ExpectExec("INSERT INTO messages").
		WithArgs(sqlmock.AnyArg(), "a", "b", "hi", nil, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	msg := &models.Message{SenderID: "a", ReceiverID: "b", Content: "hi"}
	require.NoError(t, repo.Create(context.Background(), msg))
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepositoryLatestPerPartner(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewMessageRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT ON (partner_id)")).
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows(messageCols).AddRow("m9", "c", "a", "latest", nil, nil, time.Now()))

	msgs, err := repo.LatestPerPartner(context.Background(), "a")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAnnouncementRepositoryListAndDelete(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAnnouncementRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY a.is_pinned DESC, a.created_at DESC LIMIT $1")).
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "content", "created_by", "author_name", "is_pinned", "created_at"}).
			AddRow("a1", "Deadline", "Submit by Friday", "c1", "Dr. C", true, now))

	list, err := repo.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].IsPinned)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM announcements WHERE id = $1")).WithArgs("missing").WillReturnResult(sqlmock.NewResult(0, 0))
	assert.Error(t, repo.Delete(context.Background(), "missing"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResearchRepositoryUpsert(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewResearchRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (student_id) DO UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("existing-id"))

	detail := &models.ResearchDetail{StudentID: "s1", Title: "Graph learning", Keywords: []string{"graphs", "ml"}}
	require.NoError(t, repo.Upsert(context.Background(), detail))
	assert.Equal(t, "existing-id", detail.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
