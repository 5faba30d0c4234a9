package service

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/research-docs-api/internal/models"
)

func reportInputFixture() models.ReportInput {
	ms, phd := "prog-ms", "prog-phd"
	reg := "MS-01"
	return models.ReportInput{
		Programs: []models.Program{
			{ID: ms, Name: "MS Computer Science", Type: "MS"},
			{ID: phd, Name: "PhD Physics", Type: "PhD"},
		},
		Items: []models.ChecklistItem{
			{ID: "ms-1", ProgramID: ms}, {ID: "ms-2", ProgramID: ms},
			{ID: "phd-1", ProgramID: phd},
		},
		Students: []models.User{
			{ID: "s3", FullName: "Zara", ProgramID: &phd},
			{ID: "s1", FullName: "Ali", ProgramID: &ms, RegistrationNumber: &reg},
			{ID: "s2", FullName: "Bilal", ProgramID: &ms},
			{ID: "s4", FullName: "Ali", ProgramID: &ms},
			{ID: "s5", FullName: "No Program"},
		},
		Submissions: []models.Submission{
			{StudentID: "s1", ChecklistItemID: "ms-1", Status: models.StatusApproved},
			{StudentID: "s1", ChecklistItemID: "ms-2", Status: models.StatusApproved},
			{StudentID: "s2", ChecklistItemID: "ms-1", Status: models.StatusUnderReview},
			{StudentID: "s2", ChecklistItemID: "ms-2", Status: models.StatusRejected},
			{StudentID: "s3", ChecklistItemID: "phd-1", Status: models.StatusPending},
		},
	}
}

func TestAggregateReportRowsAndStats(t *testing.T) {
	result := AggregateReport(reportInputFixture(), models.ReportFilter{})
	require.Len(t, result.Rows, 5)

	names := []string{}
	for _, row := range result.Rows {
		names = append(names, row.StudentID)
	}
	assert.Equal(t, []string{"s1", "s4", "s2", "s5", "s3"}, names)

	ali := result.Rows[0]
	assert.Equal(t, models.CoarseComplete, ali.Status)
	assert.Equal(t, 2, ali.Required)
	assert.Equal(t, "MS-01", ali.RegistrationNumber)
	assert.Equal(t, "MS Computer Science", ali.ProgramName)

	bilal := result.Rows[2]
	assert.Equal(t, models.CoarseInProgress, bilal.Status)
	assert.Equal(t, 1, bilal.Pending)
	assert.Equal(t, 1, bilal.Rejected)

	noProgram := result.Rows[3]
	assert.Equal(t, models.CoarseNotStarted, noProgram.Status)
	assert.Equal(t, "N/A", noProgram.ProgramName)
	assert.Zero(t, noProgram.Required)

	assert.Equal(t, 5, result.Stats.TotalStudents)
	assert.Equal(t, 1, result.Stats.CompletedStudents)
	assert.Equal(t, 2, result.Stats.ActiveStudents)
	assert.Equal(t, map[string]int{"MS Computer Science": 3, "PhD Physics": 1, "N/A": 1}, result.Stats.ProgramDistribution)
	assert.Equal(t, map[string]int{"COMPLETE": 1, "IN PROGRESS": 2, "NOT STARTED": 2}, result.Stats.StatusDistribution)

	assert.Equal(t, 3, result.Overview.MSStudents)
	assert.Equal(t, 1, result.Overview.PhDStudents)
	assert.Equal(t, 2, result.Overview.DocumentCounts[models.StatusApproved])
	assert.Equal(t, 2, result.Overview.DocumentCounts[models.StatusPending])
	assert.Equal(t, 1, result.Overview.DocumentCounts[models.StatusRejected])
}

func TestAggregateReportFilters(t *testing.T) {
	result := AggregateReport(reportInputFixture(), models.ReportFilter{ProgramID: "prog-ms", Status: models.CoarseInProgress})
	require.Len(t, result.Rows, 1)
	assert.Equal(t, "s2", result.Rows[0].StudentID)
	assert.Equal(t, 1, result.Stats.TotalStudents)
	assert.Equal(t, 3, result.Overview.MSStudents, "overview ignores filters")

	empty := AggregateReport(reportInputFixture(), models.ReportFilter{Status: models.CoarseComplete, ProgramID: "prog-phd"})
	assert.Empty(t, empty.Rows)
	assert.NotNil(t, empty.Rows)
}

func TestAggregateReportIsOrderIndependent(t *testing.T) {
	base := reportInputFixture()
	want := AggregateReport(base, models.ReportFilter{})

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 10; i++ {
		shuffled := reportInputFixture()
		rng.Shuffle(len(shuffled.Students), func(a, b int) {
			shuffled.Students[a], shuffled.Students[b] = shuffled.Students[b], shuffled.Students[a]
		})
		rng.Shuffle(len(shuffled.Submissions), func(a, b int) {
			shuffled.Submissions[a], shuffled.Submissions[b] = shuffled.Submissions[b], shuffled.Submissions[a]
		})
		rng.Shuffle(len(shuffled.Items), func(a, b int) {
			shuffled.Items[a], shuffled.Items[b] = shuffled.Items[b], shuffled.Items[a]
		})
		assert.Equal(t, want, AggregateReport(shuffled, models.ReportFilter{}))
	}
}
