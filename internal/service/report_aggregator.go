package service

import (
	"sort"
	"time"

	"github.com/noah-isme/research-docs-api/internal/models"
)

// AggregateReport computes per-student progress rows, filters them and
// derives the distributions. Rows are sorted by name then id so the result
// does not depend on input order.
func AggregateReport(input models.ReportInput, filter models.ReportFilter) models.ReportResult {
	programs := make(map[string]models.Program, len(input.Programs))
	for _, p := range input.Programs {
		programs[p.ID] = p
	}

	required := make(map[string]int)
	for _, item := range input.Items {
		required[item.ProgramID]++
	}

	type counts struct{ submitted, approved, pending, rejected int }
	byStudent := make(map[string]*counts, len(input.Students))
	documentCounts := map[models.DocumentStatus]int{
		models.StatusApproved: 0,
		models.StatusPending:  0,
		models.StatusRejected: 0,
	}
	for _, sub := range input.Submissions {
		status := sub.Status.Normalize()
		documentCounts[status]++
		c := byStudent[sub.StudentID]
		if c == nil {
			c = &counts{}
			byStudent[sub.StudentID] = c
		}
		c.submitted++
		switch status {
		case models.StatusApproved:
			c.approved++
		case models.StatusPending:
			c.pending++
		case models.StatusRejected:
			c.rejected++
		}
	}

	result := models.ReportResult{
		Rows:   []models.ReportRow{},
		Filter: filter,
		Stats: models.ReportStats{
			ProgramDistribution: map[string]int{},
			StatusDistribution:  map[string]int{},
		},
		Overview: models.ReportOverview{DocumentCounts: documentCounts},
	}

	for _, st := range input.Students {
		programID := models.ValueOr(st.ProgramID, "")
		program, known := programs[programID]
		switch program.Degree() {
		case "PhD":
			result.Overview.PhDStudents++
		case "MS":
			result.Overview.MSStudents++
		}

		c := byStudent[st.ID]
		if c == nil {
			c = &counts{}
		}
		row := models.ReportRow{
			StudentID:          st.ID,
			Name:               st.FullName,
			RegistrationNumber: models.ValueOr(st.RegistrationNumber, "N/A"),
			ProgramID:          programID,
			ProgramName:        "N/A",
			Submitted:          c.submitted,
			Approved:           c.approved,
			Pending:            c.pending,
			Rejected:           c.rejected,
			Required:           required[programID],
		}
		if known {
			row.ProgramName = program.Name
		}
		row.Status = coarseStatus(row)

		if filter.ProgramID != "" && programID != filter.ProgramID {
			continue
		}
		if filter.Status != "" && row.Status != filter.Status {
			continue
		}
		result.Rows = append(result.Rows, row)
	}

	sort.Slice(result.Rows, func(i, j int) bool {
		if result.Rows[i].Name != result.Rows[j].Name {
			return result.Rows[i].Name < result.Rows[j].Name
		}
		return result.Rows[i].StudentID < result.Rows[j].StudentID
	})

	for _, row := range result.Rows {
		result.Stats.TotalStudents++
		switch row.Status {
		case models.CoarseComplete:
			result.Stats.CompletedStudents++
		case models.CoarseInProgress:
			result.Stats.ActiveStudents++
		}
		result.Stats.ProgramDistribution[row.ProgramName]++
		result.Stats.StatusDistribution[string(row.Status)]++
	}
	return result
}

func coarseStatus(row models.ReportRow) models.CoarseStatus {
	switch {
	case row.Required > 0 && row.Approved >= row.Required:
		return models.CoarseComplete
	case row.Submitted > 0:
		return models.CoarseInProgress
	default:
		return models.CoarseNotStarted
	}
}

// stampReport sets the generation time outside the pure aggregation.
func stampReport(result models.ReportResult, now time.Time) models.ReportResult {
	result.GeneratedAt = now
	return result
}
