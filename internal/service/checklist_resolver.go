package service

import (
	"math"
	"sort"
	"strings"

	"github.com/noah-isme/research-docs-api/internal/models"
)

var avatarKeywords = []string{"profile", "photo", "picture"}

// ResolveChecklist joins the checklist of a program with a student's
// submissions. Rows follow order_index; items without a submission are
// reported as missing and submissions without an item are ignored.
func ResolveChecklist(items []models.ChecklistItem, submissions []models.Submission) []models.DerivedChecklistRow {
	ordered := make([]models.ChecklistItem, len(items))
	copy(ordered, items)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].OrderIndex < ordered[j].OrderIndex
	})

	byItem := indexSubmissions(submissions)
	rows := make([]models.DerivedChecklistRow, 0, len(ordered))
	for _, item := range ordered {
		row := models.DerivedChecklistRow{Item: item, Status: models.StatusMissing}
		if sub, ok := byItem[item.ID]; ok {
			id := sub.ID
			file := sub.FileURL
			submitted := sub.SubmissionDate
			row.DocumentID = &id
			row.Status = sub.Status.Normalize()
			row.Version = sub.Version
			row.FileURL = &file
			row.SubmissionDate = &submitted
			if row.Status == models.StatusRejected && sub.Remarks != nil {
				remarks := *sub.Remarks
				row.Remarks = &remarks
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// Summarize counts derived rows by status.
func Summarize(rows []models.DerivedChecklistRow) models.StudentSummary {
	summary := models.StudentSummary{Total: len(rows)}
	for _, row := range rows {
		switch row.Status.Normalize() {
		case models.StatusApproved:
			summary.Approved++
		case models.StatusPending:
			summary.Pending++
		case models.StatusRejected:
			summary.Rejected++
		default:
			summary.Missing++
		}
	}
	if summary.Total > 0 {
		summary.Completion = int(math.Round(float64(summary.Approved) / float64(summary.Total) * 100))
	}
	summary.Label = labelFor(summary.Missing, summary.Pending)
	return summary
}

func labelFor(missing, pending int) models.SummaryLabel {
	switch {
	case missing > 0:
		return models.LabelIncomplete
	case pending > 0:
		return models.LabelPending
	default:
		return models.LabelComplete
	}
}

// FindAvatarSlot returns the checklist item that holds the profile photo.
func FindAvatarSlot(items []models.ChecklistItem) *models.ChecklistItem {
	for i := range items {
		title := strings.ToLower(items[i].Title)
		for _, kw := range avatarKeywords {
			if strings.Contains(title, kw) {
				item := items[i]
				return &item
			}
		}
	}
	return nil
}

// AvatarFileRef returns the object key of the student's profile photo when
// one has been uploaded and not rejected.
func AvatarFileRef(items []models.ChecklistItem, submissions []models.Submission) (string, bool) {
	slot := FindAvatarSlot(items)
	if slot == nil {
		return "", false
	}
	sub, ok := indexSubmissions(submissions)[slot.ID]
	if !ok || sub.FileURL == "" {
		return "", false
	}
	switch sub.Status.Normalize() {
	case models.StatusApproved, models.StatusPending:
		return sub.FileURL, true
	default:
		return "", false
	}
}

// indexSubmissions maps checklist item id to submission. The first
// submission wins when the store holds duplicates.
func indexSubmissions(submissions []models.Submission) map[string]models.Submission {
	byItem := make(map[string]models.Submission, len(submissions))
	for _, sub := range submissions {
		if _, seen := byItem[sub.ChecklistItemID]; seen {
			continue
		}
		byItem[sub.ChecklistItemID] = sub
	}
	return byItem
}
