package models

import "strings"

// Program is a degree programme. Type carries the degree level, e.g. "MS" or "PhD".
type Program struct {
	ID   string `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
	Type string `db:"type" json:"type"`
}

// Degree classifies the program type as "PhD", "MS" or "".
func (p Program) Degree() string {
	return DegreeOf(p.Type)
}

// DegreeOf classifies a raw program type string.
func DegreeOf(programType string) string {
	t := strings.ToLower(programType)
	switch {
	case strings.Contains(t, "phd"):
		return "PhD"
	case strings.Contains(t, "ms"):
		return "MS"
	default:
		return ""
	}
}

// Batch is an intake cohort.
type Batch struct {
	ID   string `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}
