package service

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/research-docs-api/internal/models"
	appErrors "github.com/noah-isme/research-docs-api/pkg/errors"
	"github.com/noah-isme/research-docs-api/pkg/export"
	"github.com/noah-isme/research-docs-api/pkg/storage"
)

const studentReportTitle = "Comprehensive Student Report"

type reportSource interface {
	Build(ctx context.Context, filter models.ReportFilter) (models.ReportResult, error)
}

type rosterSource interface {
	Load(ctx context.Context) (*models.Roster, error)
}

// RosterSourceFunc adapts a function to the roster source used by exports.
type RosterSourceFunc func(ctx context.Context) (*models.Roster, error)

// Load calls f.
func (f RosterSourceFunc) Load(ctx context.Context) (*models.Roster, error) {
	return f(ctx)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
	RenderDocument(doc export.Document) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ReportFormat
	ExpiresAt    time.Time
}

// ExportFile is a rendered document returned inline instead of stored.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportService renders reports, rosters and histories and persists job output.
type ExportService struct {
	reports reportSource
	roster  rosterSource
	storage fileStorage
	csv     csvRenderer
	pdf     pdfRenderer
	signer  *storage.SignedURLSigner
	logger  *zap.Logger
	cfg     ExportConfig
	now     func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(reports reportSource, roster rosterSource, store fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		reports: reports,
		roster:  roster,
		storage: store,
		csv:     csv,
		pdf:     pdf,
		signer:  signer,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Generate renders the job's report and stores it behind a signed download token.
func (s *ExportService) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	var (
		file *ExportFile
		err  error
	)
	switch job.Type {
	case models.ReportTypeStudents:
		if s.reports == nil {
			return nil, fmt.Errorf("report source not configured")
		}
		var result models.ReportResult
		result, err = s.reports.Build(ctx, job.Params.Filter())
		if err != nil {
			return nil, fmt.Errorf("build student report: %w", err)
		}
		file, err = s.RenderStudentReport(result, job.Params.Format)
	case models.ReportTypeRoster:
		if s.roster == nil {
			return nil, fmt.Errorf("roster source not configured")
		}
		var roster *models.Roster
		roster, err = s.roster.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load roster: %w", err)
		}
		file, err = s.RenderRoster(roster, job.Params.Format)
	default:
		return nil, fmt.Errorf("unsupported report type %s", job.Type)
	}
	if err != nil {
		return nil, err
	}

	relPath, err := s.storage.Save(s.buildFilename(job), file.Data)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/export/%s", prefix, token),
		Format:       job.Params.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// RenderStudentReport renders the comprehensive student report. The PDF
// carries the header block, filters, executive summary and distributions;
// the CSV carries the table only.
func (s *ExportService) RenderStudentReport(result models.ReportResult, format models.ReportFormat) (*ExportFile, error) {
	dataset := export.Dataset{
		Headers: []string{"Name", "Reg. No", "Program", "Status", "Submitted", "Approved", "Rejected"},
		Rows:    make([]map[string]string, 0, len(result.Rows)),
	}
	for _, row := range result.Rows {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Name":      row.Name,
			"Reg. No":   row.RegistrationNumber,
			"Program":   row.ProgramName,
			"Status":    string(row.Status),
			"Submitted": strconv.Itoa(row.Submitted),
			"Approved":  strconv.Itoa(row.Approved),
			"Rejected":  strconv.Itoa(row.Rejected),
		})
	}

	generatedAt := result.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = s.now().UTC()
	}
	doc := export.Document{
		Title:       studentReportTitle,
		GeneratedAt: generatedAt,
		Filters: []export.Pair{
			{Label: "Program", Value: orAll(result.Filter.ProgramID)},
			{Label: "Status", Value: orAll(string(result.Filter.Status))},
		},
		Summary: []export.Pair{
			{Label: "Total Students", Value: strconv.Itoa(result.Stats.TotalStudents)},
			{Label: "Active Students", Value: strconv.Itoa(result.Stats.ActiveStudents)},
			{Label: "Completed Students", Value: strconv.Itoa(result.Stats.CompletedStudents)},
		},
		Sections: []export.Section{
			{Heading: "Program Distribution", Items: distributionPairs(result.Stats.ProgramDistribution)},
			{Heading: "Status Distribution", Items: distributionPairs(result.Stats.StatusDistribution)},
		},
		Table: dataset,
	}
	return s.render(doc, format, "student_report_"+generatedAt.Format("2006-01-02"))
}

// RenderRoster renders the coordinator's active roster.
func (s *ExportService) RenderRoster(roster *models.Roster, format models.ReportFormat) (*ExportFile, error) {
	dataset := export.Dataset{
		Headers: []string{"Name", "Email", "Reg. No", "Program", "Department", "Status", "Missing Docs"},
		Rows:    []map[string]string{},
	}
	if roster != nil {
		for _, row := range roster.Active {
			dataset.Rows = append(dataset.Rows, map[string]string{
				"Name":         row.Name,
				"Email":        row.Email,
				"Reg. No":      row.RegistrationNumber,
				"Program":      row.Program,
				"Department":   row.Department,
				"Status":       string(row.Status),
				"Missing Docs": strconv.Itoa(row.MissingDocs),
			})
		}
	}
	now := s.now().UTC()
	doc := export.Document{Title: "Student Roster", GeneratedAt: now, Table: dataset}
	return s.render(doc, format, "student_roster_"+now.Format("2006-01-02"))
}

// RenderHistory renders a student's upload history.
func (s *ExportService) RenderHistory(entries []models.DocumentHistoryEntry, format models.ReportFormat) (*ExportFile, error) {
	dataset := export.Dataset{
		Headers: []string{"Title", "Status", "Version", "Date"},
		Rows:    make([]map[string]string, 0, len(entries)),
	}
	for _, entry := range entries {
		title := entry.ItemTitle
		if title == "" {
			title = entry.Title
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Title":   title,
			"Status":  string(entry.Status.Normalize()),
			"Version": strconv.Itoa(entry.Version),
			"Date":    entry.SubmissionDate.UTC().Format("2006-01-02 15:04"),
		})
	}
	now := s.now().UTC()
	doc := export.Document{Title: "Document Upload History", GeneratedAt: now, Table: dataset}
	return s.render(doc, format, "upload_history_"+now.Format("2006-01-02"))
}

func (s *ExportService) render(doc export.Document, format models.ReportFormat, basename string) (*ExportFile, error) {
	var (
		data        []byte
		contentType string
		err         error
	)
	switch format {
	case models.ReportFormatCSV:
		data, err = s.csv.Render(doc.Table)
		contentType = "text/csv"
	case models.ReportFormatPDF:
		data, err = s.pdf.RenderDocument(doc)
		contentType = "application/pdf"
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported format %q", format))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	return &ExportFile{
		Filename:    sanitizeFilename(basename) + "." + string(format),
		ContentType: contentType,
		Data:        data,
	}, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildFilename(job *models.ReportJob) string {
	timestamp := s.now().UTC().Format("20060102_150405")
	scope := sanitizeFilename(job.Params.ProgramID)
	if job.Params.Status != "" {
		scope += "_" + sanitizeFilename(strings.ToLower(string(job.Params.Status)))
	}
	return fmt.Sprintf("%s_%s_%s.%s", strings.ToLower(string(job.Type)), scope, timestamp, job.Params.Format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "all"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func distributionPairs(dist map[string]int) []export.Pair {
	keys := make([]string, 0, len(dist))
	for k := range dist {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]export.Pair, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, export.Pair{Label: k, Value: strconv.Itoa(dist[k])})
	}
	return pairs
}

func orAll(v string) string {
	if v == "" {
		return "All"
	}
	return v
}
