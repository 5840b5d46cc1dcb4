package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tyre-matrix/internal/matrix"
	"tyre-matrix/internal/model"
)

// ErrRunNotFound is returned when a project protocol has no row with the requested run number.
var ErrRunNotFound = errors.New("test run not found")

// Store reads matrices and records execution results.
type Store struct {
	db *gorm.DB
}

func NewStore(conn *gorm.DB) *Store {
	return &Store{db: conn}
}

// LoadMatrix returns every row of a project protocol, ordered by run number.
func (s *Store) LoadMatrix(ctx context.Context, projectID, protocol string) (matrix.Matrix, error) {
	var rows []model.TestRun
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND protocol = ?", projectID, protocol).
		Order("run_number ASC").
		Find(&rows).Error
	if err != nil {
		return matrix.Matrix{}, fmt.Errorf("load matrix %s/%s: %w", projectID, protocol, err)
	}
	m := matrix.Matrix{ProjectID: projectID, Protocol: protocol, Runs: make([]matrix.TestRun, 0, len(rows))}
	for _, r := range rows {
		m.Runs = append(m.Runs, r.Matrix())
	}
	return m, nil
}

// ImportMatrix upserts every row of m keyed by (project, protocol, run number).
func (s *Store) ImportMatrix(ctx context.Context, m matrix.Matrix) error {
	if len(m.Runs) == 0 {
		return nil
	}
	rows := make([]model.TestRun, 0, len(m.Runs))
	for _, r := range m.Runs {
		rows = append(rows, model.NewTestRun(m.ProjectID, m.Protocol, r))
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "project_id"}, {Name: "protocol"}, {Name: "run_number"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"job", "old_job", "load", "pressure", "inclination", "slip_angle", "slip_ratio", "velocity",
			"p", "l", "tydex_template", "tydex_name", "subroutine", "post_script", "updated_at",
		}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("import matrix %s/%s: %w", m.ProjectID, m.Protocol, err)
	}
	return nil
}

// SetRunStatus records the status of the row owning job. Jobs that are not
// matrix rows (plain restart decks) have nothing to update.
func (s *Store) SetRunStatus(ctx context.Context, projectID, protocol, job, status string) error {
	err := s.db.WithContext(ctx).Model(&model.TestRun{}).
		Where("project_id = ? AND protocol = ? AND job = ?", projectID, protocol, strings.TrimSpace(job)).
		Update("status", status).Error
	if err != nil {
		return fmt.Errorf("set status of %s: %w", job, err)
	}
	return nil
}

// StartJob inserts a running JobRecord.
func (s *Store) StartJob(ctx context.Context, rec *model.JobRecord) error {
	now := time.Now()
	rec.StartedAt = &now
	rec.Status = model.RunRunning
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("record job %s: %w", rec.Job, err)
	}
	return nil
}

// FinishJob stores the outcome of a JobRecord created by StartJob.
func (s *Store) FinishJob(ctx context.Context, rec *model.JobRecord, status string, exitCode *int, jobErr error) error {
	now := time.Now()
	rec.FinishedAt = &now
	rec.Status = status
	rec.ExitCode = exitCode
	if jobErr != nil {
		rec.Error = jobErr.Error()
	}
	if err := s.db.WithContext(ctx).Save(rec).Error; err != nil {
		return fmt.Errorf("finish job %s: %w", rec.Job, err)
	}
	return nil
}

// JobRecords lists the attempts of a project protocol, newest first.
func (s *Store) JobRecords(ctx context.Context, projectID, protocol string, limit int) ([]model.JobRecord, error) {
	var recs []model.JobRecord
	q := s.db.WithContext(ctx).
		Where("project_id = ? AND protocol = ?", projectID, protocol).
		Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// SaveTydex creates or replaces the document row with the same project, protocol and name.
func (s *Store) SaveTydex(ctx context.Context, doc *model.TydexDocument) error {
	err := s.db.WithContext(ctx).
		Where(model.TydexDocument{ProjectID: doc.ProjectID, Protocol: doc.Protocol, Name: doc.Name}).
		Assign(map[string]any{
			"run_number": doc.RunNumber,
			"job":        doc.Job,
			"template":   doc.Template,
			"path":       doc.Path,
			"rows":       doc.Rows,
			"unresolved": doc.Unresolved,
			"content":    doc.Content,
		}).
		FirstOrCreate(doc).Error
	if err != nil {
		return fmt.Errorf("save tydex %s: %w", doc.Name, err)
	}
	return nil
}
