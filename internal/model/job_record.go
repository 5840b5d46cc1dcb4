package model

import (
	"time"

	"gorm.io/gorm"
)

// JobRecord is one execution attempt of a job node, kept for auditing and manual retries.
type JobRecord struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	ExecutionID string `gorm:"type:varchar(36);not null;uniqueIndex" json:"execution_id"`
	// TriggerID groups every job started by the same resolve request.
	TriggerID string `gorm:"type:varchar(36);index" json:"trigger_id"`
	ProjectID string `gorm:"type:varchar(100);not null;index:idx_job_scope" json:"project_id"`
	Protocol  string `gorm:"type:varchar(100);not null;index:idx_job_scope" json:"protocol"`
	RunNumber int    `gorm:"index" json:"run_number"`
	Job       string `gorm:"type:varchar(200);not null;index" json:"job"`
	OldJob    string `gorm:"type:varchar(200)" json:"old_job"`
	Dir       string `gorm:"type:varchar(500)" json:"dir"`

	Status     string     `gorm:"type:varchar(20);index" json:"status"`
	ExitCode   *int       `json:"exit_code"`
	Error      string     `gorm:"type:text" json:"error"`
	StartedAt  *time.Time `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
}
