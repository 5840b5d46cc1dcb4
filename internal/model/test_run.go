package model

import (
	"time"

	"gorm.io/gorm"

	"tyre-matrix/internal/matrix"
)

// Run statuses written back by the resolver.
const (
	RunPending   = "pending"
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
	RunSkipped   = "skipped"
)

// TestRun is one matrix row of a project protocol. Rows are imported
// elsewhere; this service only reads them and writes Status back.
type TestRun struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	ProjectID string `gorm:"type:varchar(100);not null;uniqueIndex:idx_run_key,priority:1" json:"project_id"`
	Protocol  string `gorm:"type:varchar(100);not null;uniqueIndex:idx_run_key,priority:2" json:"protocol"`
	RunNumber int    `gorm:"not null;uniqueIndex:idx_run_key,priority:3" json:"run_number"`

	Job    string `gorm:"type:varchar(200);index" json:"job"`
	OldJob string `gorm:"type:varchar(200)" json:"old_job"`

	// Physical parameters; nil when the row leaves the value open.
	Load        *float64 `json:"load"`
	Pressure    *float64 `json:"pressure"`
	Inclination *float64 `json:"inclination"`
	SlipAngle   *float64 `json:"slip_angle"`
	SlipRatio   *float64 `json:"slip_ratio"`
	Velocity    *float64 `json:"velocity"`

	P string `gorm:"type:varchar(20)" json:"p"`
	L string `gorm:"type:varchar(20)" json:"l"`

	TydexTemplate string `gorm:"type:varchar(200)" json:"tydex_template"`
	TydexName     string `gorm:"type:varchar(200)" json:"tydex_name"`
	Subroutine    string `gorm:"type:varchar(200)" json:"subroutine"`
	PostScript    string `gorm:"type:varchar(200)" json:"post_script"`

	Status string `gorm:"type:varchar(20);default:pending;index" json:"status"`
}

// Matrix converts the stored row to the engine's row type.
func (r TestRun) Matrix() matrix.TestRun {
	return matrix.TestRun{
		Number:        r.RunNumber,
		Job:           r.Job,
		OldJob:        r.OldJob,
		Load:          r.Load,
		Pressure:      r.Pressure,
		Inclination:   r.Inclination,
		SlipAngle:     r.SlipAngle,
		SlipRatio:     r.SlipRatio,
		Velocity:      r.Velocity,
		P:             r.P,
		L:             r.L,
		TydexTemplate: r.TydexTemplate,
		TydexName:     r.TydexName,
		Subroutine:    r.Subroutine,
		PostScript:    r.PostScript,
	}
}

// NewTestRun builds a stored row from an engine row.
func NewTestRun(projectID, protocol string, r matrix.TestRun) TestRun {
	return TestRun{
		ProjectID:     projectID,
		Protocol:      protocol,
		RunNumber:     r.Number,
		Job:           r.Job,
		OldJob:        r.OldJob,
		Load:          r.Load,
		Pressure:      r.Pressure,
		Inclination:   r.Inclination,
		SlipAngle:     r.SlipAngle,
		SlipRatio:     r.SlipRatio,
		Velocity:      r.Velocity,
		P:             r.P,
		L:             r.L,
		TydexTemplate: r.TydexTemplate,
		TydexName:     r.TydexName,
		Subroutine:    r.Subroutine,
		PostScript:    r.PostScript,
		Status:        RunPending,
	}
}
