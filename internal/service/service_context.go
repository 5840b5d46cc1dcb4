package service

import (
	"log/slog"

	"gorm.io/gorm"

	"tyre-matrix/internal/batch"
	"tyre-matrix/internal/config"
	"tyre-matrix/internal/db"
	"tyre-matrix/internal/tydex"
	"tyre-matrix/internal/workspace"
)

type ServiceContext struct {
	Config     *config.Config
	Store      *db.Store
	Layout     *workspace.Layout
	RunService *RunService
}

// NewServiceContext wires the services over conn and the real filesystem.
func NewServiceContext(cfg *config.Config, conn *gorm.DB, logger *slog.Logger) (*ServiceContext, error) {
	dialect, err := batch.ParseDialect(cfg.Batch.Dialect)
	if err != nil {
		return nil, err
	}
	layout := workspace.New(nil, cfg.Workspace.Root, cfg.Workspace.Templates)
	store := db.NewStore(conn)
	emitter := batch.NewEmitter(layout, batch.Options{
		Dialect:       dialect,
		Command:       cfg.Solver.Command,
		ScriptRuntime: cfg.Solver.ScriptRuntime,
		CPUs:          cfg.Solver.CPUs,
	})
	var clockSuffix string
	if cfg.Tydex.ClockSuffix != nil {
		clockSuffix = *cfg.Tydex.ClockSuffix
	}
	codec := tydex.NewCodec(layout, tydex.HeaderConfig{
		Supplier:     cfg.Tydex.Supplier,
		Location:     cfg.Tydex.Location,
		Manufacturer: cfg.Tydex.Manufacturer,
		ClockSuffix:  clockSuffix,
	}, nil)

	return &ServiceContext{
		Config:     cfg,
		Store:      store,
		Layout:     layout,
		RunService: NewRunService(store, layout, cfg.Solver, emitter, codec, logger),
	}, nil
}
