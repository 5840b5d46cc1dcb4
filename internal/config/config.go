package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Log       LogConfig       `yaml:"log"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Solver    SolverConfig    `yaml:"solver"`
	Batch     BatchConfig     `yaml:"batch"`
	Tydex     TydexConfig     `yaml:"tydex"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	Charset  string `yaml:"charset"`
}

// DSN is the MySQL connection string for gorm.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=Local",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.Charset)
}

type LogConfig struct {
	// debug, info, warn or error
	Level string `yaml:"level"`
	// text or json
	Format string `yaml:"format"`
}

type WorkspaceConfig struct {
	// Root holds one folder per project and protocol.
	Root string `yaml:"root"`
	// Templates holds deck templates per protocol, Tydex templates and shared sources.
	Templates string `yaml:"templates"`
}

type SolverConfig struct {
	Command       []string      `yaml:"command"`
	ScriptRuntime []string      `yaml:"script_runtime"`
	CPUs          int           `yaml:"cpus"`
	StopGrace     time.Duration `yaml:"stop_grace"`
	TailBytes     int64         `yaml:"tail_bytes"`
	// MaxParallel bounds how many cell folders a matrix resolution runs at once.
	MaxParallel int `yaml:"max_parallel"`
	// SkipCompletedUpstream skips predecessors that already left an artifact.
	SkipCompletedUpstream bool `yaml:"skip_completed_upstream"`
}

type BatchConfig struct {
	// sh or cmd
	Dialect string `yaml:"dialect"`
}

type TydexConfig struct {
	Supplier     string  `yaml:"supplier"`
	Location     string  `yaml:"location"`
	Manufacturer string  `yaml:"manufacturer"`
	// ClockSuffix defaults to "+05:30" when absent; an explicit "" disables it.
	ClockSuffix  *string `yaml:"clock_suffix"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a yaml config and fills in defaults for absent fields.
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	config.applyDefaults()

	var err error
	if config.Workspace.Root, err = filepath.Abs(config.Workspace.Root); err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	if config.Workspace.Templates, err = filepath.Abs(config.Workspace.Templates); err != nil {
		return nil, fmt.Errorf("workspace templates: %w", err)
	}
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.Charset == "" {
		c.Database.Charset = "utf8mb4"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Workspace.Root == "" {
		c.Workspace.Root = "workspace"
	}
	if c.Workspace.Templates == "" {
		c.Workspace.Templates = filepath.Join(c.Workspace.Root, "templates")
	}
	if len(c.Solver.Command) == 0 {
		c.Solver.Command = []string{"abaqus"}
	}
	if c.Solver.ScriptRuntime == nil {
		c.Solver.ScriptRuntime = []string{"python"}
	}
	if c.Solver.CPUs == 0 {
		c.Solver.CPUs = 4
	}
	if c.Solver.StopGrace == 0 {
		c.Solver.StopGrace = 10 * time.Second
	}
	if c.Solver.TailBytes == 0 {
		c.Solver.TailBytes = 4096
	}
	if c.Solver.MaxParallel == 0 {
		c.Solver.MaxParallel = 2
	}
	if c.Batch.Dialect == "" {
		c.Batch.Dialect = "sh"
	}
	if c.Tydex.ClockSuffix == nil {
		suffix := "+05:30"
		c.Tydex.ClockSuffix = &suffix
	}
}
