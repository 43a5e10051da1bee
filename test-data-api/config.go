package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JezSurfaceIT/secdevops-cicd-pipeline/internal/dbstate"
	"github.com/JezSurfaceIT/secdevops-cicd-pipeline/internal/platform/env"
	"github.com/JezSurfaceIT/secdevops-cicd-pipeline/internal/platform/natsnotify"
	"github.com/JezSurfaceIT/secdevops-cicd-pipeline/internal/platform/postgres"
)

type config struct {
	Addr              string
	ShutdownTimeout   time.Duration
	CORSOrigins       []string
	DB                postgres.Config
	NATS              natsnotify.Config
	ScriptDir         string
	CatalogFile       string
	Schema            string
	Tables            dbstate.KeyTables
	TransitionTimeout time.Duration
	StatementTimeout  time.Duration
	BackupDir         string
	BackupCommand     string
	BackupTimeout     time.Duration
	BackupConsistent  bool
	BackupInterval    time.Duration
	BackupUpload      bool
}

func configFromEnv() (config, error) {
	var errs []error
	duration := func(key string, def time.Duration) time.Duration {
		d, err := env.Duration(key, def)
		errs = append(errs, err)
		return d
	}
	boolean := func(key string, def bool) bool {
		b, err := env.Bool(key, def)
		errs = append(errs, err)
		return b
	}

	cfg := config{
		Addr:              env.String("TEST_DATA_API_HTTP_ADDR", ":5000"),
		ShutdownTimeout:   duration("TEST_DATA_API_SHUTDOWN_TIMEOUT", 10*time.Second),
		CORSOrigins:       env.Strings("TEST_DATA_API_CORS_ORIGINS", []string{"*"}),
		NATS:              natsnotify.ConfigFromEnv(),
		ScriptDir:         env.String("DBSTATE_SCRIPT_DIR", "/app/sql/states"),
		CatalogFile:       strings.TrimSpace(env.String("DBSTATE_CATALOG_FILE", "")),
		Schema:            env.String("DBSTATE_SCHEMA", "public"),
		TransitionTimeout: duration("DBSTATE_TRANSITION_TIMEOUT", 5*time.Minute),
		StatementTimeout:  duration("DBSTATE_STATEMENT_TIMEOUT", 2*time.Minute),
		BackupDir:         env.String("DBSTATE_BACKUP_DIR", "/app/backups"),
		BackupCommand:     env.String("DBSTATE_BACKUP_COMMAND", "pg_dump"),
		BackupTimeout:     duration("DBSTATE_BACKUP_TIMEOUT", 10*time.Minute),
		BackupConsistent:  boolean("DBSTATE_BACKUP_CONSISTENT", false),
		BackupInterval:    duration("DBSTATE_BACKUP_INTERVAL", 0),
		BackupUpload:      boolean("DBSTATE_BACKUP_UPLOAD", false),
		Tables: dbstate.KeyTables{
			Identity: env.String("DBSTATE_IDENTITY_TABLE", "users"),
			Fixture:  env.String("DBSTATE_FIXTURE_TABLE", "test_results"),
			Extra:    env.Strings("DBSTATE_EXTRA_TABLES", []string{"projects"}),
		},
	}
	if err := errors.Join(errs...); err != nil {
		return config{}, err
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		return config{}, err
	}
	cfg.DB = dbCfg

	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c config) validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("TEST_DATA_API_HTTP_ADDR is required")
	}
	if strings.TrimSpace(c.ScriptDir) == "" {
		return errors.New("DBSTATE_SCRIPT_DIR is required")
	}
	if strings.TrimSpace(c.BackupDir) == "" {
		return errors.New("DBSTATE_BACKUP_DIR is required")
	}
	if c.TransitionTimeout <= 0 {
		return errors.New("DBSTATE_TRANSITION_TIMEOUT must be positive")
	}
	if c.StatementTimeout < 0 {
		return errors.New("DBSTATE_STATEMENT_TIMEOUT must be >= 0")
	}
	if c.StatementTimeout > c.TransitionTimeout {
		return errors.New("DBSTATE_STATEMENT_TIMEOUT must be <= DBSTATE_TRANSITION_TIMEOUT")
	}
	if c.BackupInterval < 0 {
		return errors.New("DBSTATE_BACKUP_INTERVAL must be >= 0")
	}
	if err := c.Tables.Validate(); err != nil {
		return fmt.Errorf("key tables: %w", err)
	}
	return c.NATS.Validate()
}
