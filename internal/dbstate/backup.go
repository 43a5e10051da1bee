package dbstate

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Artifact is a written backup.
type Artifact struct {
	Path        string
	CreatedAt   time.Time
	SourceState Observed
	ObjectKey   string
}

// Dumper writes a snapshot of the live database to path.
type Dumper interface {
	Dump(ctx context.Context, path string) error
	Extension() string
}

// Uploader copies a finished artifact off the host and returns its key.
type Uploader interface {
	Upload(ctx context.Context, path string) (string, error)
}

// PgDumper runs pg_dump. The password is passed through PGPASSWORD, never argv.
type PgDumper struct {
	Command  string
	Host     string
	Port     uint16
	User     string
	Database string
	password string
}

func NewPgDumper(command, databaseURL string) (*PgDumper, error) {
	cfg, err := pgconn.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if strings.TrimSpace(command) == "" {
		command = "pg_dump"
	}
	return &PgDumper{
		Command:  command,
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Database: cfg.Database,
		password: cfg.Password,
	}, nil
}

func (d *PgDumper) Extension() string { return ".sql" }

func (d *PgDumper) Dump(ctx context.Context, path string) error {
	cmd := exec.CommandContext(ctx, d.Command,
		"-h", d.Host,
		"-p", fmt.Sprint(d.Port),
		"-U", d.User,
		"-d", d.Database,
		"-f", path,
		"--no-password",
	)
	cmd.Env = append(os.Environ(), "PGPASSWORD="+d.password)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%s: %w: %s", d.Command, err, msg)
		}
		return fmt.Errorf("%s: %w", d.Command, err)
	}
	return nil
}

// SQLiteDumper copies a SQLite database with VACUUM INTO.
type SQLiteDumper struct {
	DB *sql.DB
}

func (d SQLiteDumper) Extension() string { return ".db" }

func (d SQLiteDumper) Dump(ctx context.Context, path string) error {
	if d.DB == nil {
		return errors.New("sqlite dumper: db is nil")
	}
	_, err := d.DB.ExecContext(ctx, "VACUUM INTO '"+strings.ReplaceAll(path, "'", "''")+"'")
	return err
}

type BackupConfig struct {
	Dir        string
	Dumper     Dumper
	Uploader   Uploader
	State      *ServiceState
	Consistent bool
	Timeout    time.Duration
	Logger     *slog.Logger
	Metrics    *Metrics
	Now        func() time.Time
}

// BackupManager writes timestamped database snapshots. It does not take the
// transition lock unless Consistent is set, in which case it holds the shared
// side while dumping.
type BackupManager struct {
	dir        string
	dumper     Dumper
	uploader   Uploader
	state      *ServiceState
	consistent bool
	timeout    time.Duration
	logger     *slog.Logger
	metrics    *Metrics
	now        func() time.Time
}

func NewBackupManager(cfg BackupConfig) (*BackupManager, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("backup: dir is required")
	}
	if cfg.Dumper == nil || cfg.State == nil {
		return nil, errors.New("backup: dumper and state are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &BackupManager{
		dir:        cfg.Dir,
		dumper:     cfg.Dumper,
		uploader:   cfg.Uploader,
		state:      cfg.State,
		consistent: cfg.Consistent,
		timeout:    cfg.Timeout,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		now:        cfg.Now,
	}, nil
}

// ArtifactName returns backup_<YYYYMMDD_HHMMSS>_<suffix><ext>.
func ArtifactName(at time.Time, suffix, ext string) string {
	return fmt.Sprintf("backup_%s_%s%s", at.UTC().Format("20060102_150405"), suffix, ext)
}

// Backup dumps the database. A partially written file is left in place on
// failure.
func (m *BackupManager) Backup(ctx context.Context) (Artifact, error) {
	art, err := m.backup(ctx)
	m.metrics.IncBackup(err == nil)
	if err != nil {
		m.logger.Error("backup failed", "path", art.Path, "error", err)
		return art, err
	}
	m.logger.Info("backup written", "path", art.Path, "source_state", art.SourceState.Name(), "object_key", art.ObjectKey)
	return art, nil
}

func (m *BackupManager) backup(ctx context.Context) (Artifact, error) {
	if m.consistent {
		m.state.mu.RLock()
		defer m.state.mu.RUnlock()
	}

	createdAt := m.now().UTC()
	art := Artifact{
		CreatedAt:   createdAt,
		SourceState: m.state.Snapshot().Current,
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return art, newError(KindBackup, "backup", "Failed to create backup directory", err)
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	art.Path = filepath.Join(m.dir, ArtifactName(createdAt, suffix, m.dumper.Extension()))

	dumpCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := m.dumper.Dump(dumpCtx, art.Path); err != nil {
		msg := "Backup failed"
		if errors.Is(err, exec.ErrNotFound) {
			msg = "Backup utility unavailable"
		}
		return art, newError(KindBackup, "dump", msg, err)
	}

	if m.uploader != nil {
		key, err := m.uploader.Upload(dumpCtx, art.Path)
		if err != nil {
			return art, newError(KindBackup, "upload", "Backup upload failed", err)
		}
		art.ObjectKey = key
	}
	return art, nil
}
