package dbstate

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/JezSurfaceIT/secdevops-cicd-pipeline/internal/platform/postgres"
	"github.com/stretchr/testify/require"
)

const schemaSQL = `
DROP TABLE IF EXISTS test_results;
DROP TABLE IF EXISTS projects;
DROP TABLE IF EXISTS users;
CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT NOT NULL);
CREATE TABLE projects (id INTEGER PRIMARY KEY, name TEXT NOT NULL);
CREATE TABLE test_results (id INTEGER PRIMARY KEY, project_id INTEGER, outcome TEXT);
`

const frameworkSQL = schemaSQL + `
INSERT INTO users (email) VALUES ('admin@example.test'), ('runner@example.test');
`

const fullSQL = frameworkSQL + `
INSERT INTO projects (name) VALUES ('oversight');
INSERT INTO test_results (project_id, outcome) VALUES (1, 'passed'), (1, 'failed');
`

func testScripts() fstest.MapFS {
	return fstest.MapFS{
		"schema-only.sql":    {Data: []byte(schemaSQL)},
		"framework-data.sql": {Data: []byte(frameworkSQL)},
		"full-test-data.sql": {Data: []byte(fullSQL)},
	}
}

func testTables() KeyTables {
	return KeyTables{Identity: "users", Fixture: "test_results", Extra: []string{"projects"}}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := postgres.Connect(postgres.Config{
		Driver:       postgres.DriverSQLite,
		URL:          filepath.Join(t.TempDir(), "state.db"),
		PingTimeout:  time.Second,
		MaxOpenConns: 4,
		MaxIdleConns: 4,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func execSQL(t *testing.T, db *sql.DB, stmts string) {
	t.Helper()
	_, err := db.ExecContext(context.Background(), stmts)
	require.NoError(t, err)
}

// countingScripts records how often scripts are loaded and can block the
// first load until released.
type countingScripts struct {
	inner   ScriptSource
	loads   atomic.Int64
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (c *countingScripts) Load(ref string) (string, error) {
	n := c.loads.Add(1)
	if n == 1 && c.entered != nil {
		c.once.Do(func() { close(c.entered) })
		<-c.release
	}
	return c.inner.Load(ref)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []TransitionEvent
}

func (p *recordingPublisher) PublishJSON(_ context.Context, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, v.(TransitionEvent))
	return nil
}

type testStack struct {
	db        *sql.DB
	state     *ServiceState
	detector  *Detector
	engine    *Engine
	metrics   *Metrics
	scripts   *countingScripts
	publisher *recordingPublisher
}

func newTestStack(t *testing.T, scripts ScriptSource) *testStack {
	t.Helper()
	db := openTestDB(t)
	dialect, err := DialectFor("sqlite", "")
	require.NoError(t, err)
	catalog := DefaultCatalog()
	detector, err := NewDetector(db, dialect, catalog, testTables(), discardLogger(), nil)
	require.NoError(t, err)

	if scripts == nil {
		scripts = FSScripts{FS: testScripts()}
	}
	counting := &countingScripts{inner: scripts}
	state := NewServiceState()
	publisher := &recordingPublisher{}
	metrics := NewMetrics(nil)
	engine, err := NewEngine(EngineConfig{
		DB:                db,
		Dialect:           dialect,
		Catalog:           catalog,
		Scripts:           counting,
		State:             state,
		Detector:          detector,
		Logger:            discardLogger(),
		Metrics:           metrics,
		Publisher:         publisher,
		TransitionTimeout: 30 * time.Second,
	})
	require.NoError(t, err)
	return &testStack{db: db, state: state, detector: detector, engine: engine, metrics: metrics, scripts: counting, publisher: publisher}
}
