package dbstate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tables := testTables()
	cases := []struct {
		name string
		in   Introspection
		want StateName
	}{
		{name: "no tables", in: Introspection{TableCount: 0}, want: StateEmpty},
		{name: "no users", in: Introspection{TableCount: 3, RowCounts: map[string]int64{"users": 0, "test_results": 5}}, want: StateSchemaOnly},
		{name: "users without results", in: Introspection{TableCount: 3, RowCounts: map[string]int64{"users": 1, "test_results": 0}}, want: StateFramework},
		{name: "users and results", in: Introspection{TableCount: 3, RowCounts: map[string]int64{"users": 1, "test_results": 1}}, want: StateFull},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.in, tables))
		})
	}
}

func TestDetect_Boundaries(t *testing.T) {
	const tablesOnly = `
		CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT);
		CREATE TABLE projects (id INTEGER PRIMARY KEY, name TEXT);
		CREATE TABLE test_results (id INTEGER PRIMARY KEY, outcome TEXT);`

	cases := []struct {
		name string
		seed string
		want StateName
	}{
		{name: "empty", seed: "", want: StateEmpty},
		{name: "schema-only", seed: tablesOnly, want: StateSchemaOnly},
		{name: "schema-only with stray results", seed: tablesOnly + `INSERT INTO test_results (outcome) VALUES ('x');`, want: StateSchemaOnly},
		{name: "framework", seed: tablesOnly + `INSERT INTO users (email) VALUES ('a');`, want: StateFramework},
		{name: "full", seed: tablesOnly + `INSERT INTO users (email) VALUES ('a'); INSERT INTO test_results (outcome) VALUES ('x');`, want: StateFull},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestStack(t, nil)
			if tc.seed != "" {
				execSQL(t, s.db, tc.seed)
			}
			observed, in := s.detector.DetectWithDetails(context.Background())
			desc, ok := observed.Descriptor()
			require.True(t, ok, "expected known state")
			assert.Equal(t, tc.want, desc.Name)
			if tc.want == StateEmpty {
				assert.Zero(t, in.TableCount)
			} else {
				assert.EqualValues(t, 3, in.TableCount)
			}
		})
	}
}

func TestDetect_MissingKeyTableIsUnknown(t *testing.T) {
	s := newTestStack(t, nil)
	execSQL(t, s.db, `CREATE TABLE other (id INTEGER PRIMARY KEY);`)

	observed := s.detector.Detect(context.Background())
	assert.False(t, observed.IsKnown())
	assert.Equal(t, "unknown", observed.Name())
}

func TestDetect_ClosedDatabaseIsUnknown(t *testing.T) {
	s := newTestStack(t, nil)
	require.NoError(t, s.db.Close())

	assert.False(t, s.detector.Detect(context.Background()).IsKnown())
}

func TestNewDetector_RejectsBadTableName(t *testing.T) {
	db := openTestDB(t)
	dialect, err := DialectFor("sqlite", "")
	require.NoError(t, err)
	_, err = NewDetector(db, dialect, DefaultCatalog(), KeyTables{Identity: "users; DROP TABLE x", Fixture: "test_results"}, nil, nil)
	assert.Error(t, err)
}

func TestDialectFor(t *testing.T) {
	d, err := DialectFor("pgx", "")
	require.NoError(t, err)
	query, args := d.TableCount()
	assert.Contains(t, query, "information_schema.tables")
	assert.Equal(t, []any{"public"}, args)
	assert.Equal(t, `SELECT COUNT(*) FROM "public"."users"`, d.RowCount("users"))

	_, err = DialectFor("pgx", "bad-schema")
	assert.Error(t, err)
	_, err = DialectFor("mysql", "")
	assert.Error(t, err)
}
