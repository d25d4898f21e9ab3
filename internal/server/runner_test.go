package server

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/anipush/anipush/internal/config"
	"github.com/anipush/anipush/internal/event"
	"github.com/anipush/anipush/internal/migrations"
	"github.com/anipush/anipush/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0 // ephemeral
	cfg.Push.DebounceSeconds = 1
	cfg.Workdir.CacheDir = t.TempDir()
	return cfg
}

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(migrations.InitialSQL)
	require.NoError(t, err)
	return db
}

func TestRunnerStartsAndStops(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewRunner(testDB(t), testConfig(t), log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not shut down")
	}
}

func TestBuildPipelineWithDiscardTransport(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	db := testDB(t)
	r := NewRunner(db, testConfig(t), log)

	pipe, buf, err := r.BuildPipeline(nil)
	require.NoError(t, err)
	defer buf.Stop()

	ctx := context.Background()
	st := store.New(db, log)
	id, err := st.InsertRecord(ctx, event.SourceEmby, map[string]any{
		"title": "Suzume",
		"type":  "Movie",
	})
	require.NoError(t, err)

	// No transport configured: delivery is discarded, record commits.
	require.NoError(t, pipe.Run(ctx, event.SourceEmby))

	var status int
	require.NoError(t, db.QueryRow("SELECT send_status FROM emby WHERE id = ?", id).Scan(&status))
	assert.Equal(t, 1, status)
}

func TestBuildPipelineBadTemplate(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig(t)
	cfg.Workdir.Template = "/nonexistent/template.yaml"

	_, _, err := NewRunner(testDB(t), cfg, log).BuildPipeline(nil)
	assert.Error(t, err)
}
