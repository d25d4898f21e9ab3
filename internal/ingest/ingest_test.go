package ingest

import (
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/anipush/anipush/internal/event"
	"github.com/anipush/anipush/internal/events"
	"github.com/anipush/anipush/internal/migrations"
	"github.com/anipush/anipush/internal/store"
)

func setup(t *testing.T) (*store.Store, *events.Bus, http.Handler) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(migrations.InitialSQL)
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.New(db, log)
	bus := events.NewBus(nil, log)
	t.Cleanup(func() { _ = bus.Close() })

	mux := http.NewServeMux()
	New(st, bus, log).RegisterRoutes(mux)
	return st, bus, mux
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIngestAniRSS(t *testing.T) {
	st, bus, mux := setup(t)
	received := bus.Subscribe(events.EventTypeMediaReceived, 1)

	rec := post(t, mux, "/webhook/anirss", `{
		"title": "Frieren",
		"season": 1,
		"episode": 3,
		"action": "下载完成",
		"tmdbId": "209867",
		"imageUrl": "https://img.example/poster.jpg",
		"bangumiUrl": "https://bgm.tv/subject/400602"
	}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.EqualValues(t, 1, resp["id"])

	row, err := st.SelectUnsent(t.Context(), event.SourceAniRSS)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "Frieren", row["title"])
	assert.Equal(t, "1", row["season"])
	assert.Equal(t, "3", row["episode"])
	assert.Equal(t, "209867", row["tmdb_id"])
	assert.Equal(t, "https://img.example/poster.jpg", row["image_url"])
	assert.NotEmpty(t, row["timestamp"], "timestamp defaults to receipt time")

	e := <-received
	assert.Equal(t, "anirss", e.EntityType())
	assert.Equal(t, int64(1), e.EntityID())
}

func TestIngestEmby(t *testing.T) {
	st, _, mux := setup(t)

	rec := post(t, mux, "/webhook/emby", `{
		"Event": "library.new",
		"Item": {
			"Name": "勇者",
			"Type": "Episode",
			"SeriesName": "Frieren",
			"ParentIndexNumber": 1,
			"IndexNumber": 4,
			"CommunityRating": 9.1,
			"SeriesId": "55",
			"SeriesPrimaryImageTag": "abc123",
			"Genres": ["Animation", "Fantasy"],
			"ProviderIds": {"Tmdb": "209867", "Bangumi": "400602"},
			"ExternalUrls": [{"Name": "TheMovieDb", "Url": "https://www.themoviedb.org/tv/209867"}]
		}
	}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	row, err := st.SelectUnsent(t.Context(), event.SourceEmby)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "Frieren", row["title"])
	assert.Equal(t, "勇者", row["episode_title"])
	assert.Equal(t, "Episode", row["type"])
	assert.Equal(t, "1", row["season"])
	assert.Equal(t, "4", row["episode"])
	assert.Equal(t, "209867", row["tmdb_id"])
	assert.Equal(t, "55", row["series_id"])
	assert.Equal(t, "abc123", row["series_tag"])
	assert.Equal(t, "Animation, Fantasy", row["genres"])

	var urls []map[string]any
	require.NoError(t, json.Unmarshal([]byte(row["external_urls"].(string)), &urls))
	assert.Equal(t, "TheMovieDb", urls[0]["Name"])
}

func TestIngestEmbyFlattenedItem(t *testing.T) {
	st, _, mux := setup(t)

	rec := post(t, mux, "/webhook/emby", `{"Name": "Suzume", "Type": "Movie"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	row, err := st.SelectUnsent(t.Context(), event.SourceEmby)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "Suzume", row["title"])
	assert.Equal(t, "Movie", row["type"])
}

func TestIngestRejectsBadJSON(t *testing.T) {
	_, _, mux := setup(t)

	rec := post(t, mux, "/webhook/anirss", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(t, mux, "/webhook/anirss", `{"unknown_key": "x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestMethodNotAllowed(t *testing.T) {
	_, _, mux := setup(t)

	req := httptest.NewRequest(http.MethodGet, "/webhook/anirss", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
