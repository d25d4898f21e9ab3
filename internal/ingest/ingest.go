// Package ingest implements the webhook endpoints that turn incoming
// AniRSS and Emby notifications into unsent source rows.
package ingest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/anipush/anipush/internal/event"
	"github.com/anipush/anipush/internal/events"
	"github.com/anipush/anipush/internal/store"
)

const maxBodySize = 1 << 20 // 1 MiB

// Server handles webhook ingestion.
type Server struct {
	store *store.Store
	bus   *events.Bus // optional
	log   *slog.Logger
}

// New creates an ingest server.
func New(st *store.Store, bus *events.Bus, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{store: st, bus: bus, log: log.With("component", "ingest")}
}

// RegisterRoutes registers webhook routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhook/anirss", s.ingestAniRSS)
	mux.HandleFunc("POST /webhook/emby", s.ingestEmby)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, code int, errCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: message, Code: errCode})
}

func writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) ingestAniRSS(w http.ResponseWriter, r *http.Request) {
	s.ingest(w, r, event.SourceAniRSS, flattenAniRSS)
}

func (s *Server) ingestEmby(w http.ResponseWriter, r *http.Request) {
	s.ingest(w, r, event.SourceEmby, flattenEmby)
}

func (s *Server) ingest(w http.ResponseWriter, r *http.Request, src event.Source, flatten func(map[string]any) map[string]any) {
	var payload map[string]any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "request body is not valid JSON")
		return
	}

	row := flatten(payload)
	if len(row) == 0 {
		writeError(w, http.StatusBadRequest, "EMPTY_PAYLOAD", "no usable fields in payload")
		return
	}
	if _, ok := row["timestamp"]; !ok {
		row["timestamp"] = time.Now().Format(time.RFC3339)
	}

	id, err := s.store.InsertRecord(r.Context(), src, row)
	if err != nil {
		s.log.Error("store webhook row failed", "source", src.String(), "error", err)
		writeError(w, http.StatusInternalServerError, "STORE_FAILED", "could not store record")
		return
	}

	title, _ := row["title"].(string)
	s.log.Info("webhook accepted", "source", src.String(), "id", id, "title", title)

	if s.bus != nil {
		if err := s.bus.Publish(r.Context(), events.NewMediaReceivedEvent(src.String(), id, title)); err != nil {
			s.log.Warn("publish media event failed", "error", err)
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"id": id})
}

// flattenAniRSS maps an AniRSS notification onto anirss table columns.
// Key aliases cover the camelCase and snake_case variants seen in the
// wild; unknown keys are dropped.
func flattenAniRSS(payload map[string]any) map[string]any {
	row := map[string]any{}
	put := func(col string, keys ...string) {
		for _, key := range keys {
			if v := coerce(payload[key]); v != "" {
				row[col] = v
				return
			}
		}
	}
	put("title", "title", "name")
	put("season", "season")
	put("episode", "episode")
	put("action", "action")
	put("score", "score")
	put("tmdb_id", "tmdb_id", "tmdbId", "tmdbid")
	put("timestamp", "timestamp")
	put("image_url", "image_url", "imageUrl", "image")
	put("subgroup", "subgroup")
	put("progress", "progress")
	put("premiere", "premiere")
	put("bangumi_url", "bangumi_url", "bangumiUrl")
	put("tmdb_url", "tmdb_url", "tmdbUrl")
	put("tmdb_episode_title", "tmdb_episode_title", "tmdbEpisodeTitle")
	put("bangumi_episode_title", "bangumi_episode_title", "bangumiEpisodeTitle")
	put("bangumi_jpepisode_title", "bangumi_jpepisode_title", "bangumiJpEpisodeTitle")
	return row
}

// flattenEmby maps an Emby webhook onto emby table columns. Emby nests
// the media under Item; structured fields are stored as JSON text.
func flattenEmby(payload map[string]any) map[string]any {
	item, ok := payload["Item"].(map[string]any)
	if !ok {
		// Some notifier setups flatten Item to the top level.
		item = payload
	}

	row := map[string]any{}
	typ := coerce(item["Type"])
	if typ != "" {
		row["type"] = typ
	}

	title := coerce(item["SeriesName"])
	if title == "" {
		title = coerce(item["Name"])
	} else if typ == string(event.MediaEpisode) {
		row["episode_title"] = coerce(item["Name"])
	}
	if title != "" {
		row["title"] = title
	}

	if v := coerce(item["ParentIndexNumber"]); v != "" {
		row["season"] = v
	}
	if v := coerce(item["IndexNumber"]); v != "" {
		row["episode"] = v
	}
	if v := coerce(item["CommunityRating"]); v != "" {
		row["score"] = v
	}
	if v := coerce(item["PremiereDate"]); v != "" {
		row["premiere"] = v
	}
	if v := coerce(item["SeriesId"]); v != "" {
		row["series_id"] = v
	}
	if v := coerce(item["SeriesPrimaryImageTag"]); v != "" {
		row["series_tag"] = v
	}
	if genres, ok := item["Genres"].([]any); ok && len(genres) > 0 {
		parts := make([]string, 0, len(genres))
		for _, g := range genres {
			if s := coerce(g); s != "" {
				parts = append(parts, s)
			}
		}
		row["genres"] = strings.Join(parts, ", ")
	}
	if ids, ok := item["ProviderIds"].(map[string]any); ok {
		if v := coerce(ids["Tmdb"]); v != "" {
			row["tmdb_id"] = v
		}
		row["provider_ids"] = encodeJSON(ids)
	}
	if urls, ok := item["ExternalUrls"].([]any); ok && len(urls) > 0 {
		row["external_urls"] = encodeJSON(urls)
	}
	return row
}

func encodeJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// coerce renders scalar payload values as column text.
func coerce(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case int, int64:
		return fmt.Sprintf("%d", t)
	default:
		return ""
	}
}
