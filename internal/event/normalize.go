package event

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Normalizer maps raw source records plus an optional enrichment record
// into a Canonical event. It never fails: missing or malformed fields
// resolve to zero values with a logged diagnostic.
type Normalizer struct {
	embyHost string
	log      *slog.Logger
}

// NewNormalizer creates a normalizer. embyHost is used to build Emby
// image URLs from (series id, tag) pairs and may be empty.
func NewNormalizer(embyHost string, log *slog.Logger) *Normalizer {
	if log == nil {
		log = slog.Default()
	}
	return &Normalizer{embyHost: embyHost, log: log}
}

// Normalize extracts a Canonical event from a raw record and its
// enrichment row. anime may be nil or empty; every enrichment-backed
// field then falls back to its zero value.
func (n *Normalizer) Normalize(src Source, rec, anime Raw) *Canonical {
	c := &Canonical{
		Source:    src,
		ID:        n.pickID(src, rec),
		Title:     n.pickTitle(rec, anime),
		MediaType: pickMediaType(src, rec),
	}
	c.Episode = n.pickEpisode(src, rec)
	c.EpisodeTitle = pickEpisodeTitle(src, rec)
	c.Timestamp = n.pickTimestamp(rec)
	c.Action = pickAction(src, rec)
	c.Score = n.pickFirst("score", rec, anime)
	c.Genres = n.pickGenres(src, rec, anime)
	c.TMDBID = n.pickFirst("tmdb_id", rec, anime)
	c.Season = pickSeason(src, rec)
	c.Subgroup = asString(rec["subgroup"])
	c.Progress = asString(rec["progress"])
	c.Premiere = n.pickPremiere(rec, anime)
	c.BgmURL = n.pickBgmURL(src, rec, anime)
	c.TMDBURL = n.pickTMDBURL(src, rec, c.TMDBID, c.MediaType)
	c.GroupSubscribers, c.PrivateSubscribers = decodeSubscribers(anime, n.log)
	c.ImageQueue = n.pickImageQueue(src, rec, anime)
	return c
}

func (n *Normalizer) pickID(src Source, rec Raw) int64 {
	if id, ok := asInt(rec["id"]); ok {
		return id
	}
	n.log.Warn("record has no id, marking sent will fail", "source", src)
	return 0
}

func (n *Normalizer) pickTitle(rec, anime Raw) string {
	if t := asString(rec["title"]); t != "" {
		return t
	}
	if t := asString(anime["emby_title"]); t != "" {
		return t
	}
	if t := asString(anime["tmdb_title"]); t != "" {
		return t
	}
	n.log.Debug("no title extracted")
	return ""
}

// pickEpisode builds the display label. AniRSS records carry bare
// season/episode numbers; Emby depends on the type discriminator.
func (n *Normalizer) pickEpisode(src Source, rec Raw) string {
	switch src {
	case SourceAniRSS:
		return seasonEpisodeLabel(rec["season"], rec["episode"])
	case SourceEmby:
		typ := asString(rec["type"])
		switch MediaType(typ) {
		case MediaMovie:
			return ""
		case MediaSeries:
			if merged := asString(rec["merged_episode"]); merged != "" {
				return fmt.Sprintf("合计 %s 集更新", merged)
			}
			n.log.Debug("series record missing merged_episode")
			return ""
		case MediaEpisode:
			s, e := asString(rec["season"]), asString(rec["episode"])
			if !isDigits(s) || !isDigits(e) {
				n.log.Debug("invalid season/episode fields", "season", s, "episode", e)
				return ""
			}
			return seasonEpisodeLabel(rec["season"], rec["episode"])
		default:
			n.log.Debug("unknown emby record type", "type", typ)
			return ""
		}
	}
	return ""
}

func seasonEpisodeLabel(season, episode any) string {
	s, okS := asInt(season)
	e, okE := asInt(episode)
	if !okS || !okE {
		return ""
	}
	return fmt.Sprintf("第 %d 季 | 第 %d 集", s, e)
}

func pickEpisodeTitle(src Source, rec Raw) string {
	switch src {
	case SourceAniRSS:
		for _, key := range []string{"tmdb_episode_title", "bangumi_episode_title", "bangumi_jpepisode_title"} {
			if t := asString(rec[key]); t != "" {
				return t
			}
		}
	case SourceEmby:
		return asString(rec["episode_title"])
	}
	return ""
}

func (n *Normalizer) pickTimestamp(rec Raw) string {
	raw := asString(rec["timestamp"])
	if raw == "" {
		n.log.Debug("record has no timestamp")
		return ""
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.Format("01-02 15:04:05")
		}
	}
	n.log.Debug("unparseable timestamp", "value", raw)
	return ""
}

func pickAction(src Source, rec Raw) string {
	switch src {
	case SourceAniRSS:
		return asString(rec["action"])
	case SourceEmby:
		return "媒体更新已完成"
	}
	return ""
}

// pickFirst returns the raw record's value for key, falling back to the
// enrichment row.
func (n *Normalizer) pickFirst(key string, rec, anime Raw) string {
	if v := asString(rec[key]); v != "" {
		return v
	}
	if v := asString(anime[key]); v != "" {
		return v
	}
	n.log.Debug("field not extracted", "field", key)
	return ""
}

func (n *Normalizer) pickGenres(src Source, rec, anime Raw) string {
	// AniRSS feeds carry no genre data of their own.
	if src == SourceEmby {
		if g := asString(rec["genres"]); g != "" {
			return g
		}
	}
	if g := asString(anime["genres"]); g != "" {
		return g
	}
	n.log.Debug("field not extracted", "field", "genres")
	return ""
}

func pickMediaType(src Source, rec Raw) MediaType {
	switch src {
	case SourceEmby:
		return MediaType(asString(rec["type"]))
	case SourceAniRSS:
		_, hasSeason := asInt(rec["season"])
		_, hasEpisode := asInt(rec["episode"])
		switch {
		case hasSeason && hasEpisode:
			return MediaEpisode
		case hasSeason:
			return MediaSeries
		}
	}
	return ""
}

func pickSeason(src Source, rec Raw) string {
	if src == SourceEmby && MediaType(asString(rec["type"])) == MediaMovie {
		return ""
	}
	raw, ok := rec["season"]
	if !ok || raw == nil {
		return ""
	}
	if s, ok := asInt(raw); ok {
		return strconv.FormatInt(s, 10)
	}
	return asString(raw)
}

func (n *Normalizer) pickPremiere(rec, anime Raw) string {
	for _, key := range []string{"premiere", "PremiereDate"} {
		if p := asString(rec[key]); p != "" {
			if i := strings.Index(p, "T"); i >= 0 {
				return p[:i]
			}
			return p
		}
	}
	if p := asString(anime["premiere"]); p != "" {
		return p
	}
	n.log.Debug("field not extracted", "field", "premiere")
	return ""
}

func (n *Normalizer) pickBgmURL(src Source, rec, anime Raw) string {
	for _, key := range []string{"bangumi_url", "bgmUrl"} {
		if u := asString(rec[key]); u != "" {
			return u
		}
	}
	if src == SourceEmby {
		if u := externalURL(rec, "bangumi"); u != "" {
			return u
		}
		if ids := asMap(rec["provider_ids"]); ids != nil {
			if id := asString(ids["Bangumi"]); id != "" {
				return "https://bgm.tv/subject/" + id
			}
		}
	}
	if u := asString(anime["bangumi_url"]); u != "" {
		return u
	}
	n.log.Debug("field not extracted", "field", "bgm_url")
	return ""
}

func (n *Normalizer) pickTMDBURL(src Source, rec Raw, tmdbID string, media MediaType) string {
	for _, key := range []string{"tmdb_url", "tmdbUrl"} {
		if u := strings.TrimSpace(asString(rec[key])); u != "" {
			return u
		}
	}
	if src == SourceEmby {
		if u := externalURL(rec, "themoviedb"); u != "" {
			return u
		}
	}
	if tmdbID != "" {
		kind := "tv"
		if strings.EqualFold(string(media), "movie") {
			kind = "movie"
		}
		return fmt.Sprintf("https://www.themoviedb.org/%s/%s", kind, tmdbID)
	}
	n.log.Debug("field not extracted", "field", "tmdb_url")
	return ""
}

// externalURL scans an Emby external_urls list for a case-insensitive
// name match. Entries use either Name/Url or name/url keys. The list
// arrives structured from webhooks but as JSON text from stored rows.
func externalURL(rec Raw, name string) string {
	list := asList(rec["external_urls"])
	if list == nil {
		return ""
	}
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		got := asString(obj["Name"])
		if got == "" {
			got = asString(obj["name"])
		}
		if !strings.EqualFold(got, name) {
			continue
		}
		if u := asString(obj["Url"]); u != "" {
			return u
		}
		if u := asString(obj["url"]); u != "" {
			return u
		}
	}
	return ""
}

func (n *Normalizer) pickImageQueue(src Source, rec, anime Raw) []string {
	var queue []string
	switch src {
	case SourceEmby:
		tag := asString(rec["series_tag"])
		seriesID := asString(rec["series_id"])
		if tag != "" && seriesID != "" && n.embyHost != "" {
			queue = append(queue, EmbyImageURL(n.embyHost, seriesID, tag))
		} else {
			n.log.Debug("cannot build emby image url", "series_id", seriesID, "tag", tag)
		}
	case SourceAniRSS:
		if u := asString(rec["image_url"]); u != "" {
			queue = append(queue, u)
		}
	}
	queue = append(queue, asString(anime["emby_image_url"]), asString(anime["anirss_image_url"]))
	return dedupe(queue)
}

// EmbyImageURL builds the primary-image URL for a series.
func EmbyImageURL(host, seriesID, tag string) string {
	return fmt.Sprintf("%s/emby/Items/%s/Images/Primary?tag=%s&quality=90",
		strings.TrimRight(host, "/"), seriesID, tag)
}

// dedupe drops empty entries and duplicates, preserving first-seen order.
func dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := urls[:0]
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// asList accepts a native list or its JSON-text encoding.
func asList(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case string:
		var list []any
		if err := json.Unmarshal([]byte(t), &list); err != nil {
			return nil
		}
		return list
	}
	return nil
}

// asMap accepts a native map or its JSON-text encoding.
func asMap(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(t), &m); err != nil {
			return nil
		}
		return m
	}
	return nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// asString renders scalar values as strings. Maps, slices and nil come
// back empty; numeric values are formatted without an exponent.
func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// asInt coerces numeric and numeric-string values.
func asInt(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		return int64(t), true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	}
	return 0, false
}
