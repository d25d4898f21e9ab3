// Package event defines the canonical media-update event and the
// normalizer that produces it from raw source records.
package event

// Source identifies where a raw record came from. It doubles as the
// source table name in the store.
type Source string

const (
	SourceAniRSS Source = "anirss"
	SourceEmby   Source = "emby"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	return s == SourceAniRSS || s == SourceEmby
}

func (s Source) String() string { return string(s) }

// MediaType classifies a record. Emby reports it directly; for AniRSS it
// is inferred from which numeric fields are present.
type MediaType string

const (
	MediaMovie   MediaType = "Movie"
	MediaSeries  MediaType = "Series"
	MediaEpisode MediaType = "Episode"
)

// Raw is an untyped key/value record as it comes out of a source table
// or a webhook payload. Values may be string, int64, float64, nested
// maps/slices, or nil depending on where the record was scanned from.
type Raw map[string]any

// Canonical is the normalized, source-agnostic representation of one
// media update. Absent fields are zero values; downstream stages must
// tolerate partial data.
type Canonical struct {
	ID           int64
	Title        string
	Episode      string // display label, e.g. "第 1 季 | 第 3 集"
	EpisodeTitle string
	Timestamp    string // formatted MM-DD HH:MM:SS
	Source       Source
	Action       string
	Score        string
	Genres       string
	TMDBID       string
	Season       string
	Subgroup     string
	Progress     string
	Premiere     string
	BgmURL       string
	TMDBURL      string
	MediaType    MediaType

	GroupSubscribers   map[string][]string
	PrivateSubscribers []string

	// ImageQueue holds candidate image URLs in priority order,
	// de-duplicated. Image is filled in later by the pipeline once the
	// cache selector has resolved a local path.
	ImageQueue []string
	Image      string

	// Merge fields, set only on events produced by a buffer flush.
	Merged       bool
	EpisodeCount int
	EpisodeRange string
	EpisodeList  []int
}

// Fields flattens the event into the map consumed by the template
// renderer. Zero values are kept; the renderer skips empty dynamic
// fields itself.
func (c *Canonical) Fields() map[string]any {
	m := map[string]any{
		"title":         c.Title,
		"episode":       c.Episode,
		"episode_title": c.EpisodeTitle,
		"timestamp":     c.Timestamp,
		"source":        c.Source.String(),
		"action":        c.Action,
		"score":         c.Score,
		"genres":        c.Genres,
		"tmdb_id":       c.TMDBID,
		"season":        c.Season,
		"subgroup":      c.Subgroup,
		"progress":      c.Progress,
		"premiere":      c.Premiere,
		"bgm_url":       c.BgmURL,
		"tmdb_url":      c.TMDBURL,
		"media_type":    string(c.MediaType),
		"image":         c.Image,
	}
	if c.Merged {
		m["episode_count"] = c.EpisodeCount
		m["episode_range"] = c.EpisodeRange
	}
	return m
}
