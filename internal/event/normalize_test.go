package event

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNormalizer() *Normalizer {
	return NewNormalizer("http://emby.local:8096", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestNormalize_AniRSSEpisode(t *testing.T) {
	n := testNormalizer()

	c := n.Normalize(SourceAniRSS, Raw{
		"id":        int64(7),
		"title":     "葬送のフリーレン",
		"season":    "2",
		"episode":   "5",
		"action":    "下载完成",
		"image_url": "https://img.example/frieren.jpg",
		"timestamp": "2026-08-30T21:04:05+08:00",
	}, nil)

	assert.Equal(t, int64(7), c.ID)
	assert.Equal(t, "葬送のフリーレン", c.Title)
	assert.Equal(t, "第 2 季 | 第 5 集", c.Episode)
	assert.Equal(t, MediaEpisode, c.MediaType)
	assert.Equal(t, "2", c.Season)
	assert.Equal(t, "下载完成", c.Action)
	assert.Equal(t, "08-30 21:04:05", c.Timestamp)
	assert.Equal(t, []string{"https://img.example/frieren.jpg"}, c.ImageQueue)
}

func TestNormalize_AniRSSSeasonOnlyIsSeries(t *testing.T) {
	n := testNormalizer()

	c := n.Normalize(SourceAniRSS, Raw{"id": int64(1), "title": "x", "season": "1"}, nil)
	assert.Equal(t, MediaSeries, c.MediaType)
	assert.Empty(t, c.Episode)

	c = n.Normalize(SourceAniRSS, Raw{"id": int64(2), "title": "x"}, nil)
	assert.Empty(t, string(c.MediaType))
}

func TestNormalize_EmbyMovieHasNoEpisodeOrSeason(t *testing.T) {
	n := testNormalizer()

	// Movie discriminator wins even when season/episode fields are set.
	c := n.Normalize(SourceEmby, Raw{
		"id":      int64(3),
		"title":   "Suzume",
		"type":    "Movie",
		"season":  "1",
		"episode": "4",
	}, nil)

	assert.Equal(t, MediaMovie, c.MediaType)
	assert.Empty(t, c.Episode)
	assert.Empty(t, c.Season)
}

func TestNormalize_EmbySeriesMergedCount(t *testing.T) {
	n := testNormalizer()

	c := n.Normalize(SourceEmby, Raw{
		"id": int64(4), "title": "x", "type": "Series", "merged_episode": "12",
	}, nil)
	assert.Equal(t, "合计 12 集更新", c.Episode)

	c = n.Normalize(SourceEmby, Raw{"id": int64(4), "title": "x", "type": "Series"}, nil)
	assert.Empty(t, c.Episode)
}

func TestNormalize_EmbyEpisodeRequiresDigitFields(t *testing.T) {
	n := testNormalizer()

	c := n.Normalize(SourceEmby, Raw{
		"id": int64(5), "title": "x", "type": "Episode", "season": "1", "episode": "03",
	}, nil)
	assert.Equal(t, "第 1 季 | 第 3 集", c.Episode)

	c = n.Normalize(SourceEmby, Raw{
		"id": int64(5), "title": "x", "type": "Episode", "season": "one", "episode": "3",
	}, nil)
	assert.Empty(t, c.Episode)
}

func TestNormalize_UnknownEmbyType(t *testing.T) {
	n := testNormalizer()

	c := n.Normalize(SourceEmby, Raw{"id": int64(6), "title": "x", "type": "Special"}, nil)
	assert.Empty(t, c.Episode)
	assert.Equal(t, MediaType("Special"), c.MediaType)
}

func TestNormalize_TitleFallsBackToEnrichment(t *testing.T) {
	n := testNormalizer()

	c := n.Normalize(SourceAniRSS, Raw{"id": int64(1)}, Raw{"emby_title": "From Emby"})
	assert.Equal(t, "From Emby", c.Title)

	c = n.Normalize(SourceAniRSS, Raw{"id": int64(1)}, Raw{"tmdb_title": "From TMDB"})
	assert.Equal(t, "From TMDB", c.Title)
}

func TestNormalize_TMDBURL(t *testing.T) {
	n := testNormalizer()

	// Explicit URL wins and is trimmed.
	c := n.Normalize(SourceAniRSS, Raw{
		"id": int64(1), "title": "x", "tmdb_url": "  https://www.themoviedb.org/tv/1234  ",
	}, nil)
	assert.Equal(t, "https://www.themoviedb.org/tv/1234", c.TMDBURL)

	// Synthesized from the reference id; tv unless classified as movie.
	c = n.Normalize(SourceEmby, Raw{
		"id": int64(1), "title": "x", "type": "Episode",
		"season": "1", "episode": "1", "tmdb_id": "42",
	}, nil)
	assert.Equal(t, "https://www.themoviedb.org/tv/42", c.TMDBURL)

	c = n.Normalize(SourceEmby, Raw{
		"id": int64(1), "title": "x", "type": "Movie", "tmdb_id": "42",
	}, nil)
	assert.Equal(t, "https://www.themoviedb.org/movie/42", c.TMDBURL)
}

func TestNormalize_ExternalURLScan(t *testing.T) {
	n := testNormalizer()

	c := n.Normalize(SourceEmby, Raw{
		"id": int64(1), "title": "x", "type": "Episode", "season": "1", "episode": "1",
		"external_urls": []any{
			map[string]any{"Name": "IMDb", "Url": "https://imdb.example/1"},
			map[string]any{"name": "Bangumi", "url": "https://bgm.tv/subject/99"},
			map[string]any{"Name": "TheMovieDb", "Url": "https://www.themoviedb.org/tv/77"},
		},
	}, nil)

	assert.Equal(t, "https://bgm.tv/subject/99", c.BgmURL)
	assert.Equal(t, "https://www.themoviedb.org/tv/77", c.TMDBURL)
}

func TestNormalize_BgmURLFromProviderIDs(t *testing.T) {
	n := testNormalizer()

	c := n.Normalize(SourceEmby, Raw{
		"id": int64(1), "title": "x", "type": "Movie",
		"provider_ids": map[string]any{"Bangumi": "321"},
	}, nil)
	assert.Equal(t, "https://bgm.tv/subject/321", c.BgmURL)
}

func TestNormalize_PremiereDateTrimmedAtT(t *testing.T) {
	n := testNormalizer()

	c := n.Normalize(SourceEmby, Raw{
		"id": int64(1), "title": "x", "type": "Movie",
		"PremiereDate": "2026-04-01T00:00:00.000Z",
	}, nil)
	assert.Equal(t, "2026-04-01", c.Premiere)
}

func TestNormalize_ImageQueueDedupe(t *testing.T) {
	n := testNormalizer()

	c := n.Normalize(SourceEmby, Raw{
		"id": int64(1), "title": "x", "type": "Episode",
		"season": "1", "episode": "1",
		"series_id": "55", "series_tag": "abc",
	}, Raw{
		"emby_image_url":   EmbyImageURL("http://emby.local:8096", "55", "abc"),
		"anirss_image_url": "https://img.example/a.jpg",
	})

	require.Len(t, c.ImageQueue, 2)
	assert.Equal(t, EmbyImageURL("http://emby.local:8096", "55", "abc"), c.ImageQueue[0])
	assert.Equal(t, "https://img.example/a.jpg", c.ImageQueue[1])
}

func TestNormalize_NeverPanicsOnEmptyRecord(t *testing.T) {
	n := testNormalizer()

	c := n.Normalize(SourceEmby, Raw{}, nil)
	require.NotNil(t, c)
	assert.Zero(t, c.ID)
	assert.Empty(t, c.Title)
	assert.NotNil(t, c.GroupSubscribers)
	assert.NotNil(t, c.PrivateSubscribers)
}
