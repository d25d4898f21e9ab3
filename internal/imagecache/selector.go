// Package imagecache resolves a usable local image for a push through a
// fresh-cache, race-download, stale-cache, bundled-default fallback
// chain. All writes to the cache directory are atomic (temp + rename).
package imagecache

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anipush/anipush/internal/event"
)

// DefaultTTL is how long a cached image counts as fresh.
const DefaultTTL = 14 * 24 * time.Hour

// Config for a Selector.
type Config struct {
	CacheDir     string
	DefaultImage string // bundled fallback, may be empty
	EmbyHost     string
	EmbyKey      string
	Proxy        string // proxy URL for Emby fetches, may be empty
	EmbyEnabled  bool   // opaque tags resolve to Emby URLs only when set
	TTL          time.Duration
}

// Request identifies one image lookup: the candidate queue from the
// normalizer plus the identity keys the cache path derives from.
type Request struct {
	Candidates   []string // literal URLs or opaque Emby image tags
	TMDBID       string
	EmbySeriesID string
}

// Selector picks images. Safe for concurrent use; concurrent selections
// for the same key may race on the cache file, which the atomic rename
// resolves last-writer-wins.
type Selector struct {
	cfg     Config
	fetcher *fetcher
	log     *slog.Logger
}

// New creates a selector.
func New(cfg Config, log *slog.Logger) *Selector {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Selector{
		cfg:     cfg,
		fetcher: newFetcher(cfg.Proxy, log),
		log:     log,
	}
}

// Select returns a local image path for the request, or "" when every
// fallback is exhausted. It never returns an error: image loss degrades
// a push, it does not abort one.
func (s *Selector) Select(ctx context.Context, req Request) string {
	cachePath := s.cachePath(req)

	var local string
	expired := false
	if cachePath != "" {
		local, expired = s.lookupLocal(cachePath)
		if local != "" && !expired {
			s.log.Info("using fresh cached image", "path", local)
			return local
		}
		if local != "" {
			s.log.Info("cached image expired, refreshing", "path", local)
		}
	}

	if fresh := s.refresh(ctx, req, cachePath); fresh != "" {
		return fresh
	}
	if local != "" {
		s.log.Warn("refresh failed, falling back to stale cached image", "path", local)
		return local
	}
	if s.cfg.DefaultImage != "" {
		if _, err := os.Stat(s.cfg.DefaultImage); err == nil {
			s.log.Warn("no image available, using bundled default")
			return s.cfg.DefaultImage
		}
	}
	s.log.Warn("no image available for push")
	return ""
}

// cachePath derives the deterministic on-disk path for the request's
// identity, or "" when no cache key is possible.
func (s *Selector) cachePath(req Request) string {
	key := ""
	switch {
	case req.TMDBID != "" && !strings.EqualFold(req.TMDBID, "none"):
		key = req.TMDBID
	case req.EmbySeriesID != "":
		key = "emby_" + req.EmbySeriesID
	}
	if key == "" || s.cfg.CacheDir == "" {
		s.log.Debug("no cache key available, skipping local cache")
		return ""
	}
	return filepath.Join(s.cfg.CacheDir, key+".png")
}

// lookupLocal reports the cached file and whether it is past the TTL.
// Stat errors on an existing file count as expired, fail-safe.
func (s *Selector) lookupLocal(path string) (string, bool) {
	info, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("stat on cached image failed", "path", path, "error", err)
		}
		return "", false
	}
	return path, time.Since(info.ModTime()) > s.cfg.TTL
}

// refresh races the candidate downloads and persists the winner.
func (s *Selector) refresh(ctx context.Context, req Request, cachePath string) string {
	if cachePath == "" {
		// Nowhere to store a download; a fetch would be wasted.
		return ""
	}
	targets := s.resolveCandidates(req)
	if len(targets) == 0 {
		return ""
	}
	data, err := s.fetcher.race(ctx, targets)
	if err != nil {
		s.log.Warn("all image downloads failed", "candidates", len(targets), "error", err)
		return ""
	}
	if err := writeAtomic(cachePath, data); err != nil {
		s.log.Warn("persisting image failed", "path", cachePath, "error", err)
		return ""
	}
	s.log.Info("image cache refreshed", "path", cachePath)
	return cachePath
}

// resolveCandidates partitions the queue into fetch targets. Literal
// URLs pass through; opaque tags become Emby URLs when the Emby
// integration is enabled and a series id is known, otherwise they are
// dropped.
func (s *Selector) resolveCandidates(req Request) []target {
	var targets []target
	seen := make(map[string]struct{})
	add := func(t target) {
		if _, dup := seen[t.url]; dup {
			return
		}
		seen[t.url] = struct{}{}
		targets = append(targets, t)
	}
	for _, c := range req.Candidates {
		if isURL(c) {
			add(target{url: c})
			continue
		}
		if !s.cfg.EmbyEnabled || s.cfg.EmbyHost == "" {
			s.log.Warn("dropping image tag, emby resolution disabled", "tag", c)
			continue
		}
		if req.EmbySeriesID == "" {
			s.log.Warn("dropping image tag, no series id to resolve against", "tag", c)
			continue
		}
		add(target{
			url:      event.EmbyImageURL(s.cfg.EmbyHost, req.EmbySeriesID, c),
			embyAuth: s.cfg.EmbyKey,
			useProxy: true,
		})
	}
	return targets
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// writeAtomic writes to a sibling temp file and renames it over the
// destination; the temp file is removed on any failure.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// Prune removes cache files older than the TTL and returns how many
// were deleted.
func (s *Selector) Prune() (int, error) {
	if s.cfg.CacheDir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(s.cfg.CacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".png") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) <= s.cfg.TTL {
			continue
		}
		if err := os.Remove(filepath.Join(s.cfg.CacheDir, e.Name())); err != nil {
			s.log.Warn("prune failed", "file", e.Name(), "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
