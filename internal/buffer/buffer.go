// Package buffer debounces per-title episode events and flushes them as
// one merged event after a quiet window.
package buffer

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/anipush/anipush/internal/event"
)

// DefaultWindow is the quiet period after which a bucket flushes.
const DefaultWindow = 60 * time.Second

// FlushFunc receives the merged event when a bucket's window expires.
// A returned error drops the merged notification; it is not retried.
type FlushFunc func(merged *event.Canonical) error

// Buffer groups canonical events by (title, season) and debounces a
// flush per group. Every arrival for a key restarts that key's window,
// so a key under continuous arrivals flushes only after a full quiet
// window. Construct one per process and tie it to the server lifecycle.
type Buffer struct {
	window time.Duration
	log    *slog.Logger

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	mu     sync.Mutex
	events []*event.Canonical
	timer  *time.Timer
	gen    uint64 // incremented per arrival; stale timers check it and bail
}

// New creates a buffer. window <= 0 selects DefaultWindow.
func New(window time.Duration, log *slog.Logger) *Buffer {
	if window <= 0 {
		window = DefaultWindow
	}
	if log == nil {
		log = slog.Default()
	}
	return &Buffer{
		window:  window,
		log:     log,
		buckets: make(map[string]*bucket),
	}
}

// Add appends ev to the bucket for (title, season) and (re)arms the
// bucket's flush timer. It returns immediately; flush runs the callback
// from the timer goroutine.
func (b *Buffer) Add(title string, ev *event.Canonical, flush FlushFunc) {
	key := bucketKey(title, ev.Season)

	b.mu.Lock()
	bu, ok := b.buckets[key]
	if !ok {
		bu = &bucket{}
		b.buckets[key] = bu
		b.log.Info("buffering started", "key", key, "window", b.window)
	}
	b.mu.Unlock()

	bu.mu.Lock()
	defer bu.mu.Unlock()

	bu.events = append(bu.events, ev)
	bu.gen++
	gen := bu.gen
	if bu.timer != nil {
		bu.timer.Stop()
	}
	bu.timer = time.AfterFunc(b.window, func() {
		b.flush(key, bu, gen, flush)
	})
}

func (b *Buffer) flush(key string, bu *bucket, gen uint64, fn FlushFunc) {
	bu.mu.Lock()
	if bu.gen != gen || len(bu.events) == 0 {
		// Superseded by a later arrival or already flushed.
		bu.mu.Unlock()
		return
	}
	events := bu.events
	bu.events = nil
	bu.mu.Unlock()

	b.mu.Lock()
	delete(b.buckets, key)
	b.mu.Unlock()

	merged := mergeEvents(events)
	if err := fn(merged); err != nil {
		// Dropped by design: the bucket is already cleared, no retry.
		b.log.Error("merged flush failed, events dropped",
			"key", key, "events", len(events), "error", err)
		return
	}
	b.log.Info("merged flush complete",
		"key", key, "episodes", merged.EpisodeCount, "range", merged.EpisodeRange)
}

// Stop cancels all pending timers without flushing. Buffered events are
// discarded; intended for process shutdown.
func (b *Buffer) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, bu := range b.buckets {
		bu.mu.Lock()
		if bu.timer != nil {
			bu.timer.Stop()
		}
		if n := len(bu.events); n > 0 {
			b.log.Warn("discarding buffered events on stop", "key", key, "events", n)
		}
		bu.events = nil
		bu.gen++
		bu.mu.Unlock()
		delete(b.buckets, key)
	}
}

// Pending reports the number of live buckets. Test hook.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buckets)
}

// mergeEvents computes the merged event for one bucket: first event's
// shape and image, last event's action and timestamp, episode numbers
// collected across all of them.
func mergeEvents(events []*event.Canonical) *event.Canonical {
	first, last := events[0], events[len(events)-1]

	var numbers []int
	for _, ev := range events {
		if n, ok := episodeNumber(ev.Episode); ok {
			numbers = append(numbers, n)
		}
	}
	numbers = uniqueSorted(numbers)

	merged := *first
	merged.Merged = true
	merged.Season = mergedSeason(events)
	merged.EpisodeCount = len(numbers)
	merged.EpisodeList = numbers
	merged.EpisodeRange = FormatRange(numbers)
	merged.Timestamp = last.Timestamp

	switch {
	case last.Action != "":
		merged.Action = last.Action
	case last.Source == event.SourceEmby:
		merged.Action = "媒体库批量更新"
	default:
		merged.Action = "下载合并推送"
	}
	return &merged
}

// mergedSeason picks the first season that carries a real number;
// everything else falls back to "1".
func mergedSeason(events []*event.Canonical) string {
	for _, ev := range events {
		if s, ok := seasonNumber(ev.Season); ok {
			return s
		}
	}
	return "1"
}

var digitRun = regexp.MustCompile(`\d+`)

// episodeNumber extracts the first integer run from an episode label.
func episodeNumber(label string) (int, bool) {
	m := digitRun.FindString(label)
	if m == "" {
		return 0, false
	}
	n := 0
	for _, r := range m {
		n = n*10 + int(r-'0')
	}
	return n, true
}

// seasonNumber extracts the digit run from a season string. The literal
// "none" and empty strings carry no number.
func seasonNumber(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "none") {
		return "", false
	}
	if m := digitRun.FindString(s); m != "" {
		return m, true
	}
	return "", false
}

// FormatRange compresses a sorted unique episode list into a display
// string: contiguous runs as "E01-E05", isolated numbers as "E03",
// comma-joined. An empty list renders the unknown marker.
func FormatRange(numbers []int) string {
	if len(numbers) == 0 {
		return "未知"
	}
	var parts []string
	start, end := numbers[0], numbers[0]
	emit := func() {
		if start == end {
			parts = append(parts, fmt.Sprintf("E%02d", start))
		} else {
			parts = append(parts, fmt.Sprintf("E%02d-E%02d", start, end))
		}
	}
	for _, n := range numbers[1:] {
		if n == end+1 {
			end = n
			continue
		}
		emit()
		start, end = n, n
	}
	emit()
	return strings.Join(parts, ",")
}

func uniqueSorted(numbers []int) []int {
	sort.Ints(numbers)
	out := numbers[:0]
	for i, n := range numbers {
		if i > 0 && numbers[i-1] == n {
			continue
		}
		out = append(out, n)
	}
	return out
}

// keyFold strips accents and applies compatibility normalization so
// half-width and full-width spellings of the same title share a bucket.
var keyFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFKC)

func bucketKey(title, season string) string {
	folded, _, err := transform.String(keyFold, strings.TrimSpace(title))
	if err != nil {
		folded = strings.TrimSpace(title)
	}
	s, ok := seasonNumber(season)
	if !ok {
		s = "1"
	}
	return folded + "_S" + s
}
