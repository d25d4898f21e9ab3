// Package pipeline drives one unsent-record cycle per run: fetch,
// enrich, normalize, select image, resolve recipients, commit the sent
// flag, then route to immediate dispatch or the merge buffer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/anipush/anipush/internal/buffer"
	"github.com/anipush/anipush/internal/event"
	"github.com/anipush/anipush/internal/events"
	"github.com/anipush/anipush/internal/imagecache"
	"github.com/anipush/anipush/internal/render"
	"github.com/anipush/anipush/internal/store"
	"github.com/anipush/anipush/pkg/onebot"
)

// ErrMissingID marks a source row that can never be committed.
var ErrMissingID = errors.New("record has no id")

// Sender delivers rendered messages.
type Sender interface {
	SendPrivate(ctx context.Context, msg onebot.Message, userIDs []string) error
	SendGroup(ctx context.Context, msg onebot.Message, groupID string) error
}

// Targets is the configured allow-list for one source.
type Targets struct {
	Groups  []string
	Private []string
}

// Config controls recipient filtering and optional title matching.
type Config struct {
	Targets map[event.Source]Targets

	// TitleMatch enables a fuzzy title lookup against the enrichment
	// table when a record carries no usable tmdb id.
	TitleMatch bool
}

// Deps are the collaborators a Pipeline needs.
type Deps struct {
	Store      *store.Store
	Normalizer *event.Normalizer
	Images     *imagecache.Selector
	Buffer     *buffer.Buffer
	Renderer   *render.Renderer
	Sender     Sender
	Bus        *events.Bus // optional
	Config     Config
	Logger     *slog.Logger
}

// Pipeline sequences the push stages for one source at a time.
type Pipeline struct {
	store      *store.Store
	normalizer *event.Normalizer
	images     *imagecache.Selector
	buf        *buffer.Buffer
	renderer   *render.Renderer
	sender     Sender
	bus        *events.Bus
	cfg        Config
	log        *slog.Logger
}

// New creates a pipeline.
func New(d Deps) *Pipeline {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		store:      d.Store,
		normalizer: d.Normalizer,
		images:     d.Images,
		buf:        d.Buffer,
		renderer:   d.Renderer,
		sender:     d.Sender,
		bus:        d.Bus,
		cfg:        d.Config,
		log:        log.With("component", "pipeline"),
	}
}

// Run processes at most one unsent record for the source. A run with
// nothing pending is a no-op. The sent flag is committed before any
// dispatch, so delivery is at-most-once: failures after the commit
// point are logged and dropped, never retried.
func (p *Pipeline) Run(ctx context.Context, src event.Source) error {
	rec, err := p.store.SelectUnsent(ctx, src)
	if err != nil {
		return fmt.Errorf("fetch unsent record: %w", err)
	}
	if rec == nil {
		p.log.Debug("nothing pending", "source", src.String())
		return nil
	}

	id, ok := asInt64(rec["id"])
	if !ok {
		return fmt.Errorf("%w: source %s", ErrMissingID, src.String())
	}

	anime := p.enrich(ctx, rec)

	canon := p.normalizer.Normalize(src, rec, anime)
	canon.ID = id

	canon.Image = p.selectImage(ctx, rec, canon)

	if err := p.store.MarkSent(ctx, src, id); err != nil {
		return fmt.Errorf("commit sent flag: %w", err)
	}

	if canon.Title == "" {
		p.log.Warn("record has no title, dropping", "source", src.String(), "id", id)
		p.publish(ctx, events.NewPushDroppedEvent(src.String(), id, "", "missing title"))
		return nil
	}

	switch canon.MediaType {
	case event.MediaMovie:
		p.dispatch(ctx, canon)
	case event.MediaEpisode, event.MediaSeries:
		// Flushes after the quiet window; the run does not wait.
		flushCtx := context.WithoutCancel(ctx)
		p.buf.Add(canon.Title, canon, func(merged *event.Canonical) error {
			p.dispatch(flushCtx, merged)
			return nil
		})
	default:
		p.log.Warn("unknown media classification, dispatching immediately",
			"source", src.String(), "id", id, "media_type", string(canon.MediaType))
		p.dispatch(ctx, canon)
	}

	p.publish(ctx, events.NewPushSentEvent(src.String(), id, canon.Title, false))
	return nil
}

// enrich resolves the enrichment record. Every failure path degrades
// to an empty record.
func (p *Pipeline) enrich(ctx context.Context, rec event.Raw) event.Raw {
	tmdbID := normalizeTMDBID(rec["tmdb_id"])
	if tmdbID != "" {
		anime, err := p.store.AnimeByTMDBID(ctx, tmdbID)
		if err != nil {
			p.log.Warn("enrichment lookup failed", "tmdb_id", tmdbID, "error", err)
			return event.Raw{}
		}
		if anime == nil {
			p.log.Debug("no enrichment record", "tmdb_id", tmdbID)
			return event.Raw{}
		}
		return anime
	}

	if p.cfg.TitleMatch {
		title, _ := rec["title"].(string)
		if strings.TrimSpace(title) != "" {
			anime, err := p.store.AnimeByTitle(ctx, title)
			if err != nil {
				p.log.Warn("title match failed", "title", title, "error", err)
				return event.Raw{}
			}
			if anime != nil {
				return anime
			}
		}
	}
	return event.Raw{}
}

func (p *Pipeline) selectImage(ctx context.Context, rec event.Raw, canon *event.Canonical) string {
	if p.images == nil || len(canon.ImageQueue) == 0 {
		return ""
	}
	seriesID, _ := rec["series_id"].(string)
	return p.images.Select(ctx, imagecache.Request{
		Candidates:   canon.ImageQueue,
		TMDBID:       canon.TMDBID,
		EmbySeriesID: seriesID,
	})
}

type groupTarget struct {
	id    string
	users []string
}

// recipients filters the event's subscribers through the configured
// allow-lists for its source.
func (p *Pipeline) recipients(ev *event.Canonical) (private []string, groups []groupTarget) {
	tgt := p.cfg.Targets[ev.Source]

	allowed := make(map[string]bool, len(tgt.Private))
	for _, id := range tgt.Private {
		allowed[id] = true
	}
	for _, id := range ev.PrivateSubscribers {
		if allowed[id] {
			private = append(private, id)
		}
	}

	for _, gid := range tgt.Groups {
		groups = append(groups, groupTarget{id: gid, users: groupUsers(ev.GroupSubscribers, gid)})
	}
	return private, groups
}

// groupUsers looks a group up under both its literal and its numeric
// key form, since subscriber maps decoded from JSON may carry either.
func groupUsers(subs map[string][]string, gid string) []string {
	if users, ok := subs[gid]; ok {
		return users
	}
	if n, err := strconv.ParseInt(gid, 10, 64); err == nil {
		if users, ok := subs[strconv.FormatInt(n, 10)]; ok {
			return users
		}
	}
	return nil
}

// dispatch renders and delivers one event. Runs after the commit
// point: every failure here is logged and dropped.
func (p *Pipeline) dispatch(ctx context.Context, ev *event.Canonical) {
	private, groups := p.recipients(ev)
	if len(private) == 0 && len(groups) == 0 {
		p.log.Info("no recipients configured", "source", ev.Source.String(), "title", ev.Title)
		return
	}

	data := ev.Fields()
	data["at"] = []string{}

	if len(private) > 0 {
		msg, err := p.renderFull(ev, data)
		if err != nil {
			p.logDrop(ctx, ev, "render private: "+err.Error())
		} else if err := p.sender.SendPrivate(ctx, msg, private); err != nil {
			p.logDrop(ctx, ev, "send private: "+err.Error())
		}
	}

	if len(groups) == 0 {
		return
	}
	base, err := p.renderBase(ev, data)
	if err != nil {
		p.logDrop(ctx, ev, "render base: "+err.Error())
		return
	}
	for _, g := range groups {
		// Only the mention segment is rendered per group; the base
		// message is shared.
		data["at"] = g.users
		at, err := p.renderer.RenderAt(data)
		if err != nil {
			p.log.Warn("render mentions failed", "group", g.id, "error", err)
			at = nil
		}
		msg := append(append(onebot.Message{}, base...), at...)
		if err := p.sender.SendGroup(ctx, msg, g.id); err != nil {
			p.logDrop(ctx, ev, fmt.Sprintf("send group %s: %v", g.id, err))
		}
	}
}

func (p *Pipeline) renderFull(ev *event.Canonical, data map[string]any) (onebot.Message, error) {
	if ev.Merged {
		return p.renderer.RenderMerged(data)
	}
	return p.renderer.RenderAll(data)
}

func (p *Pipeline) renderBase(ev *event.Canonical, data map[string]any) (onebot.Message, error) {
	if ev.Merged {
		return p.renderer.RenderMerged(data)
	}
	return p.renderer.RenderBase(data)
}

func (p *Pipeline) logDrop(ctx context.Context, ev *event.Canonical, reason string) {
	p.log.Error("delivery dropped", "source", ev.Source.String(), "title", ev.Title, "reason", reason)
	p.publish(ctx, events.NewPushDroppedEvent(ev.Source.String(), ev.ID, ev.Title, reason))
}

func (p *Pipeline) publish(ctx context.Context, e events.Event) {
	if p.bus == nil {
		return
	}
	if err := p.bus.Publish(ctx, e); err != nil {
		p.log.Warn("publish event failed", "type", e.EventType(), "error", err)
	}
}

// normalizeTMDBID coerces the stored reference id, treating the
// sentinel "none" and empty values as no reference.
func normalizeTMDBID(v any) string {
	s := strings.TrimSpace(stringCoerce(v))
	if s == "" || strings.EqualFold(s, "none") {
		return ""
	}
	return s
}

func stringCoerce(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func asInt64(v any) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	case float64:
		return int64(val), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	case []byte:
		n, err := strconv.ParseInt(strings.TrimSpace(string(val)), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
