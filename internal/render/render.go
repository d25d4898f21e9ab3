// Package render turns canonical event fields into OneBot messages
// using a weight-ordered YAML template.
package render

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/anipush/anipush/pkg/onebot"
)

// Sentinel errors for template problems.
var (
	ErrEmptyTemplate = errors.New("template defines no items")
	ErrBadItem       = errors.New("invalid template item")
)

// Item is one line of the message layout. Weight orders items, lowest
// first. Type selects rendering: static, dynamic, image, at, or
// merged_episode (merged layouts only).
type Item struct {
	Type    string `yaml:"type"`
	Field   string `yaml:"field"`
	Content string `yaml:"content"`
	Weight  int    `yaml:"weight"`
}

// Template is the parsed YAML layout. Merged holds the optional layout
// used for merged episode pushes.
type Template struct {
	Items  []Item `yaml:"template"`
	Merged []Item `yaml:"merged_template"`
}

// Renderer renders messages from a loaded template. Individual line
// failures are logged and skipped so one bad field never loses a push.
type Renderer struct {
	tpl Template
	log *slog.Logger
}

// New creates a renderer from an already-parsed template.
func New(tpl Template, log *slog.Logger) *Renderer {
	return &Renderer{tpl: tpl, log: log.With("component", "render")}
}

// Load reads and parses a YAML template file.
func Load(path string, log *slog.Logger) (*Renderer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}
	var tpl Template
	if err := yaml.Unmarshal(raw, &tpl); err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	if len(tpl.Items) == 0 {
		return nil, ErrEmptyTemplate
	}
	return New(tpl, log), nil
}

// Default returns a renderer with the built-in layout, used when no
// template file is configured.
func Default(log *slog.Logger) *Renderer {
	return New(defaultTemplate, log)
}

var defaultTemplate = Template{
	Items: []Item{
		{Type: "image", Field: "image", Content: "{image}", Weight: 10},
		{Type: "dynamic", Field: "title", Content: "🎬 {title}", Weight: 20},
		{Type: "dynamic", Field: "episode", Content: "✨ {episode}", Weight: 30},
		{Type: "dynamic", Field: "episode_title", Content: "📺 {episode_title}", Weight: 40},
		{Type: "dynamic", Field: "timestamp", Content: "⏱️ 更新时间：{timestamp}", Weight: 50},
		{Type: "dynamic", Field: "action", Content: "🔔 推送类型：{action}", Weight: 60},
		{Type: "dynamic", Field: "score", Content: "🔢 目前评分：{score}", Weight: 70},
		{Type: "at", Field: "at", Content: "📣 通知：{at}", Weight: 100},
	},
}

// RenderAll renders every template item in weight order.
func (r *Renderer) RenderAll(data map[string]any) (onebot.Message, error) {
	return r.renderItems(r.tpl.Items, data, nil)
}

// RenderBase renders the template without at items. Used for group
// pushes where mentions are appended per group.
func (r *Renderer) RenderBase(data map[string]any) (onebot.Message, error) {
	skip := func(it Item) bool { return it.Type == "at" }
	return r.renderItems(r.tpl.Items, data, skip)
}

// RenderAt renders only the at items of the template.
func (r *Renderer) RenderAt(data map[string]any) (onebot.Message, error) {
	if len(r.tpl.Items) == 0 {
		return nil, ErrEmptyTemplate
	}
	var msg onebot.Message
	for _, item := range sortedByWeight(r.tpl.Items) {
		if item.Type != "at" {
			continue
		}
		segs, err := r.renderLine(item, data)
		if err != nil {
			r.log.Warn("skipping at line", "field", item.Field, "error", err)
			continue
		}
		msg = append(msg, segs...)
	}
	return msg, nil
}

// RenderMerged renders a merged episode push. Falls back to a built-in
// merged layout when the template defines none.
func (r *Renderer) RenderMerged(data map[string]any) (onebot.Message, error) {
	items := r.tpl.Merged
	if len(items) == 0 {
		r.log.Warn("no merged layout defined, using built-in default")
		items = defaultMergedItems
	}
	var msg onebot.Message
	for _, item := range sortedByWeight(items) {
		segs, err := r.renderMergedLine(item, data)
		if err != nil {
			r.log.Warn("skipping merged line", "field", item.Field, "error", err)
			continue
		}
		msg = append(msg, segs...)
	}
	return trimTrailingNewline(msg), nil
}

var defaultMergedItems = []Item{
	{Type: "image", Field: "image", Content: "{image}", Weight: 10},
	{Type: "dynamic", Field: "title", Content: "🎬 {title}", Weight: 20},
	{Type: "merged_episode", Content: "✨第 {season} 季 更新 {episode_count} 集 ({episode_range})", Weight: 30},
	{Type: "dynamic", Field: "timestamp", Content: "⏱️ 更新时间：{timestamp}", Weight: 40},
	{Type: "dynamic", Field: "action", Content: "🔔 推送类型：{action}", Weight: 50},
	{Type: "dynamic", Field: "score", Content: "🔢 目前评分：{score}", Weight: 60},
	{Type: "at", Field: "at", Content: "📣 通知：{at}", Weight: 100},
}

func (r *Renderer) renderItems(items []Item, data map[string]any, skip func(Item) bool) (onebot.Message, error) {
	if len(items) == 0 {
		return nil, ErrEmptyTemplate
	}
	var msg onebot.Message
	for _, item := range sortedByWeight(items) {
		if skip != nil && skip(item) {
			continue
		}
		segs, err := r.renderLine(item, data)
		if err != nil {
			r.log.Warn("skipping line", "type", item.Type, "field", item.Field, "error", err)
			continue
		}
		msg = append(msg, segs...)
	}
	return trimTrailingNewline(msg), nil
}

func (r *Renderer) renderLine(item Item, data map[string]any) ([]onebot.Segment, error) {
	if item.Content == "" {
		return nil, fmt.Errorf("%w: empty content", ErrBadItem)
	}
	if item.Type == "" {
		return nil, fmt.Errorf("%w: empty type", ErrBadItem)
	}
	if item.Type != "static" {
		if item.Field == "" {
			return nil, fmt.Errorf("%w: missing field name", ErrBadItem)
		}
		if _, ok := data[item.Field]; !ok {
			return nil, fmt.Errorf("no data for field %q", item.Field)
		}
		placeholder := "{" + item.Field + "}"
		if !strings.Contains(item.Content, placeholder) {
			return nil, fmt.Errorf("%w: content missing placeholder %s", ErrBadItem, placeholder)
		}
	}

	switch item.Type {
	case "static":
		return []onebot.Segment{onebot.Text(item.Content + "\n")}, nil
	case "image":
		path := stringValue(data[item.Field])
		if path == "" {
			return nil, fmt.Errorf("no image path in field %q", item.Field)
		}
		seg, err := onebot.ImageFile(path)
		if err != nil {
			return nil, err
		}
		return []onebot.Segment{seg}, nil
	case "dynamic":
		filler := stringValue(data[item.Field])
		if filler == "" {
			// Missing data drops the line, not the message.
			return nil, nil
		}
		line := strings.ReplaceAll(item.Content, "{"+item.Field+"}", filler)
		return []onebot.Segment{onebot.Text(line + "\n")}, nil
	case "at":
		users := stringSlice(data[item.Field])
		if len(users) == 0 {
			return nil, nil
		}
		prefix := strings.TrimSuffix(item.Content, "{"+item.Field+"}")
		segs := []onebot.Segment{onebot.Text("\n" + prefix)}
		for _, user := range users {
			segs = append(segs, onebot.At(user))
		}
		return segs, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrBadItem, item.Type)
	}
}

// renderMergedLine is more forgiving than renderLine: malformed items
// drop silently and the merged_episode type becomes available.
func (r *Renderer) renderMergedLine(item Item, data map[string]any) ([]onebot.Segment, error) {
	if item.Content == "" || item.Type == "" {
		return nil, nil
	}
	switch item.Type {
	case "static":
		return []onebot.Segment{onebot.Text(item.Content + "\n")}, nil
	case "image":
		path := stringValue(data[item.Field])
		if path == "" {
			return nil, nil
		}
		seg, err := onebot.ImageFile(path)
		if err != nil {
			return nil, err
		}
		return []onebot.Segment{seg}, nil
	case "dynamic":
		if item.Field == "" {
			return nil, nil
		}
		filler := stringValue(data[item.Field])
		if filler == "" {
			return nil, nil
		}
		line := strings.ReplaceAll(item.Content, "{"+item.Field+"}", filler)
		return []onebot.Segment{onebot.Text(line + "\n")}, nil
	case "merged_episode":
		count := stringValue(data["episode_count"])
		rng := stringValue(data["episode_range"])
		season := stringValue(data["season"])
		if season == "" {
			season = "1"
		}
		if count == "" || count == "0" || rng == "" {
			return nil, nil
		}
		line := strings.NewReplacer(
			"{season}", season,
			"{episode_count}", count,
			"{episode_range}", rng,
		).Replace(item.Content)
		return []onebot.Segment{onebot.Text(line + "\n")}, nil
	case "at":
		users := stringSlice(data[item.Field])
		if len(users) == 0 {
			return nil, nil
		}
		segs := []onebot.Segment{onebot.Text("\n📣 通知：")}
		for _, user := range users {
			segs = append(segs, onebot.At(user))
		}
		return segs, nil
	}
	return nil, nil
}

func sortedByWeight(items []Item) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Weight < out[j].Weight })
	return out
}

// trimTrailingNewline strips the final newline from the last text
// segment so messages never end with a blank line.
func trimTrailingNewline(msg onebot.Message) onebot.Message {
	if len(msg) == 0 {
		return msg
	}
	last := msg[len(msg)-1]
	if last.Type != "text" {
		return msg
	}
	text, ok := last.Data["text"].(string)
	if !ok || !strings.HasSuffix(text, "\n") {
		return msg
	}
	msg[len(msg)-1] = onebot.Text(strings.TrimRight(text, "\n"))
	return msg
}

func stringValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int:
		if val == 0 {
			return ""
		}
		return fmt.Sprintf("%d", val)
	case int64:
		if val == 0 {
			return ""
		}
		return fmt.Sprintf("%d", val)
	case float64:
		if val == 0 {
			return ""
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func stringSlice(v any) []string {
	switch val := v.(type) {
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s := stringValue(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
