package event

import (
	"encoding/json"
	"log/slog"
)

// Subscriber fields in the enrichment row are a union: either already
// structured (in-memory records) or JSON-encoded text (database TEXT
// columns). decodeSubscribers resolves both through one lenient path;
// any shape mismatch falls back to the documented empty defaults and is
// logged, never raised.
func decodeSubscribers(anime Raw, log *slog.Logger) (map[string][]string, []string) {
	if len(anime) == 0 {
		log.Debug("no enrichment row, subscribers default to empty")
		return map[string][]string{}, []string{}
	}
	groups := decodeGroupField(anime["group_subscriber"], log)
	private := decodeListField(anime["private_subscriber"], log)
	return groups, private
}

func decodeGroupField(v any, log *slog.Logger) map[string][]string {
	switch t := v.(type) {
	case nil:
		return map[string][]string{}
	case map[string][]string:
		return t
	case map[string]any:
		return groupsFromAny(t, log)
	case string:
		var parsed map[string]any
		if err := json.Unmarshal([]byte(t), &parsed); err != nil {
			log.Error("decoding group_subscriber failed, using empty default", "error", err)
			return map[string][]string{}
		}
		return groupsFromAny(parsed, log)
	default:
		log.Error("group_subscriber has unexpected shape, using empty default")
		return map[string][]string{}
	}
}

func groupsFromAny(m map[string]any, log *slog.Logger) map[string][]string {
	out := make(map[string][]string, len(m))
	for group, users := range m {
		list, ok := users.([]any)
		if !ok {
			log.Error("group_subscriber entry is not a list, skipping", "group", group)
			continue
		}
		ids := make([]string, 0, len(list))
		for _, u := range list {
			if id := asString(u); id != "" {
				ids = append(ids, id)
			}
		}
		out[group] = ids
	}
	return out
}

func decodeListField(v any, log *slog.Logger) []string {
	switch t := v.(type) {
	case nil:
		return []string{}
	case []string:
		return t
	case []any:
		return idsFromAny(t)
	case string:
		var parsed []any
		if err := json.Unmarshal([]byte(t), &parsed); err != nil {
			log.Error("decoding private_subscriber failed, using empty default", "error", err)
			return []string{}
		}
		return idsFromAny(parsed)
	default:
		log.Error("private_subscriber has unexpected shape, using empty default")
		return []string{}
	}
}

func idsFromAny(list []any) []string {
	ids := make([]string, 0, len(list))
	for _, u := range list {
		if id := asString(u); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
