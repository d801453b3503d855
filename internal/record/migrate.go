package record

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Version reports the format version of a raw record. A numeric "v" wins;
// otherwise the presence of the long "id" key identifies v1.
func Version(raw map[string]any) int {
	if v, ok := raw["v"]; ok {
		switch n := v.(type) {
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return int(i)
			}
		case float64:
			return int(n)
		}
	}
	if _, ok := raw["id"]; ok {
		return 1
	}
	return 2
}

// Migrate upgrades raw to the current version, one step at a time.
func Migrate(raw map[string]any) (map[string]any, error) {
	version := Version(raw)
	if version > CurrentVersion {
		return nil, fmt.Errorf("unsupported audit record version %d", version)
	}
	if version == 1 {
		raw = migrateV1ToV2(raw)
		version = 2
	}
	if version == 2 {
		raw = migrateV2ToV3(raw)
	}
	return normalize(raw), nil
}

func migrateV1ToV2(old map[string]any) map[string]any {
	out := map[string]any{
		"i": old["id"],
		"u": old["url"],
		"d": old["dateRequested"],
		"e": old["errors"],
		"m": old["maxPagesCount"],
		"a": old["allowSearchEngines"],
	}
	pages, ok := old["pages"].(map[string]any)
	if !ok {
		if isEmptyList(old["pages"]) {
			out["p"] = map[string]any{}
		}
		return out
	}

	newPages := make(map[string]any, len(pages))
	for pageID, v := range pages {
		page, ok := v.(map[string]any)
		if !ok {
			continue
		}
		newPage := map[string]any{
			"u": page["url"],
			"s": page["status"],
			"d": page["dateChecked"],
			"t": page["title"],
			"e": page["description"],
			"k": page["keywords"],
			"c": page["content"],
		}
		if links, ok := page["links"].(map[string]any); ok {
			newLinks := make(map[string]any, len(links))
			for linkID, lv := range links {
				link, ok := lv.(map[string]any)
				if !ok {
					continue
				}
				newLinks[linkID] = map[string]any{
					"u": link["url"],
					"s": link["status"],
					"d": link["dateChecked"],
				}
			}
			newPage["l"] = newLinks
		} else if isEmptyList(page["links"]) {
			newPage["l"] = map[string]any{}
		}
		newPages[pageID] = newPage
	}
	out["p"] = newPages
	return out
}

// migrateV2ToV3 only tags the record: links written before v3 carry no
// position and keep the zero value.
func migrateV2ToV3(raw map[string]any) map[string]any {
	raw["v"] = CurrentVersion
	return raw
}

// normalize repairs shapes older writers produced: empty maps serialized as
// [], error lists instead of a message, and empty strings in date fields.
func normalize(raw map[string]any) map[string]any {
	raw["v"] = CurrentVersion
	raw["e"] = errorsText(raw["e"])
	dropEmptyDate(raw)

	switch p := raw["p"].(type) {
	case map[string]any:
		for _, pv := range p {
			page, ok := pv.(map[string]any)
			if !ok {
				continue
			}
			dropEmptyDate(page)
			switch l := page["l"].(type) {
			case map[string]any:
				for _, lv := range l {
					if link, ok := lv.(map[string]any); ok {
						dropEmptyDate(link)
					}
				}
			case []any:
				if len(l) == 0 {
					page["l"] = map[string]any{}
				} else {
					delete(page, "l")
				}
			}
		}
	case []any:
		if len(p) == 0 {
			raw["p"] = map[string]any{}
		} else {
			delete(raw, "p")
		}
	}
	return raw
}

func errorsText(v any) string {
	switch e := v.(type) {
	case string:
		return e
	case []any:
		parts := make([]string, 0, len(e))
		for _, item := range e {
			if s := fmt.Sprint(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	case nil:
		return ""
	case bool:
		if e {
			return "error"
		}
		return ""
	default:
		return fmt.Sprint(e)
	}
}

func dropEmptyDate(m map[string]any) {
	if s, ok := m["d"].(string); !ok || s == "" {
		delete(m, "d")
	}
}

func isEmptyList(v any) bool {
	l, ok := v.([]any)
	return ok && len(l) == 0
}
