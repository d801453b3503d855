// Package record implements the persisted audit record format.
//
// Records are stored as compact JSON. Three shapes exist in the wild:
//
//	v1  long keys ("id", "url", "pages", ...), no version tag
//	v2  one-letter keys ("i", "u", "p", ...), no version tag
//	v3  v2 keys plus "v":3 and a per-link position "o"
//
// Decode upgrades any of them to the current shape; Encode always writes v3.
package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/user/audit-service/internal/entity"
)

// CurrentVersion is the version written by Encode.
const CurrentVersion = 3

type envelope struct {
	Version                int                `json:"v"`
	ID                     string             `json:"i"`
	BaseURL                string             `json:"u"`
	RequestedAt            time.Time          `json:"d"`
	MaxPagesCount          *int               `json:"m"`
	AllowSearchEngines     *bool              `json:"a"`
	GoogleSiteVerification *string            `json:"g,omitempty"`
	Errors                 string             `json:"e"`
	Pages                  map[string]*pageV3 `json:"p"`
}

type pageV3 struct {
	URL            string             `json:"u"`
	Status         *int               `json:"s,omitempty"`
	CheckedAt      *time.Time         `json:"d,omitempty"`
	Title          *string            `json:"t,omitempty"`
	Description    *string            `json:"e,omitempty"`
	Keywords       *string            `json:"k,omitempty"`
	Content        *string            `json:"c,omitempty"`
	OpenGraphImage *string            `json:"g,omitempty"`
	Links          map[string]*linkV3 `json:"l"`
}

type linkV3 struct {
	URL       string     `json:"u"`
	Title     string     `json:"t,omitempty"`
	Status    *int       `json:"s"`
	CheckedAt *time.Time `json:"d,omitempty"`
	Position  int        `json:"o,omitempty"`
}

// Encode serializes rec in the current format.
func Encode(rec *entity.AuditRecord) ([]byte, error) {
	env := envelope{
		Version:                CurrentVersion,
		ID:                     rec.ID,
		BaseURL:                rec.BaseURL,
		RequestedAt:            rec.RequestedAt,
		MaxPagesCount:          rec.MaxPagesCount,
		AllowSearchEngines:     rec.AllowSearchEngines,
		GoogleSiteVerification: rec.GoogleSiteVerification,
		Errors:                 rec.Errors,
	}
	if rec.Pages != nil {
		env.Pages = make(map[string]*pageV3, len(rec.Pages))
		for pageID, p := range rec.Pages {
			pv := &pageV3{
				URL:            p.URL,
				Status:         p.Status,
				CheckedAt:      p.CheckedAt,
				Title:          p.Title,
				Description:    p.Description,
				Keywords:       p.Keywords,
				Content:        p.Content,
				OpenGraphImage: p.OpenGraphImage,
			}
			if p.Links != nil {
				pv.Links = make(map[string]*linkV3, len(p.Links))
				for linkID, l := range p.Links {
					pv.Links[linkID] = &linkV3{
						URL:       l.URL,
						Title:     l.Title,
						Status:    l.Status,
						CheckedAt: l.CheckedAt,
						Position:  l.Position,
					}
				}
			}
			env.Pages[pageID] = pv
		}
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode audit record %s: %w", rec.ID, err)
	}
	return data, nil
}

// Decode parses a record in any known format version.
func Decode(data []byte) (*entity.AuditRecord, error) {
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse audit record: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("audit record is not an object")
	}

	upgraded, err := Migrate(raw)
	if err != nil {
		return nil, err
	}

	normalized, err := json.Marshal(upgraded)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode migrated record: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(normalized, &env); err != nil {
		return nil, fmt.Errorf("failed to decode audit record: %w", err)
	}
	return env.toEntity(), nil
}

func (env *envelope) toEntity() *entity.AuditRecord {
	rec := &entity.AuditRecord{
		ID:                     env.ID,
		BaseURL:                env.BaseURL,
		RequestedAt:            env.RequestedAt,
		MaxPagesCount:          env.MaxPagesCount,
		AllowSearchEngines:     env.AllowSearchEngines,
		GoogleSiteVerification: env.GoogleSiteVerification,
		Errors:                 env.Errors,
	}
	if env.Pages == nil {
		return rec
	}
	rec.Pages = make(map[string]*entity.PageRecord, len(env.Pages))
	for pageID, pv := range env.Pages {
		if pv == nil {
			continue
		}
		p := &entity.PageRecord{
			URL:            pv.URL,
			Status:         pv.Status,
			CheckedAt:      pv.CheckedAt,
			Title:          pv.Title,
			Description:    pv.Description,
			Keywords:       pv.Keywords,
			Content:        pv.Content,
			OpenGraphImage: pv.OpenGraphImage,
		}
		if pv.Links != nil {
			p.Links = make(map[string]*entity.LinkRecord, len(pv.Links))
			for linkID, lv := range pv.Links {
				if lv == nil {
					continue
				}
				p.Links[linkID] = &entity.LinkRecord{
					URL:       lv.URL,
					Title:     lv.Title,
					Status:    lv.Status,
					CheckedAt: lv.CheckedAt,
					Position:  lv.Position,
				}
			}
		}
		rec.Pages[pageID] = p
	}
	return rec
}
