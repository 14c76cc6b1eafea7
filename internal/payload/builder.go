package payload

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/IliaW/page-guard/config"
	"github.com/IliaW/page-guard/internal/model"
)

// TruncationMarker is appended to every value that was cut.
const TruncationMarker = "…[truncated]"

type Limits struct {
	Title       int
	VisibleText int
	HtmlSnippet int
	Item        int
	Scripts     int
	Forms       int
	Iframes     int
	Links       int
	Total       int
}

func DefaultLimits() Limits {
	return Limits{
		Title:       200,
		VisibleText: 4000,
		HtmlSnippet: 6000,
		Item:        512,
		Scripts:     25,
		Forms:       10,
		Iframes:     10,
		Links:       40,
		Total:       15000,
	}
}

// LimitsFromConfig falls back to the defaults for every unset (non-positive) value.
func LimitsFromConfig(cfg *config.PayloadConfig) Limits {
	l := DefaultLimits()
	if cfg == nil {
		return l
	}
	pick := func(dst *int, v int) {
		if v > 0 {
			*dst = v
		}
	}
	pick(&l.Title, cfg.TitleLimit)
	pick(&l.VisibleText, cfg.VisibleTextLimit)
	pick(&l.HtmlSnippet, cfg.HtmlSnippetLimit)
	pick(&l.Item, cfg.ItemLimit)
	pick(&l.Scripts, cfg.MaxScripts)
	pick(&l.Forms, cfg.MaxForms)
	pick(&l.Iframes, cfg.MaxIframes)
	pick(&l.Links, cfg.MaxLinks)
	pick(&l.Total, cfg.TotalLimit)
	return l
}

type pagePayload struct {
	URL         string                 `json:"url"`
	Title       string                 `json:"title"`
	VisibleText string                 `json:"visible_text"`
	HtmlSnippet string                 `json:"html_snippet"`
	Scripts     []string               `json:"scripts"`
	Forms       []model.FormDescriptor `json:"forms"`
	Iframes     []string               `json:"iframes"`
	Links       []string               `json:"links"`
	Truncated   map[string]int         `json:"truncated,omitempty"` // dropped item count per list
}

type Builder struct {
	limits Limits
}

func NewBuilder(limits Limits) *Builder {
	return &Builder{limits: limits}
}

// Build serializes a bounded copy of the summary. Output is deterministic for a given summary and limits.
func (b *Builder) Build(page *model.PageSummary) (string, error) {
	l := b.limits
	p := pagePayload{
		URL:         Truncate(page.URL, l.Item),
		Title:       Truncate(page.Title, l.Title),
		VisibleText: Truncate(page.VisibleText, l.VisibleText),
		HtmlSnippet: Truncate(page.HtmlSnippet, l.HtmlSnippet),
	}
	dropped := make(map[string]int)
	p.Scripts = b.capList(page.Scripts, l.Scripts, "scripts", dropped)
	p.Iframes = b.capList(page.Iframes, l.Iframes, "iframes", dropped)
	p.Links = b.capList(page.Links, l.Links, "links", dropped)

	forms := page.Forms
	if len(forms) > l.Forms {
		dropped["forms"] = len(forms) - l.Forms
		forms = forms[:l.Forms]
	}
	p.Forms = make([]model.FormDescriptor, 0, len(forms))
	for _, f := range forms {
		p.Forms = append(p.Forms, model.FormDescriptor{
			Action:     Truncate(f.Action, l.Item),
			Method:     Truncate(strings.ToUpper(f.Method), 16),
			InputCount: f.InputCount,
		})
	}
	if len(dropped) > 0 {
		p.Truncated = dropped
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return "", err
	}

	return Truncate(strings.TrimSuffix(buf.String(), "\n"), l.Total), nil
}

func (b *Builder) capList(items []string, max int, name string, dropped map[string]int) []string {
	if len(items) > max {
		dropped[name] = len(items) - max
		items = items[:max]
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, Truncate(it, b.limits.Item))
	}
	return out
}

// Truncate caps s to limit runes, marker included. Values within the limit are returned unchanged.
// A limit too small to hold the marker cuts s without it.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	keep := limit - utf8.RuneCountInString(TruncationMarker)
	if keep <= 0 {
		return string(runes[:limit])
	}
	return string(runes[:keep]) + TruncationMarker
}
