package search

import (
	"html"
	"sort"
	"strings"

	"cadence/api/internal/item"
)

// MatchItems is the fallback searcher: a case-insensitive substring match
// over title, caption, label and comments. Title hits rank first.
func MatchItems(items []item.Item, q Query) ([]Result, int) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	type scored struct {
		result Result
		score  int
	}
	var hits []scored
	for _, it := range items {
		score, snippet := matchItem(it, needle)
		if score == 0 {
			continue
		}
		hits = append(hits, scored{
			score: score,
			result: Result{
				ID:        it.ID,
				ProjectID: q.ProjectID,
				Instance:  q.Instance,
				Title:     it.Title,
				Snippet:   snippet,
				Location:  it.Location,
			},
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	total := len(hits)
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	start := q.Offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	results := make([]Result, 0, end-start)
	for _, h := range hits[start:end] {
		results = append(results, h.result)
	}
	return results, total
}

func matchItem(it item.Item, needle string) (int, string) {
	if needle == "" {
		return 1, it.Caption
	}
	if strings.Contains(strings.ToLower(it.Title), needle) {
		return 3, it.Caption
	}
	if snippet, ok := highlight(it.Caption, needle); ok {
		return 2, snippet
	}
	if strings.Contains(strings.ToLower(it.Label), needle) {
		return 2, it.Caption
	}
	for _, c := range it.Comments {
		if snippet, ok := highlight(c.Text, needle); ok {
			return 1, snippet
		}
	}
	return 0, ""
}

// highlight wraps the first occurrence of needle in <mark> tags, matching
// the Meilisearch snippet format.
func highlight(text, needle string) (string, bool) {
	at := strings.Index(strings.ToLower(text), needle)
	if at < 0 {
		return "", false
	}
	end := at + len(needle)
	if end > len(text) {
		return html.EscapeString(text), true
	}
	return html.EscapeString(text[:at]) + "<mark>" + html.EscapeString(text[at:end]) + "</mark>" + html.EscapeString(text[end:]), true
}
