package listener

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"

	cerrors "cadence/api/internal/errors"
	"cadence/api/internal/item"
	"cadence/api/internal/remote"
)

// Normalize validates a raw partition. Entries that cannot be decoded
// or lack a URL or title are dropped and reported; everything else is
// returned fully defaulted, ordered by upload time then id.
func Normalize(entries remote.Entries, now time.Time) ([]item.Item, []error) {
	items := make([]item.Item, 0, len(entries))
	var problems []error

	for id, raw := range entries {
		it, err := normalizeEntry(id, raw, now)
		if err != nil {
			problems = append(problems, err)
			continue
		}
		items = append(items, it)
	}

	sort.Slice(items, func(i, j int) bool {
		if !items[i].UploadedAt.Equal(items[j].UploadedAt) {
			return items[i].UploadedAt.Before(items[j].UploadedAt)
		}
		return items[i].ID < items[j].ID
	})
	sort.Slice(problems, func(i, j int) bool { return problems[i].Error() < problems[j].Error() })
	return items, problems
}

func normalizeEntry(id string, raw json.RawMessage, now time.Time) (item.Item, error) {
	if strings.TrimSpace(id) == "" {
		return item.Item{}, cerrors.NewMalformedSnapshot(id, "empty id")
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return item.Item{}, cerrors.NewMalformedSnapshot(id, "entry is not an object")
	}

	url := text(fields["url"])
	if url == "" {
		return item.Item{}, cerrors.NewMalformedSnapshot(id, "missing url")
	}
	title := text(fields["title"])
	if title == "" {
		return item.Item{}, cerrors.NewMalformedSnapshot(id, "missing title")
	}

	uploadedAt := ParseTime(fields["uploadedAt"], now)
	it := item.Item{
		ID:          id,
		URL:         url,
		Title:       title,
		Label:       text(fields["label"]),
		Caption:     text(fields["caption"]),
		ContentType: text(fields["contentType"]),
		Location:    item.Location(text(fields["location"])),
		UploadedAt:  uploadedAt,
		LastMoved:   ParseTime(fields["lastMoved"], uploadedAt),
		Comments:    comments(fields["comments"], now),
		Attachments: attachments(fields["attachments"]),
	}
	return it.Normalized(), nil
}

func text(value any) string {
	switch value.(type) {
	case nil, map[string]any, []any:
		return ""
	}
	return strings.TrimSpace(cast.ToString(value))
}

func comments(value any, now time.Time) []item.Comment {
	list, ok := value.([]any)
	if !ok {
		return nil
	}
	out := make([]item.Comment, 0, len(list))
	for _, entry := range list {
		fields, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		c := item.Comment{
			ID:        text(fields["id"]),
			Author:    text(fields["author"]),
			Text:      text(fields["text"]),
			CreatedAt: ParseTime(fields["createdAt"], now),
		}
		if c.Text == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}

func attachments(value any) []item.Attachment {
	list, ok := value.([]any)
	if !ok {
		return nil
	}
	out := make([]item.Attachment, 0, len(list))
	for _, entry := range list {
		fields, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		a := item.Attachment{
			URL:         text(fields["url"]),
			Name:        text(fields["name"]),
			ContentType: text(fields["contentType"]),
		}
		if a.URL == "" {
			continue
		}
		out = append(out, a)
	}
	return out
}
