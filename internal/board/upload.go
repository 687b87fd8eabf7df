package board

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	cerrors "cadence/api/internal/errors"
	"cadence/api/internal/item"
	"cadence/api/internal/pipeline"
)

// Upload describes a new card. Body is stored through the board's
// Uploader unless URL is already set.
type Upload struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
	URL         string

	Title    string
	Caption  string
	Label    string
	Location item.Location
}

// AddItem stores the media and creates the card optimistically.
func (b *Board) AddItem(ctx context.Context, up Upload) (item.Item, *pipeline.Pending, error) {
	url := strings.TrimSpace(up.URL)
	if url == "" {
		if up.Body == nil {
			return item.Item{}, nil, cerrors.NewInvalidRequest("upload requires a file or url")
		}
		if b.opts.Blobs == nil {
			return item.Item{}, nil, cerrors.NewInvalidRequest("uploads are not configured")
		}
		folder := b.opts.Path.ProjectID + "/" + string(b.opts.Path.Instance)
		stored, err := b.opts.Blobs.Upload(ctx, folder, up.Name, up.Body, up.Size, up.ContentType)
		if err != nil {
			return item.Item{}, nil, fmt.Errorf("upload %s: %w", up.Name, err)
		}
		url = stored
	}

	title := strings.TrimSpace(up.Title)
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(up.Name), filepath.Ext(up.Name))
	}
	if title == "" || title == "." {
		title = "Untitled"
	}
	location := up.Location
	if location == "" {
		location = item.Pool
	}

	it := item.Item{
		ID:          b.opts.NewID(),
		URL:         url,
		Title:       title,
		Caption:     up.Caption,
		Label:       up.Label,
		ContentType: contentKind(up.ContentType),
		Location:    location,
	}
	pending, err := b.pipeline.Add(ctx, it)
	if err != nil {
		return item.Item{}, nil, err
	}
	created, _ := b.store.Get(it.ID)
	return created, pending, nil
}

// contentKind maps a MIME type to the card content type.
func contentKind(mime string) string {
	switch {
	case strings.HasPrefix(mime, "video/"):
		return "video"
	case strings.HasPrefix(mime, "image/"), mime == "":
		return item.DefaultContentType
	default:
		return "file"
	}
}
