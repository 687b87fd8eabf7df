// Package item defines the content card scheduled on the calendar and
// the location values it can take.
package item

import (
	"time"
)

// DefaultContentType is applied to items whose remote record carries no
// content type.
const DefaultContentType = "image"

// Item is a content card. It lives either in the pool or in exactly one
// calendar slot.
type Item struct {
	ID          string       `json:"id"`
	URL         string       `json:"url"`
	Title       string       `json:"title"`
	Label       string       `json:"label"`
	Caption     string       `json:"caption"`
	ContentType string       `json:"contentType"`
	Location    Location     `json:"location"`
	LastMoved   time.Time    `json:"lastMoved"`
	UploadedAt  time.Time    `json:"uploadedAt"`
	Comments    []Comment    `json:"comments"`
	Attachments []Attachment `json:"attachments"`
}

type Comment struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

type Attachment struct {
	URL         string `json:"url"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
}

// Normalized returns a copy with every domain field defaulted. The
// remote store rejects undefined values, so nothing leaves this package
// with a nil slice or an unset location.
func (it Item) Normalized() Item {
	out := it.Clone()
	if !out.Location.Valid() {
		out.Location = Pool
	}
	if out.ContentType == "" {
		out.ContentType = DefaultContentType
	}
	if out.Comments == nil {
		out.Comments = []Comment{}
	}
	if out.Attachments == nil {
		out.Attachments = []Attachment{}
	}
	return out
}

// Clone deep-copies the slices so callers can mutate the result.
func (it Item) Clone() Item {
	out := it
	if it.Comments != nil {
		out.Comments = append([]Comment(nil), it.Comments...)
	}
	if it.Attachments != nil {
		out.Attachments = append([]Attachment(nil), it.Attachments...)
	}
	return out
}

// Scheduled reports whether the item occupies a calendar slot.
func (it Item) Scheduled() bool {
	return it.Location.Valid() && !it.Location.IsPool()
}
