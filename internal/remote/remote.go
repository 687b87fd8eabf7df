// Package remote is the narrow interface to the shared document store
// holding the item partitions.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cadence/api/internal/item"
)

var (
	ErrClosed   = errors.New("remote: store closed")
	ErrConflict = errors.New("remote: concurrent update conflict")
)

// Path addresses one item partition:
// project/{projectId}.imageMetadata.{instance}.
type Path struct {
	ProjectID string
	Instance  item.Instance
}

// Document is the document holding the partition.
func (p Path) Document() string { return "project/" + p.ProjectID }

// Field is the dotted field path of the partition inside the document.
func (p Path) Field() string { return "imageMetadata." + string(p.Instance) }

// StatusField is the scalar status label of the instance.
func (p Path) StatusField() string { return "status." + string(p.Instance) }

func (p Path) String() string { return p.Document() + "." + p.Field() }

func (p Path) Validate() error {
	if strings.TrimSpace(p.ProjectID) == "" || strings.ContainsAny(p.ProjectID, "/.: ") {
		return fmt.Errorf("remote: invalid project id %q", p.ProjectID)
	}
	if _, err := item.ParseInstance(string(p.Instance)); err != nil {
		return fmt.Errorf("remote: %w", err)
	}
	return nil
}

// Entries is a raw partition keyed by item id. Values are whatever the
// store holds; normalization happens at the listener boundary.
type Entries map[string]json.RawMessage

// Clone copies the map (the raw values are immutable by convention).
func (e Entries) Clone() Entries {
	out := make(Entries, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Snapshot is one observed state of a partition.
type Snapshot struct {
	Path    Path
	Entries Entries
	Version int64
	ReadAt  time.Time
}

// DocumentStore is consumed by the pipeline (writes) and the listener
// (subscriptions). Partition writes replace the whole partition: there
// is no partial patch for dynamic nested keys, and concurrent writers
// resolve last-writer-wins at partition granularity.
type DocumentStore interface {
	// Subscribe delivers the current snapshot, then one per change,
	// until ctx is cancelled. The channel is closed on return.
	Subscribe(ctx context.Context, path Path) (<-chan Snapshot, error)
	Read(ctx context.Context, path Path) (Snapshot, error)
	// Write replaces the partition unconditionally.
	Write(ctx context.Context, path Path, entries Entries) error
	// Update re-reads the partition, applies fn and writes the result
	// back, retrying when another writer interleaves.
	Update(ctx context.Context, path Path, fn func(current Entries) (Entries, error)) error
	// UpdateFields sets scalar dotted-path fields of a document. It is
	// never used for the nested item maps.
	UpdateFields(ctx context.Context, document string, fields map[string]any) error
	Ping(ctx context.Context) error
	Close() error
}

// EncodeItem serializes an item for storage.
func EncodeItem(it item.Item) (json.RawMessage, error) {
	payload, err := json.Marshal(it.Normalized())
	if err != nil {
		return nil, fmt.Errorf("remote: encode item %s: %w", it.ID, err)
	}
	return payload, nil
}

func decodeEntries(raw []byte) (Entries, error) {
	entries := Entries{}
	if len(raw) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("remote: decode partition: %w", err)
	}
	if entries == nil {
		entries = Entries{}
	}
	return entries, nil
}

func encodeEntries(entries Entries) ([]byte, error) {
	if entries == nil {
		entries = Entries{}
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("remote: encode partition: %w", err)
	}
	return payload, nil
}
