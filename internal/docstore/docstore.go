// Package docstore defines the remote document store the timesheet mirrors
// entries into: schemaless JSON documents addressed by key, equality queries
// on top-level string fields, and live query subscriptions.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"sort"
	"strings"
	"time"
)

var (
	ErrNotFound     = errors.New("docstore: document not found")
	ErrClosed       = errors.New("docstore: store closed")
	ErrInvalidField = errors.New("docstore: invalid field name")
)

// Document is one stored record.
type Document struct {
	Key       string         `json:"key"`
	Fields    map[string]any `json:"fields"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Query selects documents whose top-level string fields equal the given
// values. An empty query matches every document.
type Query map[string]string

// WatchFunc receives the full result set of a live query each time it
// changes, or the error that prevented computing it.
type WatchFunc func(docs []Document, err error)

// Subscription is a cancellable live query. After Cancel returns the
// callback is never invoked again. Cancel must not be called from inside the
// callback.
type Subscription interface {
	Cancel()
}

// Store is implemented by sqlitestore (embedded) and httpstore (remote).
//
//go:generate mockgen -package=mocks -destination=mocks/mock_store.go github.com/Tiliavir/telesales-timesheet/internal/docstore Store
type Store interface {
	Get(ctx context.Context, key string) (Document, error)
	// Put replaces the document at key, creating it if needed.
	Put(ctx context.Context, key string, fields map[string]any) (Document, error)
	// Patch merges fields into an existing document. A nil value removes
	// the field.
	Patch(ctx context.Context, key string, fields map[string]any) (Document, error)
	Delete(ctx context.Context, key string) error
	Query(ctx context.Context, q Query) ([]Document, error)
	Watch(ctx context.Context, q Query, fn WatchFunc) (Subscription, error)
	Close() error
}

var fieldRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateQuery rejects field names that are not plain identifiers.
func ValidateQuery(q Query) error {
	for k := range q {
		if !fieldRe.MatchString(k) {
			return fmt.Errorf("%w: %q", ErrInvalidField, k)
		}
	}
	return nil
}

// Matches reports whether doc satisfies q.
func Matches(doc Document, q Query) bool {
	for field, want := range q {
		got, ok := doc.Fields[field].(string)
		if !ok || got != want {
			return false
		}
	}
	return true
}

// Merge applies a patch to fields in place.
func Merge(fields, patch map[string]any) {
	for k, v := range patch {
		if v == nil {
			delete(fields, k)
			continue
		}
		fields[k] = v
	}
}

// SortByKey orders docs by key.
func SortByKey(docs []Document) {
	sort.Slice(docs, func(i, j int) bool { return docs[i].Key < docs[j].Key })
}

// Fingerprint identifies a result set by its keys and update times.
func Fingerprint(docs []Document) string {
	var b strings.Builder
	for _, d := range docs {
		b.WriteString(d.Key)
		b.WriteByte('@')
		b.WriteString(d.UpdatedAt.UTC().Format(time.RFC3339Nano))
		b.WriteByte('\n')
	}
	return b.String()
}

// Clone returns a copy of doc with its own top-level field map.
func (d Document) Clone() Document {
	out := d
	out.Fields = maps.Clone(d.Fields)
	if out.Fields == nil {
		out.Fields = map[string]any{}
	}
	return out
}

// ToFields encodes v as a JSON object and returns its top-level fields.
func ToFields(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return fields, nil
}

// FromFields decodes document fields into v.
func FromFields(fields map[string]any, v any) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

// Normalize round-trips fields through JSON so values have the types a
// decoder would produce (float64 numbers, []any arrays).
func Normalize(fields map[string]any) (map[string]any, error) {
	if fields == nil {
		return map[string]any{}, nil
	}
	return ToFields(fields)
}

// Clock hands out strictly increasing update times so a change is always
// visible in a Fingerprint.
type Clock struct {
	last time.Time
}

// Next returns now, or one nanosecond after the previous value when the wall
// clock has not moved forward.
func (c *Clock) Next(now time.Time) time.Time {
	now = now.UTC()
	if !now.After(c.last) {
		now = c.last.Add(time.Nanosecond)
	}
	c.last = now
	return now
}

// Watch message types sent by the server on a live query connection.
const (
	MessageSnapshot = "snapshot"
	MessageError    = "error"
)

// WatchMessage is one frame of a live query connection.
type WatchMessage struct {
	Type      string     `json:"type"`
	Documents []Document `json:"documents,omitempty"`
	Error     string     `json:"error,omitempty"`
}
