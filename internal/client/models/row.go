package models

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/estisync/internal/common"
)

// Envelope keys every row carries on the wire.
const (
	KeyID        = "id"
	KeyVersion   = "version"
	KeyUpdatedAt = "updated_at"
	KeyDeletedAt = "deleted_at"
)

// Row is one record of a mirrored table. The sync engine only looks at the
// envelope (ID, Version, UpdatedAt, DeletedAt); domain fields are opaque.
//
// On the wire a row is a flat JSON object:
//
//	{"id":"c1","version":1,"updated_at":"...","deleted_at":null,"name":"Jane"}
type Row struct {
	ID        string
	Version   int64
	UpdatedAt string
	// DeletedAt is non-nil for tombstones.
	DeletedAt *string
	Fields    map[string]any
}

// IsTombstone reports whether the row is soft-deleted.
func (r Row) IsTombstone() bool {
	return r.DeletedAt != nil
}

// Clone returns a copy whose Fields map and DeletedAt can be modified
// independently. Nested field values are shared.
func (r Row) Clone() Row {
	out := r
	if r.DeletedAt != nil {
		d := *r.DeletedAt
		out.DeletedAt = &d
	}
	if r.Fields != nil {
		out.Fields = make(map[string]any, len(r.Fields))
		for k, v := range r.Fields {
			out.Fields[k] = v
		}
	}
	return out
}

// Validate checks the envelope invariants.
func (r Row) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: empty id", common.ErrInvalidRow)
	}
	if r.Version < 1 {
		return fmt.Errorf("%w: row %s has version %d", common.ErrInvalidRow, r.ID, r.Version)
	}
	for k := range r.Fields {
		switch k {
		case KeyID, KeyVersion, KeyUpdatedAt, KeyDeletedAt:
			return fmt.Errorf("%w: field %q is reserved", common.ErrInvalidRow, k)
		}
	}
	return nil
}

// String returns the named field as a string, or "" when absent or not a
// string.
func (r Row) String(name string) string {
	s, _ := r.Fields[name].(string)
	return s
}

// Set assigns a field, allocating Fields when needed.
func (r *Row) Set(name string, v any) {
	if r.Fields == nil {
		r.Fields = map[string]any{}
	}
	r.Fields[name] = v
}

// WithoutLocal returns a copy stripped of t's device-only columns.
func (r Row) WithoutLocal(t Table) Row {
	if len(t.LocalOnly) == 0 {
		return r
	}
	out := r.Clone()
	for _, c := range t.LocalOnly {
		delete(out.Fields, c)
	}
	return out
}

// PhotoURI is the remote storage path of a photo row.
func PhotoURI(r Row) string { return r.String(ColURI) }

// PhotoLocalURI is the cached file path of a photo row, "" when not fetched.
func PhotoLocalURI(r Row) string { return r.String(ColLocalURI) }

func (r Row) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Fields)+4)
	for k, v := range r.Fields {
		m[k] = v
	}
	m[KeyID] = r.ID
	m[KeyVersion] = r.Version
	m[KeyUpdatedAt] = r.UpdatedAt
	if r.DeletedAt != nil {
		m[KeyDeletedAt] = *r.DeletedAt
	} else {
		m[KeyDeletedAt] = nil
	}
	return json.Marshal(m)
}

func (r *Row) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return err
	}

	*r = Row{}
	for k, v := range m {
		switch k {
		case KeyID:
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("%w: id must be a string", common.ErrInvalidRow)
			}
			r.ID = s
		case KeyVersion:
			n, ok := v.(json.Number)
			if !ok {
				return fmt.Errorf("%w: version must be a number", common.ErrInvalidRow)
			}
			ver, err := n.Int64()
			if err != nil {
				return fmt.Errorf("%w: version: %v", common.ErrInvalidRow, err)
			}
			r.Version = ver
		case KeyUpdatedAt:
			if v != nil {
				s, ok := v.(string)
				if !ok {
					return fmt.Errorf("%w: updated_at must be a string", common.ErrInvalidRow)
				}
				r.UpdatedAt = s
			}
		case KeyDeletedAt:
			if v != nil {
				s, ok := v.(string)
				if !ok {
					return fmt.Errorf("%w: deleted_at must be a string or null", common.ErrInvalidRow)
				}
				r.DeletedAt = &s
			}
		default:
			r.Set(k, normalizeNumber(v))
		}
	}
	return nil
}

// normalizeNumber turns json.Number into int64 when integral, else float64.
func normalizeNumber(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	f, _ := n.Float64()
	return f
}

// DecodeFields parses a JSON object of domain fields the same way row
// payloads are parsed.
func DecodeFields(b []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	for k, v := range m {
		m[k] = normalizeNumber(v)
	}
	return m, nil
}
