package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Snapshot is an insertion-ordered view of an entity's allow-listed fields at
// one point in time. The zero value is an empty snapshot ready to use.
type Snapshot struct {
	keys   []string
	values map[string]any
}

// NewSnapshot builds a snapshot from alternating key/value pairs.
func NewSnapshot(kv ...any) *Snapshot {
	s := &Snapshot{}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		s.Set(key, kv[i+1])
	}
	return s
}

// Set stores a value, keeping the original position if the key already exists.
func (s *Snapshot) Set(key string, value any) {
	if s.values == nil {
		s.values = make(map[string]any)
	}
	if _, exists := s.values[key]; !exists {
		s.keys = append(s.keys, key)
	}
	s.values[key] = value
}

// Get returns the value for key and whether the key is present. A present key
// may hold nil.
func (s *Snapshot) Get(key string) (any, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.values[key]
	return v, ok
}

// Has reports whether the key is present, regardless of its value.
func (s *Snapshot) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Keys returns the field names in insertion order.
func (s *Snapshot) Keys() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.keys...)
}

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// MarshalJSON writes the fields as a JSON object in insertion order.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range s.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := EncodeJSON(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := EncodeJSON(s.values[k])
		if err != nil {
			return nil, fmt.Errorf("marshal snapshot field %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object, preserving the key order of the document.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("snapshot must be a JSON object, got %v", tok)
	}
	s.keys = nil
	s.values = make(map[string]any)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected snapshot key token %v", tok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("decode snapshot field %q: %w", key, err)
		}
		s.Set(key, value)
	}
	_, err = dec.Token()
	return err
}

// AllowList is the fixed, ordered set of fields kept in snapshots of one entity type.
type AllowList []string

// Project reduces a full entity record to the allow-listed fields it actually
// contains. Missing keys are omitted rather than set to null so callers can pass
// partial records. The result follows allow-list order.
func Project(record map[string]any, allow AllowList) *Snapshot {
	s := &Snapshot{}
	if len(record) == 0 {
		return s
	}
	for _, field := range allow {
		if v, ok := record[field]; ok {
			s.Set(field, v)
		}
	}
	return s
}

// Registry maps entity types to their allow-lists.
type Registry map[string]AllowList

// Project projects a record using the allow-list registered for entityType.
// Unknown entity types yield an empty snapshot so nothing unvetted is stored.
func (r Registry) Project(entityType string, record map[string]any) *Snapshot {
	return Project(record, r[entityType])
}

// ParcelFields is the allow-list for land parcel registers. Geometry is left
// out on purpose: it is large and not meaningful in a field diff.
var ParcelFields = AllowList{
	"ParcelId", "SurveyId", "BlockNumber", "LotNumber", "Area", "Claimant",
	"TiePointId", "TiePointNa", "SurveyPlan", "BarangayNa", "Coordinate",
	"XI", "YI", "LongitudeI", "LatitudeI", "LengthI", "AreaI", "VersionI",
	"tax_ID", "Tax_Amount", "Due_Date", "AmountPaid", "Date_paid",
}

// DefaultRegistry covers the parcel registers of the land-records application.
func DefaultRegistry() Registry {
	return Registry{
		"ibaan":       ParcelFields,
		"alameda":     ParcelFields,
		"land_parcel": ParcelFields,
	}
}
