package workflow

import (
	"encoding/json"
	"fmt"
)

// ToPlain converts rec into nested maps, slices and scalars with every
// result and enum resolved. It is the shape used at persistence and
// transport boundaries.
func ToPlain(rec *Record) (map[string]any, error) {
	v, err := toPlainValue(rec)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("workflow: plain form of record is %T", v)
	}
	return m, nil
}

// FromPlain rebuilds a record from its plain form.
func FromPlain(m map[string]any) (*Record, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("workflow: encode plain record: %w", err)
	}
	return DecodeRecord(b)
}

// DecodeRecord parses the JSON encoding of a record.
func DecodeRecord(b []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("workflow: decode record: %w", err)
	}
	if rec.Errors == nil {
		rec.Errors = []string{}
	}
	if rec.Warnings == nil {
		rec.Warnings = []string{}
	}
	return &rec, nil
}

func toPlainValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("workflow: encode plain value: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("workflow: decode plain value: %w", err)
	}
	return out, nil
}
