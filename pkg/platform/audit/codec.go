package audit

import (
	"encoding/json"
	"fmt"
)

// DecodeRow turns a stored row back into a record. Malformed JSON columns are
// reported as an error instead of being silently dropped.
func DecodeRow(id int64, row Row) (Record, error) {
	rec := Record{
		ID:            id,
		UserID:        row.UserID,
		Username:      row.Username,
		Action:        row.Action,
		EntityType:    row.EntityType,
		EntityID:      row.EntityID,
		EntityCtx:     map[string]any{},
		ChangedFields: []string{},
		IP:            row.IP,
		UserAgent:     row.UserAgent,
		CreatedAt:     row.CreatedAt,
	}
	if row.EntityCtx != "" {
		if err := json.Unmarshal([]byte(row.EntityCtx), &rec.EntityCtx); err != nil {
			return Record{}, fmt.Errorf("decode entity_ctx of audit row %d: %w", id, err)
		}
		if rec.EntityCtx == nil {
			rec.EntityCtx = map[string]any{}
		}
	}
	if row.ChangedFields != "" {
		if err := json.Unmarshal([]byte(row.ChangedFields), &rec.ChangedFields); err != nil {
			return Record{}, fmt.Errorf("decode changed_fields of audit row %d: %w", id, err)
		}
		if rec.ChangedFields == nil {
			rec.ChangedFields = []string{}
		}
	}
	var err error
	if rec.Before, err = decodeSnapshot(row.BeforeData); err != nil {
		return Record{}, fmt.Errorf("decode before_data of audit row %d: %w", id, err)
	}
	if rec.After, err = decodeSnapshot(row.AfterData); err != nil {
		return Record{}, fmt.Errorf("decode after_data of audit row %d: %w", id, err)
	}
	return rec, nil
}

func decodeSnapshot(text *string) (*Snapshot, error) {
	if text == nil || *text == "" || *text == "null" {
		return nil, nil
	}
	s := &Snapshot{}
	if err := json.Unmarshal([]byte(*text), s); err != nil {
		return nil, err
	}
	return s, nil
}
