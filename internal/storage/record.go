// Package storage provides record stores and persistence for account resolution.
package storage

import (
	"encoding/json"
	"fmt"

	"github.com/peteski22/crmresolve/internal/crm"
)

// encodedRecord is a record flattened for storage.
type encodedRecord struct {
	// fields holds the record's string-valued fields by API name, excluding Id.
	fields map[string]string

	// payload is the record's JSON encoding without its ID.
	payload []byte
}

// encodeRecord flattens a record into its JSON payload and string fields.
func encodeRecord(r crm.Record) (encodedRecord, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return encodedRecord{}, fmt.Errorf("encoding %s: %w", r.ObjectType(), err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return encodedRecord{}, fmt.Errorf("encoding %s: %w", r.ObjectType(), err)
	}
	delete(raw, crm.FieldID)

	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			fields[k] = s
		}
	}

	payload, err := json.Marshal(raw)
	if err != nil {
		return encodedRecord{}, fmt.Errorf("encoding %s: %w", r.ObjectType(), err)
	}

	return encodedRecord{fields: fields, payload: payload}, nil
}

// decodeRecord rebuilds a typed record from its stored payload and ID.
func decodeRecord(object crm.ObjectType, id string, payload []byte) (crm.Record, error) {
	r, err := crm.NewRecord(object)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(payload, r); err != nil {
		return nil, fmt.Errorf("decoding %s %s: %w", object, id, err)
	}
	r.SetRecordID(id)

	return r, nil
}

// splitByID separates records without an ID from those that already have one.
func splitByID(records []crm.Record) (inserts []crm.Record, updates []crm.Record) {
	for _, r := range records {
		if r.RecordID() == "" {
			inserts = append(inserts, r)
		} else {
			updates = append(updates, r)
		}
	}
	return inserts, updates
}

// batchResult collects per-record failures for a store write.
type batchResult struct {
	failures []crm.RecordFailure
	op       string
	total    int
}

func newBatchResult(op string, total int) *batchResult {
	return &batchResult{op: op, total: total}
}

func (b *batchResult) fail(index int, id string, code string, err error) {
	b.failures = append(b.failures, crm.RecordFailure{
		Code:    code,
		ID:      id,
		Index:   index,
		Message: err.Error(),
	})
}

// err returns a *crm.BatchError when any record failed.
func (b *batchResult) err() error {
	if len(b.failures) == 0 {
		return nil
	}
	return &crm.BatchError{Failures: b.failures, Op: b.op, Total: b.total}
}
