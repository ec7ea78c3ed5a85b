package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/peteski22/crmresolve/internal/crm"
)

// dryRunStore wraps a RecordStore and logs write operations instead of executing them.
type dryRunStore struct {
	store   RecordStore
	logger  *slog.Logger
	counter uint64
}

// NewDryRunStore wraps store so that reads pass through and writes are only logged.
// New records get fake IDs of the form dry-run-<object>-N.
func NewDryRunStore(store RecordStore, logger *slog.Logger) RecordStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &dryRunStore{
		store:  store,
		logger: logger,
	}
}

// Delete logs what would be deleted.
func (d *dryRunStore) Delete(_ context.Context, object crm.ObjectType, ids []string) error {
	d.logger.Info("[DRY-RUN] would delete records",
		"object", object,
		"ids", ids)

	return nil
}

// Find delegates to the real store.
func (d *dryRunStore) Find(ctx context.Context, q crm.Query) ([]crm.Record, error) {
	return d.store.Find(ctx, q)
}

// Insert logs what would be created and assigns fake IDs.
func (d *dryRunStore) Insert(_ context.Context, records []crm.Record) error {
	for _, r := range records {
		d.create(r)
	}
	return nil
}

// Update logs what would be updated.
func (d *dryRunStore) Update(_ context.Context, records []crm.Record) error {
	for _, r := range records {
		d.update(r)
	}
	return nil
}

// Upsert logs what would be created or updated, assigning fake IDs to new records.
func (d *dryRunStore) Upsert(_ context.Context, records []crm.Record) error {
	for _, r := range records {
		if r.RecordID() == "" {
			d.create(r)
		} else {
			d.update(r)
		}
	}
	return nil
}

func (d *dryRunStore) create(r crm.Record) {
	fakeID := d.nextFakeID(strings.ToLower(string(r.ObjectType())))
	r.SetRecordID(fakeID)

	d.logger.Info("[DRY-RUN] would create record",
		append([]any{"object", r.ObjectType(), "fake_id", fakeID}, describe(r)...)...)
}

func (d *dryRunStore) update(r crm.Record) {
	d.logger.Info("[DRY-RUN] would update record",
		append([]any{"object", r.ObjectType(), "id", r.RecordID()}, describe(r)...)...)
}

// nextFakeID generates a unique fake ID for dry-run operations.
func (d *dryRunStore) nextFakeID(prefix string) string {
	n := atomic.AddUint64(&d.counter, 1)
	return fmt.Sprintf("dry-run-%s-%d", prefix, n)
}

// describe returns log attributes summarising a record.
func describe(r crm.Record) []any {
	switch v := r.(type) {
	case *crm.Account:
		return []any{"name", v.Name, "description", v.Description}
	case *crm.Contact:
		return []any{"first_name", v.FirstName, "last_name", v.LastName, "account_id", v.AccountID}
	case *crm.Opportunity:
		return []any{"name", v.Name, "account_id", v.AccountID, "stage", v.StageName, "close_date", v.CloseDate.String()}
	case *crm.Lead:
		return []any{"last_name", v.LastName, "company", v.Company}
	case *crm.Case:
		return []any{"subject", v.Subject, "account_id", v.AccountID}
	default:
		return nil
	}
}
