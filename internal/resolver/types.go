// Package resolver provides account-resolving upserts: find-or-create Accounts by name,
// link Contacts to them, and add Opportunities to an Account without duplicating names.
package resolver

import (
	"context"
	"errors"

	"github.com/peteski22/crmresolve/internal/crm"
)

const (
	// DescriptionNew marks an Account created by the resolver.
	DescriptionNew = "New Account"

	// DescriptionUpdated marks an existing Account the resolver matched.
	DescriptionUpdated = "Updated Account"

	// closeDateMonths is how far ahead new Opportunities are expected to close.
	closeDateMonths = 3
)

var (
	// ErrAmbiguousAccount is returned when several Accounts share a name and the service rejects ambiguity.
	ErrAmbiguousAccount = errors.New("ambiguous account name")

	// ErrEmptyAccountName is returned when an account name is blank.
	ErrEmptyAccountName = errors.New("account name is required")
)

// RecordStore is the record storage the resolver reads from and writes to.
type RecordStore interface {
	// Delete deletes records of the given object type by ID.
	Delete(ctx context.Context, object crm.ObjectType, ids []string) error

	// Find returns the records matching the query.
	Find(ctx context.Context, q crm.Query) ([]crm.Record, error)

	// Insert creates the records and assigns their generated IDs.
	Insert(ctx context.Context, records []crm.Record) error

	// Update writes records that already carry an ID.
	Update(ctx context.Context, records []crm.Record) error

	// Upsert inserts records without an ID and updates the rest.
	Upsert(ctx context.Context, records []crm.Record) error
}

// LinkResult contains the outcome of linking contacts to accounts.
type LinkResult struct {
	// AccountsCreated is the number of new accounts created.
	AccountsCreated int `json:"accounts_created"`

	// AccountsUpdated is the number of existing accounts matched and updated.
	AccountsUpdated int `json:"accounts_updated"`

	// ContactsLinked is the number of contacts linked and written.
	ContactsLinked int `json:"contacts_linked"`

	// ContactsSkipped is the number of contacts without a surname to resolve.
	ContactsSkipped int `json:"contacts_skipped"`
}

// OpportunityResult contains the outcome of a batch opportunity upsert.
type OpportunityResult struct {
	// AccountCreated indicates the account did not exist and was created.
	AccountCreated bool `json:"account_created"`

	// AccountID is the identifier of the resolved account.
	AccountID string `json:"account_id"`

	// Created lists the opportunity names created, in input order.
	Created []string `json:"created"`

	// Skipped lists names not created because the account already had them or they repeated an earlier name.
	Skipped []string `json:"skipped"`
}
