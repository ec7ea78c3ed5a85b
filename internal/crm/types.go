// Package crm provides the CRM object model and a client for the platform's REST API.
package crm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ObjectType is the API name of a CRM object.
type ObjectType string

const (
	// ObjectAccount is an organisation-level record.
	ObjectAccount ObjectType = "Account"

	// ObjectCase is a customer support case.
	ObjectCase ObjectType = "Case"

	// ObjectContact is a person associated with an Account.
	ObjectContact ObjectType = "Contact"

	// ObjectLead is an unqualified prospect.
	ObjectLead ObjectType = "Lead"

	// ObjectOpportunity is a sales deal associated with an Account.
	ObjectOpportunity ObjectType = "Opportunity"
)

// Field API names used by the resolver queries.
const (
	FieldAccountID = "AccountId"
	FieldID        = "Id"
	FieldLastName  = "LastName"
	FieldName      = "Name"
)

// StageProspecting is the opening stage of a new Opportunity.
const StageProspecting = "Prospecting"

// dateLayout is the wire format of date-only fields.
const dateLayout = "2006-01-02"

// Record is implemented by every CRM entity the record stores can persist.
type Record interface {
	// ObjectType returns the API name of the record's object.
	ObjectType() ObjectType

	// RecordID returns the platform identifier, or empty if the record is not persisted.
	RecordID() string

	// SetRecordID assigns the platform identifier after an insert.
	SetRecordID(id string)
}

// Account represents an organisation in the CRM.
type Account struct {
	// Description is free text; the resolver uses it as a marker.
	Description string `json:"Description,omitempty"`

	// ID is the unique account identifier.
	ID string `json:"Id,omitempty"`

	// Industry is the account's industry classification.
	Industry string `json:"Industry,omitempty"`

	// Name is the account name, treated as a natural lookup key.
	Name string `json:"Name"`
}

// Case represents a customer support case.
type Case struct {
	// AccountID links the case to an account.
	AccountID string `json:"AccountId,omitempty"`

	// ContactID links the case to a contact.
	ContactID string `json:"ContactId,omitempty"`

	// ID is the unique case identifier.
	ID string `json:"Id,omitempty"`

	// Origin is the channel the case came in through (e.g., Email, Phone, Web).
	Origin string `json:"Origin,omitempty"`

	// Status is the case status (e.g., New, Working, Closed).
	Status string `json:"Status,omitempty"`

	// Subject is the case summary line.
	Subject string `json:"Subject,omitempty"`
}

// Contact represents a person associated with an account.
type Contact struct {
	// AccountID links the contact to an account.
	AccountID string `json:"AccountId,omitempty"`

	// Email is the contact's email address.
	Email string `json:"Email,omitempty"`

	// FirstName is the contact's first name.
	FirstName string `json:"FirstName,omitempty"`

	// ID is the unique contact identifier.
	ID string `json:"Id,omitempty"`

	// LastName is the contact's surname.
	LastName string `json:"LastName"`
}

// Lead represents an unqualified prospect.
type Lead struct {
	// Company is the lead's organisation name.
	Company string `json:"Company"`

	// FirstName is the lead's first name.
	FirstName string `json:"FirstName,omitempty"`

	// ID is the unique lead identifier.
	ID string `json:"Id,omitempty"`

	// LastName is the lead's surname.
	LastName string `json:"LastName"`

	// Status is the lead status (e.g., Open - Not Contacted).
	Status string `json:"Status,omitempty"`
}

// Opportunity represents a sales deal associated with an account.
type Opportunity struct {
	// AccountID links the opportunity to an account.
	AccountID string `json:"AccountId,omitempty"`

	// Amount is the deal value.
	Amount *decimal.Decimal `json:"Amount,omitempty"`

	// CloseDate is the expected close date.
	CloseDate Date `json:"CloseDate"`

	// ID is the unique opportunity identifier.
	ID string `json:"Id,omitempty"`

	// Name is the deal name.
	Name string `json:"Name"`

	// StageName is the sales stage (e.g., Prospecting, Closed Won).
	StageName string `json:"StageName,omitempty"`
}

// ObjectType implements Record.
func (a *Account) ObjectType() ObjectType { return ObjectAccount }

// RecordID implements Record.
func (a *Account) RecordID() string { return a.ID }

// SetRecordID implements Record.
func (a *Account) SetRecordID(id string) { a.ID = id }

// ObjectType implements Record.
func (c *Case) ObjectType() ObjectType { return ObjectCase }

// RecordID implements Record.
func (c *Case) RecordID() string { return c.ID }

// SetRecordID implements Record.
func (c *Case) SetRecordID(id string) { c.ID = id }

// ObjectType implements Record.
func (c *Contact) ObjectType() ObjectType { return ObjectContact }

// RecordID implements Record.
func (c *Contact) RecordID() string { return c.ID }

// SetRecordID implements Record.
func (c *Contact) SetRecordID(id string) { c.ID = id }

// ObjectType implements Record.
func (l *Lead) ObjectType() ObjectType { return ObjectLead }

// RecordID implements Record.
func (l *Lead) RecordID() string { return l.ID }

// SetRecordID implements Record.
func (l *Lead) SetRecordID(id string) { l.ID = id }

// ObjectType implements Record.
func (o *Opportunity) ObjectType() ObjectType { return ObjectOpportunity }

// RecordID implements Record.
func (o *Opportunity) RecordID() string { return o.ID }

// SetRecordID implements Record.
func (o *Opportunity) SetRecordID(id string) { o.ID = id }

// NewRecord returns an empty record of the given object type.
func NewRecord(object ObjectType) (Record, error) {
	switch object {
	case ObjectAccount:
		return &Account{}, nil
	case ObjectCase:
		return &Case{}, nil
	case ObjectContact:
		return &Contact{}, nil
	case ObjectLead:
		return &Lead{}, nil
	case ObjectOpportunity:
		return &Opportunity{}, nil
	default:
		return nil, fmt.Errorf("unsupported object type %q", object)
	}
}

// Fields returns the API field names stored for the object type, Id first.
func (t ObjectType) Fields() []string {
	switch t {
	case ObjectAccount:
		return []string{FieldID, FieldName, "Description", "Industry"}
	case ObjectCase:
		return []string{FieldID, "Subject", "Status", "Origin", FieldAccountID, "ContactId"}
	case ObjectContact:
		return []string{FieldID, "FirstName", FieldLastName, "Email", FieldAccountID}
	case ObjectLead:
		return []string{FieldID, "FirstName", FieldLastName, "Company", "Status"}
	case ObjectOpportunity:
		return []string{FieldID, FieldName, FieldAccountID, "StageName", "CloseDate", "Amount"}
	default:
		return nil
	}
}

// Date is a calendar date without a time of day.
type Date struct {
	time.Time
}

// NewDate truncates t to its calendar date in t's location.
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// AddMonths returns the date n months later, clamped to the last day of the target month.
func (d Date) AddMonths(n int) Date {
	y, m, day := d.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	lastDay := first.AddDate(0, 1, -1).Day()
	return Date{Time: time.Date(first.Year(), first.Month(), min(day, lastDay), 0, 0, 0, 0, time.UTC)}
}

// MarshalJSON encodes the date as YYYY-MM-DD, or null when zero.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(dateLayout))
}

// String returns the date as YYYY-MM-DD, or empty when zero.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

// UnmarshalJSON decodes a YYYY-MM-DD string; null and empty decode to the zero date.
func (d *Date) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*d = Date{}
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decoding date: %w", err)
	}
	if s == "" {
		*d = Date{}
		return nil
	}

	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return fmt.Errorf("parsing date %q: %w", s, err)
	}
	d.Time = t
	return nil
}
