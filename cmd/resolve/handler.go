package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/peteski22/crmresolve/internal/crm"
	"github.com/peteski22/crmresolve/internal/metrics"
	"github.com/peteski22/crmresolve/internal/resolver"
	"github.com/peteski22/crmresolve/internal/storage"
)

const (
	opLinkContacts        = "link_contacts"
	opResolveAccount      = "resolve_account"
	opUpsertOpportunities = "upsert_opportunities"
)

// errUnknownOperation is returned for events naming an operation the handler does not support.
var errUnknownOperation = errors.New("unknown operation")

// StateStore records when the handler last completed a run.
type StateStore interface {
	// LastRunTime returns the time of the last successful run.
	LastRunTime(ctx context.Context) (time.Time, error)

	// SetLastRunTime records the time of a successful run.
	SetLastRunTime(ctx context.Context, t time.Time) error
}

// MetricsPusher sends the collected counters to a Prometheus Pushgateway.
type MetricsPusher interface {
	// AddContext pushes the gathered metrics, replacing only those with the same names.
	AddContext(ctx context.Context) error
}

// Event is the Lambda invocation payload.
//
//nolint:tagliatelle // Event payloads use snake_case.
type Event struct {
	// AccountName is the account to resolve, for resolve_account and upsert_opportunities.
	AccountName string `json:"account_name,omitempty"`

	// Contacts are the contacts to link, for link_contacts.
	Contacts []*crm.Contact `json:"contacts,omitempty"`

	// DryRun logs writes instead of making them.
	DryRun bool `json:"dry_run,omitempty"`

	// OpportunityNames are the opportunities to add, for upsert_opportunities.
	OpportunityNames []string `json:"opportunity_names,omitempty"`

	// Operation is one of resolve_account, link_contacts or upsert_opportunities.
	Operation string `json:"operation"`
}

// Response is the Lambda invocation result.
//
//nolint:tagliatelle // Response payloads use snake_case.
type Response struct {
	Account        *crm.Account                `json:"account,omitempty"`
	AccountCreated bool                        `json:"account_created,omitempty"`
	Contacts       []*crm.Contact              `json:"contacts,omitempty"`
	DryRun         bool                        `json:"dry_run"`
	Link           *resolver.LinkResult        `json:"link,omitempty"`
	Operation      string                      `json:"operation"`
	Opportunities  *resolver.OpportunityResult `json:"opportunities,omitempty"`
	PreviousRun    *time.Time                  `json:"previous_run,omitempty"`
}

// handler serves resolver operations to Lambda invocations.
type handler struct {
	logger          *slog.Logger
	metrics         *metrics.Recorder
	now             func() time.Time
	pusher          MetricsPusher
	rejectAmbiguous bool
	state           StateStore
	store           resolver.RecordStore
}

// Handle runs the operation named by the event and records the run time on success.
// A failure to record the run time is logged, not returned.
func (h *handler) Handle(ctx context.Context, event Event) (*Response, error) {
	logger := h.logger.With("operation", event.Operation, "dry_run", event.DryRun)
	logger.InfoContext(ctx, "starting run")
	defer h.pushMetrics(ctx, logger)

	state := h.state
	if event.DryRun {
		state = storage.NewNoopStateStore(time.Time{})
	}

	svc, err := resolver.New(resolver.Config{
		DryRun:          event.DryRun,
		Logger:          logger,
		Metrics:         h.metrics,
		RejectAmbiguous: h.rejectAmbiguous,
		Store:           h.store,
	})
	if err != nil {
		return nil, fmt.Errorf("creating resolver: %w", err)
	}

	previous, err := state.LastRunTime(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting last run time: %w", err)
	}

	resp := &Response{DryRun: event.DryRun, Operation: event.Operation}
	if !previous.IsZero() {
		resp.PreviousRun = &previous
	}

	if err := h.run(ctx, svc, event, resp); err != nil {
		logger.ErrorContext(ctx, "run failed", "error", err)
		return nil, err
	}

	// The writes are already committed; failing here would make a retry replay them.
	if err := state.SetLastRunTime(ctx, h.now()); err != nil {
		logger.ErrorContext(ctx, "setting last run time", "error", err)
	}

	logger.InfoContext(ctx, "run complete")
	return resp, nil
}

func (h *handler) run(ctx context.Context, svc *resolver.Service, event Event, resp *Response) error {
	switch event.Operation {
	case opResolveAccount:
		account, created, err := svc.ResolveAccount(ctx, event.AccountName)
		if err != nil {
			return fmt.Errorf("resolving account: %w", err)
		}
		resp.Account = account
		resp.AccountCreated = created
	case opLinkContacts:
		result, err := svc.LinkContactsToAccounts(ctx, event.Contacts)
		if err != nil {
			return fmt.Errorf("linking contacts: %w", err)
		}
		resp.Contacts = event.Contacts
		resp.Link = result
	case opUpsertOpportunities:
		result, err := svc.UpsertOpportunitiesForAccount(ctx, event.AccountName, event.OpportunityNames)
		if err != nil {
			return fmt.Errorf("upserting opportunities: %w", err)
		}
		resp.AccountCreated = result.AccountCreated
		resp.Opportunities = result
	default:
		return fmt.Errorf("%w: %q", errUnknownOperation, event.Operation)
	}

	return nil
}

// pushMetrics sends counters after every invocation, failed or not, since nothing scrapes a Lambda.
func (h *handler) pushMetrics(ctx context.Context, logger *slog.Logger) {
	if h.pusher == nil {
		return
	}
	if err := h.pusher.AddContext(ctx); err != nil {
		logger.WarnContext(ctx, "pushing metrics", "error", err)
	}
}
