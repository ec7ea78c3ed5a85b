package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/peteski22/crmresolve/internal/crm"
	"github.com/peteski22/crmresolve/internal/metrics"
)

// Config holds the required configuration for creating a Service.
type Config struct {
	// DryRun indicates whether to skip writes to the store.
	DryRun bool

	// Logger is the structured logger for the service.
	Logger *slog.Logger

	// Metrics optionally records resolution outcomes.
	Metrics *metrics.Recorder

	// RejectAmbiguous makes lookups fail with ErrAmbiguousAccount when several
	// accounts share a name, instead of using the first match.
	RejectAmbiguous bool

	// Store is the record store holding accounts, contacts and opportunities.
	Store RecordStore
}

// validate checks that all required Config fields are set.
func (c *Config) validate() error {
	var errs []error
	if c.Store == nil {
		errs = append(errs, errors.New("record store is required"))
	}
	return errors.Join(errs...)
}

// Service resolves accounts by name and writes the records that depend on them.
type Service struct {
	dryRun          bool
	logger          *slog.Logger
	metrics         *metrics.Recorder
	now             func() time.Time
	rejectAmbiguous bool
	store           RecordStore
}

// New creates a new account resolution service.
func New(cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store := cfg.Store
	if cfg.DryRun {
		store = NewDryRunStore(cfg.Store, logger)
	}

	return &Service{
		dryRun:          cfg.DryRun,
		logger:          logger,
		metrics:         cfg.Metrics,
		now:             time.Now,
		rejectAmbiguous: cfg.RejectAmbiguous,
		store:           store,
	}, nil
}

// ResolveAccount finds the account with the given name and marks it updated, or creates it.
// Returns the account, whether it was created, and any error. Exactly one write is made.
func (s *Service) ResolveAccount(ctx context.Context, name string) (*crm.Account, bool, error) {
	account, created, err := s.resolveAccount(ctx, name)
	if err != nil {
		s.metrics.OperationFailed("resolve_account")
		return nil, false, err
	}
	return account, created, nil
}

func (s *Service) resolveAccount(ctx context.Context, name string) (*crm.Account, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false, ErrEmptyAccountName
	}

	resolved, created, err := s.resolveAccounts(ctx, []string{name})
	if err != nil {
		return nil, false, err
	}

	account := resolved[name]
	s.logger.Info("resolved account",
		"account_name", name,
		"account_id", account.ID,
		"created", created > 0,
		"dry_run", s.dryRun)

	return account, created > 0, nil
}

// LinkContactsToAccounts resolves an account named after each contact's surname,
// links the contact to it and writes all linked contacts in one upsert.
// Contacts without a surname are skipped and not written.
// Accounts written before a failed contact upsert are not rolled back.
func (s *Service) LinkContactsToAccounts(ctx context.Context, contacts []*crm.Contact) (*LinkResult, error) {
	result, err := s.linkContacts(ctx, contacts)
	if err != nil {
		s.metrics.OperationFailed("link_contacts")
	}
	return result, err
}

func (s *Service) linkContacts(ctx context.Context, contacts []*crm.Contact) (*LinkResult, error) {
	result := &LinkResult{}

	var names []string
	seen := make(map[string]bool, len(contacts))
	for _, c := range contacts {
		name := accountNameFor(c)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}

	var accounts map[string]*crm.Account
	if len(names) > 0 {
		var err error
		var created int
		accounts, created, err = s.resolveAccounts(ctx, names)
		if err != nil {
			return result, fmt.Errorf("resolving accounts: %w", err)
		}
		result.AccountsCreated = created
		result.AccountsUpdated = len(names) - created
	}

	batch := make([]crm.Record, 0, len(contacts))
	for i, c := range contacts {
		account := accounts[accountNameFor(c)]
		if account == nil {
			s.logger.Warn("skipping contact without surname", "index", i)
			result.ContactsSkipped++
			continue
		}
		c.AccountID = account.ID
		batch = append(batch, c)
	}

	if len(batch) > 0 {
		if err := s.store.Upsert(ctx, batch); err != nil {
			return result, fmt.Errorf("writing contacts: %w", err)
		}
	}
	result.ContactsLinked = len(batch)
	s.metrics.ContactsProcessed(result.ContactsLinked, result.ContactsSkipped)

	s.logger.Info("linked contacts to accounts",
		"contacts_linked", result.ContactsLinked,
		"contacts_skipped", result.ContactsSkipped,
		"accounts_created", result.AccountsCreated,
		"accounts_updated", result.AccountsUpdated,
		"dry_run", s.dryRun)

	return result, nil
}

// UpsertOpportunitiesForAccount creates an opportunity for each name the account does not already have.
// The account is created with only its name set when it does not exist. Names already on the
// account, and names repeated in oppNames, are skipped, so repeating a call creates nothing new.
func (s *Service) UpsertOpportunitiesForAccount(
	ctx context.Context,
	accountName string,
	oppNames []string,
) (*OpportunityResult, error) {
	result, err := s.upsertOpportunities(ctx, accountName, oppNames)
	if err != nil {
		s.metrics.OperationFailed("upsert_opportunities")
	}
	return result, err
}

func (s *Service) upsertOpportunities(
	ctx context.Context,
	accountName string,
	oppNames []string,
) (*OpportunityResult, error) {
	accountName = strings.TrimSpace(accountName)
	if accountName == "" {
		return nil, ErrEmptyAccountName
	}

	account, created, err := s.findOrCreateBareAccount(ctx, accountName)
	if err != nil {
		return nil, err
	}
	result := &OpportunityResult{AccountCreated: created, AccountID: account.ID}

	existing, err := s.opportunityNames(ctx, account.ID)
	if err != nil {
		return result, err
	}

	closeDate := crm.NewDate(s.now().UTC()).AddMonths(closeDateMonths)

	var batch []crm.Record
	for _, name := range oppNames {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if existing[name] {
			result.Skipped = append(result.Skipped, name)
			continue
		}
		existing[name] = true
		batch = append(batch, &crm.Opportunity{
			AccountID: account.ID,
			CloseDate: closeDate,
			Name:      name,
			StageName: crm.StageProspecting,
		})
		result.Created = append(result.Created, name)
	}

	if len(batch) > 0 {
		if err := s.store.Upsert(ctx, batch); err != nil {
			return result, fmt.Errorf("writing opportunities: %w", err)
		}
	}
	s.metrics.OpportunitiesProcessed(len(result.Created), len(result.Skipped))

	s.logger.Info("upserted opportunities",
		"account_name", accountName,
		"account_id", account.ID,
		"account_created", created,
		"created", len(result.Created),
		"skipped", len(result.Skipped),
		"dry_run", s.dryRun)

	return result, nil
}

// findOrCreateBareAccount returns the account with the given name unchanged,
// or inserts one with only its name set.
func (s *Service) findOrCreateBareAccount(ctx context.Context, name string) (*crm.Account, bool, error) {
	found, err := s.findAccounts(ctx, []string{name})
	if err != nil {
		return nil, false, err
	}

	account, err := s.pickAccount(name, found[name])
	if err != nil {
		return nil, false, err
	}
	if account != nil {
		return account, false, nil
	}

	account = &crm.Account{Name: name}
	if err := s.store.Insert(ctx, []crm.Record{account}); err != nil {
		return nil, false, fmt.Errorf("creating account: %w", err)
	}
	s.metrics.AccountResolved(true)

	return account, true, nil
}

// resolveAccounts looks up all names in one query, marks the matched accounts updated in one
// write and creates the missing ones in another. Returns the accounts by name and the number created.
func (s *Service) resolveAccounts(ctx context.Context, names []string) (map[string]*crm.Account, int, error) {
	found, err := s.findAccounts(ctx, names)
	if err != nil {
		return nil, 0, err
	}

	resolved := make(map[string]*crm.Account, len(names))
	var inserts, updates []crm.Record
	for _, name := range names {
		account, err := s.pickAccount(name, found[name])
		if err != nil {
			return nil, 0, err
		}

		if account != nil {
			account.Description = DescriptionUpdated
			updates = append(updates, account)
		} else {
			account = &crm.Account{Name: name, Description: DescriptionNew}
			inserts = append(inserts, account)
		}
		resolved[name] = account
	}

	if len(updates) > 0 {
		if err := s.store.Update(ctx, updates); err != nil {
			return nil, 0, fmt.Errorf("updating accounts: %w", err)
		}
	}
	if len(inserts) > 0 {
		if err := s.store.Insert(ctx, inserts); err != nil {
			return nil, 0, fmt.Errorf("creating accounts: %w", err)
		}
	}

	for range updates {
		s.metrics.AccountResolved(false)
	}
	for range inserts {
		s.metrics.AccountResolved(true)
	}

	return resolved, len(inserts), nil
}

// findAccounts returns the accounts whose name exactly equals one of names, grouped by name in store order.
func (s *Service) findAccounts(ctx context.Context, names []string) (map[string][]*crm.Account, error) {
	records, err := s.store.Find(ctx, crm.Where(crm.ObjectAccount, crm.FieldName, names...))
	if err != nil {
		return nil, fmt.Errorf("finding accounts: %w", err)
	}

	found := make(map[string][]*crm.Account, len(names))
	for _, r := range records {
		account, ok := r.(*crm.Account)
		if !ok {
			return nil, fmt.Errorf("finding accounts: unexpected record type %T", r)
		}
		// Some stores compare text case-insensitively; only exact names count.
		found[account.Name] = append(found[account.Name], account)
	}

	return found, nil
}

// opportunityNames returns the set of opportunity names already on the account.
func (s *Service) opportunityNames(ctx context.Context, accountID string) (map[string]bool, error) {
	q := crm.Where(crm.ObjectOpportunity, crm.FieldAccountID, accountID)
	q.Fields = []string{crm.FieldName}

	records, err := s.store.Find(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("finding opportunities: %w", err)
	}

	names := make(map[string]bool, len(records))
	for _, r := range records {
		opp, ok := r.(*crm.Opportunity)
		if !ok {
			return nil, fmt.Errorf("finding opportunities: unexpected record type %T", r)
		}
		names[opp.Name] = true
	}

	return names, nil
}

// pickAccount chooses among accounts sharing a name. Returns nil when there are none.
func (s *Service) pickAccount(name string, matches []*crm.Account) (*crm.Account, error) {
	switch {
	case len(matches) == 0:
		return nil, nil
	case len(matches) == 1:
		return matches[0], nil
	case s.rejectAmbiguous:
		return nil, fmt.Errorf("%w: %d accounts named %q", ErrAmbiguousAccount, len(matches), name)
	default:
		s.logger.Warn("multiple accounts share name, using first match",
			"account_name", name,
			"matches", len(matches),
			"account_id", matches[0].ID)
		return matches[0], nil
	}
}

// accountNameFor derives the account name for a contact from its surname.
func accountNameFor(c *crm.Contact) string {
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.LastName)
}
