// Package metrics provides Prometheus instrumentation for account resolution.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "crmresolve"

// Recorder counts resolver outcomes. A nil Recorder records nothing.
type Recorder struct {
	// accounts counts resolved accounts by outcome (created, updated).
	accounts *prometheus.CounterVec

	// contacts counts processed contacts by outcome (linked, skipped).
	contacts *prometheus.CounterVec

	// failures counts failed operations by operation name.
	failures *prometheus.CounterVec

	// opportunities counts requested opportunity names by outcome (created, skipped).
	opportunities *prometheus.CounterVec
}

// NewRecorder creates a Recorder and registers its collectors with reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		return nil, fmt.Errorf("registerer is required")
	}

	r := &Recorder{
		accounts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accounts_resolved_total",
			Help:      "Accounts resolved by name, by outcome.",
		}, []string{"outcome"}),
		contacts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contacts_processed_total",
			Help:      "Contacts processed by the account linker, by outcome.",
		}, []string{"outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_failures_total",
			Help:      "Resolver operations that returned an error, by operation.",
		}, []string{"operation"}),
		opportunities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "opportunities_processed_total",
			Help:      "Opportunity names processed by the batch upsert, by outcome.",
		}, []string{"outcome"}),
	}

	for _, c := range []prometheus.Collector{r.accounts, r.contacts, r.failures, r.opportunities} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering collector: %w", err)
		}
	}

	return r, nil
}

// AccountResolved records one account resolution.
func (r *Recorder) AccountResolved(created bool) {
	if r == nil {
		return
	}
	r.accounts.WithLabelValues(outcome(created, "created", "updated")).Inc()
}

// ContactsProcessed records the linker's per-contact outcomes.
func (r *Recorder) ContactsProcessed(linked int, skipped int) {
	if r == nil {
		return
	}
	r.contacts.WithLabelValues("linked").Add(float64(linked))
	r.contacts.WithLabelValues("skipped").Add(float64(skipped))
}

// OperationFailed records a failed resolver operation.
func (r *Recorder) OperationFailed(operation string) {
	if r == nil {
		return
	}
	r.failures.WithLabelValues(operation).Inc()
}

// OpportunitiesProcessed records the batch upsert's per-name outcomes.
func (r *Recorder) OpportunitiesProcessed(created int, skipped int) {
	if r == nil {
		return
	}
	r.opportunities.WithLabelValues("created").Add(float64(created))
	r.opportunities.WithLabelValues("skipped").Add(float64(skipped))
}

func outcome(cond bool, ifTrue string, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}
