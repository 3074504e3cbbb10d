package processor

import (
	"context"

	"flatbot/browser"
	"flatbot/models"
)

// Processor is the per-source state machine that drives one listing through
// classification, scraping, login, and application submission. One
// implementation exists per listing source.
type Processor interface {
	// Source is the registry key stored in Listing.Source.
	Source() string
	// Name is the human-readable site name.
	Name() string
	// Domain is the email-sender domain whose messages this processor
	// understands.
	Domain() string
	// ExtractIDs pulls the set of listing ids out of a notification email.
	// The result is de-duplicated.
	ExtractIDs(subject, body string) []string
	// ListingURL deterministically builds the canonical page URL for a
	// listing id.
	ListingURL(l *models.Listing) string
	// Process runs the bounded local-attempt loop for one listing against
	// the given browser session, mutating the listing in place. terminal
	// reports whether this invocation reached a terminal outcome; a false
	// return with nil error is a retryable failure the driver accounts for.
	Process(ctx context.Context, s *browser.Session, l *models.Listing) (terminal bool, err error)
}

// Registry resolves processors by source key (pipeline driver) and by sender
// domain (mailbox ingestion). It is populated once at startup by explicit
// registration; there is no runtime discovery.
type Registry struct {
	bySource map[string]Processor
	ordered  []Processor
}

// NewRegistry builds a registry from the given processors.
func NewRegistry(procs ...Processor) *Registry {
	r := &Registry{bySource: make(map[string]Processor, len(procs))}
	for _, p := range procs {
		r.bySource[p.Source()] = p
		r.ordered = append(r.ordered, p)
	}
	return r
}

// BySource returns the processor registered for a source key.
func (r *Registry) BySource(source string) (Processor, bool) {
	p, ok := r.bySource[source]
	return p, ok
}

// ByDomain returns the first processor whose domain the sender address
// contains.
func (r *Registry) ByDomain(sender string) (Processor, bool) {
	for _, p := range r.ordered {
		if p.Domain() != "" && containsFold(sender, p.Domain()) {
			return p, true
		}
	}
	return nil, false
}

// All returns the registered processors in registration order.
func (r *Registry) All() []Processor {
	return r.ordered
}
