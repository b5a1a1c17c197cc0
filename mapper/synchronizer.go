package mapper

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"dhcpmapper/lease"
	"dhcpmapper/router"
)

// Router web UI operations used by the synchronizer.
type Router interface {
	EnsureAccess(ctx context.Context) error
	FetchInterfacePage(ctx context.Context, interfaceID string) (*router.InterfacePage, error)
	FetchLeases(ctx context.Context) ([]lease.Record, error)
	FetchCSRFToken(ctx context.Context, interfaceID string) (*router.CSRFToken, error)
	CreateStaticMapping(ctx context.Context, token *router.CSRFToken, form router.StaticMappingForm) error
	ApplyChanges(ctx context.Context, token *router.CSRFToken, interfaceID string) error
}

// Receiver of the static mapping table.
type Publisher interface {
	Publish(ctx context.Context, mappings []router.StaticMapping) error
}

var (
	_ Router = (*router.Client)(nil)
	// Returned when the interface page lacks the NTP servers.
	ErrMissingNTPServers = errors.New("failed to find the NTP servers on the interface page")
	// Returned when the interface page lacks the DNS servers.
	ErrMissingDNSServers = errors.New("failed to find the DNS servers on the interface page")
)

// Summary of the sync cycle.
type Report struct {
	// Number of leases selected for the promotion.
	Candidates int
	// Number of static mappings created and applied.
	Promoted int
	// Indicates if the static mapping table was published.
	Published bool
}

// Promotes the dynamic leases to static mappings in the router
// configuration. Each Sync call is an independent best-effort pass.
type Synchronizer struct {
	settings  *Settings
	router    Router
	publisher Publisher
	metrics   *Metrics
}

// Creates the synchronizer. The publisher is optional.
func NewSynchronizer(settings *Settings, router Router, publisher Publisher, metrics *Metrics) *Synchronizer {
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Synchronizer{
		settings:  settings,
		router:    router,
		publisher: publisher,
		metrics:   metrics,
	}
}

// Runs a single sync cycle. A failure of any step aborts the cycle. The
// promotion stops at the first failed candidate so that the router
// configuration is not left half-applied for the rest of the list.
func (s *Synchronizer) Sync(ctx context.Context) (*Report, error) {
	started := time.Now()
	report, err := s.sync(ctx)
	s.metrics.observeSync(started, err)
	return report, err
}

func (s *Synchronizer) sync(ctx context.Context) (*Report, error) {
	log.Info("Making static DHCP mappings")
	report := &Report{}

	if err := s.router.EnsureAccess(ctx); err != nil {
		return report, errors.WithMessage(err, "cannot access the router UI")
	}

	page, err := s.router.FetchInterfacePage(ctx, s.settings.InterfaceID)
	if err != nil {
		return report, errors.WithMessagef(err, "cannot fetch the DHCP page of interface %s", s.settings.InterfaceID)
	}
	s.metrics.StaticMappings.Set(float64(len(page.StaticMappings)))

	if len(page.StaticMappings) > 0 && s.publisher != nil {
		if err := s.publisher.Publish(ctx, page.StaticMappings); err != nil {
			s.metrics.PublishFailures.Inc()
			log.WithError(err).Error("Failed to publish the static mapping table")
		} else {
			report.Published = true
		}
	}

	if page.NTP == nil {
		return report, ErrMissingNTPServers
	}
	if page.DNS == nil {
		return report, ErrMissingDNSServers
	}

	records, err := s.router.FetchLeases(ctx)
	if err != nil {
		return report, err
	}

	result := lease.Reconcile(records, lease.Filter{
		Interface:       s.settings.InterfaceFilter(),
		ExcludeHostname: s.settings.ExcludeHostname,
	})
	s.reportDiagnostics(result.Diagnostics)
	report.Candidates = len(result.Candidates)
	s.metrics.LeaseCandidates.Set(float64(report.Candidates))

	if len(result.Candidates) == 0 {
		log.Info("Nothing to do")
		return report, nil
	}

	for _, candidate := range result.Candidates {
		if err := s.promote(ctx, candidate, page); err != nil {
			return report, err
		}
		report.Promoted++
		s.metrics.PromotedLeases.Inc()
	}

	log.WithField("count", report.Promoted).Info("Made static DHCP mappings")
	return report, nil
}

// Creates and applies the static mapping for the candidate.
func (s *Synchronizer) promote(ctx context.Context, candidate lease.Candidate, page *router.InterfacePage) error {
	fields := log.Fields{
		"hostname":  candidate.Hostname,
		"ip":        candidate.IPAddress,
		"mac":       candidate.MACAddress,
		"interface": candidate.InterfaceID,
	}

	token, err := s.router.FetchCSRFToken(ctx, candidate.InterfaceID)
	if err != nil {
		return errors.WithMessagef(err, "cannot get the CSRF token for %s", candidate.Hostname)
	}

	err = s.router.CreateStaticMapping(ctx, token, router.StaticMappingForm{
		Lease: candidate,
		NTP:   *page.NTP,
		DNS:   *page.DNS,
	})
	if err != nil {
		return errors.WithMessagef(err, "cannot make the static mapping for %s", candidate.Hostname)
	}

	if err = s.router.ApplyChanges(ctx, token, candidate.InterfaceID); err != nil {
		return errors.WithMessagef(err, "cannot save the static mapping for %s", candidate.Hostname)
	}

	log.WithFields(fields).Info("Made static DHCP mapping")
	return nil
}

// Logs the reconciliation diagnostics and counts them.
func (s *Synchronizer) reportDiagnostics(diagnostics []lease.Diagnostic) {
	for _, diagnostic := range diagnostics {
		s.metrics.Diagnostics.WithLabelValues(diagnostic.Kind.String()).Inc()
		logDiagnostic(diagnostic)
	}
}

// Logs the diagnostic with the level reflecting its severity.
func logDiagnostic(diagnostic lease.Diagnostic) {
	entry := log.WithFields(log.Fields{
		"hostname": diagnostic.Hostname,
		"leases":   diagnostic.Count,
	})

	switch diagnostic.Kind {
	case lease.DiagnosticDuplicateHostname:
		entry.Info("Found repeated leases")
	case lease.DiagnosticMultipleDynamic:
		entry.WithFields(log.Fields{
			"kept_ip":      diagnostic.Kept.IPAddress,
			"discarded_ip": diagnostic.Discarded.IPAddress,
			"mac":          diagnostic.Discarded.MACAddress,
		}).Warn("Multiple dynamic leases")
	case lease.DiagnosticMultipleStatic:
		entry.WithFields(log.Fields{
			"kept_ip":      diagnostic.Kept.IPAddress,
			"discarded_ip": diagnostic.Discarded.IPAddress,
			"mac":          diagnostic.Discarded.MACAddress,
		}).Warn("Multiple static leases")
	case lease.DiagnosticStaticExists:
		entry.WithFields(log.Fields{
			"ip":  diagnostic.Kept.IPAddress,
			"mac": diagnostic.Kept.MACAddress,
		}).Info("Static lease already exists")
	case lease.DiagnosticChosen:
		entry.WithFields(log.Fields{
			"ip":  diagnostic.Kept.IPAddress,
			"mac": diagnostic.Kept.MACAddress,
		}).Info("Choosing lease")
	case lease.DiagnosticNoSurvivor:
		entry.Error("No leases left after resolving the conflicts; the lease data is inconsistent")
	}
}
