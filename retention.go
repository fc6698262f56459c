package vericert

import (
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/vericert/vericert/storage/model"
)

// RetentionPolicy holds the archival horizons per event class, in days. A
// zero horizon means entries of that class are kept indefinitely.
type RetentionPolicy struct {
	StandardDays    int `yaml:"standard_days"`
	SecurityDays    int `yaml:"security_days"`
	CertificateDays int `yaml:"certificate_days"`
}

// DefaultRetentionPolicy mirrors common compliance regimes: one year for
// ordinary events, seven for security events, ten for anything touching an
// issued certificate.
func DefaultRetentionPolicy() *RetentionPolicy {
	return &RetentionPolicy{
		StandardDays:    365,
		SecurityDays:    7 * 365,
		CertificateDays: 10 * 365,
	}
}

// HorizonDays returns the retention horizon for an event type.
func (p *RetentionPolicy) HorizonDays(t model.AuditEventType) int {
	switch {
	case t.CertificateRelated():
		return p.CertificateDays
	case t.SecurityRelevant():
		return p.SecurityDays
	default:
		return p.StandardDays
	}
}

// ArchiveAfter returns the point in time after which an entry of the passed
// event type may be archived, or nil for indefinite retention.
func (p *RetentionPolicy) ArchiveAfter(t model.AuditEventType) *time.Time {
	days := p.HorizonDays(t)
	if days <= 0 {
		return nil
	}
	horizon := time.Now().UTC().AddDate(0, 0, days)
	return &horizon
}

// kvKeyLastSweep records when the last retention sweep finished.
const kvKeyLastSweep = model.KeyValueKeyLastSweep

// RetentionService runs archival sweeps over the audit ledger and reports
// how much is pending.
type RetentionService struct {
	store  model.AuditStore
	kv     model.KeyValueStore
	policy *RetentionPolicy
}

// NewRetentionService wires the retention service.
func NewRetentionService(store model.AuditStore, kv model.KeyValueStore, policy *RetentionPolicy) *RetentionService {
	if policy == nil {
		policy = DefaultRetentionPolicy()
	}
	return &RetentionService{store: store, kv: kv, policy: policy}
}

// RetentionReport summarizes the ledger's archival state.
type RetentionReport struct {
	TotalEntries   int64      `json:"total_entries"`
	PendingArchive int64      `json:"pending_archive"`
	LastSweep      *time.Time `json:"last_sweep,omitempty"`

	StandardDays    int `json:"standard_days"`
	SecurityDays    int `json:"security_days"`
	CertificateDays int `json:"certificate_days"`
}

// Report returns the compliance view: how many entries exist, how many have
// passed their horizon, and when the last sweep ran.
func (s *RetentionService) Report() (*RetentionReport, error) {
	total, err := s.store.Count()
	if err != nil {
		return nil, errors.Wrap(err, "retention: count failed")
	}
	pending, err := s.store.CountArchiveDue(time.Now().UTC())
	if err != nil {
		return nil, errors.Wrap(err, "retention: pending count failed")
	}
	report := &RetentionReport{
		TotalEntries:    total,
		PendingArchive:  pending,
		StandardDays:    s.policy.StandardDays,
		SecurityDays:    s.policy.SecurityDays,
		CertificateDays: s.policy.CertificateDays,
	}
	if s.kv != nil {
		var last time.Time
		found, err := s.kv.GetAs(model.KeyValueScopeLedger, kvKeyLastSweep, &last)
		if err != nil {
			return nil, errors.Wrap(err, "retention: last sweep read failed")
		}
		if found {
			report.LastSweep = &last
		}
	}
	return report, nil
}

// Sweep archives at most limit overdue entries and returns how many were
// removed. Only a contiguous prefix of the chain is ever archived; the store
// persists the chain hash of the last archived entry so validation can
// anchor the surviving chain at it. Running Sweep twice in a row is safe;
// the second run simply finds fewer (or no) overdue entries.
func (s *RetentionService) Sweep(limit int) (int64, error) {
	if limit <= 0 {
		limit = 1000
	}
	removed, _, err := s.store.DeleteArchiveDue(time.Now().UTC(), limit)
	if err != nil {
		return 0, errors.Wrap(err, "retention: sweep failed")
	}
	if s.kv != nil {
		if err = s.kv.SetAny(model.KeyValueScopeLedger, kvKeyLastSweep, time.Now().UTC()); err != nil {
			log.WithError(err).Error("could not record retention sweep time")
		}
	}
	if removed > 0 {
		log.WithField("removed", removed).Info("retention sweep archived ledger entries")
	}
	return removed, nil
}

// RunPeriodic sweeps on the passed interval until stop is closed. Intended to
// be started as a goroutine from the server binary.
func (s *RetentionService) RunPeriodic(interval time.Duration, batch int, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := s.Sweep(batch); err != nil {
				log.WithError(err).Error("periodic retention sweep failed")
			}
		}
	}
}
