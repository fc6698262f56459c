package vericert

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/vericert/vericert/storage/model"
)

// Actor describes who triggered a ledger-worthy action. All fields are
// optional; system-internal events pass the zero value.
type Actor struct {
	ID        string
	IP        string
	UserAgent string
}

// GeoResolver maps a request IP to an ISO country code. Implementations must
// tolerate unknown addresses by returning an empty string.
type GeoResolver interface {
	CountryCode(ip string) string
}

// AuditEvent is the input to a ledger append. Old and New are snapshots of
// the touched entity before and after the action; either may be nil.
type AuditEvent struct {
	EventType  model.AuditEventType
	Action     model.AuditAction
	EntityType string
	EntityID   string
	EntityName string
	Actor      Actor
	Old        map[string]any
	New        map[string]any
}

// AuditSink receives business events best-effort. Implementations must
// swallow their own failures; a sink error never reaches the caller.
type AuditSink interface {
	Record(event AuditEvent)
}

// AuditLedger is the append-only, hash-chained event log. Every entry's hash
// covers the previous entry's hash, so any later modification or deletion of
// an entry breaks verification of everything after it.
type AuditLedger struct {
	store     model.AuditStore
	kv        model.KeyValueStore
	signer    *Signer
	geo       GeoResolver
	retention *RetentionPolicy
}

// NewAuditLedger wires the ledger service. kv holds the archival checkpoint
// written by retention sweeps; geo may be nil to skip country enrichment.
func NewAuditLedger(
	store model.AuditStore, kv model.KeyValueStore, signer *Signer, geo GeoResolver,
	retention *RetentionPolicy,
) *AuditLedger {
	return &AuditLedger{
		store:     store,
		kv:        kv,
		signer:    signer,
		geo:       geo,
		retention: retention,
	}
}

// chainedFields returns the exact field set covered by an entry's hash. The
// keys are fixed; adding a field here invalidates all previously written
// hashes.
func chainedFields(e *model.AuditEntry) map[string]any {
	var oldValues, newValues any
	if len(e.OldValues) > 0 {
		oldValues = json.RawMessage(e.OldValues)
	}
	if len(e.NewValues) > 0 {
		newValues = json.RawMessage(e.NewValues)
	}
	var prevHash any
	if e.PrevHash != nil {
		prevHash = *e.PrevHash
	}
	var actorID any
	if e.ActorID != nil {
		actorID = *e.ActorID
	}
	return map[string]any{
		"action":     string(e.Action),
		"actorId":    actorID,
		"entityId":   e.EntityID,
		"entityType": e.EntityType,
		"eventType":  string(e.EventType),
		"newValues":  newValues,
		"oldValues":  oldValues,
		"prevHash":   prevHash,
	}
}

// EntryHash computes the chain hash of an entry from its chained fields.
func EntryHash(e *model.AuditEntry) (string, error) {
	canonical, err := Canonicalize(chainedFields(e))
	if err != nil {
		return "", errors.Wrap(err, "ledger: hash input canonicalization failed")
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Append writes one entry to the ledger. The head read and the insert are
// serialized by the store, so concurrent appends always chain linearly.
func (l *AuditLedger) Append(event AuditEvent) (*model.AuditEntry, error) {
	return l.store.AppendChained(
		func(prevHash *string) (*model.AuditEntry, error) {
			entry := &model.AuditEntry{
				ID:         uuid.NewString(),
				EventType:  event.EventType,
				EntityType: event.EntityType,
				EntityID:   event.EntityID,
				Action:     event.Action,
				PrevHash:   prevHash,
			}
			if event.EntityName != "" {
				entry.EntityName = &event.EntityName
			}
			if event.Actor.ID != "" {
				entry.ActorID = &event.Actor.ID
			}
			if event.Actor.IP != "" {
				entry.ActorIP = &event.Actor.IP
				if l.geo != nil {
					if country := l.geo.CountryCode(event.Actor.IP); country != "" {
						entry.ActorCountry = &country
					}
				}
			}
			if event.Actor.UserAgent != "" {
				entry.ActorUserAgent = &event.Actor.UserAgent
			}
			if event.Old != nil {
				raw, err := json.Marshal(event.Old)
				if err != nil {
					return nil, errors.Wrap(err, "ledger: old values marshal failed")
				}
				entry.OldValues = datatypes.JSON(raw)
			}
			if event.New != nil {
				raw, err := json.Marshal(event.New)
				if err != nil {
					return nil, errors.Wrap(err, "ledger: new values marshal failed")
				}
				entry.NewValues = datatypes.JSON(raw)
			}
			if l.retention != nil {
				if horizon := l.retention.ArchiveAfter(event.EventType); horizon != nil {
					entry.ArchiveAfter = horizon
				}
			}

			hash, err := EntryHash(entry)
			if err != nil {
				return nil, err
			}
			entry.CurrHash = hash
			if l.signer != nil {
				sum := sha256.Sum256([]byte(hash))
				entry.Signature = base64.StdEncoding.EncodeToString(l.signer.Sign(sum[:]))
				entry.KeyVersion = l.signer.KeyVersion()
			}
			return entry, nil
		},
	)
}

// Record appends best-effort: a ledger failure is logged but never propagated,
// so audit writes cannot take the business operation down with them.
func (l *AuditLedger) Record(event AuditEvent) {
	if _, err := l.Append(event); err != nil {
		log.WithError(err).
			WithField("event_type", event.EventType).
			WithField("entity_id", event.EntityID).
			Error("audit ledger append failed")
	}
}

// Entries returns filtered entries newest first plus the total match count.
func (l *AuditLedger) Entries(filter model.AuditFilter) ([]model.AuditEntry, int64, error) {
	return l.store.FindAll(filter)
}

// EntityHistory returns all entries for one entity, newest first.
func (l *AuditLedger) EntityHistory(entityType, entityID string) ([]model.AuditEntry, error) {
	return l.store.FindByEntity(entityType, entityID)
}

// IntegrityFinding describes the first defect found during chain or signature
// validation.
type IntegrityFinding struct {
	EntryID  string `json:"entry_id"`
	Position int64  `json:"position"`
	Problem  string `json:"problem"`
}

// IntegrityReport is the result of a full ledger validation run.
type IntegrityReport struct {
	Checked      int64             `json:"checked"`
	ChainValid   bool              `json:"chain_valid"`
	FirstInvalid *IntegrityFinding `json:"first_invalid,omitempty"`
}

// validationBatchSize bounds the memory of a full ledger walk.
const validationBatchSize = 500

// walk streams the ledger in chain order and calls check for each entry
// together with the hash of its predecessor.
func (l *AuditLedger) walk(check func(pos int64, prev *model.AuditEntry, e *model.AuditEntry) *IntegrityFinding) (*IntegrityReport, error) {
	report := &IntegrityReport{ChainValid: true}
	var prev *model.AuditEntry
	offset := 0
	for {
		batch, err := l.store.Ordered(offset, validationBatchSize)
		if err != nil {
			return nil, errors.Wrap(err, "ledger: validation read failed")
		}
		for i := range batch {
			e := &batch[i]
			if finding := check(report.Checked, prev, e); finding != nil {
				report.ChainValid = false
				report.FirstInvalid = finding
				return report, nil
			}
			report.Checked++
			prev = e
		}
		if len(batch) < validationBatchSize {
			return report, nil
		}
		offset += validationBatchSize
	}
}

// chainCheckpoint returns the chain hash of the last entry archived by a
// retention sweep, or nil when nothing was ever archived.
func (l *AuditLedger) chainCheckpoint() *string {
	if l.kv == nil {
		return nil
	}
	var hash string
	found, err := l.kv.GetAs(model.KeyValueScopeLedger, model.KeyValueKeyChainCheckpoint, &hash)
	if err != nil {
		log.WithError(err).Error("could not read ledger chain checkpoint")
		return nil
	}
	if !found {
		return nil
	}
	return &hash
}

// ValidateHashChain walks the whole ledger in order, recomputes each entry's
// hash, and verifies the prev-hash linkage. It stops at the first defect.
// Once a retention sweep archived a chain prefix, the first surviving entry
// must link to the persisted checkpoint; a first entry without a prev hash
// is only valid while nothing was ever archived.
func (l *AuditLedger) ValidateHashChain() (*IntegrityReport, error) {
	checkpoint := l.chainCheckpoint()
	return l.walk(
		func(pos int64, prev *model.AuditEntry, e *model.AuditEntry) *IntegrityFinding {
			recomputed, err := EntryHash(e)
			if err != nil {
				return &IntegrityFinding{EntryID: e.ID, Position: pos, Problem: "hash recomputation failed"}
			}
			if recomputed != e.CurrHash {
				return &IntegrityFinding{EntryID: e.ID, Position: pos, Problem: "stored hash does not match entry content"}
			}
			if prev == nil {
				if checkpoint != nil {
					if e.PrevHash == nil || *e.PrevHash != *checkpoint {
						return &IntegrityFinding{EntryID: e.ID, Position: pos, Problem: "first entry does not link to the archival checkpoint"}
					}
					return nil
				}
				if e.PrevHash != nil {
					return &IntegrityFinding{EntryID: e.ID, Position: pos, Problem: "first entry carries a previous hash"}
				}
				return nil
			}
			if e.PrevHash == nil || *e.PrevHash != prev.CurrHash {
				return &IntegrityFinding{EntryID: e.ID, Position: pos, Problem: "chain link to previous entry broken"}
			}
			return nil
		},
	)
}

// ValidateSignatures checks each entry's detached signature against the
// passed public key. Entries written before signing was configured (empty
// signature) are counted as defects.
func (l *AuditLedger) ValidateSignatures(pub []byte) (*IntegrityReport, error) {
	return l.walk(
		func(pos int64, _ *model.AuditEntry, e *model.AuditEntry) *IntegrityFinding {
			if e.Signature == "" {
				return &IntegrityFinding{EntryID: e.ID, Position: pos, Problem: "entry is unsigned"}
			}
			sig, err := base64.StdEncoding.DecodeString(e.Signature)
			if err != nil {
				return &IntegrityFinding{EntryID: e.ID, Position: pos, Problem: "signature is not valid base64"}
			}
			sum := sha256.Sum256([]byte(e.CurrHash))
			if !verifyDetached(pub, sum[:], sig) {
				return &IntegrityFinding{EntryID: e.ID, Position: pos, Problem: "signature does not verify"}
			}
			return nil
		},
	)
}

// ValidateIntegrity runs the chain and signature checks and records the
// outcome in the ledger itself. A detected corruption is additionally
// recorded as a security event so it lands in the long retention class.
func (l *AuditLedger) ValidateIntegrity(actor Actor) (*IntegrityReport, error) {
	report, err := l.ValidateHashChain()
	if err != nil {
		return nil, err
	}
	if report.ChainValid && l.signer != nil {
		sigReport, err := l.ValidateSignatures(l.signer.PublicKey())
		if err != nil {
			return nil, err
		}
		if !sigReport.ChainValid {
			report = sigReport
		}
	}

	eventType := model.EventIntegrityCheck
	newValues := map[string]any{
		"checked":     report.Checked,
		"chain_valid": report.ChainValid,
	}
	if !report.ChainValid {
		eventType = model.EventIntegrityFailed
		newValues["first_invalid_entry"] = report.FirstInvalid.EntryID
		newValues["problem"] = report.FirstInvalid.Problem
	}
	l.Record(
		AuditEvent{
			EventType:  eventType,
			Action:     model.ActionVerify,
			EntityType: "audit_ledger",
			EntityID:   "ledger",
			Actor:      actor,
			New:        newValues,
		},
	)
	return report, nil
}
