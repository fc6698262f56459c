package vericert

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vericert/vericert/storage/model"
)

func appendTestEvents(t *testing.T, ledger *AuditLedger, n int) []*model.AuditEntry {
	t.Helper()
	entries := make([]*model.AuditEntry, 0, n)
	for i := 0; i < n; i++ {
		entry, err := ledger.Append(
			AuditEvent{
				EventType:  model.EventSubmissionCreated,
				Action:     model.ActionCreate,
				EntityType: "submission",
				EntityID:   "1",
				Actor:      Actor{ID: "tester", IP: "192.0.2.1"},
				New:        map[string]any{"status": "draft", "n": i},
			},
		)
		require.NoError(t, err)
		entries = append(entries, entry)
	}
	return entries
}

func TestLedgerAppendChainsEntries(t *testing.T) {
	_, backends := newTestBackends(t)
	ledger := NewAuditLedger(backends.Audit, nil, nil, nil, nil)

	entries := appendTestEvents(t, ledger, 3)

	assert.Nil(t, entries[0].PrevHash)
	for i := 1; i < len(entries); i++ {
		require.NotNil(t, entries[i].PrevHash)
		assert.Equal(t, entries[i-1].CurrHash, *entries[i].PrevHash)
	}
	for _, entry := range entries {
		recomputed, err := EntryHash(entry)
		require.NoError(t, err)
		assert.Equal(t, entry.CurrHash, recomputed)
	}
}

func TestLedgerConcurrentAppendsStayLinear(t *testing.T) {
	_, backends := newTestBackends(t)
	ledger := NewAuditLedger(backends.Audit, nil, nil, nil, nil)

	const writers = 4
	const perWriter = 3
	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := ledger.Append(
					AuditEvent{
						EventType:  model.EventSubmissionUpdated,
						Action:     model.ActionUpdate,
						EntityType: "submission",
						EntityID:   fmt.Sprintf("%d-%d", w, i),
					},
				)
				errs <- err
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	report, err := ledger.ValidateHashChain()
	require.NoError(t, err)
	assert.True(t, report.ChainValid)
	assert.EqualValues(t, writers*perWriter, report.Checked)

	// No fork: exactly one entry starts the chain and no hash is claimed as
	// predecessor twice.
	ordered, err := backends.Audit.Ordered(0, 0)
	require.NoError(t, err)
	require.Len(t, ordered, writers*perWriter)
	starts := 0
	claimed := make(map[string]bool)
	for _, e := range ordered {
		if e.PrevHash == nil {
			starts++
			continue
		}
		assert.False(t, claimed[*e.PrevHash])
		claimed[*e.PrevHash] = true
	}
	assert.Equal(t, 1, starts)
}

func TestLedgerValidateHashChain(t *testing.T) {
	_, backends := newTestBackends(t)
	ledger := NewAuditLedger(backends.Audit, nil, nil, nil, nil)
	appendTestEvents(t, ledger, 5)

	report, err := ledger.ValidateHashChain()
	require.NoError(t, err)
	assert.True(t, report.ChainValid)
	assert.EqualValues(t, 5, report.Checked)
	assert.Nil(t, report.FirstInvalid)
}

func TestLedgerDetectsTamperedEntry(t *testing.T) {
	db, backends := newTestBackends(t)
	ledger := NewAuditLedger(backends.Audit, nil, nil, nil, nil)
	entries := appendTestEvents(t, ledger, 4)

	// Rewrite the content of the second entry behind the ledger's back.
	err := db.Model(&model.AuditEntry{}).
		Where("id = ?", entries[1].ID).
		Update("entity_id", "999").Error
	require.NoError(t, err)

	report, err := ledger.ValidateHashChain()
	require.NoError(t, err)
	require.False(t, report.ChainValid)
	require.NotNil(t, report.FirstInvalid)
	assert.Equal(t, entries[1].ID, report.FirstInvalid.EntryID)
	assert.EqualValues(t, 1, report.FirstInvalid.Position)
}

func TestLedgerDetectsBrokenLink(t *testing.T) {
	db, backends := newTestBackends(t)
	ledger := NewAuditLedger(backends.Audit, nil, nil, nil, nil)
	entries := appendTestEvents(t, ledger, 3)

	// Re-point the third entry at the first, keeping its own hash consistent
	// with its content so only the linkage is broken.
	tampered, err := backends.Audit.Ordered(2, 1)
	require.NoError(t, err)
	require.Len(t, tampered, 1)
	e := tampered[0]
	e.PrevHash = entries[0].PrevHash
	rehashed, err := EntryHash(&e)
	require.NoError(t, err)
	err = db.Model(&model.AuditEntry{}).
		Where("id = ?", e.ID).
		Updates(map[string]any{"prev_hash": nil, "curr_hash": rehashed}).Error
	require.NoError(t, err)

	report, err := ledger.ValidateHashChain()
	require.NoError(t, err)
	require.False(t, report.ChainValid)
	assert.Equal(t, e.ID, report.FirstInvalid.EntryID)
	assert.Contains(t, report.FirstInvalid.Problem, "chain link")
}

func TestLedgerSignatures(t *testing.T) {
	_, backends := newTestBackends(t)
	signer := newTestSigner(t)
	ledger := NewAuditLedger(backends.Audit, nil, signer, nil, nil)
	appendTestEvents(t, ledger, 3)

	report, err := ledger.ValidateSignatures(signer.PublicKey())
	require.NoError(t, err)
	assert.True(t, report.ChainValid)

	other := newTestSigner(t)
	report, err = ledger.ValidateSignatures(other.PublicKey())
	require.NoError(t, err)
	require.False(t, report.ChainValid)
	assert.EqualValues(t, 0, report.FirstInvalid.Position)
}

func TestLedgerUnsignedEntriesFailSignatureValidation(t *testing.T) {
	_, backends := newTestBackends(t)
	ledger := NewAuditLedger(backends.Audit, nil, nil, nil, nil)
	appendTestEvents(t, ledger, 1)

	signer := newTestSigner(t)
	report, err := ledger.ValidateSignatures(signer.PublicKey())
	require.NoError(t, err)
	require.False(t, report.ChainValid)
	assert.Contains(t, report.FirstInvalid.Problem, "unsigned")
}

func TestValidateIntegrityRecordsOutcome(t *testing.T) {
	_, backends := newTestBackends(t)
	signer := newTestSigner(t)
	ledger := NewAuditLedger(backends.Audit, nil, signer, nil, nil)
	appendTestEvents(t, ledger, 2)

	report, err := ledger.ValidateIntegrity(Actor{ID: "auditor"})
	require.NoError(t, err)
	assert.True(t, report.ChainValid)
	assert.EqualValues(t, 2, report.Checked)

	entries, err := ledger.EntityHistory("audit_ledger", "ledger")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.EventIntegrityCheck, entries[0].EventType)
}

func TestValidateIntegrityRecordsFailure(t *testing.T) {
	db, backends := newTestBackends(t)
	ledger := NewAuditLedger(backends.Audit, nil, nil, nil, nil)
	entries := appendTestEvents(t, ledger, 2)

	err := db.Model(&model.AuditEntry{}).
		Where("id = ?", entries[0].ID).
		Update("entity_id", "tampered").Error
	require.NoError(t, err)

	report, err := ledger.ValidateIntegrity(Actor{})
	require.NoError(t, err)
	require.False(t, report.ChainValid)

	history, err := ledger.EntityHistory("audit_ledger", "ledger")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.EventIntegrityFailed, history[0].EventType)
}

func TestLedgerEntriesFilter(t *testing.T) {
	_, backends := newTestBackends(t)
	ledger := NewAuditLedger(backends.Audit, nil, nil, nil, nil)
	appendTestEvents(t, ledger, 3)
	_, err := ledger.Append(
		AuditEvent{
			EventType:  model.EventCertificateIssued,
			Action:     model.ActionIssue,
			EntityType: "certificate",
			EntityID:   "7",
		},
	)
	require.NoError(t, err)

	entries, total, err := ledger.Entries(model.AuditFilter{EventType: model.EventSubmissionCreated})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, entries, 3)

	entries, total, err = ledger.Entries(model.AuditFilter{EntityType: "certificate", EntityID: "7"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, entries, 1)
	assert.Equal(t, model.ActionIssue, entries[0].Action)

	entries, total, err = ledger.Entries(model.AuditFilter{Limit: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)
	assert.Len(t, entries, 2)
}

func TestRetentionHorizonStampedOnAppend(t *testing.T) {
	_, backends := newTestBackends(t)
	ledger := NewAuditLedger(backends.Audit, nil, nil, nil, DefaultRetentionPolicy())

	standard, err := ledger.Append(
		AuditEvent{EventType: model.EventSubmissionCreated, Action: model.ActionCreate, EntityType: "submission", EntityID: "1"},
	)
	require.NoError(t, err)
	certRelated, err := ledger.Append(
		AuditEvent{EventType: model.EventCertificateIssued, Action: model.ActionIssue, EntityType: "certificate", EntityID: "1"},
	)
	require.NoError(t, err)

	require.NotNil(t, standard.ArchiveAfter)
	require.NotNil(t, certRelated.ArchiveAfter)
	assert.True(t, certRelated.ArchiveAfter.After(*standard.ArchiveAfter))
}

type staticGeo struct{ country string }

func (g staticGeo) CountryCode(string) string { return g.country }

func TestLedgerGeoEnrichment(t *testing.T) {
	_, backends := newTestBackends(t)
	ledger := NewAuditLedger(backends.Audit, nil, nil, staticGeo{country: "DE"}, nil)

	entry, err := ledger.Append(
		AuditEvent{
			EventType:  model.EventSubmissionCreated,
			Action:     model.ActionCreate,
			EntityType: "submission",
			EntityID:   "1",
			Actor:      Actor{IP: "192.0.2.1"},
		},
	)
	require.NoError(t, err)
	require.NotNil(t, entry.ActorCountry)
	assert.Equal(t, "DE", *entry.ActorCountry)
}
