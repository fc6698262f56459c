package vericert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vericert/vericert/storage/model"
)

func TestRetentionHorizonPerClass(t *testing.T) {
	policy := DefaultRetentionPolicy()

	assert.Equal(t, policy.StandardDays, policy.HorizonDays(model.EventSubmissionCreated))
	assert.Equal(t, policy.SecurityDays, policy.HorizonDays(model.EventIntegrityFailed))
	assert.Equal(t, policy.SecurityDays, policy.HorizonDays(model.EventLogin))
	assert.Equal(t, policy.CertificateDays, policy.HorizonDays(model.EventCertificateIssued))
	assert.Equal(t, policy.CertificateDays, policy.HorizonDays(model.EventCertificateVerified))
}

func TestRetentionZeroHorizonKeepsForever(t *testing.T) {
	policy := &RetentionPolicy{StandardDays: 0, SecurityDays: 30, CertificateDays: 30}
	assert.Nil(t, policy.ArchiveAfter(model.EventSubmissionCreated))
	assert.NotNil(t, policy.ArchiveAfter(model.EventLogin))
}

func TestRetentionSweep(t *testing.T) {
	db, backends := newTestBackends(t)
	ledger := NewAuditLedger(backends.Audit, backends.KV, nil, nil, DefaultRetentionPolicy())
	svc := NewRetentionService(backends.Audit, backends.KV, DefaultRetentionPolicy())

	entries := appendTestEvents(t, ledger, 4)

	// Backdate two horizons so they are overdue.
	past := time.Now().UTC().Add(-time.Hour)
	for _, entry := range entries[:2] {
		err := db.Model(&model.AuditEntry{}).
			Where("id = ?", entry.ID).
			Update("archive_after", past).Error
		require.NoError(t, err)
	}

	report, err := svc.Report()
	require.NoError(t, err)
	assert.EqualValues(t, 4, report.TotalEntries)
	assert.EqualValues(t, 2, report.PendingArchive)
	assert.Nil(t, report.LastSweep)

	removed, err := svc.Sweep(10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)

	// Idempotent: nothing left to archive.
	removed, err = svc.Sweep(10)
	require.NoError(t, err)
	assert.Zero(t, removed)

	report, err = svc.Report()
	require.NoError(t, err)
	assert.EqualValues(t, 2, report.TotalEntries)
	assert.Zero(t, report.PendingArchive)
	assert.NotNil(t, report.LastSweep)
}

func TestRetentionSweepHonorsLimit(t *testing.T) {
	db, backends := newTestBackends(t)
	ledger := NewAuditLedger(backends.Audit, backends.KV, nil, nil, DefaultRetentionPolicy())
	svc := NewRetentionService(backends.Audit, backends.KV, DefaultRetentionPolicy())

	entries := appendTestEvents(t, ledger, 3)
	past := time.Now().UTC().Add(-time.Hour)
	for _, entry := range entries {
		err := db.Model(&model.AuditEntry{}).
			Where("id = ?", entry.ID).
			Update("archive_after", past).Error
		require.NoError(t, err)
	}

	removed, err := svc.Sweep(2)
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)

	removed, err = svc.Sweep(2)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)
}

func TestSweepPreservesChainValidity(t *testing.T) {
	db, backends := newTestBackends(t)
	ledger := NewAuditLedger(backends.Audit, backends.KV, nil, nil, DefaultRetentionPolicy())
	svc := NewRetentionService(backends.Audit, backends.KV, DefaultRetentionPolicy())

	entries := appendTestEvents(t, ledger, 3)
	past := time.Now().UTC().Add(-time.Hour)
	err := db.Model(&model.AuditEntry{}).
		Where("id = ?", entries[0].ID).
		Update("archive_after", past).Error
	require.NoError(t, err)

	removed, err := svc.Sweep(10)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	// The first surviving entry links to an archived one; the persisted
	// checkpoint makes that an accepted chain anchor.
	report, err := ledger.ValidateHashChain()
	require.NoError(t, err)
	assert.True(t, report.ChainValid)
	assert.EqualValues(t, 2, report.Checked)

	full, err := ledger.ValidateIntegrity(Actor{ID: "auditor"})
	require.NoError(t, err)
	assert.True(t, full.ChainValid)
	history, err := ledger.EntityHistory("audit_ledger", "ledger")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.EventIntegrityCheck, history[0].EventType)
}

func TestSweepCheckpointAdvancesAcrossRuns(t *testing.T) {
	db, backends := newTestBackends(t)
	ledger := NewAuditLedger(backends.Audit, backends.KV, nil, nil, DefaultRetentionPolicy())
	svc := NewRetentionService(backends.Audit, backends.KV, DefaultRetentionPolicy())

	entries := appendTestEvents(t, ledger, 3)
	past := time.Now().UTC().Add(-time.Hour)
	for _, entry := range entries[:2] {
		err := db.Model(&model.AuditEntry{}).
			Where("id = ?", entry.ID).
			Update("archive_after", past).Error
		require.NoError(t, err)
	}

	for _, want := range []int64{1, 1} {
		removed, err := svc.Sweep(1)
		require.NoError(t, err)
		require.EqualValues(t, want, removed)

		report, err := ledger.ValidateHashChain()
		require.NoError(t, err)
		assert.True(t, report.ChainValid)
	}

	var checkpoint string
	found, err := backends.KV.GetAs(model.KeyValueScopeLedger, model.KeyValueKeyChainCheckpoint, &checkpoint)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, entries[1].CurrHash, checkpoint)
}

func TestSweepOnlyRemovesChainPrefix(t *testing.T) {
	db, backends := newTestBackends(t)
	ledger := NewAuditLedger(backends.Audit, backends.KV, nil, nil, DefaultRetentionPolicy())
	svc := NewRetentionService(backends.Audit, backends.KV, DefaultRetentionPolicy())

	entries := appendTestEvents(t, ledger, 3)

	// Only the middle entry is overdue; removing it would orphan the third
	// entry's prev hash, so the sweep must leave it in place.
	past := time.Now().UTC().Add(-time.Hour)
	err := db.Model(&model.AuditEntry{}).
		Where("id = ?", entries[1].ID).
		Update("archive_after", past).Error
	require.NoError(t, err)

	removed, err := svc.Sweep(10)
	require.NoError(t, err)
	assert.Zero(t, removed)

	report, err := ledger.ValidateHashChain()
	require.NoError(t, err)
	assert.True(t, report.ChainValid)
	assert.EqualValues(t, 3, report.Checked)
}

func TestSweepDoesNotMaskTampering(t *testing.T) {
	db, backends := newTestBackends(t)
	ledger := NewAuditLedger(backends.Audit, backends.KV, nil, nil, DefaultRetentionPolicy())
	svc := NewRetentionService(backends.Audit, backends.KV, DefaultRetentionPolicy())

	entries := appendTestEvents(t, ledger, 3)
	past := time.Now().UTC().Add(-time.Hour)
	err := db.Model(&model.AuditEntry{}).
		Where("id = ?", entries[0].ID).
		Update("archive_after", past).Error
	require.NoError(t, err)
	_, err = svc.Sweep(10)
	require.NoError(t, err)

	// Re-anchor the first survivor at nothing, keeping its own hash
	// consistent, as if the archived prefix never existed.
	survivor := *entries[1]
	survivor.PrevHash = nil
	rehashed, err := EntryHash(&survivor)
	require.NoError(t, err)
	err = db.Model(&model.AuditEntry{}).
		Where("id = ?", survivor.ID).
		Updates(map[string]any{"prev_hash": nil, "curr_hash": rehashed}).Error
	require.NoError(t, err)

	report, err := ledger.ValidateHashChain()
	require.NoError(t, err)
	require.False(t, report.ChainValid)
	assert.Equal(t, survivor.ID, report.FirstInvalid.EntryID)
}

func TestRetentionRunPeriodicStops(t *testing.T) {
	_, backends := newTestBackends(t)
	svc := NewRetentionService(backends.Audit, backends.KV, DefaultRetentionPolicy())

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		svc.RunPeriodic(time.Millisecond, 10, stop)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	close(stop)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("periodic sweep did not stop")
	}
}
