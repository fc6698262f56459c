package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vericert/vericert/storage/model"
)

func TestKeyValueSetGetDelete(t *testing.T) {
	kv := newTestStorage(t).KeyValue()

	found, err := kv.GetAs(model.KeyValueScopeSigning, "missing", new(int))
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, kv.SetAny(model.KeyValueScopeSigning, model.KeyValueKeyInceptionYear, 2026))
	var year int
	found, err = kv.GetAs(model.KeyValueScopeSigning, model.KeyValueKeyInceptionYear, &year)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2026, year)

	// Upsert replaces.
	require.NoError(t, kv.SetAny(model.KeyValueScopeSigning, model.KeyValueKeyInceptionYear, 2025))
	_, err = kv.GetAs(model.KeyValueScopeSigning, model.KeyValueKeyInceptionYear, &year)
	require.NoError(t, err)
	assert.Equal(t, 2025, year)

	require.NoError(t, kv.Delete(model.KeyValueScopeSigning, model.KeyValueKeyInceptionYear))
	found, err = kv.GetAs(model.KeyValueScopeSigning, model.KeyValueKeyInceptionYear, &year)
	require.NoError(t, err)
	assert.False(t, found)

	// Deleting a missing key is not an error.
	assert.NoError(t, kv.Delete(model.KeyValueScopeSigning, "missing"))
}

func TestKeyValueScopesAreIsolated(t *testing.T) {
	kv := newTestStorage(t).KeyValue()

	require.NoError(t, kv.SetAny(model.KeyValueScopeSigning, "k", "signing"))
	require.NoError(t, kv.SetAny(model.KeyValueScopeLedger, "k", "ledger"))

	var v string
	found, err := kv.GetAs(model.KeyValueScopeSigning, "k", &v)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "signing", v)

	found, err = kv.GetAs(model.KeyValueScopeLedger, "k", &v)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "ledger", v)
}

func TestKeyValueStructuredValues(t *testing.T) {
	kv := newTestStorage(t).KeyValue()

	now := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	require.NoError(t, kv.SetAny(model.KeyValueScopeLedger, model.KeyValueKeyLastSweep, now))

	var got time.Time
	found, err := kv.GetAs(model.KeyValueScopeLedger, model.KeyValueKeyLastSweep, &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, now.Equal(got))
}
