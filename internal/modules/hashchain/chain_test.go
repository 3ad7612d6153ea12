package hashchain

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hexHash = regexp.MustCompile(`^[0-9a-f]{64}$`)

func TestComputeRecordHashGenesis(t *testing.T) {
	payload := map[string]interface{}{
		"contract_id": "c-1",
		"outcome":     "YES",
	}

	got, err := ComputeRecordHash(payload, "")
	require.NoError(t, err)
	assert.Regexp(t, hexHash, got)

	// Genesis hash is the digest of the canonical payload alone.
	canonical, err := Canonical(payload)
	require.NoError(t, err)
	sum := sha256.Sum256(canonical)
	assert.Equal(t, hex.EncodeToString(sum[:]), got)
}

func TestComputeRecordHashChains(t *testing.T) {
	payload := map[string]interface{}{"contract_id": "c-2", "outcome": "NO"}

	genesis, err := ComputeRecordHash(payload, "")
	require.NoError(t, err)
	chained, err := ComputeRecordHash(payload, genesis)
	require.NoError(t, err)

	// Same payload, different chain position, different hash.
	assert.NotEqual(t, genesis, chained)

	// Chained hash covers previous hash bytes followed by canonical payload.
	canonical, err := Canonical(payload)
	require.NoError(t, err)
	h := sha256.New()
	h.Write([]byte(genesis))
	h.Write(canonical)
	assert.Equal(t, hex.EncodeToString(h.Sum(nil)), chained)
}

func TestComputeRecordHashDeterministic(t *testing.T) {
	payload := map[string]interface{}{
		"contract_id":      "c-3",
		"observed_value":   30.0,
		"threshold":        25.0,
		"station_readings": map[string]interface{}{"KJFK": 30.0},
	}

	first, err := ComputeRecordHash(payload, "prev")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := ComputeRecordHash(payload, "prev")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestVerifyRecordHash(t *testing.T) {
	payload := map[string]interface{}{"contract_id": "c-4", "outcome": "DISPUTED"}

	hash, err := ComputeRecordHash(payload, "")
	require.NoError(t, err)

	ok, err := VerifyRecordHash(payload, "", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	t.Run("tampered payload fails", func(t *testing.T) {
		tampered := map[string]interface{}{"contract_id": "c-4", "outcome": "YES"}
		ok, err := VerifyRecordHash(tampered, "", hash)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("wrong previous hash fails", func(t *testing.T) {
		ok, err := VerifyRecordHash(payload, "deadbeef", hash)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
