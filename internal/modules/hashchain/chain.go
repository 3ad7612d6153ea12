package hashchain

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// ComputeRecordHash computes the SHA-256 digest over the canonical JSON
// payload chained to the previous record hash. previousHash is the hex hash
// of the preceding record; pass the empty string for the genesis record, in
// which case it is omitted from the digest input entirely.
//
// The returned hash is 64 lowercase hex characters.
func ComputeRecordHash(payload interface{}, previousHash string) (string, error) {
	canonical, err := Canonical(payload)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	if previousHash != "" {
		h.Write([]byte(previousHash))
	}
	h.Write(canonical)

	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyRecordHash recomputes the hash of payload chained to previousHash and
// compares it against recordHash in constant time.
func VerifyRecordHash(payload interface{}, previousHash, recordHash string) (bool, error) {
	computed, err := ComputeRecordHash(payload, previousHash)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(recordHash)) == 1, nil
}
