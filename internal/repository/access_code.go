package repository

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"

	"github.com/stemsi/exstem-engine/internal/model"
)

// AccessCodeDigest returns the lookup key stored for an access code: the
// hex BLAKE2b-256 of its normalized form. Raw codes are never queried by
// value.
func AccessCodeDigest(code string) string {
	sum := blake2b.Sum256([]byte(model.NormalizeAccessCode(code)))
	return hex.EncodeToString(sum[:])
}
