package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccessCodeDigest(t *testing.T) {
	d := AccessCodeDigest("abcd-1234")
	assert.Len(t, d, 64)
	assert.Equal(t, d, AccessCodeDigest("  ABCD-1234\n"))
	assert.NotEqual(t, d, AccessCodeDigest("ABCD-1235"))
	assert.NotContains(t, d, "ABCD")
}
