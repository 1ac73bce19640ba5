package main

import (
	"strings"
	"testing"

	"github.com/smallbiznis/storefront/internal/auth/tokenhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashTokenEntry(t *testing.T) {
	line, err := hashTokenEntry(strings.NewReader("s3cret-token\n"), " Admin ")
	require.NoError(t, err)

	role, hash, ok := strings.Cut(line, ":")
	require.True(t, ok)
	assert.Equal(t, "admin", role)
	assert.True(t, tokenhash.Verify("s3cret-token", hash))

	_, err = hashTokenEntry(strings.NewReader(""), "ops")
	require.Error(t, err)

	_, err = hashTokenEntry(strings.NewReader("tok"), " ")
	require.Error(t, err)
}
