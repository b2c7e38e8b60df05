package gitlib_test

import (
	"testing"

	git2go "github.com/libgit2/git2go/v34"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/duvet/pkg/coverage"
	"github.com/Sumatoshi-tech/duvet/pkg/gitlib"
)

func TestParseHash(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected gitlib.Hash
	}{
		{
			name:  "full lowercase hex",
			input: "0123456789abcdef0123456789abcdef01234567",
			expected: gitlib.Hash{
				0x01, 0x23, 0x45, 0x67, 0x89, 0xab, 0xcd, 0xef,
				0x01, 0x23, 0x45, 0x67, 0x89, 0xab, 0xcd, 0xef,
				0x01, 0x23, 0x45, 0x67,
			},
		},
		{
			name:  "full uppercase hex",
			input: "0123456789ABCDEF0123456789ABCDEF01234567",
			expected: gitlib.Hash{
				0x01, 0x23, 0x45, 0x67, 0x89, 0xab, 0xcd, 0xef,
				0x01, 0x23, 0x45, 0x67, 0x89, 0xab, 0xcd, 0xef,
				0x01, 0x23, 0x45, 0x67,
			},
		},
		{
			name:     "all zeros",
			input:    "0000000000000000000000000000000000000000",
			expected: gitlib.Hash{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := gitlib.ParseHash(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, result)
		})
	}
}

func TestParseHashInvalid(t *testing.T) {
	for _, input := range []string{"", "abcd", "zz23456789abcdef0123456789abcdef01234567"} {
		_, err := gitlib.ParseHash(input)
		require.ErrorIs(t, err, gitlib.ErrInvalidHash, input)
	}
}

func TestHashString(t *testing.T) {
	const hexStr = "0123456789abcdef0123456789abcdef01234567"

	hash, err := gitlib.ParseHash(hexStr)
	require.NoError(t, err)

	assert.Equal(t, hexStr, hash.String())
	assert.Equal(t, coverage.CommitID(hexStr), hash.CommitID())
	assert.False(t, hash.IsZero())
	assert.True(t, gitlib.Hash{}.IsZero())
}

func TestHashFromCommitID(t *testing.T) {
	const hexStr = "ffffffffffffffffffffffffffffffffffffffff"

	hash, err := gitlib.HashFromCommitID(coverage.CommitID(hexStr))
	require.NoError(t, err)
	assert.Equal(t, hexStr, hash.String())

	_, err = gitlib.HashFromCommitID(coverage.DirtyCommit)
	require.ErrorIs(t, err, gitlib.ErrInvalidHash)
}

func TestHashOidRoundTrip(t *testing.T) {
	oid, err := git2go.NewOid("0123456789abcdef0123456789abcdef01234567")
	require.NoError(t, err)

	hash := gitlib.HashFromOid(oid)

	assert.Equal(t, oid.String(), hash.String())
	assert.True(t, hash.ToOid().Equal(oid))
}
