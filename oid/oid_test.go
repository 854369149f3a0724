package oid_test

import (
	"strings"
	"testing"

	"github.com/mediagit/mediagit/oid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashHello(t *testing.T) {
	// spec.md §8(a): write(Blob, "hello") == sha256("hello") hex.
	got := oid.Hash([]byte("hello"))
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", got.String())
}

func TestHashDeterministic(t *testing.T) {
	a := oid.Hash([]byte("same bytes"))
	b := oid.Hash([]byte("same bytes"))
	assert.Equal(t, a, b)
}

func TestHashReaderMatchesHash(t *testing.T) {
	data := strings.Repeat("media", 10000)
	want := oid.Hash([]byte(data))
	got, err := oid.HashReader(strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestParseRoundTrip(t *testing.T) {
	o := oid.Hash([]byte("round trip"))
	parsed, err := oid.Parse(o.String())
	require.NoError(t, err)
	assert.Equal(t, o, parsed)
}

func TestParseRejectsBadLength(t *testing.T) {
	_, err := oid.Parse("deadbeef")
	assert.Error(t, err)
}

func TestCompareOrdering(t *testing.T) {
	a := oid.OID{0x01}
	b := oid.OID{0x02}
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.Equal(t, 0, a.Compare(a))
}

func TestZeroIsZero(t *testing.T) {
	assert.True(t, oid.Zero.IsZero())
	assert.False(t, oid.Hash([]byte("x")).IsZero())
}
