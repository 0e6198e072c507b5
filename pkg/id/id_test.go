package id

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsSortable(t *testing.T) {
	a := New()
	b := New()
	assert.Len(t, a, 26)
	assert.Less(t, a, b)
}

func TestAtRoundTripsTime(t *testing.T) {
	at := time.Date(2025, 7, 31, 0, 40, 0, 0, time.UTC)
	s := At(at)

	got, err := Time(s)
	require.NoError(t, err)
	assert.True(t, at.Equal(got))

	_, err = Time("not-a-ulid")
	assert.Error(t, err)
}
