package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeValid(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want E164
	}{
		{"already e164", "+14155550123", "+14155550123"},
		{"missing plus", "14155550123", "+14155550123"},
		{"doubled plus", "++14155550123", "+14155550123"},
		{"formatted", "+1 (415) 555-0123", "+14155550123"},
		{"dots and spaces", "44.20.7946.0958", "+442079460958"},
		{"minimum length", "+1234567", "+1234567"},
		{"maximum length", "+123456789012345", "+123456789012345"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeInvalid(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"too short", "123"},
		{"leading zero", "0123456789"},
		{"too long", "+1234567890123456"},
		{"empty", ""},
		{"plus only", "+"},
		{"letters only", "not-a-number"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidPhone)
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"+14155550123", "14155550123", "+1 415 555 0123", "+442079460958"}
	for _, in := range inputs {
		first, err := Normalize(in)
		require.NoError(t, err)
		second, err := Normalize(string(first))
		require.NoError(t, err)
		assert.Equal(t, first, second)
	}
}

func TestNormalizePlusEquivalence(t *testing.T) {
	withPlus, err := Normalize("+1234567890")
	require.NoError(t, err)
	withoutPlus, err := Normalize("1234567890")
	require.NoError(t, err)
	assert.Equal(t, withPlus, withoutPlus)
}
