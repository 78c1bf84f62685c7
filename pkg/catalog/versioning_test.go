package catalog_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/product-catalog/pkg/catalog"
)

func TestReviseVersion(t *testing.T) {
	tests := []struct {
		current string
		level   catalog.RevisionLevel
		want    string
	}{
		{"1.4.2", catalog.RevisionPatch, "1.4.3"},
		{"1.4.2", catalog.RevisionMinor, "1.5.0"},
		{"1.4.2", catalog.RevisionMajor, "2.0.0"},
		{"2", catalog.RevisionMinor, "2.1.0"},
		{"1.0", catalog.RevisionPatch, "1.0.1"},
		{"v0.9", catalog.RevisionMinor, "v0.10.0"},
	}

	for _, tt := range tests {
		t.Run(tt.current+"/"+string(tt.level), func(t *testing.T) {
			got, err := catalog.ReviseVersion(tt.current, tt.level)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReviseVersion_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		current string
		level   catalog.RevisionLevel
	}{
		{"label", "beta", catalog.RevisionMinor},
		{"too many components", "1.2.3.4", catalog.RevisionPatch},
		{"negative", "1.-1", catalog.RevisionMajor},
		{"empty component", "1..2", catalog.RevisionMajor},
		{"unknown level", "1.0", "build"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := catalog.ReviseVersion(tt.current, tt.level)
			assert.ErrorIs(t, err, catalog.ErrValidation)
		})
	}
}
