package boot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMappingTable_MapRange(t *testing.T) {
	m := NewMappingTable()

	require.NoError(t, m.MapRange(0x400000, 0xFFFFFFFF80000000, LargePageSize+1))
	assert.Equal(t, []Mapping{
		{Virtual: 0xFFFFFFFF80000000, Physical: 0x400000},
		{Virtual: 0xFFFFFFFF80200000, Physical: 0x600000},
	}, m.Mappings())

	// Already present pages keep their mapping.
	require.NoError(t, m.MapRange(0x1000000, 0xFFFFFFFF80200000, 2*LargePageSize))
	assert.Equal(t, []Mapping{
		{Virtual: 0xFFFFFFFF80000000, Physical: 0x400000},
		{Virtual: 0xFFFFFFFF80200000, Physical: 0x600000},
		{Virtual: 0xFFFFFFFF80400000, Physical: 0x1200000},
	}, m.Mappings())

	assert.ErrorIs(t, m.MapRange(0, 0x1000, LargePageSize), ErrUnaligned)
	assert.Len(t, m.Mappings(), 3)

	require.NoError(t, m.MapRange(0, 0x40000000, 0))
	assert.Len(t, m.Mappings(), 3)
}

func TestMappingTable_Translate(t *testing.T) {
	m := NewMappingTable()
	require.NoError(t, m.MapRange(0x101000, 0xFFFFFFFF80000000, LargePageSize))

	tests := []struct {
		name    string
		virtual uint64
		want    uint64
		wantOk  bool
	}{
		{"page start", 0xFFFFFFFF80000000, 0, true},
		{"inside", 0xFFFFFFFF80101234, 0x101234, true},
		{"last byte", 0xFFFFFFFF801FFFFF, 0x1FFFFF, true},
		{"unmapped", 0xFFFFFFFF80200000, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := m.Translate(tt.virtual)
			assert.Equal(t, tt.wantOk, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
