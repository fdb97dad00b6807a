package boot

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMemoryMap(t *testing.T) {
	regions := DefaultMemoryMap()
	raw := EncodeMemoryMap(regions)
	require.Len(t, raw, len(regions)*MemoryRegionSize)

	// Base 0x100000 of the fourth entry.
	assert.Equal(t, []byte{0x00, 0x00, 0x10, 0x00}, raw[3*MemoryRegionSize:3*MemoryRegionSize+4])

	got, err := DecodeMemoryMap(raw, len(regions))
	require.NoError(t, err)
	assert.Equal(t, regions, got)

	got, err = DecodeMemoryMap(raw, 2)
	require.NoError(t, err)
	assert.Equal(t, regions[:2], got)
}

func TestDecodeMemoryMap_Limits(t *testing.T) {
	many := make([]MemoryRegion, 40)
	for i := range many {
		many[i] = MemoryRegion{Base: uint64(i) << 20, Length: 1 << 20, Type: RegionUsable}
	}

	got, err := DecodeMemoryMap(EncodeMemoryMap(many), len(many))
	require.NoError(t, err)
	assert.Len(t, got, MaxMemoryRegions)
	assert.Equal(t, many[MaxMemoryRegions-1], got[MaxMemoryRegions-1])

	_, err = DecodeMemoryMap(make([]byte, 47), 2)
	assert.ErrorIs(t, err, ErrMemoryMap)

	_, err = DecodeMemoryMap(nil, -1)
	assert.ErrorIs(t, err, ErrMemoryMap)

	got, err = DecodeMemoryMap(nil, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLoadMemoryMapCSV(t *testing.T) {
	tests := []struct {
		name    string
		csv     string
		want    []MemoryRegion
		wantErr bool
	}{
		{
			name: "hexadecimal",
			csv: "base,length,type\n" +
				"0x0,0x9fc00,1\n" +
				"0x100000,0x7ee0000,1\n",
			want: []MemoryRegion{
				{Base: 0, Length: 0x9FC00, Type: RegionUsable},
				{Base: 0x100000, Length: 0x7EE0000, Type: RegionUsable},
			},
		},
		{
			name: "decimal with acpi",
			csv: "base,length,type,acpi\n" +
				"1048576,4096,3,1\n",
			want: []MemoryRegion{
				{Base: 0x100000, Length: 0x1000, Type: RegionACPI, ACPI: 1},
			},
		},
		{
			name:    "not a number",
			csv:     "base,length,type\nlow,0x1000,1\n",
			wantErr: true,
		},
		{
			name:    "type out of range",
			csv:     "base,length,type\n0x0,0x1000,0x100000000\n",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadMemoryMapCSV(strings.NewReader(tt.csv))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMemoryMap)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMemoryRegion_Usable(t *testing.T) {
	var usable int
	for _, r := range DefaultMemoryMap() {
		if r.Usable() {
			usable++
		}
	}
	assert.Equal(t, 2, usable)
	assert.Equal(t, "0x0000000000100000-0x0000000000200000 type 1", MemoryRegion{Base: 0x100000, Length: 0x100000, Type: RegionUsable}.String())
}
