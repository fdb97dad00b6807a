package boot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aligator/bootfat/checkpoint"
	"github.com/gocarina/gocsv"
)

const (
	// MemoryRegionSize is the size of one firmware memory map entry.
	MemoryRegionSize = 24
	// MaxMemoryRegions is the number of memory map entries the loader keeps.
	MaxMemoryRegions = 32
)

// Memory region types as reported by the firmware.
const (
	RegionUsable   uint32 = 1
	RegionReserved uint32 = 2
	RegionACPI     uint32 = 3
	RegionNVS      uint32 = 4
	RegionBad      uint32 = 5
)

var ErrMemoryMap = errors.New("boot: invalid memory map")

// MemoryRegion is one entry of the firmware memory map.
type MemoryRegion struct {
	Base   uint64
	Length uint64
	Type   uint32
	ACPI   uint32
}

func (r MemoryRegion) String() string {
	return fmt.Sprintf("0x%016x-0x%016x type %d", r.Base, r.Base+r.Length, r.Type)
}

// Usable reports whether the region is free RAM.
func (r MemoryRegion) Usable() bool {
	return r.Type == RegionUsable
}

// DecodeMemoryMap decodes count packed 24 byte entries from raw. More than
// MaxMemoryRegions entries are cut off.
func DecodeMemoryMap(raw []byte, count int) ([]MemoryRegion, error) {
	if count > MaxMemoryRegions {
		count = MaxMemoryRegions
	}
	if count < 0 || len(raw) < count*MemoryRegionSize {
		return nil, fmt.Errorf("%w: %d bytes for %d entries", ErrMemoryMap, len(raw), count)
	}

	regions := make([]MemoryRegion, count)
	for i := range regions {
		b := raw[i*MemoryRegionSize:]
		regions[i] = MemoryRegion{
			Base:   binary.LittleEndian.Uint64(b[0:8]),
			Length: binary.LittleEndian.Uint64(b[8:16]),
			Type:   binary.LittleEndian.Uint32(b[16:20]),
			ACPI:   binary.LittleEndian.Uint32(b[20:24]),
		}
	}
	return regions, nil
}

// EncodeMemoryMap packs regions the way the firmware hands them over.
func EncodeMemoryMap(regions []MemoryRegion) []byte {
	raw := make([]byte, len(regions)*MemoryRegionSize)
	for i, r := range regions {
		b := raw[i*MemoryRegionSize:]
		binary.LittleEndian.PutUint64(b[0:8], r.Base)
		binary.LittleEndian.PutUint64(b[8:16], r.Length)
		binary.LittleEndian.PutUint32(b[16:20], r.Type)
		binary.LittleEndian.PutUint32(b[20:24], r.ACPI)
	}
	return raw
}

// number accepts decimal and 0x prefixed hexadecimal CSV fields.
type number uint64

func (n *number) UnmarshalCSV(s string) error {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return err
	}
	*n = number(v)
	return nil
}

type csvRegion struct {
	Base   number `csv:"base"`
	Length number `csv:"length"`
	Type   number `csv:"type"`
	ACPI   number `csv:"acpi,omitempty"`
}

// LoadMemoryMapCSV reads a memory map with the columns base, length, type and
// optionally acpi, for example:
//
//	base,length,type
//	0x0,0x9fc00,1
//	0x100000,0x7ee0000,1
func LoadMemoryMapCSV(r io.Reader) ([]MemoryRegion, error) {
	var rows []*csvRegion
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, checkpoint.Wrap(err, ErrMemoryMap)
	}
	if len(rows) > MaxMemoryRegions {
		rows = rows[:MaxMemoryRegions]
	}

	regions := make([]MemoryRegion, len(rows))
	for i, row := range rows {
		if uint64(row.Type) > uint64(^uint32(0)) || uint64(row.ACPI) > uint64(^uint32(0)) {
			return nil, fmt.Errorf("%w: row %d: type or acpi out of range", ErrMemoryMap, i+1)
		}
		regions[i] = MemoryRegion{
			Base:   uint64(row.Base),
			Length: uint64(row.Length),
			Type:   uint32(row.Type),
			ACPI:   uint32(row.ACPI),
		}
	}
	return regions, nil
}

// DefaultMemoryMap is what a PC with 128 MiB of RAM typically reports.
func DefaultMemoryMap() []MemoryRegion {
	return []MemoryRegion{
		{Base: 0x00000000, Length: 0x0009FC00, Type: RegionUsable},
		{Base: 0x0009FC00, Length: 0x00000400, Type: RegionReserved},
		{Base: 0x000F0000, Length: 0x00010000, Type: RegionReserved},
		{Base: 0x00100000, Length: 0x07EE0000, Type: RegionUsable},
		{Base: 0x07FE0000, Length: 0x00020000, Type: RegionReserved},
		{Base: 0xFFFC0000, Length: 0x00040000, Type: RegionReserved},
	}
}
