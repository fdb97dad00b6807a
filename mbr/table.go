package mbr

import (
	"errors"
	"fmt"

	"github.com/aligator/bootfat/checkpoint"
	"github.com/aligator/bootfat/disk"
	"github.com/hashicorp/go-multierror"
)

const (
	sectorSize  = 512
	tableOffset = 0x1BE
	// Entries is the number of primary partition slots.
	Entries = 4
)

// These errors may occur while reading a partition table.
var (
	ErrNoSignature = errors.New("mbr: missing 0x55AA boot signature")
	ErrNoPartition = errors.New("mbr: no usable partition")
	ErrOverlap     = errors.New("mbr: partitions overlap")
)

// Table is the primary partition table of a disk.
type Table struct {
	Entries [Entries]Entry
}

// ReadTable reads and decodes the partition table from sector 0 of r.
func ReadTable(r disk.SectorReader) (*Table, error) {
	sector := make([]byte, sectorSize)
	if err := r.ReadSectors(sector, 1, 0); err != nil {
		return nil, checkpoint.From(err)
	}
	return DecodeTable(sector)
}

// DecodeTable decodes a partition table from a whole MBR sector.
func DecodeTable(sector []byte) (*Table, error) {
	if len(sector) < sectorSize {
		return nil, fmt.Errorf("mbr: short sector of %d bytes", len(sector))
	}
	if sector[510] != 0x55 || sector[511] != 0xAA {
		return nil, checkpoint.From(ErrNoSignature)
	}

	t := &Table{}
	for i := range t.Entries {
		off := tableOffset + i*EntrySize
		entry, err := DecodeEntry(sector[off : off+EntrySize])
		if err != nil {
			return nil, checkpoint.From(err)
		}
		t.Entries[i] = entry
	}
	return t, nil
}

// Encode writes the table and the boot signature into sector, which has to be a whole
// sector. The boot code in front of the table is left alone.
func (t *Table) Encode(sector []byte) {
	for i, e := range t.Entries {
		raw := e.Encode()
		copy(sector[tableOffset+i*EntrySize:], raw[:])
	}
	sector[510] = 0x55
	sector[511] = 0xAA
}

// Bootable returns the index of the first active partition.
func (t *Table) Bootable() (int, error) {
	for i, e := range t.Entries {
		if !e.Empty() && e.Bootable() {
			return i, nil
		}
	}
	return -1, checkpoint.Wrap(errors.New("no active partition"), ErrNoPartition)
}

// Validate checks the used entries against each other and against the disk size.
// All problems are reported at once. diskSectors of 0 skips the size check.
func (t *Table) Validate(diskSectors uint32) error {
	var result error

	for i, e := range t.Entries {
		if e.Empty() {
			continue
		}
		if e.StartLBA == 0 {
			result = multierror.Append(result, fmt.Errorf("partition %d starts in the mbr", i))
		}
		end := uint64(e.StartLBA) + uint64(e.SectorCount)
		if diskSectors != 0 && end > uint64(diskSectors) {
			result = multierror.Append(result, fmt.Errorf("partition %d ends at %d beyond the disk (%d sectors)", i, end, diskSectors))
		}

		for j := i + 1; j < Entries; j++ {
			o := t.Entries[j]
			if o.Empty() {
				continue
			}
			if uint64(o.StartLBA) < end && uint64(e.StartLBA) < uint64(o.StartLBA)+uint64(o.SectorCount) {
				result = multierror.Append(result, checkpoint.Wrap(fmt.Errorf("partitions %d and %d", i, j), ErrOverlap))
			}
		}
	}

	return result
}
