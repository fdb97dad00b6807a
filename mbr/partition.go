package mbr

import (
	"errors"
	"fmt"

	"github.com/aligator/bootfat/checkpoint"
	"github.com/aligator/bootfat/disk"
)

// ErrUnsupportedMedia is returned when a partition is set up on something that is not a
// hard disk. The boot sequence cannot continue after it.
var ErrUnsupportedMedia = errors.New("mbr: partitions are only supported on hard disks")

// Partition is a view of one partition. Sector numbers passed to it are relative to the
// start of the partition.
type Partition struct {
	disk        *disk.Disk
	entry       Entry
	StartLBA    uint32
	SectorCount uint32
}

// NewPartition creates a partition view on d. It has to be initialized with Init.
func NewPartition(d *disk.Disk) *Partition {
	return &Partition{disk: d}
}

// Init sets the partition up from its table entry.
func (p *Partition) Init(entry Entry) error {
	if !p.disk.IsHardDisk() {
		return checkpoint.Wrap(fmt.Errorf("drive 0x%02x", p.disk.ID), ErrUnsupportedMedia)
	}

	p.entry = entry
	p.StartLBA = entry.StartLBA
	p.SectorCount = entry.SectorCount
	return nil
}

// InitRaw decodes a raw 16 byte table entry and calls Init with it.
func (p *Partition) InitRaw(raw []byte) error {
	entry, err := DecodeEntry(raw)
	if err != nil {
		return checkpoint.From(err)
	}
	return p.Init(entry)
}

// Entry returns the table entry the partition was set up with.
func (p *Partition) Entry() Entry {
	return p.entry
}

// ReadSectors reads count sectors at the partition relative lba. It does not check the
// request against the size of the partition.
func (p *Partition) ReadSectors(buffer []byte, count uint8, lba uint32) error {
	return p.disk.ReadSectors(buffer, count, lba+p.StartLBA)
}
