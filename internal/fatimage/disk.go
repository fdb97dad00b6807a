package fatimage

import (
	"errors"
	"fmt"

	"github.com/aligator/bootfat"
)

// ErrOutOfRange is returned for reads beyond the end of a Disk.
var ErrOutOfRange = errors.New("fatimage: read beyond the end of the disk")

// Read is one recorded ReadSectors call.
type Read struct {
	LBA   uint32
	Count uint8
}

// Disk serves an image from memory and records every read.
type Disk struct {
	data  []byte
	fail  map[uint32]error
	Reads []Read
}

// NewDisk creates a disk on top of data. data is not copied.
func NewDisk(data []byte) *Disk {
	return &Disk{
		data: data,
		fail: make(map[uint32]error),
	}
}

// Fail makes every read touching lba return err.
func (d *Disk) Fail(lba uint32, err error) {
	d.fail[lba] = err
}

// Repair lets reads of lba succeed again.
func (d *Disk) Repair(lba uint32) {
	delete(d.fail, lba)
}

// Sectors returns the size of the disk in sectors.
func (d *Disk) Sectors() uint32 {
	return uint32(len(d.data) / bootfat.SectorSize)
}

func (d *Disk) ReadSectors(buffer []byte, count uint8, lba uint32) error {
	d.Reads = append(d.Reads, Read{LBA: lba, Count: count})

	if len(buffer) != int(count)*bootfat.SectorSize {
		return fmt.Errorf("fatimage: %d byte buffer for %d sectors", len(buffer), count)
	}
	for i := uint32(0); i < uint32(count); i++ {
		if err, ok := d.fail[lba+i]; ok {
			return err
		}
	}

	start := uint64(lba) * bootfat.SectorSize
	end := start + uint64(len(buffer))
	if end > uint64(len(d.data)) {
		return fmt.Errorf("%w: lba %d", ErrOutOfRange, lba)
	}
	copy(buffer, d.data[start:end])
	return nil
}

// ReadsOf returns how often a read started at lba.
func (d *Disk) ReadsOf(lba uint32) int {
	n := 0
	for _, r := range d.Reads {
		if r.LBA == lba {
			n++
		}
	}
	return n
}
