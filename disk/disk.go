// Package disk ties a sector transport to the BIOS identity of the drive it reads from.
package disk

// SectorReader reads whole 512 byte sectors. len(buffer) must be count*512.
type SectorReader interface {
	ReadSectors(buffer []byte, count uint8, lba uint32) error
}

// FirstHardDisk is the BIOS drive number of the first hard disk. Lower numbers are
// floppy drives.
const FirstHardDisk = 0x80

// Disk is a drive as the BIOS handed it over: a drive number and a way to read it.
type Disk struct {
	ID     uint8
	reader SectorReader
}

// New creates a disk with the given BIOS drive number.
func New(id uint8, reader SectorReader) *Disk {
	return &Disk{
		ID:     id,
		reader: reader,
	}
}

// IsHardDisk reports whether the BIOS drive number belongs to a hard disk.
func (d *Disk) IsHardDisk() bool {
	return d.ID >= FirstHardDisk
}

// ReadSectors reads from the raw device.
func (d *Disk) ReadSectors(buffer []byte, count uint8, lba uint32) error {
	return d.reader.ReadSectors(buffer, count, lba)
}
