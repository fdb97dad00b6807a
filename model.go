// File model contains the structures of the FAT filesystem and their exact on-disk layout.

package bootfat

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// FATType is the width of the entries in the file allocation table.
type FATType uint8

const (
	FAT12 FATType = 12
	FAT16 FATType = 16
	FAT32 FATType = 32
)

func (t FATType) String() string {
	return fmt.Sprintf("FAT%d", uint8(t))
}

// DetectFATType determines the FAT width the same way the boot loader always did:
// fewer than 0xFF5 data clusters is FAT12, otherwise a nonzero legacy sectors-per-FAT
// field means FAT16, and everything else is FAT32.
func DetectFATType(dataClusters uint32, sectorsPerFAT16 uint16) FATType {
	switch {
	case dataClusters < 0xFF5:
		return FAT12
	case sectorsPerFAT16 != 0:
		return FAT16
	default:
		return FAT32
	}
}

// Directory entry attributes.
const (
	AttrReadOnly  = 0x01
	AttrHidden    = 0x02
	AttrSystem    = 0x04
	AttrVolumeID  = 0x08
	AttrDirectory = 0x10
	AttrArchive   = 0x20
	AttrLongName  = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeID
)

const (
	bootSectorSize = 512
	extendedOffset = 36
	extendedSize   = 54
	// DirectoryEntrySize is the size of one raw directory entry.
	DirectoryEntrySize = 32
)

var errShortBuffer = errors.New("buffer too short")

// BootSector is the BIOS parameter block at the start of a FAT volume.
//
// Layout (little endian):
//
//	0x00 jump instruction (3)
//	0x03 OEM name (8)
//	0x0B bytes per sector (2)
//	0x0D sectors per cluster (1)
//	0x0E reserved sectors (2)
//	0x10 number of FATs (1)
//	0x11 root directory entries (2)
//	0x13 total sectors, 16 bit (2)
//	0x15 media descriptor (1)
//	0x16 sectors per FAT, 16 bit (2)
//	0x18 sectors per track (2)
//	0x1A heads (2)
//	0x1C hidden sectors (4)
//	0x20 total sectors, 32 bit (4)
//	0x24 extended boot record, FAT12/16 or FAT32 layout (54)
//	0x1FE boot signature (2)
type BootSector struct {
	JumpBoot          [3]byte
	OEMName           [8]byte
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	FATCount          uint8
	RootEntryCount    uint16
	TotalSectors16    uint16
	Media             uint8
	SectorsPerFAT16   uint16
	SectorsPerTrack   uint16
	Heads             uint16
	HiddenSectors     uint32
	LargeSectorCount  uint32
	Signature         uint16

	// extended stays raw until the FAT type is known. See Extended.
	extended [extendedSize]byte
}

// DecodeBootSector decodes a whole boot sector.
func DecodeBootSector(b []byte) (*BootSector, error) {
	if len(b) < bootSectorSize {
		return nil, fmt.Errorf("boot sector: %w: %d bytes", errShortBuffer, len(b))
	}

	bs := &BootSector{
		BytesPerSector:    binary.LittleEndian.Uint16(b[0x0B:]),
		SectorsPerCluster: b[0x0D],
		ReservedSectors:   binary.LittleEndian.Uint16(b[0x0E:]),
		FATCount:          b[0x10],
		RootEntryCount:    binary.LittleEndian.Uint16(b[0x11:]),
		TotalSectors16:    binary.LittleEndian.Uint16(b[0x13:]),
		Media:             b[0x15],
		SectorsPerFAT16:   binary.LittleEndian.Uint16(b[0x16:]),
		SectorsPerTrack:   binary.LittleEndian.Uint16(b[0x18:]),
		Heads:             binary.LittleEndian.Uint16(b[0x1A:]),
		HiddenSectors:     binary.LittleEndian.Uint32(b[0x1C:]),
		LargeSectorCount:  binary.LittleEndian.Uint32(b[0x20:]),
		Signature:         binary.LittleEndian.Uint16(b[0x1FE:]),
	}
	copy(bs.JumpBoot[:], b[0x00:0x03])
	copy(bs.OEMName[:], b[0x03:0x0B])
	copy(bs.extended[:], b[extendedOffset:extendedOffset+extendedSize])
	return bs, nil
}

// Encode writes the boot sector into the first 512 bytes of b. Boot code is not touched.
func (bs *BootSector) Encode(b []byte) error {
	if len(b) < bootSectorSize {
		return fmt.Errorf("boot sector: %w: %d bytes", errShortBuffer, len(b))
	}

	copy(b[0x00:0x03], bs.JumpBoot[:])
	copy(b[0x03:0x0B], bs.OEMName[:])
	binary.LittleEndian.PutUint16(b[0x0B:], bs.BytesPerSector)
	b[0x0D] = bs.SectorsPerCluster
	binary.LittleEndian.PutUint16(b[0x0E:], bs.ReservedSectors)
	b[0x10] = bs.FATCount
	binary.LittleEndian.PutUint16(b[0x11:], bs.RootEntryCount)
	binary.LittleEndian.PutUint16(b[0x13:], bs.TotalSectors16)
	b[0x15] = bs.Media
	binary.LittleEndian.PutUint16(b[0x16:], bs.SectorsPerFAT16)
	binary.LittleEndian.PutUint16(b[0x18:], bs.SectorsPerTrack)
	binary.LittleEndian.PutUint16(b[0x1A:], bs.Heads)
	binary.LittleEndian.PutUint32(b[0x1C:], bs.HiddenSectors)
	binary.LittleEndian.PutUint32(b[0x20:], bs.LargeSectorCount)
	copy(b[extendedOffset:extendedOffset+extendedSize], bs.extended[:])
	binary.LittleEndian.PutUint16(b[0x1FE:], bs.Signature)
	return nil
}

// sectorsPerFAT32 reads the FAT size out of the FAT32 extended boot record. Only call
// it when SectorsPerFAT16 is 0, which is how a FAT32 volume announces itself.
func (bs *BootSector) sectorsPerFAT32() uint32 {
	return binary.LittleEndian.Uint32(bs.extended[0:4])
}

// Extended decodes the extended boot record in the layout t uses.
func (bs *BootSector) Extended(t FATType) ExtendedRecord {
	if t == FAT32 {
		return decodeFAT32ExtendedBootRecord(bs.extended[:])
	}
	return decodeExtendedBootRecord(bs.extended[:])
}

// SetExtended stores the extended boot record.
func (bs *BootSector) SetExtended(ext ExtendedRecord) {
	bs.extended = [extendedSize]byte{}
	ext.encode(bs.extended[:])
}

// ExtendedRecord is either an *ExtendedBootRecord (FAT12/16) or a
// *FAT32ExtendedBootRecord. Both occupy the same bytes of the boot sector.
type ExtendedRecord interface {
	// Common returns the drive, serial and label part both layouts share.
	Common() *ExtendedBootRecord
	encode(b []byte)
}

// ExtendedBootRecord is the FAT12/16 extended boot record.
type ExtendedBootRecord struct {
	DriveNumber uint8
	Reserved    uint8
	Signature   uint8
	VolumeID    uint32
	VolumeLabel [11]byte
	SystemID    [8]byte
}

const ebrSize = 26

func decodeExtendedBootRecord(b []byte) *ExtendedBootRecord {
	ebr := &ExtendedBootRecord{
		DriveNumber: b[0],
		Reserved:    b[1],
		Signature:   b[2],
		VolumeID:    binary.LittleEndian.Uint32(b[3:7]),
	}
	copy(ebr.VolumeLabel[:], b[7:18])
	copy(ebr.SystemID[:], b[18:26])
	return ebr
}

func (ebr *ExtendedBootRecord) Common() *ExtendedBootRecord {
	return ebr
}

func (ebr *ExtendedBootRecord) encode(b []byte) {
	b[0] = ebr.DriveNumber
	b[1] = ebr.Reserved
	b[2] = ebr.Signature
	binary.LittleEndian.PutUint32(b[3:7], ebr.VolumeID)
	copy(b[7:18], ebr.VolumeLabel[:])
	copy(b[18:26], ebr.SystemID[:])
}

// FAT32ExtendedBootRecord is the FAT32 extended boot record. Its trailing part has the
// FAT12/16 layout.
type FAT32ExtendedBootRecord struct {
	SectorsPerFAT    uint32
	Flags            uint16
	Version          uint16
	RootCluster      uint32
	FSInfoSector     uint16
	BackupBootSector uint16
	Reserved         [12]byte
	ExtendedBootRecord
}

func decodeFAT32ExtendedBootRecord(b []byte) *FAT32ExtendedBootRecord {
	ebr := &FAT32ExtendedBootRecord{
		SectorsPerFAT:      binary.LittleEndian.Uint32(b[0:4]),
		Flags:              binary.LittleEndian.Uint16(b[4:6]),
		Version:            binary.LittleEndian.Uint16(b[6:8]),
		RootCluster:        binary.LittleEndian.Uint32(b[8:12]),
		FSInfoSector:       binary.LittleEndian.Uint16(b[12:14]),
		BackupBootSector:   binary.LittleEndian.Uint16(b[14:16]),
		ExtendedBootRecord: *decodeExtendedBootRecord(b[28 : 28+ebrSize]),
	}
	copy(ebr.Reserved[:], b[16:28])
	return ebr
}

func (ebr *FAT32ExtendedBootRecord) Common() *ExtendedBootRecord {
	return &ebr.ExtendedBootRecord
}

func (ebr *FAT32ExtendedBootRecord) encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], ebr.SectorsPerFAT)
	binary.LittleEndian.PutUint16(b[4:6], ebr.Flags)
	binary.LittleEndian.PutUint16(b[6:8], ebr.Version)
	binary.LittleEndian.PutUint32(b[8:12], ebr.RootCluster)
	binary.LittleEndian.PutUint16(b[12:14], ebr.FSInfoSector)
	binary.LittleEndian.PutUint16(b[14:16], ebr.BackupBootSector)
	copy(b[16:28], ebr.Reserved[:])
	ebr.ExtendedBootRecord.encode(b[28 : 28+ebrSize])
}

// DirectoryEntry is a raw 32 byte directory entry.
//
// Layout (little endian):
//
//	0x00 8.3 name (11)
//	0x0B attributes (1)
//	0x0C reserved (1)
//	0x0D creation time, tenths of a second (1)
//	0x0E creation time (2)
//	0x10 creation date (2)
//	0x12 last access date (2)
//	0x14 first cluster, high half (2)
//	0x16 modification time (2)
//	0x18 modification date (2)
//	0x1A first cluster, low half (2)
//	0x1C size (4)
type DirectoryEntry struct {
	Name              [11]byte
	Attributes        uint8
	Reserved          uint8
	CreatedTimeTenths uint8
	CreatedTime       uint16
	CreatedDate       uint16
	AccessedDate      uint16
	FirstClusterHigh  uint16
	ModifiedTime      uint16
	ModifiedDate      uint16
	FirstClusterLow   uint16
	Size              uint32
}

// DecodeDirectoryEntry decodes the first 32 bytes of b.
func DecodeDirectoryEntry(b []byte) (DirectoryEntry, error) {
	if len(b) < DirectoryEntrySize {
		return DirectoryEntry{}, fmt.Errorf("directory entry: %w: %d bytes", errShortBuffer, len(b))
	}

	e := DirectoryEntry{
		Attributes:        b[0x0B],
		Reserved:          b[0x0C],
		CreatedTimeTenths: b[0x0D],
		CreatedTime:       binary.LittleEndian.Uint16(b[0x0E:]),
		CreatedDate:       binary.LittleEndian.Uint16(b[0x10:]),
		AccessedDate:      binary.LittleEndian.Uint16(b[0x12:]),
		FirstClusterHigh:  binary.LittleEndian.Uint16(b[0x14:]),
		ModifiedTime:      binary.LittleEndian.Uint16(b[0x16:]),
		ModifiedDate:      binary.LittleEndian.Uint16(b[0x18:]),
		FirstClusterLow:   binary.LittleEndian.Uint16(b[0x1A:]),
		Size:              binary.LittleEndian.Uint32(b[0x1C:]),
	}
	copy(e.Name[:], b[0x00:0x0B])
	return e, nil
}

// Encode writes the entry into the first 32 bytes of b.
func (e *DirectoryEntry) Encode(b []byte) error {
	if len(b) < DirectoryEntrySize {
		return fmt.Errorf("directory entry: %w: %d bytes", errShortBuffer, len(b))
	}

	copy(b[0x00:0x0B], e.Name[:])
	b[0x0B] = e.Attributes
	b[0x0C] = e.Reserved
	b[0x0D] = e.CreatedTimeTenths
	binary.LittleEndian.PutUint16(b[0x0E:], e.CreatedTime)
	binary.LittleEndian.PutUint16(b[0x10:], e.CreatedDate)
	binary.LittleEndian.PutUint16(b[0x12:], e.AccessedDate)
	binary.LittleEndian.PutUint16(b[0x14:], e.FirstClusterHigh)
	binary.LittleEndian.PutUint16(b[0x16:], e.ModifiedTime)
	binary.LittleEndian.PutUint16(b[0x18:], e.ModifiedDate)
	binary.LittleEndian.PutUint16(b[0x1A:], e.FirstClusterLow)
	binary.LittleEndian.PutUint32(b[0x1C:], e.Size)
	return nil
}

// FirstCluster joins both halves of the first cluster number.
func (e *DirectoryEntry) FirstCluster() uint32 {
	return uint32(e.FirstClusterHigh)<<16 | uint32(e.FirstClusterLow)
}

// SetFirstCluster splits cluster into both halves.
func (e *DirectoryEntry) SetFirstCluster(cluster uint32) {
	e.FirstClusterHigh = uint16(cluster >> 16)
	e.FirstClusterLow = uint16(cluster)
}

func (e *DirectoryEntry) IsDirectory() bool {
	return e.Attributes&AttrDirectory != 0
}

// IsLongName reports whether the entry holds a piece of a long file name.
func (e *DirectoryEntry) IsLongName() bool {
	return e.Attributes&AttrLongName == AttrLongName
}

func (e *DirectoryEntry) IsVolumeLabel() bool {
	return !e.IsLongName() && e.Attributes&AttrVolumeID != 0
}

func (e *DirectoryEntry) IsDeleted() bool {
	return e.Name[0] == 0xE5
}

// IsEnd reports whether the entry terminates the directory.
func (e *DirectoryEntry) IsEnd() bool {
	return e.Name[0] == 0x00
}
