// Package mbr reads MBR partition tables and offers a partition-relative view of a disk.
package mbr

import (
	"encoding/binary"
	"fmt"
)

// EntrySize is the size of one partition table entry.
const EntrySize = 16

// AttributeBootable marks the active partition.
const AttributeBootable = 0x80

// Entry is one partition table entry.
//
// Layout:
//
//	0x00 attribute
//	0x01 CHS start (3 bytes)
//	0x04 partition type
//	0x05 CHS end (3 bytes)
//	0x08 LBA of the first sector
//	0x0C number of sectors
type Entry struct {
	Attribute   uint8
	CHSStart    [3]byte
	Type        uint8
	CHSEnd      [3]byte
	StartLBA    uint32
	SectorCount uint32
}

// DecodeEntry reads a partition table entry from the first 16 bytes of b.
func DecodeEntry(b []byte) (Entry, error) {
	if len(b) < EntrySize {
		return Entry{}, fmt.Errorf("mbr: entry needs %d bytes, got %d", EntrySize, len(b))
	}

	e := Entry{
		Attribute:   b[0],
		Type:        b[4],
		StartLBA:    binary.LittleEndian.Uint32(b[8:12]),
		SectorCount: binary.LittleEndian.Uint32(b[12:16]),
	}
	copy(e.CHSStart[:], b[1:4])
	copy(e.CHSEnd[:], b[5:8])
	return e, nil
}

// Encode returns the on-disk form of e.
func (e Entry) Encode() [EntrySize]byte {
	var b [EntrySize]byte
	b[0] = e.Attribute
	copy(b[1:4], e.CHSStart[:])
	b[4] = e.Type
	copy(b[5:8], e.CHSEnd[:])
	binary.LittleEndian.PutUint32(b[8:12], e.StartLBA)
	binary.LittleEndian.PutUint32(b[12:16], e.SectorCount)
	return b
}

// Bootable reports whether the entry is marked active.
func (e Entry) Bootable() bool {
	return e.Attribute&AttributeBootable != 0
}

// Empty reports whether the slot is unused.
func (e Entry) Empty() bool {
	return e.Type == 0 || e.SectorCount == 0
}

func (e Entry) String() string {
	return fmt.Sprintf("type 0x%02X lba %d+%d", e.Type, e.StartLBA, e.SectorCount)
}
