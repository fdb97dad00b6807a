// Package ata implements a polling PIO sector transport for the primary ATA channel and an
// emulated register file to run it against disk images.
package ata

// Ports is the raw port I/O the transport is built on. On hardware these are the in/out
// instructions; Controller provides them for disk images.
//
// Generated mock using mockgen:
//
//	mockgen -source=ports.go -destination=ports_mock.go -package ata
type Ports interface {
	InB(port uint16) uint8
	InW(port uint16) uint16
	OutB(port uint16, value uint8)
	OutW(port uint16, value uint16)
}

// Primary channel port bases.
const (
	PrimaryIOBase      uint16 = 0x1F0
	PrimaryControlBase uint16 = 0x3F6
)

// Register offsets from the I/O base.
const (
	regData        = 0
	regError       = 1 // read
	regFeature     = 1 // write
	regSectorCount = 2
	regLBALow      = 3
	regLBAMid      = 4
	regLBAHigh     = 5
	regDrive       = 6
	regStatus      = 7 // read
	regCommand     = 7 // write
)

// Status register bits.
const (
	StatusErr  uint8 = 1 << 0
	StatusDRQ  uint8 = 1 << 3
	StatusSRV  uint8 = 1 << 4
	StatusDF   uint8 = 1 << 5
	StatusRDY  uint8 = 1 << 6
	StatusBusy uint8 = 1 << 7
)

// Commands.
const (
	CmdReadPIO  uint8 = 0x20
	CmdIdentify uint8 = 0xEC
)

const (
	// SectorSize is the only sector size the transport speaks.
	SectorSize = 512

	wordsPerSector = SectorSize / 2

	// staleStatusReads is the number of status reads discarded after issuing a command.
	// ERR and DF may still show the result of the previous command until then.
	staleStatusReads = 4

	// MaxLBA is the first sector not addressable with 28-bit LBA.
	MaxLBA = 1 << 28
)

// driveSelect builds the drive/head register for LBA addressing of the master drive.
// Bits 0-3 carry LBA bits 24-27, bit 6 selects LBA mode, bits 5 and 7 are always set.
func driveSelect(lba uint32) uint8 {
	return 0xE0 | uint8(lba>>24&0x0F)
}
