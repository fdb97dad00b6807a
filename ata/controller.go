package ata

import (
	"errors"
	"io"

	"github.com/sirupsen/logrus"
)

// Controller emulates the register file of a primary ATA channel with a single master
// drive whose contents come from a disk image. It implements Ports and understands
// READ SECTORS and IDENTIFY DEVICE.
//
// Like real hardware it keeps the ERR bit of a failed command visible for the first
// status reads of the next command.
type Controller struct {
	image   io.ReadSeeker
	sectors uint32
	log     logrus.FieldLogger

	// BusyPolls is the number of status reads answered with BSY before data is ready.
	BusyPolls int

	regs    [8]uint8
	status  uint8
	errReg  uint8
	busy    int
	stale   int
	pending uint8 // sectors left after the buffered one
	nextLBA uint32
	data    [SectorSize]byte
	dataPos int
}

// NewController creates a controller serving image. The image size is rounded down to
// whole sectors.
func NewController(image io.ReadSeeker, log logrus.FieldLogger) (*Controller, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	size, err := image.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	if size < SectorSize {
		return nil, errors.New("ata: image is smaller than one sector")
	}

	return &Controller{
		image:   image,
		sectors: uint32(size / SectorSize),
		log:     log,
		status:  StatusRDY,
	}, nil
}

// Sectors returns the number of sectors of the emulated drive.
func (c *Controller) Sectors() uint32 {
	return c.sectors
}

func (c *Controller) InB(port uint16) uint8 {
	switch port {
	case PrimaryIOBase + regStatus, PrimaryControlBase:
		return c.readStatus()
	case PrimaryIOBase + regError:
		return c.errReg
	case PrimaryIOBase + regData:
		return uint8(c.InW(port))
	}
	if port > PrimaryIOBase && port < PrimaryIOBase+regStatus {
		return c.regs[port-PrimaryIOBase]
	}
	return 0xFF
}

func (c *Controller) InW(port uint16) uint16 {
	if port != PrimaryIOBase+regData {
		return uint16(c.InB(port))
	}
	if c.status&StatusDRQ == 0 {
		return 0xFFFF
	}

	word := uint16(c.data[c.dataPos]) | uint16(c.data[c.dataPos+1])<<8
	c.dataPos += 2
	if c.dataPos == SectorSize {
		c.sectorDone()
	}
	return word
}

func (c *Controller) OutB(port uint16, value uint8) {
	switch {
	case port == PrimaryIOBase+regCommand:
		c.command(value)
	case port == PrimaryControlBase:
		// Device control. Interrupts are never used, so nothing to do.
	case port > PrimaryIOBase && port < PrimaryIOBase+regCommand:
		c.regs[port-PrimaryIOBase] = value
	}
}

func (c *Controller) OutW(port uint16, value uint16) {
	c.OutB(port, uint8(value))
}

func (c *Controller) readStatus() uint8 {
	if c.stale > 0 {
		c.stale--
		return c.status | StatusErr
	}
	if c.busy > 0 {
		c.busy--
		return StatusBusy
	}
	return c.status
}

func (c *Controller) command(cmd uint8) {
	if c.status&StatusErr != 0 {
		c.stale = staleStatusReads
	}
	c.status = StatusRDY
	c.errReg = 0
	c.dataPos = 0
	c.busy = c.BusyPolls

	switch cmd {
	case CmdReadPIO:
		c.startRead()
	case CmdIdentify:
		c.identify()
	default:
		c.log.WithField("command", cmd).Warn("ata: unsupported command")
		c.fail(0x04) // ABRT
	}
}

func (c *Controller) startRead() {
	drive := c.regs[regDrive]
	if drive&0x40 == 0 {
		c.log.Warn("ata: chs addressing is not emulated")
		c.fail(0x04)
		return
	}

	count := uint32(c.regs[regSectorCount])
	if count == 0 {
		count = 256
	}
	lba := uint32(c.regs[regLBALow]) |
		uint32(c.regs[regLBAMid])<<8 |
		uint32(c.regs[regLBAHigh])<<16 |
		uint32(drive&0x0F)<<24

	if lba+count > c.sectors {
		c.log.WithFields(logrus.Fields{"lba": lba, "count": count}).Warn("ata: read beyond end of image")
		c.fail(0x10) // IDNF
		return
	}

	c.nextLBA = lba
	c.pending = uint8(count - 1)
	c.loadSector()
}

func (c *Controller) loadSector() {
	if _, err := c.image.Seek(int64(c.nextLBA)*SectorSize, io.SeekStart); err != nil {
		c.fail(0x40) // UNC
		return
	}
	if _, err := io.ReadFull(c.image, c.data[:]); err != nil {
		c.fail(0x40)
		return
	}
	c.nextLBA++
	c.dataPos = 0
	c.status = StatusRDY | StatusDRQ
}

func (c *Controller) sectorDone() {
	if c.pending == 0 {
		c.status = StatusRDY
		return
	}
	c.pending--
	c.busy = c.BusyPolls
	c.loadSector()
}

func (c *Controller) fail(errReg uint8) {
	c.errReg = errReg
	c.status = StatusRDY | StatusErr
}

func (c *Controller) identify() {
	var words [wordsPerSector]uint16
	words[0] = 0x0040 // fixed drive
	words[idWordLBA28] = uint16(c.sectors)
	words[idWordLBA28+1] = uint16(c.sectors >> 16)
	words[idWordCommandSets] = 1 << 10
	words[idWordUDMA] = 0x003F
	words[idWordLBA48] = uint16(c.sectors)
	words[idWordLBA48+1] = uint16(c.sectors >> 16)

	for i, w := range words {
		c.data[2*i] = uint8(w)
		c.data[2*i+1] = uint8(w >> 8)
	}
	c.pending = 0
	c.dataPos = 0
	c.status = StatusRDY | StatusDRQ
}
