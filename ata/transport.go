package ata

import (
	"errors"
	"fmt"

	"github.com/aligator/bootfat/checkpoint"
	"github.com/sirupsen/logrus"
)

// These errors may occur while talking to the drive.
var (
	ErrDeviceError = errors.New("ata: device reported an error")
	ErrDeviceFault = errors.New("ata: device fault")
	ErrNoDevice    = errors.New("ata: no device on channel")
	ErrNotATA      = errors.New("ata: device is not an ATA drive")
	ErrBufferSize  = errors.New("ata: buffer does not match sector count")
	ErrLBARange    = errors.New("ata: lba not addressable with 28 bits")
)

// Transport reads sectors from the master drive of one channel by polling.
//
// There is no timeout. A drive that never becomes ready keeps ReadSectors spinning
// forever, which at boot time is indistinguishable from any other fatal error.
// A Transport is not safe for concurrent use.
type Transport struct {
	ports Ports
	io    uint16
	log   logrus.FieldLogger
}

// NewTransport creates a transport for the primary channel.
func NewTransport(ports Ports, log logrus.FieldLogger) *Transport {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Transport{
		ports: ports,
		io:    PrimaryIOBase,
		log:   log,
	}
}

// ReadSectors reads count sectors starting at lba into buffer, which has to be exactly
// count*512 bytes long. The command is issued once; the drive advances to the next
// sector on its own after each transfer.
func (t *Transport) ReadSectors(buffer []byte, count uint8, lba uint32) error {
	if count == 0 || len(buffer) != int(count)*SectorSize {
		return checkpoint.Wrap(fmt.Errorf("%d bytes for %d sectors", len(buffer), count), ErrBufferSize)
	}
	if lba >= MaxLBA || lba+uint32(count) > MaxLBA {
		return checkpoint.Wrap(fmt.Errorf("lba %d + %d", lba, count), ErrLBARange)
	}

	t.log.WithFields(logrus.Fields{"lba": lba, "count": count}).Debug("ata: read")

	t.ports.OutB(t.io+regDrive, driveSelect(lba))
	t.ports.OutB(t.io+regFeature, 0)
	t.ports.OutB(t.io+regSectorCount, count)
	t.ports.OutB(t.io+regLBALow, uint8(lba))
	t.ports.OutB(t.io+regLBAMid, uint8(lba>>8))
	t.ports.OutB(t.io+regLBAHigh, uint8(lba>>16))
	t.ports.OutB(t.io+regCommand, CmdReadPIO)

	for i := 0; i < staleStatusReads; i++ {
		t.ports.InB(t.io + regStatus)
	}

	for remaining := count; remaining > 0; remaining-- {
		if err := t.waitData(); err != nil {
			return checkpoint.Wrap(err, fmt.Errorf("ata: read of lba %d failed with %d sectors left", lba, remaining))
		}

		offset := int(count-remaining) * SectorSize
		for i := 0; i < wordsPerSector; i++ {
			word := t.ports.InW(t.io + regData)
			buffer[offset+2*i] = uint8(word)
			buffer[offset+2*i+1] = uint8(word >> 8)
		}
	}

	return nil
}

// waitData polls the status register until the drive has data ready or reports a failure.
func (t *Transport) waitData() error {
	for {
		status := t.ports.InB(t.io + regStatus)
		if status&StatusBusy == 0 && status&StatusDRQ != 0 {
			return nil
		}
		if status&StatusErr != 0 {
			return t.deviceError(ErrDeviceError, status)
		}
		if status&StatusDF != 0 {
			return t.deviceError(ErrDeviceFault, status)
		}
	}
}

func (t *Transport) deviceError(kind error, status uint8) error {
	errReg := t.ports.InB(t.io + regError)
	return checkpoint.Wrap(fmt.Errorf("status 0x%02x, error register 0x%02x", status, errReg), kind)
}
