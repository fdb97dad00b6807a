package ata

import (
	"github.com/aligator/bootfat/checkpoint"
	"github.com/sirupsen/logrus"
)

// IdentifyData is the part of the IDENTIFY DEVICE response the loader cares about.
type IdentifyData struct {
	LBA28Sectors   uint32
	LBA48Supported bool
	UDMAModes      uint16
	Conductor80    bool
	LBA48Sectors   uint64
	Raw            [wordsPerSector]uint16
}

// Word offsets in the IDENTIFY response.
const (
	idWordLBA28       = 60
	idWordCommandSets = 83
	idWordUDMA        = 88
	idWordHWReset     = 93
	idWordLBA48       = 100
)

// Identify asks the master drive to describe itself.
func (t *Transport) Identify() (IdentifyData, error) {
	t.ports.OutB(t.io+regDrive, 0xA0)
	t.ports.OutB(t.io+regSectorCount, 0)
	t.ports.OutB(t.io+regLBALow, 0)
	t.ports.OutB(t.io+regLBAMid, 0)
	t.ports.OutB(t.io+regLBAHigh, 0)
	t.ports.OutB(t.io+regCommand, CmdIdentify)

	status := t.ports.InB(t.io + regStatus)
	if status == 0 {
		return IdentifyData{}, checkpoint.From(ErrNoDevice)
	}

	for status&StatusBusy != 0 {
		// ATAPI and SATA devices answer by putting a signature into the LBA registers.
		if t.ports.InB(t.io+regLBAMid) != 0 || t.ports.InB(t.io+regLBAHigh) != 0 {
			return IdentifyData{}, checkpoint.From(ErrNotATA)
		}
		status = t.ports.InB(t.io + regStatus)
	}

	for status&(StatusDRQ|StatusErr) == 0 {
		status = t.ports.InB(t.io + regStatus)
	}
	if status&StatusErr != 0 {
		return IdentifyData{}, t.deviceError(ErrDeviceError, status)
	}

	var data IdentifyData
	for i := range data.Raw {
		data.Raw[i] = t.ports.InW(t.io + regData)
	}

	data.LBA28Sectors = uint32(data.Raw[idWordLBA28]) | uint32(data.Raw[idWordLBA28+1])<<16
	data.LBA48Supported = data.Raw[idWordCommandSets]&(1<<10) != 0
	data.UDMAModes = data.Raw[idWordUDMA]
	data.Conductor80 = data.Raw[idWordHWReset]&(1<<13) != 0
	for i := 3; i >= 0; i-- {
		data.LBA48Sectors = data.LBA48Sectors<<16 | uint64(data.Raw[idWordLBA48+i])
	}

	t.log.WithFields(logrus.Fields{
		"lba28Sectors": data.LBA28Sectors,
		"lba48":        data.LBA48Supported,
	}).Debug("ata: identify")

	return data, nil
}
