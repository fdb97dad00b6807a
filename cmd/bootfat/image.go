package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/aligator/bootfat"
	"github.com/aligator/bootfat/ata"
	"github.com/aligator/bootfat/disk"
	"github.com/aligator/bootfat/mbr"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"github.com/xaionaro-go/bytesextra"
)

var (
	errMissingArgument = errors.New("missing argument")
	errPartitionSlot   = errors.New("partition slot out of range")
)

func imageFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "partition",
			Value: -1,
			Usage: "partition table slot to use, -1 picks the bootable one",
		},
		&cli.BoolFlag{
			Name:  "raw",
			Usage: "the image is a bare volume without a partition table",
		},
		&cli.IntFlag{
			Name:  "busy-polls",
			Usage: "status reads the simulated drive answers busy before each transfer",
		},
	}
}

func argument(c *cli.Context, i int, name string) (string, error) {
	if c.NArg() <= i {
		return "", fmt.Errorf("%w: %s", errMissingArgument, name)
	}
	return c.Args().Get(i), nil
}

// openDrive attaches the image to a simulated ATA controller and returns the PIO
// transport in front of it.
func openDrive(c *cli.Context, log logrus.FieldLogger) (*ata.Transport, uint32, error) {
	path, err := argument(c, 0, "IMAGE")
	if err != nil {
		return nil, 0, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}

	ctrl, err := ata.NewController(bytesextra.NewReadWriteSeeker(data), log)
	if err != nil {
		return nil, 0, err
	}
	ctrl.BusyPolls = c.Int("busy-polls")

	return ata.NewTransport(ctrl, log), ctrl.Sectors(), nil
}

func selectPartition(c *cli.Context, r disk.SectorReader, sectors uint32, log logrus.FieldLogger) (mbr.Entry, error) {
	table, err := mbr.ReadTable(r)
	if err != nil {
		return mbr.Entry{}, err
	}
	if err := table.Validate(sectors); err != nil {
		log.WithError(err).Warn("partition table is inconsistent")
	}

	slot := c.Int("partition")
	if slot < 0 {
		if slot, err = table.Bootable(); err != nil {
			return mbr.Entry{}, err
		}
	}
	if slot >= mbr.Entries {
		return mbr.Entry{}, fmt.Errorf("%w: %d", errPartitionSlot, slot)
	}

	entry := table.Entries[slot]
	if entry.Empty() {
		return mbr.Entry{}, fmt.Errorf("%w: slot %d is empty", mbr.ErrNoPartition, slot)
	}
	log.WithField("slot", slot).WithField("entry", entry).Debug("partition selected")
	return entry, nil
}

// mount opens the FAT volume of the image, either on the selected partition or on
// the whole image with --raw.
func mount(c *cli.Context, log logrus.FieldLogger) (*bootfat.Fs, error) {
	transport, sectors, err := openDrive(c, log)
	if err != nil {
		return nil, err
	}
	if c.Bool("raw") {
		return bootfat.Mount(transport, log)
	}

	entry, err := selectPartition(c, transport, sectors, log)
	if err != nil {
		return nil, err
	}

	partition := mbr.NewPartition(disk.New(disk.FirstHardDisk, transport))
	if err := partition.Init(entry); err != nil {
		return nil, err
	}
	return bootfat.Mount(partition, log)
}
