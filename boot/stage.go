// Package boot is the second stage sequence which finds the kernel on the boot
// partition, reserves memory for it and loads it.
package boot

import (
	"errors"
	"fmt"

	"github.com/aligator/bootfat"
	"github.com/aligator/bootfat/ata"
	"github.com/aligator/bootfat/checkpoint"
	"github.com/aligator/bootfat/disk"
	"github.com/aligator/bootfat/mbr"
	"github.com/sirupsen/logrus"
)

// ErrHalt wraps every error which stops the boot. A real loader spins forever on it.
var ErrHalt = errors.New("boot: halted")

// These errors may occur during the boot sequence.
var (
	ErrKernelTooLarge = errors.New("boot: kernel does not fit into memory")
	ErrNoRegion       = errors.New("boot: no usable memory region for the kernel")
	ErrShortKernel    = errors.New("boot: kernel could not be read completely")
	ErrKernelNotFile  = errors.New("boot: kernel path names a directory")
)

// Config of the boot sequence.
type Config struct {
	// KernelPath is opened on the boot partition.
	KernelPath string
	// KernelBudget is the memory reserved for the kernel. The kernel must be smaller.
	KernelBudget uint64
	// KernelVirtualBase is where the kernel gets mapped to.
	KernelVirtualBase uint64
	// Stage2End is the end of the memory the loader itself occupies. Regions have to
	// start behind it.
	Stage2End uint64
}

// DefaultConfig returns the configuration the loader is built with.
func DefaultConfig() Config {
	return Config{
		KernelPath:        "boot/kernel.elf",
		KernelBudget:      16 << 20,
		KernelVirtualBase: 0xFFFFFFFF80000000,
		Stage2End:         0x20000,
	}
}

// Drive is the transport of the boot drive.
type Drive interface {
	disk.SectorReader
	Identify() (ata.IdentifyData, error)
}

// Image is the loaded kernel.
type Image struct {
	Region   MemoryRegion
	Physical uint64
	Virtual  uint64
	Data     []byte
}

// Stage runs the boot sequence once.
type Stage struct {
	config    Config
	drive     Drive
	driveID   uint8
	entry     mbr.Entry
	memoryMap []MemoryRegion
	mapper    PageMapper
	log       logrus.FieldLogger

	volume *bootfat.Volume
}

// NewStage prepares a boot from the partition entry on the drive with the BIOS drive
// number driveID.
func NewStage(config Config, drive Drive, driveID uint8, entry mbr.Entry, memoryMap []MemoryRegion, mapper PageMapper, log logrus.FieldLogger) *Stage {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if len(memoryMap) > MaxMemoryRegions {
		memoryMap = memoryMap[:MaxMemoryRegions]
	}
	return &Stage{
		config:    config,
		drive:     drive,
		driveID:   driveID,
		entry:     entry,
		memoryMap: memoryMap,
		mapper:    mapper,
		log:       log,
	}
}

// Volume returns the boot volume once Run got that far.
func (s *Stage) Volume() *bootfat.Volume {
	return s.volume
}

func (s *Stage) halt(err error, msg string) error {
	s.log.WithFields(checkpoint.Fields(err)).WithError(err).Error(msg)
	return checkpoint.Wrap(err, ErrHalt)
}

// Run identifies the drive, mounts the partition, maps memory for the kernel and
// reads it. Every error it returns wraps ErrHalt.
func (s *Stage) Run() (*Image, error) {
	if id, err := s.drive.Identify(); err != nil {
		s.log.WithError(err).Warn("boot: could not identify the drive")
	} else {
		s.log.WithFields(logrus.Fields{
			"sectors": id.LBA28Sectors,
			"lba48":   id.LBA48Supported,
		}).Info("boot: drive identified")
	}

	d := disk.New(s.driveID, s.drive)
	partition := mbr.NewPartition(d)
	if err := partition.Init(s.entry); err != nil {
		return nil, s.halt(err, "boot: failed to initialize the partition")
	}

	s.volume = bootfat.New(partition, s.log)
	if err := s.volume.Init(); err != nil {
		return nil, s.halt(err, "boot: failed to initialize FAT file system")
	}

	h, err := s.volume.Open(s.config.KernelPath)
	if err != nil {
		return nil, s.halt(err, "boot: failed to open the kernel")
	}
	defer func() {
		if err := s.volume.Close(h); err != nil {
			s.log.WithError(err).Warn("boot: could not close the kernel")
		}
	}()

	stat, err := s.volume.Stat(h)
	if err != nil {
		return nil, s.halt(err, "boot: failed to open the kernel")
	}
	if stat.IsDirectory {
		err := fmt.Errorf("%w: %q", ErrKernelNotFile, s.config.KernelPath)
		return nil, s.halt(err, "boot: failed to open the kernel")
	}
	if uint64(stat.Size) >= s.config.KernelBudget {
		err := fmt.Errorf("%w: %d bytes, %d available", ErrKernelTooLarge, stat.Size, s.config.KernelBudget)
		return nil, s.halt(err, "boot: file is too large to fit in memory")
	}

	region, physical, err := SelectRegion(s.memoryMap, s.config)
	if err != nil {
		return nil, s.halt(err, "boot: no memory for the kernel")
	}
	if err := s.mapper.MapRange(physical, s.config.KernelVirtualBase, s.config.KernelBudget); err != nil {
		return nil, s.halt(err, "boot: could not map the kernel")
	}
	s.log.WithFields(logrus.Fields{
		"region":   region,
		"physical": fmt.Sprintf("0x%x", physical),
		"virtual":  fmt.Sprintf("0x%x", s.config.KernelVirtualBase),
	}).Info("boot: kernel memory mapped")

	data := make([]byte, stat.Size)
	n, err := s.volume.Read(h, data)
	if err != nil {
		return nil, s.halt(err, "boot: failed to read the kernel")
	}
	if n != len(data) {
		err := fmt.Errorf("%w: %d of %d bytes", ErrShortKernel, n, len(data))
		return nil, s.halt(err, "boot: failed to read the kernel")
	}

	s.log.WithField("size", n).Info("boot: kernel loaded")
	return &Image{
		Region:   region,
		Physical: physical,
		Virtual:  s.config.KernelVirtualBase,
		Data:     data,
	}, nil
}

// SelectRegion picks the first usable region behind the loader which can hold the
// kernel budget. The kernel goes to the first page boundary after one page into the
// region.
func SelectRegion(regions []MemoryRegion, config Config) (MemoryRegion, uint64, error) {
	for _, r := range regions {
		if !r.Usable() || r.Base <= config.Stage2End {
			continue
		}
		if r.Length+0x1000 > config.KernelBudget {
			return r, (r.Base + 0x1000) &^ 0xFFF, nil
		}
	}
	return MemoryRegion{}, 0, ErrNoRegion
}
