package boot

import (
	"errors"
	"syscall"
	"testing"

	"github.com/aligator/bootfat"
	"github.com/aligator/bootfat/ata"
	"github.com/aligator/bootfat/internal/fatimage"
	"github.com/aligator/bootfat/mbr"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

const partitionStart = 2048

func kernelData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i * 31)
	}
	return data
}

type bootDisk struct {
	transport *ata.Transport
	entry     mbr.Entry
	// dataLBA is the first data sector relative to the disk.
	dataLBA uint32
}

func newBootDisk(t *testing.T, kernel []byte) bootDisk {
	t.Helper()

	b := fatimage.New(bootfat.FAT32)
	require.NoError(t, b.AddFile("boot/kernel.elf", kernel))
	require.NoError(t, b.AddFile("boot/grub/grub.cfg", []byte("timeout=0")))
	volume, err := b.Build()
	require.NoError(t, err)

	v := bootfat.New(fatimage.NewDisk(volume), logrus.New())
	require.NoError(t, v.Init())
	info, err := v.Info()
	require.NoError(t, err)

	img, err := fatimage.Partitioned(volume, bootfat.FAT32, partitionStart)
	require.NoError(t, err)

	ctrl, err := ata.NewController(bytesextra.NewReadWriteSeeker(img), logrus.New())
	require.NoError(t, err)
	ctrl.BusyPolls = 2
	transport := ata.NewTransport(ctrl, logrus.New())

	table, err := mbr.ReadTable(transport)
	require.NoError(t, err)
	i, err := table.Bootable()
	require.NoError(t, err)

	return bootDisk{
		transport: transport,
		entry:     table.Entries[i],
		dataLBA:   partitionStart + info.DataLBA,
	}
}

// noIdentify is a drive which does not answer IDENTIFY.
type noIdentify struct {
	*ata.Transport
}

func (noIdentify) Identify() (ata.IdentifyData, error) {
	return ata.IdentifyData{}, ata.ErrNoDevice
}

// brokenSector fails every read touching lba.
type brokenSector struct {
	Drive
	lba uint32
}

func (b brokenSector) ReadSectors(buffer []byte, count uint8, lba uint32) error {
	if b.lba >= lba && b.lba < lba+uint32(count) {
		return syscall.EIO
	}
	return b.Drive.ReadSectors(buffer, count, lba)
}

func TestStage_Run(t *testing.T) {
	kernel := kernelData(10000)
	d := newBootDisk(t, kernel)

	mapper := NewMappingTable()
	stage := NewStage(DefaultConfig(), d.transport, 0x80, d.entry, DefaultMemoryMap(), mapper, logrus.New())

	image, err := stage.Run()
	require.NoError(t, err)
	assert.Equal(t, kernel, image.Data)
	assert.Equal(t, uint64(0x101000), image.Physical)
	assert.Equal(t, uint64(0x100000), image.Region.Base)
	assert.Equal(t, DefaultConfig().KernelVirtualBase, image.Virtual)

	mappings := mapper.Mappings()
	require.Len(t, mappings, 8)
	assert.Equal(t, Mapping{Virtual: 0xFFFFFFFF80000000, Physical: 0}, mappings[0])
	assert.Equal(t, Mapping{Virtual: 0xFFFFFFFF80200000, Physical: 0x200000}, mappings[1])

	assert.Equal(t, 0, stage.Volume().OpenHandles())
}

func TestStage_Run_IdentifyIsOptional(t *testing.T) {
	kernel := kernelData(700)
	d := newBootDisk(t, kernel)

	stage := NewStage(DefaultConfig(), noIdentify{d.transport}, 0x80, d.entry, DefaultMemoryMap(), NewMappingTable(), logrus.New())
	image, err := stage.Run()
	require.NoError(t, err)
	assert.Equal(t, kernel, image.Data)
}

func TestStage_Run_Halts(t *testing.T) {
	lowMemoryOnly := []MemoryRegion{
		{Base: 0, Length: 0x9FC00, Type: RegionUsable},
		{Base: 0x100000, Length: 0x100000, Type: RegionUsable},
	}

	tests := []struct {
		name      string
		driveID   uint8
		config    func(c *Config)
		memoryMap []MemoryRegion
		broken    bool
		wantErr   error
	}{
		{
			name:    "floppy drive",
			driveID: 0x00,
			wantErr: mbr.ErrUnsupportedMedia,
		},
		{
			name:    "missing kernel",
			driveID: 0x80,
			config:  func(c *Config) { c.KernelPath = "boot/missing.elf" },
			wantErr: bootfat.ErrNotFound,
		},
		{
			name:    "kernel path through a file",
			driveID: 0x80,
			config:  func(c *Config) { c.KernelPath = "boot/grub/grub.cfg/kernel.elf" },
			wantErr: bootfat.ErrNotDirectory,
		},
		{
			name:    "empty kernel path",
			driveID: 0x80,
			config:  func(c *Config) { c.KernelPath = "" },
			wantErr: ErrKernelNotFile,
		},
		{
			name:    "kernel path is the root",
			driveID: 0x80,
			config:  func(c *Config) { c.KernelPath = "/" },
			wantErr: ErrKernelNotFile,
		},
		{
			name:    "kernel path is a directory",
			driveID: 0x80,
			config:  func(c *Config) { c.KernelPath = "boot/grub" },
			wantErr: ErrKernelNotFile,
		},
		{
			name:    "kernel too large",
			driveID: 0x80,
			config:  func(c *Config) { c.KernelBudget = 4096 },
			wantErr: ErrKernelTooLarge,
		},
		{
			name:      "no memory region",
			driveID:   0x80,
			memoryMap: lowMemoryOnly,
			wantErr:   ErrNoRegion,
		},
		{
			name:    "unaligned virtual base",
			driveID: 0x80,
			config:  func(c *Config) { c.KernelVirtualBase = 0x1000 },
			wantErr: ErrUnaligned,
		},
		{
			name:    "read error",
			driveID: 0x80,
			broken:  true,
			wantErr: bootfat.ErrReadSector,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newBootDisk(t, kernelData(10000))

			config := DefaultConfig()
			if tt.config != nil {
				tt.config(&config)
			}
			memoryMap := tt.memoryMap
			if memoryMap == nil {
				memoryMap = DefaultMemoryMap()
			}

			var drive Drive = d.transport
			if tt.broken {
				// Root is cluster 2, boot cluster 3 and the kernel starts at cluster 4,
				// so cluster 6 fails in the middle of the kernel.
				drive = brokenSector{Drive: d.transport, lba: d.dataLBA + (6 - 2)}
			}

			stage := NewStage(config, drive, tt.driveID, d.entry, memoryMap, NewMappingTable(), logrus.New())
			image, err := stage.Run()
			assert.Nil(t, image)
			assert.ErrorIs(t, err, ErrHalt)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSelectRegion(t *testing.T) {
	config := DefaultConfig()

	tests := []struct {
		name     string
		regions  []MemoryRegion
		want     uint64
		wantBase uint64
		wantErr  bool
	}{
		{
			name:     "default map",
			regions:  DefaultMemoryMap(),
			want:     0x101000,
			wantBase: 0x100000,
		},
		{
			name: "reserved regions are skipped",
			regions: []MemoryRegion{
				{Base: 0x200000, Length: 0x2000000, Type: RegionReserved},
				{Base: 0x4000000, Length: 0x2000000, Type: RegionUsable},
			},
			want:     0x4001000,
			wantBase: 0x4000000,
		},
		{
			name: "regions overlapping the loader are skipped",
			regions: []MemoryRegion{
				{Base: 0x20000, Length: 0x8000000, Type: RegionUsable},
				{Base: 0x20001, Length: 0x8000000, Type: RegionUsable},
			},
			want:     0x21000,
			wantBase: 0x20001,
		},
		{
			name: "the page after an unaligned base",
			regions: []MemoryRegion{
				{Base: 0x1234567, Length: 0x2000000, Type: RegionUsable},
			},
			want:     0x1235000,
			wantBase: 0x1234567,
		},
		{
			name: "too small",
			regions: []MemoryRegion{
				{Base: 0x100000, Length: 0xFFF000, Type: RegionUsable},
			},
			wantErr: true,
		},
		{
			name: "one page short still fits",
			regions: []MemoryRegion{
				{Base: 0x100000, Length: 0xFFF001, Type: RegionUsable},
			},
			want:     0x101000,
			wantBase: 0x100000,
		},
		{
			name:    "empty map",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			region, got, err := SelectRegion(tt.regions, config)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrNoRegion))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantBase, region.Base)
		})
	}
}
