// Package bootfat is a small read-only FAT12/16/32 driver as a boot loader needs it:
// a fixed table of open handles, one buffered sector per handle and a cached FAT window.
// Fs and GoFs put afero and io/fs interfaces on top of it.
package bootfat

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/aligator/bootfat/checkpoint"
	"github.com/boljen/go-bitmap"
	"github.com/sirupsen/logrus"
)

// These errors may occur while using a Volume.
var (
	ErrInit               = errors.New("could not initialize the FAT volume")
	ErrAlreadyInitialized = errors.New("the FAT volume is already initialized")
	ErrNotInitialized     = errors.New("the FAT volume is not initialized")
	ErrNotFound           = errors.New("file not found")
	ErrNotDirectory       = errors.New("path component is not a directory")
	ErrOutOfHandles       = errors.New("no free file handle")
	ErrInvalidHandle      = errors.New("invalid file handle")
	ErrReadSector         = errors.New("could not read sector")
	ErrBadCluster         = errors.New("cluster chain points outside of the data region")
)

const (
	// SectorSize is the only sector size supported.
	SectorSize = 512

	// MaxHandles is the number of files which can be open at the same time.
	// The root directory does not count.
	MaxHandles = 10

	// endOfChain is the smallest FAT value which ends a cluster chain after it got
	// extended to 32 bits.
	endOfChain uint32 = 0xFFFFFFF8
)

// Handle identifies an open file.
type Handle int

const (
	// RootHandle is the root directory. It is always open.
	RootHandle Handle = -1
	// InvalidHandle is returned together with an error.
	InvalidHandle Handle = -2
)

// SectorReader reads whole 512 byte sectors. len(buffer) must be count*512.
// Generated mock using mockgen:
//
//	mockgen -source=volume.go -destination=sector_reader_mock.go -package bootfat
type SectorReader interface {
	ReadSectors(buffer []byte, count uint8, lba uint32) error
}

// FileHandle is the state of an open handle.
type FileHandle struct {
	Handle      Handle
	IsDirectory bool
	// Position is the number of bytes already read.
	Position uint32
	// Size is the file size. Directories other than the FAT12/16 root start with 0,
	// which means unbounded, and get Position as size once their chain ends.
	Size                   uint32
	FirstCluster           uint32
	CurrentCluster         uint32
	CurrentSectorInCluster uint32
}

type fileData struct {
	FileHandle
	entry DirectoryEntry
	// fixed is set for the FAT12/16 root directory which is a plain run of sectors and
	// not a cluster chain. CurrentSectorInCluster counts from its start then.
	fixed bool
	// behind is set when moving to the next sector failed. Position is already at the
	// start of that sector while the buffer still holds the previous one.
	behind bool
	buffer [SectorSize]byte
}

// Volume is a mounted FAT volume.
// It is not safe for concurrent use.
type Volume struct {
	disk       SectorReader
	log        logrus.FieldLogger
	skipChecks bool

	initialized bool

	bootSector *BootSector
	extended   ExtendedRecord
	fatType    FATType

	totalSectors   uint32
	sectorsPerFAT  uint32
	rootDirLBA     uint32
	rootDirSectors uint32
	dataLBA        uint32
	// maxCluster is the highest cluster number inside of the data region.
	maxCluster uint32

	cache fatCache

	root   fileData
	files  [MaxHandles]fileData
	opened bitmap.Bitmap
}

// New creates a volume reading from disk. Nothing is read before Init.
func New(disk SectorReader, log logrus.FieldLogger) *Volume {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Volume{
		disk: disk,
		log:  log,
	}
}

// NewSkipChecks works like New but Init does not validate the boot sector.
// This may allow opening FAT volumes which are not perfectly standard. Use with caution!
func NewSkipChecks(disk SectorReader, log logrus.FieldLogger) *Volume {
	v := New(disk, log)
	v.skipChecks = true
	return v
}

// Init reads the boot sector, computes the volume layout and loads the first sector of
// the root directory. It may only succeed once.
func (v *Volume) Init() error {
	if v.initialized {
		return ErrAlreadyInitialized
	}

	sector := make([]byte, SectorSize)
	if err := v.disk.ReadSectors(sector, 1, 0); err != nil {
		v.log.WithFields(checkpoint.Fields(err)).WithError(err).Error("fat: could not read the boot sector")
		return checkpoint.Wrap(err, ErrInit)
	}

	bs, err := DecodeBootSector(sector)
	if err != nil {
		return checkpoint.Wrap(err, ErrInit)
	}

	if !v.skipChecks {
		if err := bs.validate(); err != nil {
			return checkpoint.Wrap(err, ErrInit)
		}
	}

	// Without these the layout cannot even be computed.
	if bs.BytesPerSector != SectorSize {
		return checkpoint.Wrap(fmt.Errorf("unsupported sector size %d", bs.BytesPerSector), ErrInit)
	}
	if bs.SectorsPerCluster == 0 {
		return checkpoint.Wrap(errors.New("zero sectors per cluster"), ErrInit)
	}

	v.totalSectors = uint32(bs.TotalSectors16)
	if v.totalSectors == 0 {
		v.totalSectors = bs.LargeSectorCount
	}

	v.sectorsPerFAT = uint32(bs.SectorsPerFAT16)
	if v.sectorsPerFAT == 0 {
		v.sectorsPerFAT = bs.sectorsPerFAT32()
	}

	fatEnd := uint32(bs.ReservedSectors) + uint32(bs.FATCount)*v.sectorsPerFAT
	v.rootDirLBA = fatEnd
	v.rootDirSectors = (uint32(bs.RootEntryCount)*DirectoryEntrySize + SectorSize - 1) / SectorSize
	v.dataLBA = fatEnd + v.rootDirSectors

	if v.totalSectors <= v.dataLBA {
		return checkpoint.Wrap(fmt.Errorf("data region starts at sector %d but the volume has only %d sectors", v.dataLBA, v.totalSectors), ErrInit)
	}

	dataClusters := (v.totalSectors - v.dataLBA) / uint32(bs.SectorsPerCluster)
	v.maxCluster = dataClusters + 1
	v.fatType = DetectFATType(dataClusters, bs.SectorsPerFAT16)
	v.extended = bs.Extended(v.fatType)
	v.bootSector = bs
	v.cache = newFATCache(v.disk, uint32(bs.ReservedSectors))

	v.root = fileData{
		FileHandle: FileHandle{
			Handle:      RootHandle,
			IsDirectory: true,
		},
	}
	if ext, ok := v.extended.(*FAT32ExtendedBootRecord); ok {
		v.root.FirstCluster = ext.RootCluster
		v.root.CurrentCluster = ext.RootCluster
	} else {
		v.root.fixed = true
		v.root.Size = uint32(bs.RootEntryCount) * DirectoryEntrySize
	}

	if err := v.loadSector(&v.root); err != nil {
		v.log.WithError(err).Error("fat: could not read the root directory")
		return checkpoint.Wrap(err, ErrInit)
	}

	v.opened = bitmap.New(MaxHandles)
	v.initialized = true

	v.log.WithFields(logrus.Fields{
		"type":     v.fatType,
		"clusters": dataClusters,
		"data":     v.dataLBA,
	}).Info("fat: volume initialized")
	return nil
}

func (bs *BootSector) validate() error {
	if bs.Signature != 0xAA55 {
		return fmt.Errorf("invalid boot signature 0x%04x", bs.Signature)
	}
	if bs.JumpBoot[0] != 0xEB && bs.JumpBoot[0] != 0xE9 {
		return fmt.Errorf("invalid jump instruction 0x%02x", bs.JumpBoot[0])
	}
	switch bs.SectorsPerCluster {
	case 1, 2, 4, 8, 16, 32, 64, 128:
	default:
		return fmt.Errorf("invalid sectors per cluster %d", bs.SectorsPerCluster)
	}
	if bs.ReservedSectors == 0 {
		return errors.New("no reserved sectors")
	}
	if bs.FATCount == 0 {
		return errors.New("no FAT")
	}
	if bs.TotalSectors16 == 0 && bs.LargeSectorCount == 0 {
		return errors.New("no sectors")
	}
	return nil
}

// FATType returns the detected FAT width.
func (v *Volume) FATType() FATType {
	return v.fatType
}

// BootSector returns the decoded boot sector, nil before Init.
func (v *Volume) BootSector() *BootSector {
	return v.bootSector
}

// Label returns the volume label from the extended boot record.
func (v *Volume) Label() string {
	if v.extended == nil {
		return ""
	}
	return strings.TrimRight(decodeName(v.extended.Common().VolumeLabel[:]), " ")
}

// Open resolves an absolute path like "/boot/kernel.elf" starting at the root
// directory. The leading slash is optional and empty segments are ignored, so ""
// and "/" return RootHandle.
//
// Intermediate directories are opened and closed along the way, so on return only
// the result is open, on failure nothing.
func (v *Volume) Open(path string) (Handle, error) {
	if !v.initialized {
		return InvalidHandle, ErrNotInitialized
	}

	log := v.log.WithField("path", path)

	current := RootHandle
	if err := v.Rewind(current); err != nil {
		return InvalidHandle, err
	}

	segments := strings.Split(path, "/")
	for i, segment := range segments {
		if segment == "" {
			continue
		}

		name, err := ShortName(segment)
		if err != nil {
			v.release(current)
			return InvalidHandle, checkpoint.Wrap(err, fmt.Errorf("%w: %q", ErrNotFound, segment))
		}

		entry, found, err := v.find(current, name)
		v.release(current)
		if err != nil {
			return InvalidHandle, err
		}
		if !found {
			log.WithField("segment", segment).Debug("fat: not found")
			return InvalidHandle, fmt.Errorf("%w: %q", ErrNotFound, segment)
		}

		if !entry.IsDirectory() && hasMore(segments[i+1:]) {
			return InvalidHandle, fmt.Errorf("%w: %q", ErrNotDirectory, segment)
		}

		current, err = v.openEntry(entry)
		if err != nil {
			return InvalidHandle, err
		}
	}

	log.WithField("handle", current).Debug("fat: opened")
	return current, nil
}

func hasMore(segments []string) bool {
	for _, s := range segments {
		if s != "" {
			return true
		}
	}
	return false
}

// find reads the directory h from its current position until it reaches an entry
// called name. Deleted entries, long name parts and volume labels never match.
func (v *Volume) find(h Handle, name [11]byte) (DirectoryEntry, bool, error) {
	var raw [DirectoryEntrySize]byte
	for {
		n, err := v.Read(h, raw[:])
		if err != nil {
			return DirectoryEntry{}, false, err
		}
		if n != DirectoryEntrySize {
			return DirectoryEntry{}, false, nil
		}

		entry, err := DecodeDirectoryEntry(raw[:])
		if err != nil {
			return DirectoryEntry{}, false, err
		}

		switch {
		case entry.IsEnd():
			return DirectoryEntry{}, false, nil
		case entry.IsDeleted(), entry.IsLongName(), entry.IsVolumeLabel():
			continue
		case entry.Name == name:
			return entry, true, nil
		}
	}
}

// openEntry takes a free handle for entry and loads its first sector.
func (v *Volume) openEntry(entry DirectoryEntry) (Handle, error) {
	cluster := entry.FirstCluster()

	// ".." of a directory directly below the root.
	if entry.IsDirectory() && cluster == 0 {
		return RootHandle, v.Rewind(RootHandle)
	}

	slot := -1
	for i := 0; i < MaxHandles; i++ {
		if !v.opened.Get(i) {
			slot = i
			break
		}
	}
	if slot < 0 {
		v.log.WithField("max", MaxHandles).Warn("fat: out of file handles")
		return InvalidHandle, ErrOutOfHandles
	}

	fd := &v.files[slot]
	fd.FileHandle = FileHandle{
		Handle:         Handle(slot),
		IsDirectory:    entry.IsDirectory(),
		Size:           entry.Size,
		FirstCluster:   cluster,
		CurrentCluster: cluster,
	}
	fd.entry = entry
	fd.fixed = false
	fd.behind = false

	if cluster < 2 {
		// An empty file owns no cluster.
		fd.Size = 0
		fd.CurrentCluster = endOfChain
	} else if err := v.loadSector(fd); err != nil {
		return InvalidHandle, err
	}

	v.opened.Set(slot, true)
	return fd.Handle, nil
}

func (v *Volume) file(h Handle) (*fileData, error) {
	if !v.initialized {
		return nil, ErrNotInitialized
	}
	if h == RootHandle {
		return &v.root, nil
	}
	if h < 0 || h >= MaxHandles || !v.opened.Get(int(h)) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHandle, h)
	}
	return &v.files[h], nil
}

// Read copies up to len(p) bytes from the current position of h. It stops early at
// the end of the file or when the cluster chain ends, which is not an error.
// For a failed sector read the bytes copied so far are returned together with the error.
func (v *Volume) Read(h Handle, p []byte) (int, error) {
	fd, err := v.file(h)
	if err != nil {
		return 0, err
	}

	if fd.behind {
		if _, err := v.advance(fd); err != nil {
			return 0, err
		}
	}

	count := uint32(len(p))
	if uint64(len(p)) > uint64(^uint32(0)) {
		count = ^uint32(0)
	}

	if !fd.IsDirectory || fd.Size != 0 {
		if fd.Position >= fd.Size {
			return 0, nil
		}
		if rest := fd.Size - fd.Position; count > rest {
			count = rest
		}
	}

	read := uint32(0)
	for count > 0 {
		offset := fd.Position % SectorSize
		left := SectorSize - offset

		n := count
		if n > left {
			n = left
		}

		copy(p[read:read+n], fd.buffer[offset:offset+n])
		read += n
		count -= n
		fd.Position += n

		if n == left {
			more, err := v.advance(fd)
			if err != nil {
				return int(read), err
			}
			if !more {
				break
			}
		}
	}

	return int(read), nil
}

// advance moves fd to the next sector and loads it. It returns false if there is no
// next sector, in which case the size of the file gets fixed to the current position.
// fd only moves once the sector is in the buffer. On failure it stays on the old
// sector and is marked behind, so the next Read retries the step.
func (v *Volume) advance(fd *fileData) (bool, error) {
	cluster, sector := fd.CurrentCluster, fd.CurrentSectorInCluster+1

	if fd.fixed {
		if sector >= v.rootDirSectors {
			fd.CurrentSectorInCluster = sector
			fd.Size = fd.Position
			fd.behind = false
			return false, nil
		}
	} else if sector >= uint32(v.bootSector.SectorsPerCluster) {
		sector = 0
		if cluster < endOfChain {
			next, err := v.nextCluster(cluster)
			if err != nil {
				fd.behind = true
				return false, err
			}
			cluster = next
		}
	}

	if !fd.fixed && cluster >= endOfChain {
		fd.CurrentCluster, fd.CurrentSectorInCluster = cluster, sector
		fd.Size = fd.Position
		fd.behind = false
		return false, nil
	}

	if err := v.readSector(fd, cluster, sector); err != nil {
		fd.behind = true
		return false, err
	}
	fd.CurrentCluster, fd.CurrentSectorInCluster = cluster, sector
	fd.behind = false
	return true, nil
}

// loadSector reads the sector fd currently points to into its buffer.
func (v *Volume) loadSector(fd *fileData) error {
	return v.readSector(fd, fd.CurrentCluster, fd.CurrentSectorInCluster)
}

func (v *Volume) readSector(fd *fileData, cluster, sector uint32) error {
	var lba uint32
	if fd.fixed {
		lba = v.rootDirLBA + sector
	} else {
		if cluster < 2 || cluster > v.maxCluster {
			return fmt.Errorf("%w: %d", ErrBadCluster, cluster)
		}
		lba = v.clusterLBA(cluster) + sector
	}

	if err := v.disk.ReadSectors(fd.buffer[:], 1, lba); err != nil {
		v.log.WithField("lba", lba).WithError(err).Error("fat: could not read sector")
		return checkpoint.Wrap(err, fmt.Errorf("%w: lba %d", ErrReadSector, lba))
	}
	return nil
}

func (v *Volume) clusterLBA(cluster uint32) uint32 {
	return v.dataLBA + (cluster-2)*uint32(v.bootSector.SectorsPerCluster)
}

// nextCluster looks up the successor of cluster in the FAT. End of chain markers of
// all widths come back as a value >= 0xFFFFFFF8.
func (v *Volume) nextCluster(cluster uint32) (uint32, error) {
	var offset, size uint32
	switch v.fatType {
	case FAT12:
		offset, size = cluster+cluster/2, 2
	case FAT16:
		offset, size = cluster*2, 2
	default:
		offset, size = cluster*4, 4
	}

	raw, err := v.cache.bytes(offset, size)
	if err != nil {
		return 0, err
	}

	var next uint32
	switch v.fatType {
	case FAT12:
		next = uint32(binary.LittleEndian.Uint16(raw))
		if cluster%2 == 0 {
			next &= 0x0FFF
		} else {
			next >>= 4
		}
		if next >= 0xFF8 {
			next |= 0xFFFFF000
		}
	case FAT16:
		next = uint32(binary.LittleEndian.Uint16(raw))
		if next >= 0xFFF8 {
			next |= 0xFFFF0000
		}
	default:
		next = binary.LittleEndian.Uint32(raw) & 0x0FFFFFFF
		if next >= 0x0FFFFFF8 {
			next |= 0xF0000000
		}
	}

	if next < endOfChain && (next < 2 || next > v.maxCluster) {
		return 0, fmt.Errorf("%w: cluster %d links to %d", ErrBadCluster, cluster, next)
	}
	return next, nil
}

// Rewind moves h back to its first byte.
func (v *Volume) Rewind(h Handle) error {
	fd, err := v.file(h)
	if err != nil {
		return err
	}

	fd.Position = 0
	fd.CurrentCluster = fd.FirstCluster
	fd.CurrentSectorInCluster = 0
	fd.behind = false
	if !fd.fixed && fd.FirstCluster < 2 {
		if h == RootHandle {
			return fmt.Errorf("%w: root cluster %d", ErrBadCluster, fd.FirstCluster)
		}
		fd.CurrentCluster = endOfChain
		return nil
	}
	return v.loadSector(fd)
}

// Close frees h. Closing the root only rewinds it.
func (v *Volume) Close(h Handle) error {
	if h == RootHandle {
		return v.Rewind(h)
	}
	if _, err := v.file(h); err != nil {
		return err
	}
	v.opened.Set(int(h), false)
	return nil
}

// release closes h on a path where an error is already on its way.
func (v *Volume) release(h Handle) {
	if err := v.Close(h); err != nil {
		v.log.WithField("handle", h).WithError(err).Warn("fat: could not close handle")
	}
}

// Stat returns a snapshot of the state of h.
func (v *Volume) Stat(h Handle) (FileHandle, error) {
	fd, err := v.file(h)
	if err != nil {
		return FileHandle{}, err
	}
	return fd.FileHandle, nil
}

// Entry returns the directory entry h was opened from. The root has none.
func (v *Volume) Entry(h Handle) (DirectoryEntry, bool) {
	if h == RootHandle {
		return DirectoryEntry{}, false
	}
	fd, err := v.file(h)
	if err != nil {
		return DirectoryEntry{}, false
	}
	return fd.entry, true
}

// OpenHandles returns the number of handles in use, not counting the root.
func (v *Volume) OpenHandles() int {
	n := 0
	for i := 0; i < MaxHandles && v.opened != nil; i++ {
		if v.opened.Get(i) {
			n++
		}
	}
	return n
}

// List returns the visible entries of the directory h: no deleted entries, long name
// parts, volume labels, "." or "..". h is rewound before and after.
func (v *Volume) List(h Handle) ([]DirectoryEntry, error) {
	fd, err := v.file(h)
	if err != nil {
		return nil, err
	}
	if !fd.IsDirectory {
		return nil, fmt.Errorf("%w: handle %d", ErrNotDirectory, h)
	}
	if err := v.Rewind(h); err != nil {
		return nil, err
	}

	var entries []DirectoryEntry
	var raw [DirectoryEntrySize]byte
	for {
		n, err := v.Read(h, raw[:])
		if err != nil {
			return nil, err
		}
		if n != DirectoryEntrySize {
			break
		}

		entry, err := DecodeDirectoryEntry(raw[:])
		if err != nil {
			return nil, err
		}
		if entry.IsEnd() {
			break
		}
		if entry.IsDeleted() || entry.IsLongName() || entry.IsVolumeLabel() || entry.Name[0] == '.' {
			continue
		}
		entries = append(entries, entry)
	}

	return entries, v.Rewind(h)
}

// Info describes the layout of an initialized volume.
type Info struct {
	Type              FATType
	Label             string
	TotalSectors      uint32
	SectorsPerCluster uint8
	SectorsPerFAT     uint32
	FATLBA            uint32
	RootDirLBA        uint32
	RootDirSectors    uint32
	DataLBA           uint32
	Clusters          uint32
	RootCluster       uint32
}

// Info returns the layout of the volume.
func (v *Volume) Info() (Info, error) {
	if !v.initialized {
		return Info{}, ErrNotInitialized
	}
	return Info{
		Type:              v.fatType,
		Label:             v.Label(),
		TotalSectors:      v.totalSectors,
		SectorsPerCluster: v.bootSector.SectorsPerCluster,
		SectorsPerFAT:     v.sectorsPerFAT,
		FATLBA:            uint32(v.bootSector.ReservedSectors),
		RootDirLBA:        v.rootDirLBA,
		RootDirSectors:    v.rootDirSectors,
		DataLBA:           v.dataLBA,
		Clusters:          v.maxCluster - 1,
		RootCluster:       v.root.FirstCluster,
	}, nil
}
