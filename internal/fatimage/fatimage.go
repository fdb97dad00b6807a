// Package fatimage builds small FAT12, FAT16 and FAT32 volumes in memory, optionally
// behind an MBR. The images are what the boot loader sees on a real disk.
package fatimage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aligator/bootfat"
	"github.com/aligator/bootfat/checkpoint"
	"github.com/aligator/bootfat/mbr"
	"github.com/boljen/go-bitmap"
	"github.com/noxer/bytewriter"
)

// These errors may occur while building an image.
var (
	ErrExists    = errors.New("fatimage: entry already exists")
	ErrNotDir    = errors.New("fatimage: parent is not a directory")
	ErrNoSpace   = errors.New("fatimage: volume is full")
	ErrRootFull  = errors.New("fatimage: root directory is full")
	ErrGeometry  = errors.New("fatimage: invalid geometry")
	ErrWrongType = errors.New("fatimage: geometry does not give the requested FAT type")
)

// Geometry describes the layout of a volume.
type Geometry struct {
	TotalSectors      uint32
	SectorsPerCluster uint8
	ReservedSectors   uint16
	FATCount          uint8
	// RootEntryCount is 0 for FAT32.
	RootEntryCount uint16
}

// DefaultGeometry returns a small geometry which is detected as t.
func DefaultGeometry(t bootfat.FATType) Geometry {
	switch t {
	case bootfat.FAT12:
		return Geometry{TotalSectors: 2880, SectorsPerCluster: 1, ReservedSectors: 1, FATCount: 2, RootEntryCount: 224}
	case bootfat.FAT16:
		return Geometry{TotalSectors: 16384, SectorsPerCluster: 2, ReservedSectors: 1, FATCount: 2, RootEntryCount: 512}
	default:
		return Geometry{TotalSectors: 4400, SectorsPerCluster: 1, ReservedSectors: 32, FATCount: 2}
	}
}

// Options configure a Builder.
type Options struct {
	Type     bootfat.FATType
	Geometry Geometry
	// Label is stored in the extended boot record and as volume label entry in the root.
	Label string
	// ClusterStride leaves stride-1 free clusters between two allocated ones, which
	// fragments every chain. 0 and 1 allocate contiguously.
	ClusterStride uint32
	ModTime       time.Time
}

type node struct {
	entry    bootfat.DirectoryEntry
	data     []byte
	children []*node
	// raw entries are written in front of the children.
	raw      []bootfat.DirectoryEntry
	clusters []uint32
}

func (n *node) dir() bool {
	return n.entry.IsDirectory()
}

// Builder collects files and directories and lays them out on Build.
type Builder struct {
	opts Options
	root *node
}

// New creates a builder for a volume of type t with the default geometry.
func New(t bootfat.FATType) *Builder {
	return NewWithOptions(Options{Type: t, Geometry: DefaultGeometry(t)})
}

// NewWithOptions creates a builder. A zero geometry is replaced by the default one.
func NewWithOptions(opts Options) *Builder {
	if opts.Geometry == (Geometry{}) {
		opts.Geometry = DefaultGeometry(opts.Type)
	}
	if opts.ClusterStride == 0 {
		opts.ClusterStride = 1
	}
	if opts.ModTime.IsZero() {
		opts.ModTime = time.Date(2021, time.June, 15, 12, 30, 0, 0, time.UTC)
	}

	root := &node{}
	root.entry.Attributes = bootfat.AttrDirectory
	return &Builder{opts: opts, root: root}
}

func (b *Builder) newEntry(segment string, attributes uint8, size uint32) (bootfat.DirectoryEntry, error) {
	name, err := bootfat.ShortName(segment)
	if err != nil {
		return bootfat.DirectoryEntry{}, err
	}
	return bootfat.DirectoryEntry{
		Name:         name,
		Attributes:   attributes,
		CreatedTime:  bootfat.FormatTime(b.opts.ModTime),
		CreatedDate:  bootfat.FormatDate(b.opts.ModTime),
		AccessedDate: bootfat.FormatDate(b.opts.ModTime),
		ModifiedTime: bootfat.FormatTime(b.opts.ModTime),
		ModifiedDate: bootfat.FormatDate(b.opts.ModTime),
		Size:         size,
	}, nil
}

// lookup walks to the directory at path, creating missing directories.
func (b *Builder) lookup(path string) (*node, error) {
	current := b.root
	for _, segment := range strings.Split(path, "/") {
		if segment == "" {
			continue
		}
		name, err := bootfat.ShortName(segment)
		if err != nil {
			return nil, err
		}

		var next *node
		for _, child := range current.children {
			if child.entry.Name == name {
				next = child
				break
			}
		}
		if next == nil {
			entry, err := b.newEntry(segment, bootfat.AttrDirectory, 0)
			if err != nil {
				return nil, err
			}
			next = &node{entry: entry}
			current.children = append(current.children, next)
		}
		if !next.dir() {
			return nil, fmt.Errorf("%w: %q", ErrNotDir, segment)
		}
		current = next
	}
	return current, nil
}

func split(path string) (string, string) {
	path = strings.TrimRight(path, "/")
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

func (b *Builder) add(path string, attributes uint8, data []byte) (*node, error) {
	dirPath, base := split(path)
	parent, err := b.lookup(dirPath)
	if err != nil {
		return nil, err
	}

	entry, err := b.newEntry(base, attributes, uint32(len(data)))
	if err != nil {
		return nil, err
	}
	for _, child := range parent.children {
		if child.entry.Name == entry.Name {
			return nil, fmt.Errorf("%w: %q", ErrExists, path)
		}
	}

	n := &node{entry: entry, data: data}
	parent.children = append(parent.children, n)
	return n, nil
}

// AddFile adds a file. Missing parent directories are created.
func (b *Builder) AddFile(path string, data []byte) error {
	_, err := b.add(path, bootfat.AttrArchive, data)
	return err
}

// AddDir adds an empty directory. Missing parent directories are created.
func (b *Builder) AddDir(path string) error {
	_, err := b.add(path, bootfat.AttrDirectory, nil)
	return err
}

// AddRaw puts entry in front of the regular entries of the directory at dir.
// It is meant for entries the reader has to skip, like deleted entries or long name parts.
func (b *Builder) AddRaw(dir string, entry bootfat.DirectoryEntry) error {
	parent, err := b.lookup(dir)
	if err != nil {
		return err
	}
	parent.raw = append(parent.raw, entry)
	return nil
}

// AddDeleted adds a deleted entry which still carries name apart from the first byte.
func (b *Builder) AddDeleted(dir string, name string) error {
	entry, err := b.newEntry(name, bootfat.AttrArchive, 0)
	if err != nil {
		return err
	}
	entry.Name[0] = 0xE5
	return b.AddRaw(dir, entry)
}

// layout is the computed position of every region of the volume.
type layout struct {
	geometry       Geometry
	sectorsPerFAT  uint32
	rootDirSectors uint32
	dataLBA        uint32
	clusters       uint32
	clusterSize    uint32
}

func (l layout) clusterOffset(cluster uint32) uint32 {
	return (l.dataLBA + (cluster-2)*uint32(l.geometry.SectorsPerCluster)) * bootfat.SectorSize
}

func computeLayout(t bootfat.FATType, g Geometry) (layout, error) {
	if g.SectorsPerCluster == 0 || g.FATCount == 0 || g.ReservedSectors == 0 {
		return layout{}, ErrGeometry
	}

	l := layout{
		geometry:       g,
		rootDirSectors: (uint32(g.RootEntryCount)*bootfat.DirectoryEntrySize + bootfat.SectorSize - 1) / bootfat.SectorSize,
		clusterSize:    uint32(g.SectorsPerCluster) * bootfat.SectorSize,
	}

	// Growing the FAT shrinks the data region, so this settles quickly.
	l.sectorsPerFAT = 1
	for {
		meta := uint32(g.ReservedSectors) + uint32(g.FATCount)*l.sectorsPerFAT + l.rootDirSectors
		if meta >= g.TotalSectors {
			return layout{}, fmt.Errorf("%w: no room for data", ErrGeometry)
		}
		l.clusters = (g.TotalSectors - meta) / uint32(g.SectorsPerCluster)

		entries := l.clusters + 2
		var bytes uint32
		switch t {
		case bootfat.FAT12:
			bytes = (entries*3 + 1) / 2
		case bootfat.FAT16:
			bytes = entries * 2
		default:
			bytes = entries * 4
		}
		need := (bytes + bootfat.SectorSize - 1) / bootfat.SectorSize
		if need <= l.sectorsPerFAT {
			l.dataLBA = meta
			break
		}
		l.sectorsPerFAT = need
	}

	legacy := uint16(l.sectorsPerFAT)
	if t == bootfat.FAT32 {
		legacy = 0
	}
	if got := bootfat.DetectFATType(l.clusters, legacy); got != t {
		return layout{}, fmt.Errorf("%w: %v clusters make it %v", ErrWrongType, l.clusters, got)
	}
	return l, nil
}

// Build lays out the volume and returns its bytes. A Builder can only be built once.
func (b *Builder) Build() ([]byte, error) {
	t := b.opts.Type
	l, err := computeLayout(t, b.opts.Geometry)
	if err != nil {
		return nil, err
	}

	img := make([]byte, l.geometry.TotalSectors*bootfat.SectorSize)

	alloc := &allocator{
		used:   bitmap.New(int(l.clusters + 2)),
		max:    l.clusters + 1,
		stride: b.opts.ClusterStride,
		next:   2,
	}

	root := b.root
	if b.opts.Label != "" {
		label, err := labelEntry(b.opts.Label, b.opts.ModTime)
		if err != nil {
			return nil, err
		}
		root.raw = append([]bootfat.DirectoryEntry{label}, root.raw...)
	}

	// The FAT32 root is an ordinary chain and gets the first cluster.
	if t == bootfat.FAT32 {
		size := uint32(len(root.raw)+len(root.children)+1) * bootfat.DirectoryEntrySize
		if root.clusters, err = alloc.chain(size, l.clusterSize, true); err != nil {
			return nil, err
		}
	} else if len(root.raw)+len(root.children) > int(l.geometry.RootEntryCount) {
		return nil, fmt.Errorf("%w: %d entries", ErrRootFull, len(root.raw)+len(root.children))
	}

	if err := allocate(alloc, root, l.clusterSize); err != nil {
		return nil, err
	}

	// Directory contents.
	if t == bootfat.FAT32 {
		if err := writeDir(img, l, root, nil); err != nil {
			return nil, err
		}
	} else {
		start := (l.dataLBA - l.rootDirSectors) * bootfat.SectorSize
		if err := writeEntries(img[start:l.dataLBA*bootfat.SectorSize], root, nil); err != nil {
			return nil, err
		}
	}

	if err := writeTree(img, l, root); err != nil {
		return nil, err
	}

	b.writeFAT(img, l, root)
	b.writeBootSector(img, l, root)
	return img, nil
}

type allocator struct {
	used   bitmap.Bitmap
	max    uint32
	stride uint32
	next   uint32
}

// chain allocates enough clusters for size bytes. Directories get at least one.
func (a *allocator) chain(size uint32, clusterSize uint32, dir bool) ([]uint32, error) {
	count := (size + clusterSize - 1) / clusterSize
	if count == 0 && dir {
		count = 1
	}

	clusters := make([]uint32, 0, count)
	for i := uint32(0); i < count; i++ {
		c := a.next
		for c <= a.max && a.used.Get(int(c)) {
			c++
		}
		if c > a.max {
			return nil, ErrNoSpace
		}
		a.used.Set(int(c), true)
		clusters = append(clusters, c)
		a.next = c + a.stride
	}
	return clusters, nil
}

func allocate(a *allocator, dir *node, clusterSize uint32) error {
	for _, child := range dir.children {
		size := uint32(len(child.data))
		if child.dir() {
			// ".", "..", the raw entries, the children and the end marker.
			size = uint32(2+len(child.raw)+len(child.children)+1) * bootfat.DirectoryEntrySize
		}

		clusters, err := a.chain(size, clusterSize, child.dir())
		if err != nil {
			return err
		}
		child.clusters = clusters
		if len(clusters) > 0 {
			child.entry.SetFirstCluster(clusters[0])
		}

		if child.dir() {
			if err := allocate(a, child, clusterSize); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeEntries writes the entries of dir into b. parent is nil for the root, which
// has no "." and "..".
func writeEntries(b []byte, dir *node, parent *node) error {
	w := bytewriter.New(b)
	var raw [bootfat.DirectoryEntrySize]byte

	write := func(e bootfat.DirectoryEntry) error {
		if err := e.Encode(raw[:]); err != nil {
			return err
		}
		_, err := w.Write(raw[:])
		return err
	}

	if parent != nil {
		dot := dir.entry
		dot.Name = dotName(".")
		if err := write(dot); err != nil {
			return err
		}

		dotdot := parent.entry
		dotdot.Name = dotName("..")
		dotdot.Attributes = bootfat.AttrDirectory
		dotdot.Size = 0
		if parent.entry.Name == ([11]byte{}) {
			// The root is always cluster 0 here, even on FAT32.
			dotdot.SetFirstCluster(0)
		}
		if err := write(dotdot); err != nil {
			return err
		}
	}

	for _, e := range dir.raw {
		if err := write(e); err != nil {
			return err
		}
	}
	for _, child := range dir.children {
		if err := write(child.entry); err != nil {
			return checkpoint.Wrap(err, fmt.Errorf("directory %q", bootfat.DisplayName(dir.entry.Name)))
		}
	}
	return nil
}

func dotName(s string) [11]byte {
	name, _ := bootfat.ShortName(s)
	return name
}

// chainBuffer is a zeroed buffer as large as the chain of n. scatter copies it to the clusters.
func chainBuffer(l layout, n *node) []byte {
	return make([]byte, uint32(len(n.clusters))*l.clusterSize)
}

func scatter(img []byte, l layout, n *node, content []byte) {
	for i, c := range n.clusters {
		start := uint32(i) * l.clusterSize
		copy(img[l.clusterOffset(c):l.clusterOffset(c)+l.clusterSize], content[start:start+l.clusterSize])
	}
}

func writeDir(img []byte, l layout, dir *node, parent *node) error {
	content := chainBuffer(l, dir)
	if err := writeEntries(content, dir, parent); err != nil {
		return err
	}
	scatter(img, l, dir, content)
	return nil
}

func writeTree(img []byte, l layout, dir *node) error {
	for _, child := range dir.children {
		if child.dir() {
			if err := writeDir(img, l, child, dir); err != nil {
				return err
			}
			if err := writeTree(img, l, child); err != nil {
				return err
			}
			continue
		}

		content := chainBuffer(l, child)
		copy(content, child.data)
		scatter(img, l, child, content)
	}
	return nil
}

func (b *Builder) endOfChain() uint32 {
	switch b.opts.Type {
	case bootfat.FAT12:
		return 0xFFF
	case bootfat.FAT16:
		return 0xFFFF
	default:
		return 0x0FFFFFFF
	}
}

func (b *Builder) writeFAT(img []byte, l layout, root *node) {
	fat := make([]byte, l.sectorsPerFAT*bootfat.SectorSize)
	set := func(cluster, value uint32) {
		setEntry(b.opts.Type, fat, cluster, value)
	}

	set(0, b.endOfChain()&^0xFF|0xF8)
	set(1, b.endOfChain())

	var link func(n *node)
	link = func(n *node) {
		for i, c := range n.clusters {
			if i+1 < len(n.clusters) {
				set(c, n.clusters[i+1])
			} else {
				set(c, b.endOfChain())
			}
		}
		for _, child := range n.children {
			link(child)
		}
	}
	link(root)

	for i := uint32(0); i < uint32(l.geometry.FATCount); i++ {
		start := (uint32(l.geometry.ReservedSectors) + i*l.sectorsPerFAT) * bootfat.SectorSize
		copy(img[start:], fat)
	}
}

// setEntry stores value as FAT entry of cluster.
func setEntry(t bootfat.FATType, fat []byte, cluster, value uint32) {
	switch t {
	case bootfat.FAT12:
		offset := cluster + cluster/2
		current := binary.LittleEndian.Uint16(fat[offset:])
		if cluster%2 == 0 {
			current = current&0xF000 | uint16(value&0x0FFF)
		} else {
			current = current&0x000F | uint16(value&0x0FFF)<<4
		}
		binary.LittleEndian.PutUint16(fat[offset:], current)
	case bootfat.FAT16:
		binary.LittleEndian.PutUint16(fat[cluster*2:], uint16(value))
	default:
		binary.LittleEndian.PutUint32(fat[cluster*4:], value)
	}
}

func labelEntry(label string, mod time.Time) (bootfat.DirectoryEntry, error) {
	name, err := padLabel(label)
	if err != nil {
		return bootfat.DirectoryEntry{}, err
	}
	return bootfat.DirectoryEntry{
		Name:         name,
		Attributes:   bootfat.AttrVolumeID,
		ModifiedTime: bootfat.FormatTime(mod),
		ModifiedDate: bootfat.FormatDate(mod),
	}, nil
}

func padLabel(label string) ([11]byte, error) {
	var name [11]byte
	for i := range name {
		name[i] = ' '
	}
	if len(label) > len(name) {
		return name, fmt.Errorf("fatimage: label %q is longer than 11 characters", label)
	}
	copy(name[:], strings.ToUpper(label))
	return name, nil
}

func (b *Builder) writeBootSector(img []byte, l layout, root *node) {
	g := l.geometry
	bs := &bootfat.BootSector{
		JumpBoot:          [3]byte{0xEB, 0x3C, 0x90},
		OEMName:           [8]byte{'B', 'O', 'O', 'T', 'F', 'A', 'T', ' '},
		BytesPerSector:    bootfat.SectorSize,
		SectorsPerCluster: g.SectorsPerCluster,
		ReservedSectors:   g.ReservedSectors,
		FATCount:          g.FATCount,
		RootEntryCount:    g.RootEntryCount,
		Media:             0xF8,
		SectorsPerTrack:   63,
		Heads:             16,
		Signature:         0xAA55,
	}
	if g.TotalSectors < 0x10000 {
		bs.TotalSectors16 = uint16(g.TotalSectors)
	} else {
		bs.LargeSectorCount = g.TotalSectors
	}

	label, _ := padLabel(b.opts.Label)
	if b.opts.Label == "" {
		label, _ = padLabel("NO NAME")
	}
	common := bootfat.ExtendedBootRecord{
		DriveNumber: 0x80,
		Signature:   0x29,
		VolumeID:    0x20210615,
		VolumeLabel: label,
	}

	if b.opts.Type == bootfat.FAT32 {
		copy(common.SystemID[:], "FAT32   ")
		bs.SetExtended(&bootfat.FAT32ExtendedBootRecord{
			SectorsPerFAT:      l.sectorsPerFAT,
			RootCluster:        root.clusters[0],
			FSInfoSector:       1,
			BackupBootSector:   6,
			ExtendedBootRecord: common,
		})
	} else {
		copy(common.SystemID[:], fmt.Sprintf("%-8v", b.opts.Type))
		bs.SectorsPerFAT16 = uint16(l.sectorsPerFAT)
		bs.SetExtended(&common)
	}

	// Cannot fail, img is a whole volume.
	_ = bs.Encode(img[:bootfat.SectorSize])
}

// Partitioned puts volume behind an MBR as the only, bootable partition starting at
// sector start. The hidden sectors field of the boot sector is updated to match.
func Partitioned(volume []byte, t bootfat.FATType, start uint32) ([]byte, error) {
	if start == 0 {
		return nil, fmt.Errorf("%w: partition cannot start in the MBR", ErrGeometry)
	}

	disk := make([]byte, int(start)*bootfat.SectorSize+len(volume))
	copy(disk[int(start)*bootfat.SectorSize:], volume)

	bs, err := bootfat.DecodeBootSector(volume)
	if err != nil {
		return nil, err
	}
	bs.HiddenSectors = start
	if err := bs.Encode(disk[int(start)*bootfat.SectorSize:]); err != nil {
		return nil, err
	}

	partitionType := map[bootfat.FATType]uint8{
		bootfat.FAT12: 0x01,
		bootfat.FAT16: 0x06,
		bootfat.FAT32: 0x0C,
	}[t]

	var table mbr.Table
	table.Entries[0] = mbr.Entry{
		Attribute:   mbr.AttributeBootable,
		Type:        partitionType,
		StartLBA:    start,
		SectorCount: uint32(len(volume) / bootfat.SectorSize),
	}
	table.Encode(disk[:bootfat.SectorSize])
	return disk, nil
}
