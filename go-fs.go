package bootfat

import (
	"io/fs"
	"sort"

	"github.com/sirupsen/logrus"
)

// GoFile is a File as fs.ReadDirFile.
type GoFile struct {
	*File
}

func (g GoFile) Stat() (fs.FileInfo, error) {
	return g.File.Stat()
}

// ReadDir follows the afero Readdir contract, which matches fs.ReadDirFile.
func (g GoFile) ReadDir(n int) ([]fs.DirEntry, error) {
	infos, err := g.File.Readdir(n)

	entries := make([]fs.DirEntry, len(infos))
	for i, info := range infos {
		entries[i] = fs.FileInfoToDirEntry(info)
	}
	return entries, err
}

// GoFs wraps Fs to be compatible with fs.FS.
type GoFs struct {
	*Fs
}

// NewGoFS mounts the FAT volume on disk as fs.FS compatible filesystem.
func NewGoFS(disk SectorReader, log logrus.FieldLogger) (*GoFs, error) {
	fat, err := Mount(disk, log)
	if err != nil {
		return nil, err
	}

	return &GoFs{fat}, nil
}

// NewGoFSSkipChecks works like NewGoFS but it skips the boot sector validation which
// may allow you to open not perfectly standard FAT filesystems.
// Use with caution!
func NewGoFSSkipChecks(disk SectorReader, log logrus.FieldLogger) (*GoFs, error) {
	fat, err := MountSkipChecks(disk, log)
	if err != nil {
		return nil, err
	}

	return &GoFs{fat}, nil
}

func (g GoFs) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}

	f, err := g.Fs.open(name)
	if err != nil {
		return nil, err
	}
	return GoFile{f}, nil
}

func (g GoFs) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}
	return g.Fs.Stat(name)
}

// ReadDir returns the entries of the directory name sorted by file name.
func (g GoFs) ReadDir(name string) ([]fs.DirEntry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}

	f, err := g.Fs.open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries, err := GoFile{f}.ReadDir(-1)
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	return entries, err
}
