package bootfat

import (
	"errors"
	"os"
	"path"
	"syscall"
	"time"

	"github.com/aligator/bootfat/checkpoint"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Fs is a read-only afero.Fs on top of a Volume.
//
// Every open File holds one of the MaxHandles handles of the volume until it is closed.
type Fs struct {
	volume *Volume
}

// NewFs wraps an initialized volume.
func NewFs(volume *Volume) *Fs {
	return &Fs{volume: volume}
}

// Mount initializes a volume on disk and wraps it.
func Mount(disk SectorReader, log logrus.FieldLogger) (*Fs, error) {
	v := New(disk, log)
	if err := v.Init(); err != nil {
		return nil, err
	}
	return NewFs(v), nil
}

// MountSkipChecks works like Mount but skips the boot sector validation.
// Use with caution!
func MountSkipChecks(disk SectorReader, log logrus.FieldLogger) (*Fs, error) {
	v := NewSkipChecks(disk, log)
	if err := v.Init(); err != nil {
		return nil, err
	}
	return NewFs(v), nil
}

// Volume returns the underlying volume.
func (fs *Fs) Volume() *Volume {
	return fs.volume
}

// Label returns the volume label.
func (fs *Fs) Label() string {
	return fs.volume.Label()
}

// FSType returns the FAT width of the volume.
func (fs *Fs) FSType() FATType {
	return fs.volume.FATType()
}

func (fs *Fs) Create(name string) (afero.File, error) {
	return nil, readOnly("create", name)
}

func (fs *Fs) Mkdir(name string, perm os.FileMode) error {
	return readOnly("mkdir", name)
}

func (fs *Fs) MkdirAll(path string, perm os.FileMode) error {
	return readOnly("mkdir", path)
}

func (fs *Fs) Open(name string) (afero.File, error) {
	f, err := fs.open(name)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (fs *Fs) open(name string) (*File, error) {
	clean := path.Clean("/" + name)

	h, err := fs.volume.Open(clean)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotDirectory) {
			err = checkpoint.Wrap(err, os.ErrNotExist)
		}
		return nil, &os.PathError{Op: "open", Path: name, Err: err}
	}

	info := rootFileInfo()
	if entry, ok := fs.volume.Entry(h); ok {
		info = entry.FileInfo()
	}

	return &File{
		fs:     fs,
		handle: h,
		path:   clean,
		info:   info,
	}, nil
}

func (fs *Fs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_APPEND|os.O_CREATE|os.O_TRUNC) != 0 {
		return nil, readOnly("open", name)
	}
	return fs.Open(name)
}

func (fs *Fs) Remove(name string) error {
	return readOnly("remove", name)
}

func (fs *Fs) RemoveAll(path string) error {
	return readOnly("remove", path)
}

func (fs *Fs) Rename(oldname, newname string) error {
	return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: syscall.EROFS}
}

func (fs *Fs) Stat(name string) (os.FileInfo, error) {
	file, err := fs.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return file.Stat()
}

func (fs *Fs) Name() string {
	return "bootfat"
}

func (fs *Fs) Chmod(name string, mode os.FileMode) error {
	return readOnly("chmod", name)
}

func (fs *Fs) Chown(name string, uid, gid int) error {
	return readOnly("chown", name)
}

func (fs *Fs) Chtimes(name string, atime time.Time, mtime time.Time) error {
	return readOnly("chtimes", name)
}

func readOnly(op, name string) error {
	return &os.PathError{Op: op, Path: name, Err: syscall.EROFS}
}
