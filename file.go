package bootfat

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/aligator/bootfat/checkpoint"
	"github.com/spf13/afero"
)

// These errors may occur while processing a file.
var (
	ErrReadFile = errors.New("could not read file completely")
	ErrSeekFile = errors.New("could not seek inside of the file")
	ErrReadDir  = errors.New("could not read the directory")
)

// File is an open file or directory of an Fs.
type File struct {
	fs     *Fs
	handle Handle
	path   string
	info   os.FileInfo

	// offset is the byte position for files and the entry index for directories.
	offset int64
	closed bool
}

func (f *File) check() error {
	if f.closed {
		return afero.ErrFileClosed
	}
	return nil
}

// Close releases the handle of the file. Closing the root directory rewinds it.
func (f *File) Close() error {
	if err := f.check(); err != nil {
		return err
	}
	f.closed = true
	return f.fs.volume.Close(f.handle)
}

func (f *File) Read(p []byte) (n int, err error) {
	if err := f.check(); err != nil {
		return 0, err
	}
	if f.info.IsDir() {
		return 0, checkpoint.Wrap(syscall.EISDIR, ErrReadFile)
	}
	if len(p) == 0 {
		return 0, nil
	}

	n, err = f.fs.volume.Read(f.handle, p)
	f.offset += int64(n)
	if err != nil {
		return n, checkpoint.Wrap(err, ErrReadFile)
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// ReadAt reads at off without changing the offset used by Read.
func (f *File) ReadAt(p []byte, off int64) (n int, err error) {
	if err := f.check(); err != nil {
		return 0, err
	}
	if off >= f.info.Size() {
		return 0, io.EOF
	}

	previous := f.offset
	if _, err := f.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}

	for n < len(p) && err == nil {
		var read int
		read, err = f.Read(p[n:])
		n += read
	}

	if _, seekErr := f.Seek(previous, io.SeekStart); seekErr != nil && err == nil {
		err = seekErr
	}
	return n, err
}

// Seek jumps to a specific offset in the file. This affects all Read operations except ReadAt.
// The volume can only read forward, so seeking backwards rewinds the file and skips ahead.
// May return a syscall.EINVAL error if the whence value is invalid.
// May return an afero.ErrOutOfRange error if the offset is out of range.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if err := f.check(); err != nil {
		return 0, err
	}

	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset = f.offset + offset
	case io.SeekEnd:
		offset = f.info.Size() + offset
	default:
		return 0, checkpoint.Wrap(ErrSeekFile, fmt.Errorf("%w, offset: %v, whence: %v", syscall.EINVAL, offset, whence))
	}

	if offset < 0 || (!f.info.IsDir() && offset > f.info.Size()) {
		return 0, checkpoint.Wrap(afero.ErrOutOfRange, fmt.Errorf("%w, offset: %v, whence: %v", ErrSeekFile, offset, whence))
	}

	if f.info.IsDir() {
		f.offset = offset
		return offset, nil
	}

	if offset < f.offset {
		if err := f.fs.volume.Rewind(f.handle); err != nil {
			return 0, checkpoint.Wrap(err, ErrSeekFile)
		}
		f.offset = 0
	}

	var skip [SectorSize]byte
	for f.offset < offset {
		chunk := offset - f.offset
		if chunk > SectorSize {
			chunk = SectorSize
		}
		n, err := f.fs.volume.Read(f.handle, skip[:chunk])
		f.offset += int64(n)
		if err != nil {
			return f.offset, checkpoint.Wrap(err, ErrSeekFile)
		}
		if n == 0 {
			return f.offset, fmt.Errorf("%w: file ends at %d", ErrSeekFile, f.offset)
		}
	}

	return offset, nil
}

func (f *File) Write(p []byte) (n int, err error) {
	return 0, f.readOnly("write")
}

func (f *File) WriteAt(p []byte, off int64) (n int, err error) {
	return 0, f.readOnly("write")
}

func (f *File) Name() string {
	return f.info.Name()
}

// Readdir reads the contents of a directory.
// May return syscall.ENOTDIR if the current File is no directory.
func (f *File) Readdir(count int) ([]os.FileInfo, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	if !f.info.IsDir() {
		return nil, checkpoint.Wrap(syscall.ENOTDIR, ErrReadDir)
	}

	content, err := f.fs.volume.List(f.handle)
	if err != nil {
		return nil, checkpoint.Wrap(err, ErrReadDir)
	}

	start := int(f.offset)
	if start > len(content) {
		start = len(content)
	}
	end := len(content)

	if count > 0 {
		if start+count < end {
			end = start + count
		}
		if start == end {
			return nil, io.EOF
		}
	}

	result := make([]os.FileInfo, 0, end-start)
	for _, entry := range content[start:end] {
		result = append(result, entry.FileInfo())
	}
	f.offset = int64(end)

	return result, nil
}

func (f *File) Readdirnames(count int) ([]string, error) {
	content, err := f.Readdir(count)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(content))
	for i, entry := range content {
		names[i] = entry.Name()
	}

	return names, nil
}

func (f *File) Stat() (os.FileInfo, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	return f.info, nil
}

func (f *File) Sync() error {
	return nil
}

func (f *File) Truncate(size int64) error {
	return f.readOnly("truncate")
}

func (f *File) WriteString(s string) (ret int, err error) {
	return f.Write([]byte(s))
}

func (f *File) readOnly(op string) error {
	return &os.PathError{Op: op, Path: f.path, Err: syscall.EROFS}
}
