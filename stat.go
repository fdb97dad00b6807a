package bootfat

import (
	"os"
	"time"
)

// FileInfo returns the entry as os.FileInfo.
func (e DirectoryEntry) FileInfo() os.FileInfo {
	return entryFileInfo{entry: e}
}

type entryFileInfo struct {
	entry DirectoryEntry
	root  bool
}

func rootFileInfo() os.FileInfo {
	return entryFileInfo{
		entry: DirectoryEntry{Attributes: AttrDirectory},
		root:  true,
	}
}

func (e entryFileInfo) Name() string {
	if e.root {
		return "/"
	}
	return DisplayName(e.entry.Name)
}

func (e entryFileInfo) Size() int64 {
	return int64(e.entry.Size)
}

func (e entryFileInfo) Mode() os.FileMode {
	mode := os.FileMode(0444)
	if e.IsDir() {
		mode |= os.ModeDir | 0111
	}
	return mode
}

func (e entryFileInfo) ModTime() time.Time {
	date := ParseDate(e.entry.ModifiedDate)
	clock := ParseTime(e.entry.ModifiedTime)

	// A zero clock is a valid midnight, a zero date is not.
	if date.IsZero() {
		return time.Time{}
	}

	return time.Date(date.Year(), date.Month(), date.Day(), clock.Hour(), clock.Minute(), clock.Second(), 0, time.UTC)
}

func (e entryFileInfo) IsDir() bool {
	return e.entry.IsDirectory()
}

func (e entryFileInfo) Sys() interface{} {
	return e.entry
}
