package bootfat

import (
	"os"
	"reflect"
	"testing"
	"time"
)

func TestDirectoryEntry_FileInfo(t *testing.T) {
	entry := DirectoryEntry{
		Name:              [11]byte{'H', 'E', 'L', 'L', 'O', ' ', ' ', ' ', 'T', 'X', 'T'},
		Attributes:        AttrDirectory,
		CreatedTimeTenths: 1,
		CreatedTime:       2,
		CreatedDate:       3,
		AccessedDate:      4,
		FirstClusterHigh:  5,
		ModifiedTime:      6,
		ModifiedDate:      7,
		FirstClusterLow:   8,
		Size:              9,
	}

	want := entryFileInfo{entry: entry}
	if got := entry.FileInfo(); !reflect.DeepEqual(got, want) {
		t.Errorf("DirectoryEntry.FileInfo() = %v, want %v", got, want)
	}
	if got := entry.FileInfo().Sys(); !reflect.DeepEqual(got, entry) {
		t.Errorf("entryFileInfo.Sys() = %v, want %v", got, entry)
	}
}

func Test_entryFileInfo_Name(t *testing.T) {
	tests := []struct {
		name string
		info entryFileInfo
		want string
	}{
		{
			name: "8.3 filename",
			info: entryFileInfo{entry: DirectoryEntry{Name: [11]byte{'H', 'E', 'L', 'L', 'O', ' ', ' ', ' ', 'T', 'X', 'T'}}},
			want: "HELLO.TXT",
		},
		{
			name: "short extension",
			info: entryFileInfo{entry: DirectoryEntry{Name: [11]byte{'H', 'E', 'L', 'L', 'O', ' ', ' ', ' ', 'T', 'X', ' '}}},
			want: "HELLO.TX",
		},
		{
			name: "no extension",
			info: entryFileInfo{entry: DirectoryEntry{Name: [11]byte{'H', 'E', 'L', 'L', 'O', ' ', ' ', ' ', ' ', ' ', ' '}}},
			want: "HELLO",
		},
		{
			name: "full 8 characters",
			info: entryFileInfo{entry: DirectoryEntry{Name: [11]byte{'B', 'O', 'O', 'T', 'L', 'O', 'A', 'D', 'B', 'I', 'N'}}},
			want: "BOOTLOAD.BIN",
		},
		{
			name: "code page 437",
			info: entryFileInfo{entry: DirectoryEntry{Name: [11]byte{0x8E, 'R', 'G', 'E', 'R', ' ', ' ', ' ', 'T', 'X', 'T'}}},
			want: "ÄRGER.TXT",
		},
		{
			name: "leading 0x05 stands for 0xE5",
			info: entryFileInfo{entry: DirectoryEntry{Name: [11]byte{0x05, 'X', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '}}},
			want: "σX",
		},
		{
			name: "root",
			info: rootFileInfo().(entryFileInfo),
			want: "/",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.info.Name(); got != tt.want {
				t.Errorf("entryFileInfo.Name() = %v, want %v", got, tt.want)
			}
		})
	}
}

func Test_entryFileInfo_Mode(t *testing.T) {
	tests := []struct {
		name      string
		entry     DirectoryEntry
		want      os.FileMode
		wantIsDir bool
	}{
		{
			name:  "file",
			entry: DirectoryEntry{Attributes: AttrArchive, Size: 12},
			want:  0444,
		},
		{
			name:      "directory",
			entry:     DirectoryEntry{Attributes: AttrDirectory},
			want:      os.ModeDir | 0555,
			wantIsDir: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := entryFileInfo{entry: tt.entry}
			if got := e.Mode(); got != tt.want {
				t.Errorf("entryFileInfo.Mode() = %v, want %v", got, tt.want)
			}
			if got := e.IsDir(); got != tt.wantIsDir {
				t.Errorf("entryFileInfo.IsDir() = %v, want %v", got, tt.wantIsDir)
			}
			if got := e.Size(); got != int64(tt.entry.Size) {
				t.Errorf("entryFileInfo.Size() = %v, want %v", got, tt.entry.Size)
			}
		})
	}
}

func Test_entryFileInfo_ModTime(t *testing.T) {
	tests := []struct {
		name  string
		entry DirectoryEntry
		want  time.Time
	}{
		{
			name:  "a normal modification time and date",
			entry: DirectoryEntry{ModifiedTime: 41936, ModifiedDate: 20890},
			want:  time.Date(2020, 12, 26, 20, 30, 32, 0, time.UTC),
		},
		{
			name:  "a zero time and date results in time.Time.IsZero() == true",
			entry: DirectoryEntry{},
			want:  time.Time{},
		},
		{
			name:  "a zero time results in 00:00:00.000000000",
			entry: DirectoryEntry{ModifiedDate: 20890},
			want:  time.Date(2020, 12, 26, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "a zero date results in time.Time.IsZero() == true",
			entry: DirectoryEntry{ModifiedTime: 41936},
			want:  time.Time{},
		},
		{
			name:  "a zero day results in time.Time.IsZero() == true",
			entry: DirectoryEntry{ModifiedTime: 41936, ModifiedDate: 20928},
			want:  time.Time{},
		},
		{
			name:  "a zero month results in time.Time.IsZero() == true",
			entry: DirectoryEntry{ModifiedTime: 41936, ModifiedDate: 20480},
			want:  time.Time{},
		},
		{
			name:  "a month > 12 increases the year",
			entry: DirectoryEntry{ModifiedTime: 41936, ModifiedDate: 20922},
			want:  time.Date(2021, 1, 26, 20, 30, 32, 0, time.UTC),
		},
		{
			name:  "a second > 59 increases the minutes",
			entry: DirectoryEntry{ModifiedTime: 41951, ModifiedDate: 20890},
			want:  time.Date(2020, 12, 26, 20, 31, 02, 0, time.UTC),
		},
		{
			name:  "a minute > 59 increases the hours",
			entry: DirectoryEntry{ModifiedTime: 42992, ModifiedDate: 20890},
			want:  time.Date(2020, 12, 26, 21, 3, 32, 0, time.UTC),
		},
		{
			name:  "a time > 23:59:59 gets limited to 23:59:59",
			entry: DirectoryEntry{ModifiedTime: 51199, ModifiedDate: 20890},
			want:  time.Date(2020, 12, 26, 23, 59, 59, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := entryFileInfo{entry: tt.entry}
			if got := e.ModTime(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("entryFileInfo.ModTime() = %v, want %v", got, tt.want)
			}
			if got := e.ModTime().IsZero(); got != tt.want.IsZero() {
				t.Errorf("entryFileInfo.ModTime().IsZero() = %v, want.IsZero() %v", got, tt.want.IsZero())
			}
		})
	}
}

func TestFormatDateTime(t *testing.T) {
	tests := []struct {
		name     string
		in       time.Time
		wantDate uint16
		wantTime uint16
	}{
		{
			name:     "regular",
			in:       time.Date(2020, 12, 26, 20, 30, 32, 0, time.UTC),
			wantDate: 20890,
			wantTime: 41936,
		},
		{
			name:     "odd seconds are rounded down",
			in:       time.Date(2020, 12, 26, 20, 30, 33, 0, time.UTC),
			wantDate: 20890,
			wantTime: 41936,
		},
		{
			name:     "before 1980",
			in:       time.Date(1979, 12, 31, 0, 0, 0, 0, time.UTC),
			wantDate: 0,
			wantTime: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatDate(tt.in); got != tt.wantDate {
				t.Errorf("FormatDate() = %v, want %v", got, tt.wantDate)
			}
			if got := FormatTime(tt.in); got != tt.wantTime {
				t.Errorf("FormatTime() = %v, want %v", got, tt.wantTime)
			}
		})
	}
}
