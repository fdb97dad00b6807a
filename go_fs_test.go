package bootfat_test

import (
	"io/fs"
	"testing"

	"github.com/aligator/bootfat"
	"github.com/aligator/bootfat/internal/fatimage"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoFS(t *testing.T) {
	b := fatimage.New(bootfat.FAT32)
	require.NoError(t, b.AddFile("boot/kernel.elf", pattern(3000, 7)))
	require.NoError(t, b.AddFile("boot/README.md", []byte("# boot\n")))
	img, err := b.Build()
	require.NoError(t, err)

	gofs, err := bootfat.NewGoFS(fatimage.NewDisk(img), logrus.New())
	require.NoError(t, err)

	data, err := fs.ReadFile(gofs, "boot/kernel.elf")
	require.NoError(t, err)
	assert.Equal(t, pattern(3000, 7), data)

	entries, err := fs.ReadDir(gofs, "boot")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "KERNEL.ELF", entries[0].Name())
	assert.Equal(t, "README.MD", entries[1].Name())
	assert.False(t, entries[0].IsDir())

	var walked []string
	err = fs.WalkDir(gofs, ".", func(path string, d fs.DirEntry, err error) error {
		require.NoError(t, err)
		walked = append(walked, path)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{".", "BOOT", "BOOT/KERNEL.ELF", "BOOT/README.MD"}, walked)

	_, err = gofs.Open("/boot")
	assert.ErrorIs(t, err, fs.ErrInvalid)
	_, err = gofs.Open("boot/missing")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestNewGoFS(t *testing.T) {
	valid, err := fatimage.New(bootfat.FAT16).Build()
	require.NoError(t, err)

	tests := []struct {
		name       string
		image      []byte
		skipChecks bool
		wantErr    bool
	}{
		{name: "FAT16 image", image: valid},
		{name: "no FAT image", image: make([]byte, 2*bootfat.SectorSize), wantErr: true},
		{name: "no FAT image skipping checks", image: make([]byte, 2*bootfat.SectorSize), skipChecks: true, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *bootfat.GoFs
			var err error
			if tt.skipChecks {
				got, err = bootfat.NewGoFSSkipChecks(fatimage.NewDisk(tt.image), logrus.New())
			} else {
				got, err = bootfat.NewGoFS(fatimage.NewDisk(tt.image), logrus.New())
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("NewGoFS() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if (got != nil) == tt.wantErr {
				t.Errorf("NewGoFS() = %v, wantErr %v", got, tt.wantErr)
			}
		})
	}
}

func TestGoFS_StatAndReadDir(t *testing.T) {
	b := fatimage.New(bootfat.FAT12)
	require.NoError(t, b.AddFile("b.txt", []byte("b")))
	require.NoError(t, b.AddFile("a.txt", []byte("aa")))
	require.NoError(t, b.AddDir("c"))
	img, err := b.Build()
	require.NoError(t, err)

	gofs, err := bootfat.NewGoFS(fatimage.NewDisk(img), logrus.New())
	require.NoError(t, err)

	info, err := fs.Stat(gofs, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.Size())
	assert.Equal(t, "A.TXT", info.Name())

	_, err = fs.Stat(gofs, "./a.txt")
	assert.ErrorIs(t, err, fs.ErrInvalid)

	entries, err := gofs.ReadDir(".")
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"A.TXT", "B.TXT", "C"}, names)
	assert.True(t, entries[2].IsDir())
	assert.Equal(t, 0, gofs.Volume().OpenHandles())
}
