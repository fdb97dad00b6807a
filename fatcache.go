package bootfat

import (
	"fmt"

	"github.com/aligator/bootfat/checkpoint"
)

// fatCacheSectors is the size of the FAT window in sectors.
const fatCacheSectors = 5

const noWindow = ^uint32(0)

// fatCache keeps a window of consecutive FAT sectors in memory. The window is always
// replaced as a whole and only if the requested entry is not completely inside of it.
type fatCache struct {
	disk SectorReader
	// fatLBA is the first sector of the first FAT.
	fatLBA uint32
	// position is the FAT relative sector the window starts at.
	position uint32
	data     [fatCacheSectors * SectorSize]byte

	// loads counts window reloads.
	loads int
}

func newFATCache(disk SectorReader, fatLBA uint32) fatCache {
	return fatCache{
		disk:     disk,
		fatLBA:   fatLBA,
		position: noWindow,
	}
}

// bytes returns size bytes of the FAT starting at the FAT relative byte offset.
// The slice points into the window and is only valid until the next call.
func (c *fatCache) bytes(offset, size uint32) ([]byte, error) {
	first := offset / SectorSize
	last := (offset + size - 1) / SectorSize

	if c.position == noWindow || first < c.position || last >= c.position+fatCacheSectors {
		if err := c.load(first); err != nil {
			return nil, err
		}
	}

	start := offset - c.position*SectorSize
	return c.data[start : start+size], nil
}

func (c *fatCache) load(sector uint32) error {
	err := c.disk.ReadSectors(c.data[:], fatCacheSectors, c.fatLBA+sector)
	if err != nil {
		c.position = noWindow
		return checkpoint.Wrap(err, fmt.Errorf("%w: fat sector %d", ErrReadSector, sector))
	}

	c.position = sector
	c.loads++
	return nil
}
