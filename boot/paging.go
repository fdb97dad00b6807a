package boot

import (
	"errors"
	"fmt"
	"sort"
)

// LargePageSize is the size of the pages the kernel is mapped with.
const LargePageSize = 2 << 20

var ErrUnaligned = errors.New("boot: virtual address is not aligned to a large page")

// PageMapper maps size bytes at physical to virtual. size is rounded up to whole
// large pages.
type PageMapper interface {
	MapRange(physical, virtual, size uint64) error
}

// Mapping is one large page.
type Mapping struct {
	Virtual  uint64
	Physical uint64
}

// MappingTable records large page mappings. A virtual page which is already mapped
// keeps its first mapping, like a page directory entry that is already present.
type MappingTable struct {
	pages map[uint64]uint64
}

func NewMappingTable() *MappingTable {
	return &MappingTable{pages: make(map[uint64]uint64)}
}

func (m *MappingTable) MapRange(physical, virtual, size uint64) error {
	if virtual%LargePageSize != 0 {
		return fmt.Errorf("%w: 0x%x", ErrUnaligned, virtual)
	}

	pages := (size + LargePageSize - 1) / LargePageSize
	for i := uint64(0); i < pages; i++ {
		v := virtual + i*LargePageSize
		if _, ok := m.pages[v]; ok {
			continue
		}
		// The physical side is cut down to the page boundary as well.
		m.pages[v] = (physical + i*LargePageSize) &^ (LargePageSize - 1)
	}
	return nil
}

// Translate returns the physical address virtual is mapped to.
func (m *MappingTable) Translate(virtual uint64) (uint64, bool) {
	page := virtual &^ (LargePageSize - 1)
	physical, ok := m.pages[page]
	if !ok {
		return 0, false
	}
	return physical + virtual - page, true
}

// Mappings returns all mappings ordered by virtual address.
func (m *MappingTable) Mappings() []Mapping {
	result := make([]Mapping, 0, len(m.pages))
	for v, p := range m.pages {
		result = append(result, Mapping{Virtual: v, Physical: p})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Virtual < result[j].Virtual
	})
	return result
}
