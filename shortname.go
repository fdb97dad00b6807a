package bootfat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aligator/bootfat/checkpoint"
	"golang.org/x/text/encoding/charmap"
)

// ErrInvalidName is returned for path segments which have no 8.3 form.
var ErrInvalidName = errors.New("invalid 8.3 name")

// ShortName converts a single path segment into the padded 11 byte form stored in
// directory entries. The part after the last dot is the extension. Both parts are
// uppercased and cut to 8 and 3 characters. Characters are encoded as code page 437.
func ShortName(segment string) ([11]byte, error) {
	var name [11]byte
	for i := range name {
		name[i] = ' '
	}

	if segment == "." || segment == ".." {
		copy(name[:], segment)
		return name, nil
	}

	encoded, err := charmap.CodePage437.NewEncoder().String(segment)
	if err != nil {
		return name, checkpoint.Wrap(err, fmt.Errorf("%w: %q", ErrInvalidName, segment))
	}

	base, ext := encoded, ""
	if dot := strings.LastIndexByte(encoded, '.'); dot >= 0 {
		base, ext = encoded[:dot], encoded[dot+1:]
	}
	if base == "" {
		return name, fmt.Errorf("%w: %q", ErrInvalidName, segment)
	}

	if len(base) > 8 {
		base = base[:8]
	}
	if len(ext) > 3 {
		ext = ext[:3]
	}

	copy(name[0:8], upper(base))
	copy(name[8:11], upper(ext))

	// 0xE5 marks deleted entries and is stored as 0x05 in the first byte.
	if name[0] == 0xE5 {
		name[0] = 0x05
	}

	return name, nil
}

// upper uppercases ASCII letters only. Code page 437 characters above 0x7F stay.
func upper(s string) []byte {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return b
}

// decodeName turns code page 437 bytes into a string.
func decodeName(b []byte) string {
	s, err := charmap.CodePage437.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(s)
}

// DisplayName formats an 11 byte name as "NAME.EXT".
func DisplayName(name [11]byte) string {
	if name[0] == 0x05 {
		name[0] = 0xE5
	}
	base := strings.TrimRight(decodeName(name[0:8]), " ")
	ext := strings.TrimRight(decodeName(name[8:11]), " ")
	if ext == "" {
		return base
	}
	return base + "." + ext
}
