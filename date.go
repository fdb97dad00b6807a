package bootfat

import (
	"time"
)

// ParseDate decodes a FAT date stamp. Bits 0-4 hold the day of the month (1-31),
// bits 5-8 the month (1-12) and bits 9-15 the years since 1980.
// The result is always at 00:00:00 UTC.
//
// Day or month 0 is invalid and gives time.Time{} so that IsZero can be used.
// A month bigger than 12 rolls over into the next year.
func ParseDate(input uint16) time.Time {
	day := input & 0x1F
	month := input & 0x1E0 >> 5
	year := input & 0xFE00 >> 9

	if day == 0 || month == 0 {
		return time.Time{}
	}

	return time.Date(1980+int(year), time.Month(month), int(day), 0, 0, 0, 0, time.UTC)
}

// ParseTime decodes a FAT time stamp. Bits 0-4 count 2 second steps, bits 5-10 hold
// the minutes and bits 11-15 the hours. The result is always on January 1, year 1,
// so midnight IsZero.
//
// Values out of range are added up but capped at 23:59:59.
func ParseTime(input uint16) time.Time {
	seconds := int(input&0x1F) * 2
	minutes := input & 0x7E0 >> 5
	hours := input & 0xF800 >> 11

	result := time.Date(1, 1, 1, int(hours), int(minutes), seconds, 0, time.UTC)
	if result.Day() > 1 {
		return time.Date(1, 1, 1, 23, 59, 59, 0, time.UTC)
	}

	return result
}

// FormatDate encodes the date part of t. Dates before 1980 become 0.
func FormatDate(t time.Time) uint16 {
	if t.Year() < 1980 || t.Year() > 2107 {
		return 0
	}
	return uint16(t.Year()-1980)<<9 | uint16(t.Month())<<5 | uint16(t.Day())
}

// FormatTime encodes the time of day of t in 2 second steps.
func FormatTime(t time.Time) uint16 {
	return uint16(t.Hour())<<11 | uint16(t.Minute())<<5 | uint16(t.Second()/2)
}
