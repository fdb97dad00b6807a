// Package checkpoint decorates errors with the location they passed through, which gives
// boot failures something close to a stacktrace without needing one.
// Every error added to a checkpoint stays reachable through errors.Is and errors.As.
package checkpoint

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// From wraps err in a checkpoint carrying the caller location.
// It returns nil if err == nil.
func From(err error) error {
	// io.EOF must be returned as io.EOF directly
	// https://github.com/golang/go/issues/39155
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return err
	}
	if err == nil {
		return nil
	}

	return newCheckpoint(err, nil)
}

// Wrap adds a checkpoint around prev and tags it with err, which usually is one of the
// sentinel errors of the calling package:
//
//	var ErrReadSector = errors.New("could not read sector")
//
//	func (v *Volume) load(lba uint32) error {
//		err := v.disk.ReadSectors(v.buf, 1, lba)
//		return checkpoint.Wrap(err, ErrReadSector)
//	}
//
// The result matches errors.Is for both ErrReadSector and whatever the disk returned.
// Returns nil if prev == nil.
func Wrap(prev, err error) error {
	if prev == io.EOF {
		return io.EOF
	}
	if prev == nil {
		return nil
	}

	return newCheckpoint(err, prev)
}

// Fields returns the location of the outermost checkpoint in err as logrus fields.
// It returns nil if err carries no checkpoint.
func Fields(err error) logrus.Fields {
	var c *checkpoint
	if !errors.As(err, &c) || !c.callerOk {
		return nil
	}
	return logrus.Fields{
		"file": c.file,
		"line": c.line,
	}
}

type checkpoint struct {
	err  error
	prev error

	callerOk bool
	file     string
	line     int
}

func newCheckpoint(err, prev error) *checkpoint {
	// Skip newCheckpoint and the exported wrapper.
	_, file, line, ok := runtime.Caller(2)
	if err == nil {
		err, prev = prev, nil
	}

	return &checkpoint{
		err:      err,
		prev:     prev,
		callerOk: ok,
		file:     filepath.Base(file),
		line:     line,
	}
}

func (c *checkpoint) location() string {
	if c.callerOk {
		return fmt.Sprintf("%s:%d", c.file, c.line)
	}
	return "unknown"
}

func (c *checkpoint) Error() string {
	if c.prev == nil {
		return fmt.Sprintf("%s: %v", c.location(), c.err)
	}

	prevErrString := c.prev.Error()
	if _, ok := c.prev.(*checkpoint); !ok {
		prevErrString = strings.ReplaceAll(prevErrString, "\n", "\n\t")
	}

	return fmt.Sprintf("%s: %v\n\t%v", c.location(), c.err, prevErrString)
}

func (c *checkpoint) Unwrap() error {
	return c.prev
}

func (c *checkpoint) Is(target error) bool {
	return errors.Is(c.err, target)
}

func (c *checkpoint) As(target interface{}) bool {
	return errors.As(c.err, target)
}
