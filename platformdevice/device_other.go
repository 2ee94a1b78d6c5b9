//go:build !linux

package platformdevice

import (
	"errors"

	"github.com/mqttmount/mqttmount/fsadapter"
)

// ErrUnsupported is returned by Open on platforms other than Linux,
// which this module does not target (spec.md §1).
var ErrUnsupported = errors.New("platformdevice: unsupported platform")

// Open always fails outside Linux.
func Open() (fsadapter.Device, error) {
	return nil, ErrUnsupported
}
