//go:build linux

// Package platformdevice hands the rest of this module a connected
// fsadapter.Device for a live mount. Actually invoking the mount(2)
// family of syscalls is outside this module's scope — spec.md §1 names
// mounting and dismounting as a documented external surface — the same
// division jacobsa/fuse draws between its connection.go (which only
// ever reads and writes an already-open device) and its per-platform
// mount_darwin.go/mount_linux_test.go (which shell out to an external
// mount helper and hand back a file descriptor).
package platformdevice

import (
	"fmt"
	"os"

	"github.com/mqttmount/mqttmount/fsadapter"
)

// DeviceFDEnv names the environment variable an external mount helper
// uses to hand this process an already-connected device: the helper
// performs the privileged mount(2) call (typically needing
// CAP_SYS_ADMIN this process does not have), then starts or signals
// this process with the resulting descriptor's number in this
// variable — mirroring how jacobsa/fuse's darwin mount helper passes a
// file descriptor across a fork/exec boundary rather than opening the
// device itself.
const DeviceFDEnv = "MQTTMOUNT_DEVICE_FD"

// ErrHelperRequired is returned by Open when DeviceFDEnv is unset.
var ErrHelperRequired = fmt.Errorf("platformdevice: no mount helper configured, set %s", DeviceFDEnv)

// Open returns the fsadapter.Device an external mount helper has
// already connected, per DeviceFDEnv. It performs no mount(2) call of
// its own.
func Open() (fsadapter.Device, error) {
	v := os.Getenv(DeviceFDEnv)
	if v == "" {
		return nil, ErrHelperRequired
	}

	var fd int
	if _, err := fmt.Sscanf(v, "%d", &fd); err != nil {
		return nil, fmt.Errorf("platformdevice: malformed %s=%q: %w", DeviceFDEnv, v, err)
	}

	f := os.NewFile(uintptr(fd), "mqttmount-device")
	if f == nil {
		return nil, fmt.Errorf("platformdevice: fd %d is not valid", fd)
	}
	return f, nil
}
