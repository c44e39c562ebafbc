package modelcache

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Device records where a resource was placed. The decision is made once,
// before the load, and kept in the handle for observability.
type Device struct {
	Accelerated bool
	Index       int
}

func (d Device) String() string {
	if d.Accelerated {
		return fmt.Sprintf("gpu:%d", d.Index)
	}
	return "cpu"
}

// DevicePicker chooses a device for a resource with the given expected
// memory footprint.
type DevicePicker interface {
	Pick(footprintBytes int64) Device
}

// sysfsPicker probes accelerator presence and free memory through sysfs /
// the environment. It prefers the accelerator when the footprint fits and
// falls back to CPU execution otherwise.
type sysfsPicker struct{}

func defaultPicker() DevicePicker { return sysfsPicker{} }

func (sysfsPicker) Pick(footprintBytes int64) Device {
	free, idx, ok := acceleratorFreeMemory()
	if ok && free >= footprintBytes {
		return Device{Accelerated: true, Index: idx}
	}
	return Device{}
}

// acceleratorFreeMemory reports free memory on the first visible
// accelerator. ARIA_GPU_FREE_BYTES overrides probing, which keeps device
// policy testable on machines without hardware.
func acceleratorFreeMemory() (free int64, index int, ok bool) {
	if v := os.Getenv("ARIA_GPU_FREE_BYTES"); v != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err == nil && n > 0 {
			return n, 0, true
		}
		return 0, 0, false
	}
	if _, err := os.Stat("/proc/driver/nvidia/gpus"); err == nil {
		// Driver present but no reliable free-memory figure without NVML;
		// assume the device is usable and let the loader fail over.
		return 1 << 62, 0, true
	}
	return 0, 0, false
}

// StaticPicker always returns the same device. Useful in tests and for
// deployments that pin placement explicitly.
type StaticPicker struct {
	Device Device
}

func (p StaticPicker) Pick(int64) Device { return p.Device }
