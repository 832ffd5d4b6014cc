package evaluation

import (
	"runtime"
	"sync"

	"github.com/edaniels/golog"
)

// Device is the process-wide execution context of the parallel backend. It
// is selected once; engines evaluating nodes concurrently take exclusive
// ownership of it for each multi-step operation.
type Device struct {
	mu      sync.Mutex
	workers int
}

var (
	deviceOnce   sync.Once
	sharedDevice *Device
)

// SharedDevice returns the process-wide device, selecting it on first use.
func SharedDevice(logger golog.Logger) *Device {
	deviceOnce.Do(func() {
		sharedDevice = &Device{workers: runtime.GOMAXPROCS(0)}
		logger.Infow("selected device", "workers", sharedDevice.workers)
	})
	return sharedDevice
}

// Workers is the number of parallel workers of the device.
func (d *Device) Workers() int { return d.workers }

// Acquire blocks until the caller owns the device. The returned release
// func gives it back; calling it more than once is a no-op.
func (d *Device) Acquire() (release func()) {
	d.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(d.mu.Unlock)
	}
}
