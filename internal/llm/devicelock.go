package llm

import (
	"context"
	"sync"

	"finrep/internal/port"
)

// DeviceLockedClient serializes calls to a backend bound to one accelerator.
// Many tasks may be in flight; only one inference runs on the device at a time.
type DeviceLockedClient struct {
	next port.ModelClient
	sem  chan struct{}
}

var (
	deviceLocksMu sync.Mutex
	deviceLocks   = map[string]chan struct{}{}
)

// NewDeviceLockedClient wraps next with the lock for device. Clients sharing a device
// name share the lock.
func NewDeviceLockedClient(next port.ModelClient, device string) *DeviceLockedClient {
	deviceLocksMu.Lock()
	defer deviceLocksMu.Unlock()
	sem, ok := deviceLocks[device]
	if !ok {
		sem = make(chan struct{}, 1)
		deviceLocks[device] = sem
	}
	return &DeviceLockedClient{next: next, sem: sem}
}

func (d *DeviceLockedClient) Complete(ctx context.Context, req port.ModelRequest) (*port.ModelResponse, error) {
	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-d.sem }()
	return d.next.Complete(ctx, req)
}
