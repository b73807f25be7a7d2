package gateway

import (
	"context"
	"encoding/binary"

	"github.com/coocood/freecache"

	"vitalsync/internal/metrics"
	"vitalsync/internal/vital"
)

// deviceCacheTTL bounds how long a deactivated device keeps passing the
// ownership check.
const deviceCacheTTL = 300

// DeviceCache answers DeviceOwner from a freecache in front of another
// DeviceDirectory. Only positive answers are cached.
type DeviceCache struct {
	inner   vital.DeviceDirectory
	cache   *freecache.Cache
	metrics metrics.Recorder
}

// NewDeviceCache returns inner unchanged when sizeMB is not positive.
func NewDeviceCache(inner vital.DeviceDirectory, sizeMB int, m metrics.Recorder) vital.DeviceDirectory {
	if sizeMB <= 0 {
		return inner
	}
	if m == nil {
		m = metrics.Noop()
	}
	return &DeviceCache{
		inner:   inner,
		cache:   freecache.NewCache(sizeMB * 1024 * 1024),
		metrics: m,
	}
}

func (d *DeviceCache) DeviceOwner(ctx context.Context, deviceID int64) (int64, error) {
	if v, err := d.cache.GetInt(deviceID); err == nil && len(v) == 8 {
		d.metrics.IncDeviceCacheHits()
		return int64(binary.BigEndian.Uint64(v)), nil
	}
	d.metrics.IncDeviceCacheMisses()

	owner, err := d.inner.DeviceOwner(ctx, deviceID)
	if err != nil {
		return 0, err
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(owner))
	_ = d.cache.SetInt(deviceID, buf[:], deviceCacheTTL)
	return owner, nil
}

var _ vital.DeviceDirectory = (*DeviceCache)(nil)
