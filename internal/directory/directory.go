// Package directory implements the Device Directory: an in-memory
// registry of known cast endpoints keyed by stable id (§4.1). All
// mutations are serialized behind a mutex so the directory behaves as a
// linearizable map (O1, property 1): every list() reflects a consistent
// point in the serial order of upserts.
package directory

import (
	"sort"
	"strings"
	"sync"

	"github.com/paulthery/IINA-Cast-Plugin/internal/domain"
)

// Directory is safe for concurrent use by multiple goroutines.
type Directory struct {
	mu      sync.Mutex
	devices map[string]domain.Device
}

// New returns an empty Directory.
func New() *Directory {
	return &Directory{devices: make(map[string]domain.Device)}
}

// List returns a snapshot ordered by friendly name, case-insensitive,
// with id as a tiebreak (§4.1).
func (d *Directory) List() []domain.Device {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]domain.Device, 0, len(d.devices))
	for _, dev := range d.devices {
		out = append(out, dev)
	}
	sort.Slice(out, func(i, j int) bool {
		ni, nj := strings.ToLower(out[i].Name), strings.ToLower(out[j].Name)
		if ni != nj {
			return ni < nj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get returns the Device for id and whether it was present.
func (d *Directory) Get(id string) (domain.Device, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, ok := d.devices[id]
	return dev, ok
}

// Upsert inserts or replaces the Device by id. Idempotent.
func (d *Directory) Upsert(dev domain.Device) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices[dev.ID] = dev
}

// Clear removes all entries. Used by refresh only; per I7, this never
// touches the coordinator's active Session even if the session's device
// entry is among those removed.
func (d *Directory) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices = make(map[string]domain.Device)
}

// Len reports the current entry count; convenience for logging/tests.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.devices)
}
