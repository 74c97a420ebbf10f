package discovery

import (
	"sync"
	"testing"
	"time"

	"github.com/paulthery/IINA-Cast-Plugin/internal/domain"
)

type fakeDirectory struct {
	mu      sync.Mutex
	devices []domain.Device
	cleared int
}

func (f *fakeDirectory) Upsert(d domain.Device) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices = append(f.devices, d)
}

func (f *fakeDirectory) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices = nil
	f.cleared++
}

func (f *fakeDirectory) snapshot() []domain.Device {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Device, len(f.devices))
	copy(out, f.devices)
	return out
}

// TestRefreshClearsDirectoryAndSSDPSeenSet confirms a Refresh call clears
// prior directory state and resets the SSDP de-duplication set so a
// previously-failed description fetch can be retried (§4.2.2: "left in
// the seen-set so it is not retried until the next refresh clears state").
func TestRefreshClearsDirectoryAndSSDPSeenSet(t *testing.T) {
	dir := &fakeDirectory{}
	svc := New(dir, nil)
	svc.ssdp.seen["http://192.168.1.10/desc.xml"] = struct{}{}

	svc.Refresh()
	defer svc.Stop()

	time.Sleep(20 * time.Millisecond)

	if dir.cleared != 1 {
		t.Fatalf("expected exactly one Clear call, got %d", dir.cleared)
	}
	if len(svc.ssdp.seen) != 0 {
		t.Fatalf("expected SSDP seen-set to be reset, got %d entries", len(svc.ssdp.seen))
	}
}

func TestStopCancelsInFlightRound(t *testing.T) {
	dir := &fakeDirectory{}
	svc := New(dir, nil)
	svc.Refresh()
	svc.Stop()
	// Stop must be safe to call even with no round in flight.
	svc.Stop()
}
