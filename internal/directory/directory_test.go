package directory

import (
	"sync"
	"testing"

	"github.com/paulthery/IINA-Cast-Plugin/internal/domain"
)

func TestUpsertAndListOrdering(t *testing.T) {
	d := New()
	d.Upsert(domain.Device{ID: "chromecast-1", Name: "Bedroom", Protocol: domain.ProtocolChromecast, Address: "10.0.0.5", Port: 8009})
	d.Upsert(domain.Device{ID: "dlna-1", Name: "Attic TV", Protocol: domain.ProtocolDLNA, Address: "http://10.0.0.9:52235/", Port: 52235})

	got := d.List()
	if len(got) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(got))
	}
	if got[0].Name != "Attic TV" || got[1].Name != "Bedroom" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestUpsertIsIdempotentByID(t *testing.T) {
	d := New()
	d.Upsert(domain.Device{ID: "dlna-1", Name: "Old Name", Protocol: domain.ProtocolDLNA})
	d.Upsert(domain.Device{ID: "dlna-1", Name: "New Name", Protocol: domain.ProtocolDLNA})

	if d.Len() != 1 {
		t.Fatalf("expected a single entry, got %d", d.Len())
	}
	got, ok := d.Get("dlna-1")
	if !ok || got.Name != "New Name" {
		t.Fatalf("expected upsert to replace by id, got %+v ok=%v", got, ok)
	}
}

func TestGetMissing(t *testing.T) {
	d := New()
	if _, ok := d.Get("nope"); ok {
		t.Fatal("expected missing id to report not found")
	}
}

func TestClearRemovesAllEntries(t *testing.T) {
	d := New()
	d.Upsert(domain.Device{ID: "a", Name: "A"})
	d.Upsert(domain.Device{ID: "b", Name: "B"})
	d.Clear()
	if d.Len() != 0 {
		t.Fatalf("expected empty directory after clear, got %d", d.Len())
	}
}

// TestConcurrentUpsertsAreLinearizable exercises property 1: every List()
// observed during concurrent Upserts must be internally sorted.
func TestConcurrentUpsertsAreLinearizable(t *testing.T) {
	d := New()
	var wg sync.WaitGroup
	const n = 50
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			d.Upsert(domain.Device{ID: string(rune('a' + i%26)), Name: string(rune('a' + i%26))})
		}(i)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			default:
				list := d.List()
				for i := 1; i < len(list); i++ {
					if list[i-1].Name > list[i].Name {
						t.Errorf("list not sorted: %+v", list)
						return
					}
				}
			}
		}
	}()

	wg.Wait()
	close(done)
}
