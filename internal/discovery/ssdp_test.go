package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/paulthery/IINA-Cast-Plugin/internal/domain"
)

func TestExtractLocationIsCaseInsensitive(t *testing.T) {
	datagram := "HTTP/1.1 200 OK\r\n" +
		"Cache-Control: max-age=1800\r\n" +
		"location: http://192.168.1.10:1400/desc.xml\r\n" +
		"ST: urn:schemas-upnp-org:device:MediaRenderer:1\r\n\r\n"

	loc, ok := extractLocation(datagram)
	if !ok {
		t.Fatal("expected to find LOCATION")
	}
	if loc != "http://192.168.1.10:1400/desc.xml" {
		t.Fatalf("location = %q", loc)
	}
}

func TestExtractLocationMissingReturnsFalse(t *testing.T) {
	if _, ok := extractLocation("HTTP/1.1 200 OK\r\nST: foo\r\n\r\n"); ok {
		t.Fatal("expected no LOCATION to be found")
	}
}

func TestBaseURLAndPortStripsLastPathComponent(t *testing.T) {
	base, port, err := baseURLAndPort("http://192.168.1.10:1400/desc.xml")
	if err != nil {
		t.Fatalf("baseURLAndPort: %v", err)
	}
	if base != "http://192.168.1.10:1400" {
		t.Fatalf("base = %q", base)
	}
	if port != 1400 {
		t.Fatalf("port = %d, want 1400", port)
	}
}

func TestBaseURLAndPortDefaultsTo80(t *testing.T) {
	_, port, err := baseURLAndPort("http://192.168.1.10/desc.xml")
	if err != nil {
		t.Fatalf("baseURLAndPort: %v", err)
	}
	if port != 80 {
		t.Fatalf("port = %d, want 80", port)
	}
}

func TestResolveControlURLFindsMatchingService(t *testing.T) {
	doc := `<root><device><serviceList>
		<service><serviceType>urn:schemas-upnp-org:service:AVTransport:1</serviceType><controlURL>/AVTransport/control</controlURL></service>
		<service><serviceType>urn:schemas-upnp-org:service:RenderingControl:1</serviceType><controlURL>/RenderingControl/control</controlURL></service>
	</serviceList></device></root>`

	av := resolveControlURL(doc, "http://192.168.1.10:1400", "AVTransport:1")
	if av != "http://192.168.1.10:1400/AVTransport/control" {
		t.Fatalf("av control url = %q", av)
	}
	rc := resolveControlURL(doc, "http://192.168.1.10:1400", "RenderingControl:1")
	if rc != "http://192.168.1.10:1400/RenderingControl/control" {
		t.Fatalf("rendering control url = %q", rc)
	}
}

func TestStableHashIsDeterministic(t *testing.T) {
	a := stableHash("uuid:1234-5678")
	b := stableHash("uuid:1234-5678")
	if a != b {
		t.Fatalf("expected deterministic hash, got %q and %q", a, b)
	}
	if stableHash("uuid:other") == a {
		t.Fatal("expected different UDNs to hash differently")
	}
}

// TestSSDPDeduplicatesByLocation covers property 5/S-series: a second
// response sharing the same LOCATION within one discovery run does not
// trigger a second description fetch.
func TestSSDPDeduplicatesByLocation(t *testing.T) {
	var fetches int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		w.Write([]byte(`<root><device><friendlyName>Living Room TV</friendlyName><UDN>uuid:abc</UDN></device></root>`))
	}))
	defer srv.Close()

	d := NewSSDPDiscoverer(nil)
	var got []domain.Device
	d.handleResponse(context.Background(), []byte("LOCATION: "+srv.URL+"/desc.xml\r\n\r\n"), func(dev domain.Device) {
		got = append(got, dev)
	})
	d.handleResponse(context.Background(), []byte("LOCATION: "+srv.URL+"/desc.xml\r\n\r\n"), func(dev domain.Device) {
		got = append(got, dev)
	})

	if fetches != 1 {
		t.Fatalf("expected 1 description fetch, got %d", fetches)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 resolved device, got %d", len(got))
	}
	if got[0].ID != "dlna-"+stableHash("uuid:abc") {
		t.Fatalf("unexpected device id: %q", got[0].ID)
	}
}

func TestSSDPSkipsResponseMissingFriendlyNameOrUDN(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<root><device><friendlyName>No UDN Here</friendlyName></device></root>`))
	}))
	defer srv.Close()

	d := NewSSDPDiscoverer(nil)
	var got []domain.Device
	d.handleResponse(context.Background(), []byte("LOCATION: "+srv.URL+"/desc.xml\r\n\r\n"), func(dev domain.Device) {
		got = append(got, dev)
	})
	if len(got) != 0 {
		t.Fatalf("expected no device for missing UDN, got %d", len(got))
	}
}
