package dlna

import (
	"strings"
	"testing"
)

func TestBuildDIDLLiteContainsExpectedElements(t *testing.T) {
	doc, err := BuildDIDLLite("My Movie", "http://10.0.0.5:9080/media/abc.mkv", "video/x-matroska")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, want := range []string{
		"<DIDL-Lite",
		"object.item.videoItem",
		"My Movie",
		"http://10.0.0.5:9080/media/abc.mkv",
		"video/x-matroska",
		"DLNA.ORG_FLAGS=" + dlnaFlags,
	} {
		if !strings.Contains(doc, want) {
			t.Fatalf("expected DIDL-Lite document to contain %q, got:\n%s", want, doc)
		}
	}
}

func TestEscapedDIDLLiteIsXMLSafeForEmbedding(t *testing.T) {
	escaped, err := EscapedDIDLLite("A & B <Movie>", "http://10.0.0.5:9080/media/a.mkv", "video/mp4")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if strings.Contains(escaped, "<DIDL-Lite") {
		t.Fatalf("expected escaped document to have no literal angle brackets, got:\n%s", escaped)
	}
	if !strings.Contains(escaped, "&lt;DIDL-Lite") {
		t.Fatalf("expected escaped document to start with an escaped tag, got:\n%s", escaped)
	}
}
