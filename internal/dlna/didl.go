package dlna

import (
	"encoding/xml"
	"fmt"

	"github.com/paulthery/IINA-Cast-Plugin/internal/xmlutil"
)

// didlResource mirrors the <res> element shape from rclone's upnpav.go,
// narrowed to the single attribute this client needs.
type didlResource struct {
	XMLName      xml.Name `xml:"res"`
	ProtocolInfo string   `xml:"protocolInfo,attr"`
	URL          string   `xml:",chardata"`
}

type didlItem struct {
	XMLName    xml.Name     `xml:"item"`
	ID         string       `xml:"id,attr"`
	ParentID   string       `xml:"parentID,attr"`
	Restricted int          `xml:"restricted,attr"`
	Class      string       `xml:"upnp:class"`
	Title      string       `xml:"dc:title"`
	Res        didlResource `xml:"res"`
}

type didlLite struct {
	XMLName xml.Name `xml:"DIDL-Lite"`
	XMLNS   string   `xml:"xmlns,attr"`
	DC      string   `xml:"xmlns:dc,attr"`
	UPnP    string   `xml:"xmlns:upnp,attr"`
	Item    didlItem `xml:"item"`
}

// dlnaFlags is the fixed flag mask used by §4.3.2 for every protocolInfo.
const dlnaFlags = "01700000000000000000000000000000"

// BuildDIDLLite renders the §4.3.2 DIDL-Lite document for a single video
// item, using encoding/xml struct tags (grounded on rclone's upnpav.go
// shapes) rather than hand-built string concatenation.
func BuildDIDLLite(title, mediaURL, mimeType string) (string, error) {
	doc := didlLite{
		XMLNS: "urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/",
		DC:    "http://purl.org/dc/elements/1.1/",
		UPnP:  "urn:schemas-upnp-org:metadata-1-0/upnp/",
		Item: didlItem{
			ID:         "0",
			ParentID:   "-1",
			Restricted: 1,
			Class:      "object.item.videoItem",
			Title:      title,
			Res: didlResource{
				ProtocolInfo: fmt.Sprintf("http-get:*:%s:DLNA.ORG_FLAGS=%s", mimeType, dlnaFlags),
				URL:          mediaURL,
			},
		},
	}

	body, err := xml.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// EscapedDIDLLite renders the DIDL-Lite document and XML-escapes it for
// embedding inside the CurrentURIMetaData SOAP argument (§4.3.2: "Before
// embedding, the DIDL-Lite string must be XML-escaped").
func EscapedDIDLLite(title, mediaURL, mimeType string) (string, error) {
	doc, err := BuildDIDLLite(title, mediaURL, mimeType)
	if err != nil {
		return "", err
	}
	return xmlutil.EscapeText(doc), nil
}
