// Package xmlutil provides the scoped tag-to-tag text extraction that §9
// of the spec says is sufficient for device-description XML and SOAP
// responses: a fixed, narrow schema means full DOM parsing buys nothing.
// Grounded on the same approach used by dmitriid-mop__upnp.go's
// extractTextContent/extractFriendlyName helpers.
package xmlutil

import "strings"

// TextBetween returns the text content of the first occurrence of
// <tag>...</tag> (optionally namespaced, e.g. "dc:title") in doc, and
// whether it was found. It tolerates attributes on the opening tag
// ("<tag attr=\"x\">") and self-closing is treated as not-found (empty
// element, no text).
func TextBetween(doc, tag string) (string, bool) {
	openIdx, openEnd := findOpenTag(doc, tag)
	if openIdx < 0 {
		return "", false
	}
	closeTag := "</" + tag + ">"
	closeIdx := strings.Index(doc[openEnd:], closeTag)
	if closeIdx < 0 {
		return "", false
	}
	return strings.TrimSpace(doc[openEnd : openEnd+closeIdx]), true
}

// AllBetween returns the text content of every <tag>...</tag> occurrence
// in doc, in document order.
func AllBetween(doc, tag string) []string {
	var out []string
	rest := doc
	for {
		openIdx, openEnd := findOpenTag(rest, tag)
		if openIdx < 0 {
			return out
		}
		closeTag := "</" + tag + ">"
		closeIdx := strings.Index(rest[openEnd:], closeTag)
		if closeIdx < 0 {
			return out
		}
		out = append(out, strings.TrimSpace(rest[openEnd:openEnd+closeIdx]))
		rest = rest[openEnd+closeIdx+len(closeTag):]
	}
}

// AttrOf returns the value of attr on the first opening occurrence of tag
// in doc.
func AttrOf(doc, tag, attr string) (string, bool) {
	openStart := strings.Index(doc, "<"+tag)
	if openStart < 0 {
		return "", false
	}
	openEnd := strings.Index(doc[openStart:], ">")
	if openEnd < 0 {
		return "", false
	}
	tagSrc := doc[openStart : openStart+openEnd]
	needle := attr + "="
	idx := strings.Index(tagSrc, needle)
	if idx < 0 {
		return "", false
	}
	rest := tagSrc[idx+len(needle):]
	if len(rest) == 0 {
		return "", false
	}
	quote := rest[0]
	if quote != '"' && quote != '\'' {
		return "", false
	}
	end := strings.IndexByte(rest[1:], quote)
	if end < 0 {
		return "", false
	}
	return rest[1 : 1+end], true
}

// findOpenTag locates "<tag" (optionally followed by attributes) up to
// its closing '>' and returns the start index of "<tag" and the index
// just past the matching '>'. It skips self-closing tags ("<tag/>").
func findOpenTag(doc, tag string) (start, end int) {
	needle := "<" + tag
	searchFrom := 0
	for {
		idx := strings.Index(doc[searchFrom:], needle)
		if idx < 0 {
			return -1, -1
		}
		idx += searchFrom
		afterNeedle := idx + len(needle)
		if afterNeedle < len(doc) {
			next := doc[afterNeedle]
			// Guard against matching a longer tag name sharing a prefix,
			// e.g. tag "res" matching "<resource>".
			if next != '>' && next != ' ' && next != '\t' && next != '\n' && next != '\r' && next != '/' {
				searchFrom = afterNeedle
				continue
			}
		}
		closeIdx := strings.Index(doc[afterNeedle:], ">")
		if closeIdx < 0 {
			return -1, -1
		}
		tagEnd := afterNeedle + closeIdx
		if doc[tagEnd-1] == '/' {
			// self-closing; no text content, keep searching
			searchFrom = tagEnd + 1
			continue
		}
		return idx, tagEnd + 1
	}
}

// EscapeText XML-escapes the minimal set the spec calls out: &, <, >, ".
func EscapeText(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
	)
	return r.Replace(s)
}
