// Package airplay implements the AirPlay HTTP client: binary-plist request
// and response bodies and URL-parameter endpoints on host:7000, per
// §4.3.3. No plist library exists anywhere in the retrieved reference
// corpus, so bplist00 encoding/decoding is hand-rolled here, scoped to the
// narrow subset AirPlay actually uses: a top-level dictionary whose values
// are strings, reals, integers, or booleans.
package airplay

import (
	"encoding/binary"
	"fmt"
	"math"
)

// plistValue is the union of value kinds this encoder/decoder supports.
type plistValue = any

// encodeBinaryPlist renders dict as a bplist00 document. The object table
// layout is intentionally simple (no object de-duplication) since AirPlay
// bodies are tiny, single-use dictionaries.
func encodeBinaryPlist(dict map[string]plistValue) []byte {
	var objects [][]byte
	keyRefs := make([]int, 0, len(dict))
	valRefs := make([]int, 0, len(dict))

	// Stable key order keeps encoding deterministic, which the tests rely on.
	keys := sortedKeys(dict)
	for _, k := range keys {
		keyRefs = append(keyRefs, addObject(&objects, encodeASCIIString(k)))
		valRefs = append(valRefs, addObject(&objects, encodeValue(dict[k])))
	}
	dictObj := encodeDict(keyRefs, valRefs)
	rootRef := addObject(&objects, dictObj)

	return assembleTrailer(objects, rootRef)
}

func sortedKeys(dict map[string]plistValue) []string {
	keys := make([]string, 0, len(dict))
	for k := range dict {
		keys = append(keys, k)
	}
	// Simple insertion sort; these dictionaries have at most a handful of keys.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

func addObject(objects *[][]byte, obj []byte) int {
	*objects = append(*objects, obj)
	return len(*objects) - 1
}

func encodeValue(v plistValue) []byte {
	switch val := v.(type) {
	case string:
		return encodeASCIIString(val)
	case float64:
		return encodeReal(val)
	case int:
		return encodeInteger(int64(val))
	case int64:
		return encodeInteger(val)
	case bool:
		return encodeBool(val)
	default:
		panic(fmt.Sprintf("airplay: unsupported plist value type %T", v))
	}
}

// marker bytes per the bplist00 object format.
const (
	markerBoolFalse = 0x08
	markerBoolTrue  = 0x09
	markerInt       = 0x10
	markerReal      = 0x23 // 0010_0011: real, 8-byte (2^3) width
	markerASCII     = 0x50
	markerDict      = 0xD0
)

func encodeBool(v bool) []byte {
	if v {
		return []byte{markerBoolTrue}
	}
	return []byte{markerBoolFalse}
}

func encodeInteger(v int64) []byte {
	buf := make([]byte, 9)
	buf[0] = markerInt | 0x03 // 8-byte integer width
	binary.BigEndian.PutUint64(buf[1:], uint64(v))
	return buf
}

func encodeReal(v float64) []byte {
	buf := make([]byte, 9)
	buf[0] = markerReal
	binary.BigEndian.PutUint64(buf[1:], math.Float64bits(v))
	return buf
}

func encodeASCIIString(s string) []byte {
	n := len(s)
	var buf []byte
	if n < 0x0F {
		buf = append(buf, byte(markerASCII|n))
	} else {
		buf = append(buf, markerASCII|0x0F)
		buf = append(buf, encodeInteger(int64(n))...)
	}
	buf = append(buf, s...)
	return buf
}

func encodeDict(keyRefs, valRefs []int) []byte {
	n := len(keyRefs)
	var buf []byte
	if n < 0x0F {
		buf = append(buf, byte(markerDict|n))
	} else {
		buf = append(buf, markerDict|0x0F)
		buf = append(buf, encodeInteger(int64(n))...)
	}
	for _, r := range keyRefs {
		buf = append(buf, byte(r))
	}
	for _, r := range valRefs {
		buf = append(buf, byte(r))
	}
	return buf
}

// assembleTrailer lays out the bplist00 document: header, object table,
// offset table, and 32-byte trailer, using 1-byte object references
// (sufficient for the small dictionaries AirPlay exchanges).
func assembleTrailer(objects [][]byte, rootRef int) []byte {
	var out []byte
	out = append(out, "bplist00"...)

	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = len(out)
		out = append(out, obj...)
	}

	offsetTableStart := len(out)
	for _, off := range offsets {
		out = append(out, byte(off))
	}

	var trailer [32]byte
	trailer[6] = 1                                   // offset int size
	trailer[7] = 1                                   // object ref size
	binary.BigEndian.PutUint64(trailer[8:16], uint64(len(objects)))
	binary.BigEndian.PutUint64(trailer[16:24], uint64(rootRef))
	binary.BigEndian.PutUint64(trailer[24:32], uint64(offsetTableStart))
	out = append(out, trailer[:]...)
	return out
}

// decodeBinaryPlist parses a bplist00 document produced by a well-behaved
// AirPlay receiver back into a string-keyed map. It supports the same
// value subset encodeBinaryPlist produces, plus variable-width integers,
// since real devices are not obligated to use 1-byte object refs.
func decodeBinaryPlist(data []byte) (map[string]any, error) {
	if len(data) < 40 || string(data[:8]) != "bplist00" {
		return nil, fmt.Errorf("airplay: not a bplist00 document")
	}
	trailer := data[len(data)-32:]
	offsetIntSize := int(trailer[6])
	objRefSize := int(trailer[7])
	numObjects := int(binary.BigEndian.Uint64(trailer[8:16]))
	rootRef := int(binary.BigEndian.Uint64(trailer[16:24]))
	offsetTableStart := int(binary.BigEndian.Uint64(trailer[24:32]))

	readUint := func(b []byte, size int) int {
		var v uint64
		for i := 0; i < size; i++ {
			v = v<<8 | uint64(b[i])
		}
		return int(v)
	}

	offsets := make([]int, numObjects)
	for i := 0; i < numObjects; i++ {
		start := offsetTableStart + i*offsetIntSize
		offsets[i] = readUint(data[start:start+offsetIntSize], offsetIntSize)
	}

	var decodeObject func(ref int) (any, error)
	decodeObject = func(ref int) (any, error) {
		if ref < 0 || ref >= len(offsets) {
			return nil, fmt.Errorf("airplay: object ref %d out of range", ref)
		}
		pos := offsets[ref]
		marker := data[pos]
		kind := marker & 0xF0
		switch kind {
		case 0x00:
			if marker == markerBoolTrue {
				return true, nil
			}
			if marker == markerBoolFalse {
				return false, nil
			}
			return nil, nil
		case markerInt:
			width := 1 << (marker & 0x0F)
			v := readUint(data[pos+1:pos+1+width], width)
			return int64(v), nil
		case markerReal & 0xF0:
			width := 1 << (marker & 0x0F)
			if width == 8 {
				bits := binary.BigEndian.Uint64(data[pos+1 : pos+9])
				return math.Float64frombits(bits), nil
			}
			return nil, fmt.Errorf("airplay: unsupported real width %d", width)
		case markerASCII:
			n := int(marker & 0x0F)
			start := pos + 1
			if n == 0x0F {
				lenMarker := data[start]
				lenWidth := 1 << (lenMarker & 0x0F)
				n = readUint(data[start+1:start+1+lenWidth], lenWidth)
				start += 1 + lenWidth
			}
			return string(data[start : start+n]), nil
		case markerDict:
			n := int(marker & 0x0F)
			start := pos + 1
			if n == 0x0F {
				lenMarker := data[start]
				lenWidth := 1 << (lenMarker & 0x0F)
				n = readUint(data[start+1:start+1+lenWidth], lenWidth)
				start += 1 + lenWidth
			}
			result := make(map[string]any, n)
			keyRefs := make([]int, n)
			valRefs := make([]int, n)
			for i := 0; i < n; i++ {
				keyRefs[i] = readUint(data[start+i*objRefSize:start+(i+1)*objRefSize], objRefSize)
			}
			start += n * objRefSize
			for i := 0; i < n; i++ {
				valRefs[i] = readUint(data[start+i*objRefSize:start+(i+1)*objRefSize], objRefSize)
			}
			for i := 0; i < n; i++ {
				key, err := decodeObject(keyRefs[i])
				if err != nil {
					return nil, err
				}
				val, err := decodeObject(valRefs[i])
				if err != nil {
					return nil, err
				}
				keyStr, ok := key.(string)
				if !ok {
					return nil, fmt.Errorf("airplay: non-string dictionary key")
				}
				result[keyStr] = val
			}
			return result, nil
		default:
			return nil, fmt.Errorf("airplay: unsupported object marker 0x%02x", marker)
		}
	}

	root, err := decodeObject(rootRef)
	if err != nil {
		return nil, err
	}
	dict, ok := root.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("airplay: root object is not a dictionary")
	}
	return dict, nil
}
