package pipeline

import (
	"encoding/binary"
	"image"

	"github.com/disintegration/imaging"
)

const (
	markerSOI  = 0xd8
	markerAPP1 = 0xe1
	markerSOS  = 0xda

	tagOrientation = 0x0112
)

// exifSegment returns the raw APP1 Exif segment of a JPEG, marker bytes
// included, or nil when absent or malformed.
func exifSegment(data []byte) []byte {
	if len(data) < 4 || data[0] != 0xff || data[1] != markerSOI {
		return nil
	}
	i := 2
	for i+4 <= len(data) {
		if data[i] != 0xff {
			return nil
		}
		marker := data[i+1]
		if marker == markerSOS {
			// Entropy-coded data from here on; no more metadata segments.
			return nil
		}
		size := int(binary.BigEndian.Uint16(data[i+2 : i+4]))
		if size < 2 || i+2+size > len(data) {
			return nil
		}
		if marker == markerAPP1 && size >= 8 && string(data[i+4:i+10]) == "Exif\x00\x00" {
			return data[i : i+2+size]
		}
		i += 2 + size
	}
	return nil
}

// orientationValueOffset walks IFD0 of a TIFF blob and returns the byte
// offset of the orientation tag's value, with the blob's byte order.
func orientationValueOffset(tiff []byte) (int, binary.ByteOrder, bool) {
	if len(tiff) < 8 {
		return 0, nil, false
	}

	var order binary.ByteOrder
	switch {
	case tiff[0] == 'I' && tiff[1] == 'I':
		order = binary.LittleEndian
	case tiff[0] == 'M' && tiff[1] == 'M':
		order = binary.BigEndian
	default:
		return 0, nil, false
	}
	if order.Uint16(tiff[2:4]) != 0x2a {
		return 0, nil, false
	}

	ifd := int(order.Uint32(tiff[4:8]))
	if ifd < 0 || ifd+2 > len(tiff) {
		return 0, nil, false
	}

	count := int(order.Uint16(tiff[ifd : ifd+2]))
	entry := ifd + 2
	for i := 0; i < count; i++ {
		if entry+12 > len(tiff) {
			return 0, nil, false
		}
		if order.Uint16(tiff[entry:entry+2]) == tagOrientation {
			return entry + 8, order, true
		}
		entry += 12
	}
	return 0, nil, false
}

// jpegOrientation extracts the EXIF orientation tag (1-8) from JPEG bytes.
// Returns 0 when the image carries no usable orientation.
func jpegOrientation(data []byte) int {
	seg := exifSegment(data)
	if seg == nil {
		return 0
	}

	tiff := seg[10:] // marker (2) + length (2) + "Exif\0\0" (6)
	off, order, ok := orientationValueOffset(tiff)
	if !ok {
		return 0
	}
	v := int(order.Uint16(tiff[off : off+2]))
	if v < 1 || v > 8 {
		return 0
	}
	return v
}

// resetOrientation returns a copy of the APP1 segment with the orientation
// tag rewritten to 1. Once the rotation is baked into the pixels, the
// retained tag must not tell viewers to rotate again.
func resetOrientation(segment []byte) []byte {
	if len(segment) < 10 {
		return segment
	}
	off, order, ok := orientationValueOffset(segment[10:])
	if !ok {
		return segment
	}
	out := make([]byte, len(segment))
	copy(out, segment)
	order.PutUint16(out[10+off:10+off+2], 1)
	return out
}

// spliceEXIF re-inserts an APP1 segment right after the SOI marker of a
// freshly encoded JPEG. Used when the request asks to retain metadata.
func spliceEXIF(encoded, segment []byte) []byte {
	if len(segment) == 0 || len(encoded) < 2 || encoded[0] != 0xff || encoded[1] != markerSOI {
		return encoded
	}
	out := make([]byte, 0, len(encoded)+len(segment))
	out = append(out, encoded[:2]...)
	out = append(out, segment...)
	out = append(out, encoded[2:]...)
	return out
}

// applyOrientation bakes the EXIF orientation into the pixel data. Runs
// before any resampling.
func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
