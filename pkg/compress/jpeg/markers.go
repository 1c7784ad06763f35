package jpeg

import (
	"encoding/binary"
	"fmt"
	"io"
)

// JPEG marker codes (the byte following 0xFF).
const (
	MarkerSOF0  = 0xC0 // Baseline DCT
	MarkerSOF1  = 0xC1 // Extended sequential DCT
	MarkerSOF2  = 0xC2 // Progressive DCT
	MarkerSOF3  = 0xC3 // Lossless
	MarkerDHT   = 0xC4
	MarkerJPG   = 0xC8
	MarkerDAC   = 0xCC
	MarkerSOF15 = 0xCF
	MarkerRST0  = 0xD0
	MarkerRST7  = 0xD7
	MarkerSOI   = 0xD8
	MarkerEOI   = 0xD9
	MarkerSOS   = 0xDA
	MarkerDQT   = 0xDB
	MarkerDNL   = 0xDC
	MarkerDRI   = 0xDD
	MarkerDHP   = 0xDE
	MarkerEXP   = 0xDF
	MarkerAPP0  = 0xE0 // JFIF
	MarkerAPP1  = 0xE1 // Exif
	MarkerAPP2  = 0xE2 // ICC
	MarkerAPP14 = 0xEE // Adobe
	MarkerAPP15 = 0xEF
	MarkerJPG0  = 0xF0
	MarkerJPG13 = 0xFD
	MarkerCOM   = 0xFE
	MarkerTEM   = 0x01
)

// maxSegmentPayload is the largest payload a length-prefixed segment can carry.
const maxSegmentPayload = 0xFFFF - 2

// Marker is a length-prefixed segment without its 0xFF code byte and length.
type Marker struct {
	Code byte
	Data []byte
}

// MarkerProcessor handles a marker segment encountered while reading a header.
// It returns false to reject the segment, which fails the decompress call.
type MarkerProcessor interface {
	ProcessMarker(s *Session) bool
}

// MarkerProcessorFunc adapts a function to MarkerProcessor.
type MarkerProcessorFunc func(s *Session) bool

func (f MarkerProcessorFunc) ProcessMarker(s *Session) bool { return f(s) }

func isAPP(code byte) bool { return code >= MarkerAPP0 && code <= MarkerAPP15 }

// overridableMarker reports whether a processor may be registered for code.
func overridableMarker(code int) bool {
	if code < 0 || code > 0xFF {
		return false
	}
	c := byte(code)
	return isAPP(c) || c == MarkerCOM || (c >= MarkerJPG0 && c <= MarkerJPG13)
}

// writableMarker reports whether code may be emitted by the compressor.
func writableMarker(code byte) bool {
	return isAPP(code) || code == MarkerCOM
}

func isSOF(code byte) bool {
	return code >= MarkerSOF0 && code <= MarkerSOF15 &&
		code != MarkerDHT && code != MarkerJPG && code != MarkerDAC
}

// standalone markers carry no length field.
func standalone(code byte) bool {
	return code == MarkerSOI || code == MarkerEOI || code == MarkerTEM ||
		(code >= MarkerRST0 && code <= MarkerRST7)
}

func writeMarker(w io.Writer, code byte) error {
	_, err := w.Write([]byte{0xFF, code})
	return err
}

func writeSegment(w io.Writer, code byte, payload []byte) error {
	var hdr [4]byte
	hdr[0], hdr[1] = 0xFF, code
	binary.BigEndian.PutUint16(hdr[2:], uint16(len(payload)+2))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// jfifPayload builds a JFIF 1.01 APP0 payload without a thumbnail.
func jfifPayload(d Density) []byte {
	p := []byte{
		'J', 'F', 'I', 'F', 0x00,
		0x01, 0x01,
		byte(d.Unit),
		0, 0, 0, 0,
		0x00, 0x00,
	}
	binary.BigEndian.PutUint16(p[8:], d.X)
	binary.BigEndian.PutUint16(p[10:], d.Y)
	return p
}

var markerNames = map[byte]string{
	MarkerSOF0: "SOF0", MarkerSOF1: "SOF1", MarkerSOF2: "SOF2", MarkerSOF3: "SOF3",
	MarkerDHT: "DHT", MarkerDAC: "DAC", MarkerSOI: "SOI", MarkerEOI: "EOI",
	MarkerSOS: "SOS", MarkerDQT: "DQT", MarkerDNL: "DNL", MarkerDRI: "DRI",
	MarkerDHP: "DHP", MarkerEXP: "EXP", MarkerCOM: "COM", MarkerTEM: "TEM",
}

// MarkerName returns a readable name such as "APP1" or "SOF2".
func MarkerName(code byte) string {
	switch {
	case isAPP(code):
		return fmt.Sprintf("APP%d", code-MarkerAPP0)
	case code >= MarkerRST0 && code <= MarkerRST7:
		return fmt.Sprintf("RST%d", code-MarkerRST0)
	case code >= MarkerJPG0 && code <= MarkerJPG13:
		return fmt.Sprintf("JPG%d", code-MarkerJPG0)
	case isSOF(code):
		return fmt.Sprintf("SOF%d", code-MarkerSOF0)
	}
	if n, ok := markerNames[code]; ok {
		return n
	}
	return fmt.Sprintf("0x%02X", code)
}
