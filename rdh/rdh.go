// Package rdh decodes and validates the Readout Data Header embedded at the
// front of every packet inside a DMA page, and walks the chain of packets a
// page may contain.
package rdh

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the fixed byte length of a FrameHeader on the wire: version,
// headerSize, blockLength, offsetNextPacket, cruId, linkId, packetCounter,
// hbOrbit, padded to a multiple of 4.
const HeaderSize = 16

// UndefinedEquipmentID is the reserved cruId/equipmentId sentinel.
const UndefinedEquipmentID = 0

// UndefinedLinkID is the RDH's 0xFF sentinel for a header with no link; the
// slicer collapses all such traffic of an equipment into one stream.
const UndefinedLinkID = 0xFF

// UndefinedTimeframeID forces closure of any in-progress partial slice.
const UndefinedTimeframeID = ^uint64(0)

// MaxLinks bounds the per-equipment link id space.
const MaxLinks = 32

// CurrentVersion is the only FrameHeader format version this decoder accepts.
const CurrentVersion = 1

// FrameHeader is the little-endian, fixed-size header every packet inside a
// page carries, per the wire layout enumerated in the external interfaces.
type FrameHeader struct {
	Version          uint8
	HeaderSize       uint8
	BlockLength      uint16
	OffsetNextPacket uint16
	CruID            uint16
	LinkID           uint8
	PacketCounter    uint8
	HbOrbit          uint32
}

var (
	// ErrTruncated is returned when fewer than HeaderSize bytes remain.
	ErrTruncated = errors.New("rdh: truncated header")
	// ErrVersion is returned for an unrecognized format version.
	ErrVersion = errors.New("rdh: unknown version")
	// ErrHeaderSize is returned when headerSize is out of bounds or not a
	// multiple of 4.
	ErrHeaderSize = errors.New("rdh: invalid headerSize")
	// ErrLinkRange is returned when LinkID is MaxLinks or above and is not
	// the undefined sentinel.
	ErrLinkRange = errors.New("rdh: link id out of range")
	// ErrBadOffset is returned when offsetNextPacket is nonzero but less
	// than headerSize or runs past the page boundary.
	ErrBadOffset = errors.New("rdh: offsetNextPacket out of range")
)

// Decode reads one FrameHeader from the front of buf.
func Decode(buf []byte) (FrameHeader, error) {
	var h FrameHeader
	if len(buf) < HeaderSize {
		return h, ErrTruncated
	}
	h.Version = buf[0]
	h.HeaderSize = buf[1]
	h.BlockLength = binary.LittleEndian.Uint16(buf[2:4])
	h.OffsetNextPacket = binary.LittleEndian.Uint16(buf[4:6])
	h.CruID = binary.LittleEndian.Uint16(buf[6:8])
	h.LinkID = buf[8]
	h.PacketCounter = buf[9]
	h.HbOrbit = binary.LittleEndian.Uint32(buf[12:16])
	return h, nil
}

// Encode writes h into buf in the same layout Decode reads, for use by the
// emulator driver and tests. buf must be at least HeaderSize bytes.
func Encode(h FrameHeader, buf []byte) error {
	if len(buf) < HeaderSize {
		return ErrTruncated
	}
	for i := range buf[:HeaderSize] {
		buf[i] = 0
	}
	buf[0] = h.Version
	buf[1] = h.HeaderSize
	binary.LittleEndian.PutUint16(buf[2:4], h.BlockLength)
	binary.LittleEndian.PutUint16(buf[4:6], h.OffsetNextPacket)
	binary.LittleEndian.PutUint16(buf[6:8], h.CruID)
	buf[8] = h.LinkID
	buf[9] = h.PacketCounter
	binary.LittleEndian.PutUint32(buf[12:16], h.HbOrbit)
	return nil
}

// Validate enforces the rules this core consumes from validateRdh: known
// version, headerSize within bounds and a multiple of 4, linkId in range or
// undefined, and offsetNextPacket either zero or within the page.
func Validate(h FrameHeader, pageLen int, offset int) error {
	if h.Version != CurrentVersion {
		return fmt.Errorf("%w: %d", ErrVersion, h.Version)
	}
	if h.HeaderSize == 0 || h.HeaderSize%4 != 0 || int(h.HeaderSize) > pageLen {
		return fmt.Errorf("%w: %d", ErrHeaderSize, h.HeaderSize)
	}
	if h.LinkID != UndefinedLinkID && int(h.LinkID) >= MaxLinks {
		return fmt.Errorf("%w: %d >= %d", ErrLinkRange, h.LinkID, MaxLinks)
	}
	if h.OffsetNextPacket != 0 {
		if int(h.OffsetNextPacket) < int(h.HeaderSize) {
			return fmt.Errorf("%w: offset %d < headerSize %d", ErrBadOffset, h.OffsetNextPacket, h.HeaderSize)
		}
		if offset+int(h.OffsetNextPacket) > pageLen {
			return fmt.Errorf("%w: offset=%d next=%d pageLen=%d", ErrBadOffset, offset, offset+int(h.OffsetNextPacket), pageLen)
		}
	}
	return nil
}

// WalkPackets walks the chained offsetNextPacket links starting at the
// front of page, calling fn with each decoded header and its byte offset.
// It stops at the first zero offsetNextPacket. Any error from Decode,
// Validate, or fn aborts the walk and is returned.
func WalkPackets(page []byte, fn func(h FrameHeader, offset int) error) error {
	offset := 0
	for {
		if offset+HeaderSize > len(page) {
			return fmt.Errorf("walk at %d: %w", offset, ErrTruncated)
		}
		h, err := Decode(page[offset:])
		if err != nil {
			return fmt.Errorf("walk at %d: %w", offset, err)
		}
		if err := Validate(h, len(page), offset); err != nil {
			return err
		}
		if err := fn(h, offset); err != nil {
			return err
		}
		if h.OffsetNextPacket == 0 {
			return nil
		}
		offset += int(h.OffsetNextPacket)
	}
}

// HexDump renders up to the first n bytes of buf as a space-separated hex
// dump for error logging. n<=0 or n>len(buf) dumps the whole buffer.
func HexDump(buf []byte, n int) string {
	if n <= 0 || n > len(buf) {
		n = len(buf)
	}
	out := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ' ')
		}
		out = append(out, fmt.Sprintf("%02x", buf[i])...)
	}
	return string(out)
}
