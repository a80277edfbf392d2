// Package wire implements the advertisement frame format. Frames carry a
// fixed-layout header and fixed-size routing entries so the number of entries
// that fit under the transport payload ceiling is known up front.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/lomesh/lomesh/state"
)

const (
	// Version is the frame format version.
	Version = 1

	HeaderLen = 7
	EntryLen  = 9

	// MaxEntriesHard is the count field ceiling.
	MaxEntriesHard = 255
)

// Header flag bits.
const (
	FlagFull      = 1 << 0
	FlagTriggered = 1 << 1
)

const entryFlagInvalid = 1 << 0

var (
	ErrTruncated  = errors.New("truncated frame")
	ErrVersion    = errors.New("unsupported frame version")
	ErrEntryCount = errors.New("entry count does not match payload length")
)

// Entry is one advertised routing entry.
type Entry struct {
	Destination state.NodeId
	Seqno       uint32
	Metric      uint16
	Invalid     bool
}

// Frame is one advertisement. Chunk metadata only matters when a full dump
// spans multiple frames; single-frame advertisements carry ChunkId 0 of 1.
type Frame struct {
	Full        bool
	Triggered   bool
	ChunkId     uint8
	TotalChunks uint8
	DumpId      uint16
	Entries     []Entry
}

// MaxEntries returns how many entries fit in one frame under the given
// payload ceiling, capped by the count field.
func MaxEntries(maxPayloadBytes int) int {
	n := (maxPayloadBytes - HeaderLen) / EntryLen
	if n < 1 {
		n = 1
	}
	return min(n, MaxEntriesHard)
}

func (f *Frame) Encode() ([]byte, error) {
	if len(f.Entries) > MaxEntriesHard {
		return nil, fmt.Errorf("frame holds %d entries, max is %d", len(f.Entries), MaxEntriesHard)
	}
	var flags byte
	if f.Full {
		flags |= FlagFull
	}
	if f.Triggered {
		flags |= FlagTriggered
	}
	buf := make([]byte, HeaderLen+len(f.Entries)*EntryLen)
	buf[0] = Version
	buf[1] = flags
	buf[2] = f.ChunkId
	buf[3] = f.TotalChunks
	binary.BigEndian.PutUint16(buf[4:6], f.DumpId)
	buf[6] = byte(len(f.Entries))
	for i, ent := range f.Entries {
		off := HeaderLen + i*EntryLen
		binary.BigEndian.PutUint16(buf[off:off+2], uint16(ent.Destination))
		binary.BigEndian.PutUint32(buf[off+2:off+6], ent.Seqno)
		binary.BigEndian.PutUint16(buf[off+6:off+8], ent.Metric)
		var ef byte
		if ent.Invalid {
			ef |= entryFlagInvalid
		}
		buf[off+8] = ef
	}
	return buf, nil
}

func Decode(data []byte) (*Frame, error) {
	if len(data) < HeaderLen {
		return nil, ErrTruncated
	}
	if data[0] != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, data[0])
	}
	count := int(data[6])
	if len(data) != HeaderLen+count*EntryLen {
		return nil, fmt.Errorf("%w: count %d, payload %d bytes", ErrEntryCount, count, len(data))
	}
	f := &Frame{
		Full:        data[1]&FlagFull != 0,
		Triggered:   data[1]&FlagTriggered != 0,
		ChunkId:     data[2],
		TotalChunks: data[3],
		DumpId:      binary.BigEndian.Uint16(data[4:6]),
		Entries:     make([]Entry, count),
	}
	for i := 0; i < count; i++ {
		off := HeaderLen + i*EntryLen
		f.Entries[i] = Entry{
			Destination: state.NodeId(binary.BigEndian.Uint16(data[off : off+2])),
			Seqno:       binary.BigEndian.Uint32(data[off+2 : off+6]),
			Metric:      binary.BigEndian.Uint16(data[off+6 : off+8]),
			Invalid:     data[off+8]&entryFlagInvalid != 0,
		}
	}
	return f, nil
}

// Split partitions entries into ordered chunk frames of at most maxPerFrame
// entries each, tagged so receivers can spot incomplete dump sets.
func Split(entries []Entry, maxPerFrame int, full, triggered bool, dumpId uint16) ([]*Frame, error) {
	if maxPerFrame < 1 {
		return nil, fmt.Errorf("maxPerFrame must be at least 1, got %d", maxPerFrame)
	}
	total := (len(entries) + maxPerFrame - 1) / maxPerFrame
	if total > 255 {
		return nil, fmt.Errorf("%d entries need %d chunks, max is 255", len(entries), total)
	}
	if total == 0 {
		total = 1
	}
	frames := make([]*Frame, 0, total)
	for i := 0; i < total; i++ {
		lo := i * maxPerFrame
		hi := min(lo+maxPerFrame, len(entries))
		frames = append(frames, &Frame{
			Full:        full,
			Triggered:   triggered,
			ChunkId:     uint8(i),
			TotalChunks: uint8(total),
			DumpId:      dumpId,
			Entries:     entries[lo:hi],
		})
	}
	return frames, nil
}
