package dataset

import (
	"encoding/binary"
	"fmt"

	"github.com/devrev/groove/internal/errors"
	"github.com/devrev/groove/internal/util"
)

// File layout (little-endian):
//
//	magic "GDS1" | version u8 | flags u8 | indexSize u32 | index | schemaSize u32 | schema | frame*
//
// The index carries its own CRC32 trailer and every frame is a page table
// with one. The schema is embedded without its identifier.
const (
	Magic          = "GDS1"
	FormatVersion  = 1
	fileHeaderSize = 4 + 1 + 1 + 4
)

// Index layout:
//
//	abi u8 | reserved [3] | numVectors u32 | numFrames u32 | stringsSize u32 | urlOffset u32 | urlLen u32
//	vector*: idOffset u32 | idLen u32 | frameIndex u32 | valField u32 | fidField u32
//	frame*:  keyField u32 | frameOffset u64 | frameSize u64
//	strtab
//
// Vector entries are sorted by page id. Frame offsets are relative to the
// first byte after the schema.
const (
	indexABI         = 1
	indexHeaderSize  = 4 + 4*5
	vectorEntrySize  = 4 * 5
	frameEntrySize   = 4 + 8 + 8
	noField          = 0xFFFFFFFF
	maxSectionLength = 1<<32 - 1
)

type vectorEntry struct {
	id         string
	frameIndex uint32
	valField   uint32
	fidField   uint32
}

type frameEntry struct {
	keyField uint32
	offset   uint64
	size     uint64
}

type index struct {
	url     string
	vectors []vectorEntry
	frames  []frameEntry
}

func encodeIndex(idx *index) ([]byte, error) {
	var strtab []byte
	intern := func(s string) (uint32, error) {
		off := len(strtab)
		if off+len(s) > maxSectionLength {
			return 0, errors.InvalidArgument("dataset index string table is too large", nil)
		}
		strtab = append(strtab, s...)
		return uint32(off), nil
	}

	urlOffset, err := intern(idx.url)
	if err != nil {
		return nil, err
	}
	vectors := make([]byte, 0, len(idx.vectors)*vectorEntrySize)
	for _, v := range idx.vectors {
		off, err := intern(v.id)
		if err != nil {
			return nil, err
		}
		vectors = binary.LittleEndian.AppendUint32(vectors, off)
		vectors = binary.LittleEndian.AppendUint32(vectors, uint32(len(v.id)))
		vectors = binary.LittleEndian.AppendUint32(vectors, v.frameIndex)
		vectors = binary.LittleEndian.AppendUint32(vectors, v.valField)
		vectors = binary.LittleEndian.AppendUint32(vectors, v.fidField)
	}

	buf := make([]byte, indexHeaderSize, indexHeaderSize+len(vectors)+len(idx.frames)*frameEntrySize+len(strtab)+util.ChecksumSize)
	buf[0] = indexABI
	binary.LittleEndian.PutUint32(buf[4:], uint32(len(idx.vectors)))
	binary.LittleEndian.PutUint32(buf[8:], uint32(len(idx.frames)))
	binary.LittleEndian.PutUint32(buf[12:], uint32(len(strtab)))
	binary.LittleEndian.PutUint32(buf[16:], urlOffset)
	binary.LittleEndian.PutUint32(buf[20:], uint32(len(idx.url)))
	buf = append(buf, vectors...)
	for _, f := range idx.frames {
		buf = binary.LittleEndian.AppendUint32(buf, f.keyField)
		buf = binary.LittleEndian.AppendUint64(buf, f.offset)
		buf = binary.LittleEndian.AppendUint64(buf, f.size)
	}
	buf = append(buf, strtab...)
	if len(buf) > maxSectionLength-util.ChecksumSize {
		return nil, errors.InvalidArgument("dataset index is too large", nil)
	}
	return util.AppendChecksum(buf), nil
}

func decodeIndex(buf []byte) (*index, error) {
	payload, err := util.VerifyAndStripChecksum(buf)
	if err != nil {
		return nil, err
	}
	if len(payload) < indexHeaderSize {
		return nil, errors.CorruptedData("dataset index header is truncated", nil)
	}
	if payload[0] != indexABI {
		return nil, errors.Unsupported(fmt.Sprintf("dataset index abi %d", payload[0]))
	}
	numVectors := int(binary.LittleEndian.Uint32(payload[4:]))
	numFrames := int(binary.LittleEndian.Uint32(payload[8:]))
	stringsSize := int(binary.LittleEndian.Uint32(payload[12:]))
	urlOffset := int(binary.LittleEndian.Uint32(payload[16:]))
	urlLen := int(binary.LittleEndian.Uint32(payload[20:]))

	want := indexHeaderSize + numVectors*vectorEntrySize + numFrames*frameEntrySize + stringsSize
	if want != len(payload) {
		return nil, errors.CorruptedData(
			fmt.Sprintf("dataset index is %d bytes, header describes %d", len(payload), want), nil)
	}
	strtab := payload[len(payload)-stringsSize:]
	str := func(off, n int) (string, error) {
		if off < 0 || n < 0 || off+n > len(strtab) {
			return "", errors.CorruptedData("dataset index string is out of bounds", nil)
		}
		return string(strtab[off : off+n]), nil
	}

	idx := &index{
		vectors: make([]vectorEntry, numVectors),
		frames:  make([]frameEntry, numFrames),
	}
	if idx.url, err = str(urlOffset, urlLen); err != nil {
		return nil, err
	}
	off := indexHeaderSize
	for i := range idx.vectors {
		e := payload[off : off+vectorEntrySize]
		v := &idx.vectors[i]
		if v.id, err = str(int(binary.LittleEndian.Uint32(e)), int(binary.LittleEndian.Uint32(e[4:]))); err != nil {
			return nil, err
		}
		v.frameIndex = binary.LittleEndian.Uint32(e[8:])
		v.valField = binary.LittleEndian.Uint32(e[12:])
		v.fidField = binary.LittleEndian.Uint32(e[16:])
		if int(v.frameIndex) >= numFrames {
			return nil, errors.CorruptedData(fmt.Sprintf("dataset vector %d references missing frame %d", i, v.frameIndex), nil)
		}
		if i > 0 && idx.vectors[i-1].id >= v.id {
			return nil, errors.CorruptedData("dataset index vectors are not sorted", nil)
		}
		off += vectorEntrySize
	}
	for i := range idx.frames {
		e := payload[off : off+frameEntrySize]
		idx.frames[i] = frameEntry{
			keyField: binary.LittleEndian.Uint32(e),
			offset:   binary.LittleEndian.Uint64(e[4:]),
			size:     binary.LittleEndian.Uint64(e[12:]),
		}
		off += frameEntrySize
	}
	return idx, nil
}

func encodeFileHeader(flags uint8, indexSize int) []byte {
	buf := make([]byte, fileHeaderSize)
	copy(buf, Magic)
	buf[4] = FormatVersion
	buf[5] = flags
	binary.LittleEndian.PutUint32(buf[6:], uint32(indexSize))
	return buf
}
