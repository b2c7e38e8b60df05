package coverage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/pierrec/lz4/v4"
)

// uint32ByteSize is the number of bytes in a uint32.
const uint32ByteSize = 4

const maxLZ4Ratio = 255

// ErrCorruptLines is returned when a packed line list cannot be restored.
var ErrCorruptLines = errors.New("corrupt packed line list")

// ErrLineOutOfRange is returned when packing a line number outside 1..MaxUint32.
var ErrLineOutOfRange = errors.New("line number out of range")

// PackedLines is a sorted line list stored as LZ4-compressed deltas.
// Raw is set when the block did not compress and Data holds the plain deltas.
type PackedLines struct {
	Data  []byte
	Count uint32
	Raw   bool
}

// PackLines delta-encodes and compresses sorted, de-duplicated line numbers.
func PackLines(lines []int) (PackedLines, error) {
	if len(lines) == 0 {
		return PackedLines{}, nil
	}

	if uint64(len(lines)) > math.MaxUint32 {
		return PackedLines{}, fmt.Errorf("%w: %d lines", ErrLineOutOfRange, len(lines))
	}

	values := make([]uint32, len(lines))

	for i, line := range lines {
		if line < 1 || uint64(line) > math.MaxUint32 {
			return PackedLines{}, fmt.Errorf("%w: %d", ErrLineOutOfRange, line)
		}

		values[i] = uint32(line)
	}

	deltaEncode(values)

	buf := new(bytes.Buffer)

	err := binary.Write(buf, binary.LittleEndian, values)
	if err != nil {
		return PackedLines{}, fmt.Errorf("write deltas: %w", err)
	}

	compressed := make([]byte, lz4.CompressBlockBound(buf.Len()))

	written, err := lz4.CompressBlock(buf.Bytes(), compressed, nil)
	if err != nil {
		return PackedLines{}, fmt.Errorf("compress lines: %w", err)
	}

	count := uint32(len(values))

	// A zero-length block means the input is incompressible.
	if written == 0 {
		return PackedLines{Data: buf.Bytes(), Count: count, Raw: true}, nil
	}

	return PackedLines{Data: compressed[:written], Count: count}, nil
}

// Unpack restores the line list.
func (p PackedLines) Unpack() ([]int, error) {
	if p.Count == 0 {
		return nil, nil
	}

	size := int(p.Count) * uint32ByteSize
	plain := p.Data

	if p.Raw && len(plain) != size {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrCorruptLines, size, len(plain))
	}

	// An LZ4 block cannot expand beyond maxLZ4Ratio times its size.
	if !p.Raw && size/maxLZ4Ratio > len(p.Data) {
		return nil, fmt.Errorf("%w: %d lines cannot fit in %d compressed bytes", ErrCorruptLines, p.Count, len(p.Data))
	}

	if !p.Raw {
		plain = make([]byte, size)

		n, err := lz4.UncompressBlock(p.Data, plain)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptLines, err)
		}

		plain = plain[:n]
	}

	if len(plain) != size {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrCorruptLines, size, len(plain))
	}

	values := make([]uint32, p.Count)

	err := binary.Read(bytes.NewReader(plain), binary.LittleEndian, values)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptLines, err)
	}

	deltaDecode(values)

	lines := make([]int, len(values))
	for i, v := range values {
		lines[i] = int(v)
	}

	return lines, nil
}

// deltaEncode replaces each element with the difference from its
// predecessor, in place.
func deltaEncode(data []uint32) {
	for i := len(data) - 1; i > 0; i-- {
		data[i] -= data[i-1]
	}
}

// deltaDecode restores values from deltaEncode output, in place.
func deltaDecode(data []uint32) {
	for i := 1; i < len(data); i++ {
		data[i] += data[i-1]
	}
}

// normalizeLines returns a sorted copy of lines with duplicates removed.
func normalizeLines(lines []int) []int {
	if len(lines) == 0 {
		return nil
	}

	out := slices.Clone(lines)
	slices.Sort(out)

	return slices.Compact(out)
}
