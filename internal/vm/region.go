package vm

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

// Limits on data read out of contract memory
const (
	maxKeyLen      = 64 * 1024
	maxValueLen    = 128 * 1024
	maxAddressLen  = 256
	maxQueryLen    = 64 * 1024
	maxDebugLen    = 2 * 1024
	maxAbortLen    = 2 * 1024
	maxResultLen   = 64 * 1024 * 1024
	maxCryptoLen   = 128 * 1024
	regionSize     = 12
	sectionLenSize = 4
)

// region mirrors the guest-side descriptor of a memory buffer
type region struct {
	offset   uint32
	capacity uint32
	length   uint32
}

func readRegionHeader(mem api.Memory, ptr uint32) (region, error) {
	raw, ok := mem.Read(ptr, regionSize)
	if !ok {
		return region{}, fmt.Errorf("%w: region pointer %d out of bounds", ErrTrap, ptr)
	}
	r := region{
		offset:   binary.LittleEndian.Uint32(raw[0:4]),
		capacity: binary.LittleEndian.Uint32(raw[4:8]),
		length:   binary.LittleEndian.Uint32(raw[8:12]),
	}
	if r.length > r.capacity {
		return region{}, fmt.Errorf("%w: region length %d exceeds capacity %d", ErrTrap, r.length, r.capacity)
	}
	return r, nil
}

// readRegion copies the contents of the region at ptr out of guest memory
func readRegion(mem api.Memory, ptr uint32, maxLen uint32) ([]byte, error) {
	r, err := readRegionHeader(mem, ptr)
	if err != nil {
		return nil, err
	}
	if r.length > maxLen {
		return nil, fmt.Errorf("%w: region length %d exceeds limit %d", ErrTrap, r.length, maxLen)
	}
	data, ok := mem.Read(r.offset, r.length)
	if !ok {
		return nil, fmt.Errorf("%w: region data out of bounds", ErrTrap)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// writeRegion writes data into the region at ptr and updates its length
func writeRegion(mem api.Memory, ptr uint32, data []byte) error {
	r, err := readRegionHeader(mem, ptr)
	if err != nil {
		return err
	}
	if uint32(len(data)) > r.capacity {
		return fmt.Errorf("%w: region capacity %d too small for %d bytes", ErrTrap, r.capacity, len(data))
	}
	if !mem.Write(r.offset, data) {
		return fmt.Errorf("%w: region data out of bounds", ErrTrap)
	}
	if !mem.WriteUint32Le(ptr+8, uint32(len(data))) {
		return fmt.Errorf("%w: region pointer %d out of bounds", ErrTrap, ptr)
	}
	return nil
}

// allocateRegion asks the guest for a region of len(data) bytes and fills it
func allocateRegion(ctx context.Context, mod api.Module, data []byte) (uint32, error) {
	alloc := mod.ExportedFunction("allocate")
	if alloc == nil {
		return 0, fmt.Errorf("%w: missing export allocate", ErrTrap)
	}
	res, err := alloc.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("%w: allocate: %v", ErrTrap, err)
	}
	ptr := uint32(res[0])
	if err := writeRegion(mod.Memory(), ptr, data); err != nil {
		return 0, err
	}
	return ptr, nil
}

// encodeSections joins sections as section || len_be32, in order
func encodeSections(sections ...[]byte) []byte {
	size := 0
	for _, s := range sections {
		size += len(s) + sectionLenSize
	}
	out := make([]byte, 0, size)
	for _, s := range sections {
		out = append(out, s...)
		out = binary.BigEndian.AppendUint32(out, uint32(len(s)))
	}
	return out
}

// decodeSections is the inverse of encodeSections. Sections are read from the end.
func decodeSections(data []byte) ([][]byte, error) {
	var out [][]byte
	rest := data
	for len(rest) > 0 {
		if len(rest) < sectionLenSize {
			return nil, fmt.Errorf("truncated section length")
		}
		n := binary.BigEndian.Uint32(rest[len(rest)-sectionLenSize:])
		rest = rest[:len(rest)-sectionLenSize]
		if uint32(len(rest)) < n {
			return nil, fmt.Errorf("section length %d exceeds remaining %d bytes", n, len(rest))
		}
		out = append(out, rest[len(rest)-int(n):])
		rest = rest[:len(rest)-int(n)]
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
