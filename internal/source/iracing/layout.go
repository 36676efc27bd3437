package iracing

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/neurallap/companion/internal/source"
)

// MemMapName is the segment the sim publishes while running.
const MemMapName = `Local\IRSDKMemMapFileName`

const (
	headerSize    = 112
	varHeaderSize = 144
	maxBufs       = 4
	varNameLen    = 32

	statusConnected = 1
)

// Variable types as encoded in the var header.
const (
	typeChar int32 = iota
	typeBool
	typeInt
	typeBitField
	typeFloat
	typeDouble
)

var typeSize = map[int32]int{
	typeChar:     1,
	typeBool:     1,
	typeInt:      4,
	typeBitField: 4,
	typeFloat:    4,
	typeDouble:   8,
}

var le = binary.LittleEndian

type varBuf struct {
	TickCount int32
	BufOffset int32
}

type header struct {
	Ver               int32
	Status            int32
	TickRate          int32
	SessionInfoUpdate int32
	SessionInfoLen    int32
	SessionInfoOffset int32
	NumVars           int32
	VarHeaderOffset   int32
	NumBuf            int32
	BufLen            int32
	VarBuf            [maxBufs]varBuf
}

func parseHeader(mem []byte) (header, error) {
	var h header
	if len(mem) < headerSize {
		return h, fmt.Errorf("%w: segment shorter than header (%d bytes)", source.ErrMalformedReading, len(mem))
	}
	h.Ver = int32(le.Uint32(mem[0:]))
	h.Status = int32(le.Uint32(mem[4:]))
	h.TickRate = int32(le.Uint32(mem[8:]))
	h.SessionInfoUpdate = int32(le.Uint32(mem[12:]))
	h.SessionInfoLen = int32(le.Uint32(mem[16:]))
	h.SessionInfoOffset = int32(le.Uint32(mem[20:]))
	h.NumVars = int32(le.Uint32(mem[24:]))
	h.VarHeaderOffset = int32(le.Uint32(mem[28:]))
	h.NumBuf = int32(le.Uint32(mem[32:]))
	h.BufLen = int32(le.Uint32(mem[36:]))
	// 40..48 is padding
	for i := 0; i < maxBufs; i++ {
		off := 48 + i*16
		h.VarBuf[i].TickCount = int32(le.Uint32(mem[off:]))
		h.VarBuf[i].BufOffset = int32(le.Uint32(mem[off+4:]))
	}
	return h, nil
}

func (h header) connected() bool {
	return h.Status&statusConnected != 0
}

// latest returns the index of the buffer with the highest tick count.
func (h header) latest() int {
	n := int(h.NumBuf)
	if n < 1 || n > maxBufs {
		n = maxBufs
	}
	best := 0
	for i := 1; i < n; i++ {
		if h.VarBuf[i].TickCount > h.VarBuf[best].TickCount {
			best = i
		}
	}
	return best
}

type varHeader struct {
	Type   int32
	Offset int32
	Count  int32
	Name   string
}

func parseVarHeaders(mem []byte, h header) (map[string]varHeader, error) {
	start := int(h.VarHeaderOffset)
	n := int(h.NumVars)
	if n < 0 || start < 0 || start+n*varHeaderSize > len(mem) {
		return nil, fmt.Errorf("%w: var headers [%d, +%d) outside segment", source.ErrMalformedReading, start, n)
	}

	vars := make(map[string]varHeader, n)
	for i := 0; i < n; i++ {
		b := mem[start+i*varHeaderSize:]
		name := b[16 : 16+varNameLen]
		if end := bytes.IndexByte(name, 0); end >= 0 {
			name = name[:end]
		}
		vh := varHeader{
			Type:   int32(le.Uint32(b[0:])),
			Offset: int32(le.Uint32(b[4:])),
			Count:  int32(le.Uint32(b[8:])),
			Name:   string(name),
		}
		vars[vh.Name] = vh
	}
	return vars, nil
}

// snapshot is a frozen copy of one variable buffer.
type snapshot struct {
	vars map[string]varHeader
	buf  []byte
}

func (s snapshot) value(name string) (float64, error) {
	vh, ok := s.vars[name]
	if !ok {
		return 0, fmt.Errorf("%w: variable %s not published", source.ErrSourceUnavailable, name)
	}
	size, ok := typeSize[vh.Type]
	if !ok {
		return 0, fmt.Errorf("%w: variable %s has unknown type %d", source.ErrMalformedReading, name, vh.Type)
	}
	off := int(vh.Offset)
	if off < 0 || off+size > len(s.buf) {
		return 0, fmt.Errorf("%w: variable %s offset %d outside buffer", source.ErrMalformedReading, name, off)
	}

	b := s.buf[off:]
	switch vh.Type {
	case typeChar, typeBool:
		return float64(b[0]), nil
	case typeInt, typeBitField:
		return float64(int32(le.Uint32(b))), nil
	case typeFloat:
		return float64(math.Float32frombits(le.Uint32(b))), nil
	case typeDouble:
		return math.Float64frombits(le.Uint64(b)), nil
	}
	return 0, nil
}
