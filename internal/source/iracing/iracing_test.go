package iracing

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/neurallap/companion/internal/source"
	"github.com/neurallap/companion/internal/source/shm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testVar struct {
	name string
	typ  int32
	val  float64
}

const slot = 8

var defaultVars = []testVar{
	{"Speed", typeFloat, 42.5},
	{"RPM", typeFloat, 6500},
	{"Gear", typeInt, 3},
	{"Throttle", typeFloat, 0.75},
	{"Brake", typeFloat, 0.25},
	{"Clutch", typeFloat, 1},
	{"SteeringWheelAngle", typeFloat, -0.5},
	{"SteeringWheelAngleMax", typeFloat, 4},
	{"LapDistPct", typeFloat, 0.5},
	{"Lap", typeInt, 7},
	{"FuelLevel", typeDouble, 31.25},
	{"TrackTempCrew", typeFloat, 28},
	{"LFwearM", typeFloat, 0.75},
}

// buildSegment lays out a header, var headers and two var buffers. Buffer 1
// carries the newest tick and the real values; buffer 0 is stale and zeroed.
func buildSegment(status int32, vars []testVar) []byte {
	n := len(vars)
	varHdrOff := headerSize
	bufLen := n * slot
	buf0 := varHdrOff + n*varHeaderSize
	buf1 := buf0 + bufLen
	mem := make([]byte, buf1+bufLen)

	put := func(off int, v int32) { binary.LittleEndian.PutUint32(mem[off:], uint32(v)) }
	put(0, 2)
	put(4, status)
	put(8, 60)
	put(24, int32(n))
	put(28, int32(varHdrOff))
	put(32, 2)
	put(36, int32(bufLen))
	put(48, 10)
	put(52, int32(buf0))
	put(64, 11)
	put(68, int32(buf1))

	for i, v := range vars {
		h := varHdrOff + i*varHeaderSize
		put(h, v.typ)
		put(h+4, int32(i*slot))
		put(h+8, 1)
		copy(mem[h+16:h+16+varNameLen], v.name)

		b := mem[buf1+i*slot:]
		switch v.typ {
		case typeChar, typeBool:
			b[0] = byte(v.val)
		case typeInt, typeBitField:
			binary.LittleEndian.PutUint32(b, uint32(int32(v.val)))
		case typeFloat:
			binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v.val)))
		case typeDouble:
			binary.LittleEndian.PutUint64(b, math.Float64bits(v.val))
		}
	}
	return mem
}

func newAdapter(mem []byte) *Adapter {
	return New(shm.StaticMapper(map[string][]byte{MemMapName: mem}))
}

func TestProbe_NoSegment(t *testing.T) {
	a := New(shm.StaticMapper(nil))
	assert.False(t, a.Probe())
	assert.NoError(t, a.Close())
}

func TestProbe_NotConnected(t *testing.T) {
	a := newAdapter(buildSegment(0, defaultVars))
	assert.False(t, a.Probe())
}

func TestProbe_RemapsAfterDisconnect(t *testing.T) {
	segments := [][]byte{
		buildSegment(0, defaultVars),
		buildSegment(statusConnected, defaultVars),
	}

	var regions []*shm.Buffer
	a := New(func(name string) (shm.Region, error) {
		b := shm.NewBuffer(segments[min(len(regions), len(segments)-1)])
		regions = append(regions, b)
		return b, nil
	})

	assert.False(t, a.Probe(), "sim still loading")
	assert.True(t, a.Probe())

	require.Len(t, regions, 2)
	assert.True(t, regions[0].Closed())
	assert.False(t, regions[1].Closed())

	_, err := a.ReadFrame()
	require.NoError(t, err)
}

func TestReadFrame_LatestBuffer(t *testing.T) {
	a := newAdapter(buildSegment(statusConnected, defaultVars))
	require.True(t, a.Probe())

	r, err := a.ReadFrame()
	require.NoError(t, err)

	assert.Equal(t, source.KindIRacing, r.Kind)
	assert.Equal(t, 42.5, r.Speed)
	assert.Equal(t, 6500.0, r.RPM)
	assert.Equal(t, 3, r.Gear)
	assert.Equal(t, 0.75, r.Throttle)
	assert.Equal(t, 0.25, r.Brake)
	assert.Equal(t, 0.0, r.Clutch)
	assert.Equal(t, -0.5, r.SteeringAngle)
	assert.Equal(t, 4.0, r.SteeringAngleMax)
	assert.Equal(t, 0.5, r.LapDistPct)
	assert.Equal(t, 7, r.Lap)
	assert.Equal(t, 31.25, r.FuelLevel)
	assert.Equal(t, 28.0, r.TrackTemp)
	assert.Equal(t, 0.25, r.TireWear[0])
	assert.Equal(t, 0.0, r.TireWear[1], "missing wear vars read as unworn")
	assert.Nil(t, r.Player)
}

func TestReadFrame_MissingVariable(t *testing.T) {
	var vars []testVar
	for _, v := range defaultVars {
		if v.name != "Brake" {
			vars = append(vars, v)
		}
	}
	a := newAdapter(buildSegment(statusConnected, vars))
	require.True(t, a.Probe())

	_, err := a.ReadFrame()
	assert.ErrorIs(t, err, source.ErrSourceUnavailable)
	assert.Contains(t, err.Error(), "Brake")
}

func TestReadFrame_BeforeProbe(t *testing.T) {
	a := newAdapter(buildSegment(statusConnected, defaultVars))
	_, err := a.ReadFrame()
	assert.ErrorIs(t, err, source.ErrSourceUnavailable)
}

func TestReadFrame_SessionEnds(t *testing.T) {
	mem := buildSegment(statusConnected, defaultVars)
	a := newAdapter(mem)
	require.True(t, a.Probe())

	binary.LittleEndian.PutUint32(mem[4:], 0)
	_, err := a.ReadFrame()
	assert.ErrorIs(t, err, source.ErrSourceUnavailable)
}

func TestReadFrame_BufferOutsideSegment(t *testing.T) {
	mem := buildSegment(statusConnected, defaultVars)
	binary.LittleEndian.PutUint32(mem[68:], uint32(len(mem)))
	a := newAdapter(mem)
	require.True(t, a.Probe())

	_, err := a.ReadFrame()
	assert.ErrorIs(t, err, source.ErrMalformedReading)
}

func TestClose_AllowsReprobe(t *testing.T) {
	a := newAdapter(buildSegment(statusConnected, defaultVars))
	require.True(t, a.Probe())
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	_, err := a.ReadFrame()
	assert.ErrorIs(t, err, source.ErrSourceUnavailable)

	assert.True(t, a.Probe())
	_, err = a.ReadFrame()
	assert.NoError(t, err)
}

func TestReadFrame_NonFiniteValue(t *testing.T) {
	tests := []struct {
		name string
		val  float64
	}{
		{"Speed", math.NaN()},
		{"FuelLevel", math.Inf(1)},
		{"LFwearM", math.Inf(-1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vars := append([]testVar(nil), defaultVars...)
			for i := range vars {
				if vars[i].name == tt.name {
					vars[i].val = tt.val
				}
			}
			a := newAdapter(buildSegment(statusConnected, vars))
			require.True(t, a.Probe())

			_, err := a.ReadFrame()
			assert.ErrorIs(t, err, source.ErrMalformedReading)
		})
	}
}
