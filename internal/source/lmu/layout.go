package lmu

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/neurallap/companion/internal/source"
)

// SegmentName is the shared-memory segment published by the LMU plugin.
const SegmentName = "LMU_Data"

// MaxVehicles is the capacity of the vehicle array.
const MaxVehicles = 104

// GenericHeader opens the segment. Version is zero while the game is
// starting up or shutting down. UpdateBegin and UpdateEnd differ while the
// plugin is writing.
type GenericHeader struct {
	Version     int32
	UpdateBegin uint32
	UpdateEnd   uint32
	GamePhase   int32
}

// TelemetryHeader describes the vehicle array that follows it.
type TelemetryHeader struct {
	PlayerIndex      int32
	PlayerHasVehicle uint8
	_                [3]byte
	ActiveVehicles   int32
	_                [4]byte
}

// VehicleRecord is one fixed-size slot of the vehicle array. Vectors are
// in the world frame except LocalVel, which is in the car's own frame.
type VehicleRecord struct {
	ID          int32
	Lap         int32
	Gear        int32
	_           [4]byte
	Pos         [3]float64
	OriRight    [3]float64
	OriUp       [3]float64
	OriForward  [3]float64
	LocalVel    [3]float64
	RPM         float64
	Throttle    float64
	Brake       float64
	Clutch      float64
	Steering    float64 // -1..1
	SteerRange  float64 // lock to lock, radians
	LapDist     float64 // meters
	TrackLength float64 // meters
	Fuel        float64 // liters
	TireWear    [4]float64
	TrackTemp   float64
	AirTemp     float64
	LapElapsed  float64
}

var (
	genericHeaderSize   = binary.Size(GenericHeader{})
	telemetryHeaderSize = binary.Size(TelemetryHeader{})
	vehicleRecordSize   = binary.Size(VehicleRecord{})

	vehiclesOffset = genericHeaderSize + telemetryHeaderSize

	// SegmentSize is the full mapped size of the layout.
	SegmentSize = vehiclesOffset + MaxVehicles*vehicleRecordSize
)

type frame struct {
	generic   GenericHeader
	telemetry TelemetryHeader
	vehicles  []VehicleRecord
}

func decode(mem []byte, v any) error {
	return binary.Read(bytes.NewReader(mem), binary.LittleEndian, v)
}

// parse decodes a frozen copy of the segment and validates its bounds.
func parse(mem []byte) (frame, error) {
	var f frame
	if len(mem) < SegmentSize {
		return f, fmt.Errorf("%w: segment is %d bytes, want %d", source.ErrMalformedReading, len(mem), SegmentSize)
	}

	if err := decode(mem, &f.generic); err != nil {
		return f, fmt.Errorf("%w: generic header: %v", source.ErrMalformedReading, err)
	}
	if f.generic.Version == 0 {
		return f, fmt.Errorf("%w: header version is 0", source.ErrMalformedReading)
	}

	if err := decode(mem[genericHeaderSize:], &f.telemetry); err != nil {
		return f, fmt.Errorf("%w: telemetry header: %v", source.ErrMalformedReading, err)
	}
	if f.telemetry.PlayerHasVehicle == 0 {
		return f, fmt.Errorf("%w: player has no vehicle", source.ErrSourceUnavailable)
	}

	count := int(f.telemetry.ActiveVehicles)
	if count < 1 || count > MaxVehicles {
		return f, fmt.Errorf("%w: active vehicle count %d outside [1, %d]", source.ErrMalformedReading, count, MaxVehicles)
	}
	idx := int(f.telemetry.PlayerIndex)
	if idx < 0 || idx >= MaxVehicles || idx >= count {
		return f, fmt.Errorf("%w: player index %d outside [0, %d)", source.ErrMalformedReading, idx, count)
	}

	f.vehicles = make([]VehicleRecord, count)
	if err := decode(mem[vehiclesOffset:], f.vehicles); err != nil {
		return f, fmt.Errorf("%w: vehicle array: %v", source.ErrMalformedReading, err)
	}
	return f, nil
}

func (f frame) player() VehicleRecord {
	return f.vehicles[f.telemetry.PlayerIndex]
}
