package influx

import (
	"sync/atomic"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/neurallap/companion/pkg/core"
)

// PointWriter is satisfied by *Manager.
type PointWriter interface {
	WritePoint(bucket string, point *influxdb2_write.Point) error
}

// Recorder writes every Nth telemetry frame and every lap report as points.
// Write failures are returned to the caller, which treats them as
// best-effort.
type Recorder struct {
	w        PointWriter
	bucket   string
	decimate uint64
	seen     atomic.Uint64
}

// NewRecorder creates a recorder keeping one frame in decimate.
func NewRecorder(w PointWriter, bucket string, decimate int) *Recorder {
	if decimate < 1 {
		decimate = 1
	}
	return &Recorder{w: w, bucket: bucket, decimate: uint64(decimate)}
}

// RecordFrame writes f if it is due. It reports whether a point was written.
func (r *Recorder) RecordFrame(f core.TelemetryFrame) (bool, error) {
	if (r.seen.Add(1)-1)%r.decimate != 0 {
		return false, nil
	}
	return true, r.w.WritePoint(r.bucket, FramePoint(f))
}

// RecordReport writes a lap report point.
func (r *Recorder) RecordReport(rep core.LapReport) error {
	return r.w.WritePoint(LapBucket, ReportPoint(rep))
}

// FramePoint converts a frame to a "telemetry" point tagged by source.
func FramePoint(f core.TelemetryFrame) *influxdb2_write.Point {
	p := influxdb2_write.NewPointWithMeasurement("telemetry").
		AddTag("source", f.Source).
		AddField("speed", f.Speed).
		AddField("rpm", f.RPM).
		AddField("gear", f.Gear).
		AddField("throttle", f.Throttle).
		AddField("brake", f.Brake).
		AddField("clutch", f.Clutch).
		AddField("steering_angle", f.SteeringAngle).
		AddField("lap_dist_pct", f.LapDistPct).
		AddField("lap", f.Lap).
		AddField("trail_braking", f.TrailBraking).
		AddField("radar_cars", len(f.RadarCars)).
		SetTime(f.WallTime)
	if f.MockMode {
		p.AddTag("mock", "true")
	}
	if f.Bio != nil {
		p.AddField("heart_rate", f.Bio.HeartRate)
	}
	if f.Strategy != nil {
		p.AddField("fuel_laps_remaining", f.Strategy.FuelLapsRemaining)
	}
	return p
}

// ReportPoint converts a lap report to a "lap" point.
func ReportPoint(r core.LapReport) *influxdb2_write.Point {
	return influxdb2_write.NewPointWithMeasurement("lap").
		AddTag("source", r.Source).
		AddField("lap", r.Lap).
		AddField("lap_seconds", r.LapSeconds).
		AddField("pilot_score", r.PilotScore).
		AddField("mistakes", len(r.Mistakes)).
		AddField("cleanliness", r.Cleanliness).
		AddField("consistency", r.Consistency).
		SetTime(r.Time)
}
