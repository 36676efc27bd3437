package normalize

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/neurallap/companion/internal/source"
	"github.com/neurallap/companion/pkg/core"
)

// RadarWindow bounds which contacts are reported, in meters from the player.
type RadarWindow struct {
	Lateral      float64
	Longitudinal float64
}

// DefaultRadarWindow is ±20 m lateral, ±50 m longitudinal.
var DefaultRadarWindow = RadarWindow{Lateral: 20, Longitudinal: 50}

// Contact color tags.
const (
	TagOverlap = "overlap"
	TagClose   = "close"
	TagFar     = "far"
	TagLeft    = "left"
	TagRight   = "right"
	TagInline  = "inline"
)

const (
	overlapLongitudinal = 5.0
	overlapLateral      = 2.5
	closeLongitudinal   = 10.0
	inlineLateral       = 1.0

	// a car alongside within this band raises the spotter
	spotterLongitudinal = 5.0
	spotterLateralMin   = 1.0
	spotterLateralMax   = 4.0
)

// Local projects a world position into the player's frame as
// (lateral, longitudinal).
func Local(player source.Pose, pos r3.Vec) (lateral, longitudinal float64) {
	rel := r3.Sub(pos, player.Position)
	return r3.Dot(rel, player.Right), r3.Dot(rel, player.Forward)
}

// Project returns the vehicles inside w, in the player's local frame.
// The player's own car is skipped by id, and so is any vehicle whose
// position is not finite.
func Project(player source.Pose, playerID int, vehicles []source.Vehicle, w RadarWindow) []core.RadarContact {
	contacts := make([]core.RadarContact, 0, len(vehicles))
	for _, v := range vehicles {
		if v.ID == playerID {
			continue
		}
		lat, lon := Local(player, v.Position)
		// written so NaN fails the window
		if !(math.Abs(lat) <= w.Lateral && math.Abs(lon) <= w.Longitudinal) {
			continue
		}
		contacts = append(contacts, core.RadarContact{
			ID:           v.ID,
			Lateral:      lat,
			Longitudinal: lon,
			Tags:         tags(lat, lon),
		})
	}
	return contacts
}

func tags(lat, lon float64) []string {
	proximity := TagFar
	switch {
	case math.Abs(lon) < overlapLongitudinal && math.Abs(lat) < overlapLateral:
		proximity = TagOverlap
	case math.Abs(lon) < closeLongitudinal:
		proximity = TagClose
	}

	side := TagInline
	switch {
	case lat < -inlineLateral:
		side = TagLeft
	case lat > inlineLateral:
		side = TagRight
	}
	return []string{proximity, side}
}

// spotters reports whether any contact sits alongside on either side.
func spotters(contacts []core.RadarContact) (left, right bool) {
	for _, c := range contacts {
		lat := math.Abs(c.Lateral)
		if math.Abs(c.Longitudinal) >= spotterLongitudinal || lat <= spotterLateralMin || lat >= spotterLateralMax {
			continue
		}
		if c.Lateral < 0 {
			left = true
		} else {
			right = true
		}
	}
	return left, right
}
