package convert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/neurallap/companion/internal/model"
	"github.com/neurallap/companion/pkg/core"
)

func TestLeagueToCore(t *testing.T) {
	created := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	l := model.League{
		Model:    gorm.Model{ID: 4, CreatedAt: created},
		Name:     "Sunday Cup",
		Criteria: core.CriteriaCleanest,
	}

	got := LeagueToCore(l)
	assert.Equal(t, uint(4), got.ID)
	assert.Equal(t, "Sunday Cup", got.Name)
	assert.Equal(t, core.CriteriaCleanest, got.Criteria)
	assert.Equal(t, created, got.CreatedAt)

	back := CoreToLeague(got)
	assert.Zero(t, back.ID)
	assert.Equal(t, l.Name, back.Name)
}

// Round-trip: Core → GORM → Core
func TestSubmissionRoundTrip(t *testing.T) {
	sub := core.LapSubmission{
		LeagueID:         2,
		Driver:           "driver",
		Track:            "spa",
		Car:              "gt3",
		LapTime:          137.25,
		CleanlinessScore: 88,
		ConsistencyScore: 91,
	}

	entry := SubmissionToEntry(sub)
	entry.ID = 9
	got := EntryToCore(entry)

	assert.Equal(t, uint(9), got.ID)
	assert.Equal(t, sub, got.LapSubmission)
}

func TestLapRecordRoundTrip(t *testing.T) {
	r := core.LapReport{
		Lap:        3,
		LapTime:    "1:34.500",
		LapSeconds: 94.5,
		PilotScore: 81,
		Source:     "lmu",
		Mistakes:   []core.Mistake{{Corner: "Sector 2", Feedback: "Late on the throttle at exit", TimeLost: 0.3}},
		Traces:     core.Traces{SpeedYou: []float64{100, 110}, SpeedRef: []float64{101, 112}},
		Time:       time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	s := core.Session{ID: "abc", Driver: "driver", Track: "spa", Car: "gt3"}

	rec := ReportToLapRecord(r, s)
	assert.Equal(t, "abc", rec.SessionID)
	assert.Equal(t, "spa", rec.Track)
	require.NotEmpty(t, rec.Mistakes)

	got := LapRecordToCore(rec)
	got.Cleanliness, got.Consistency = r.Cleanliness, r.Consistency
	assert.Equal(t, r, got)
}

func TestLapRecordToCore_EmptyJSON(t *testing.T) {
	got := LapRecordToCore(model.LapRecord{Lap: 1})
	assert.NotNil(t, got.Mistakes)
	assert.Empty(t, got.Traces.SpeedYou)
}
