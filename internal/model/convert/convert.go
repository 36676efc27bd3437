// Package convert maps between GORM models and core types
package convert

import (
	"encoding/json"

	"github.com/neurallap/companion/internal/model"
	"github.com/neurallap/companion/internal/report"
	"github.com/neurallap/companion/pkg/core"
)

// LeagueToCore converts a GORM League to a core.League.
func LeagueToCore(l model.League) core.League {
	return core.League{
		ID:          l.ID,
		Name:        l.Name,
		Description: l.Description,
		Criteria:    l.Criteria,
		CreatedAt:   l.CreatedAt,
	}
}

// CoreToLeague converts a core.League to a GORM League. The ID is left for
// the database to assign.
func CoreToLeague(l core.League) model.League {
	return model.League{
		Name:        l.Name,
		Description: l.Description,
		Criteria:    l.Criteria,
	}
}

// SubmissionToEntry converts a lap submission to a GORM LeagueEntry.
func SubmissionToEntry(s core.LapSubmission) model.LeagueEntry {
	return model.LeagueEntry{
		LeagueID:         s.LeagueID,
		DriverName:       s.Driver,
		Track:            s.Track,
		Car:              s.Car,
		LapTime:          s.LapTime,
		CleanlinessScore: s.CleanlinessScore,
		ConsistencyScore: s.ConsistencyScore,
	}
}

// EntryToCore converts a GORM LeagueEntry to a core.LeagueEntry.
func EntryToCore(e model.LeagueEntry) core.LeagueEntry {
	return core.LeagueEntry{
		ID: e.ID,
		LapSubmission: core.LapSubmission{
			LeagueID:         e.LeagueID,
			Driver:           e.DriverName,
			Track:            e.Track,
			Car:              e.Car,
			LapTime:          e.LapTime,
			CleanlinessScore: e.CleanlinessScore,
			ConsistencyScore: e.ConsistencyScore,
		},
		Timestamp: e.Timestamp,
	}
}

// ReportToLapRecord converts a lap report to a GORM LapRecord.
func ReportToLapRecord(r core.LapReport, s core.Session) model.LapRecord {
	mistakes, _ := json.Marshal(r.Mistakes)
	traces, _ := json.Marshal(r.Traces)

	return model.LapRecord{
		SessionID:  s.ID,
		Time:       r.Time,
		Source:     r.Source,
		Driver:     s.Driver,
		Track:      s.Track,
		Car:        s.Car,
		Lap:        r.Lap,
		LapSeconds: r.LapSeconds,
		PilotScore: r.PilotScore,
		Mistakes:   mistakes,
		Traces:     traces,
	}
}

// LapRecordToCore converts a GORM LapRecord back to a core.LapReport.
func LapRecordToCore(rec model.LapRecord) core.LapReport {
	r := core.LapReport{
		Lap:        rec.Lap,
		LapTime:    report.FormatLapTime(rec.LapSeconds),
		LapSeconds: rec.LapSeconds,
		PilotScore: rec.PilotScore,
		Source:     rec.Source,
		Time:       rec.Time,
		Mistakes:   []core.Mistake{},
	}
	if len(rec.Mistakes) > 0 {
		_ = json.Unmarshal(rec.Mistakes, &r.Mistakes)
	}
	if len(rec.Traces) > 0 {
		_ = json.Unmarshal(rec.Traces, &r.Traces)
	}
	return r
}
