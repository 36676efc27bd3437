package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&League{},
	&LeagueEntry{},
	&LapRecord{},
}

// DefaultLeagueName is created on first setup so submissions always have a target.
const DefaultLeagueName = "Open Practice"

// League groups submitted laps under one ranking criterion
type League struct {
	gorm.Model
	Name        string `json:"name" gorm:"size:127;index"`
	Description string `json:"description" gorm:"size:255"`
	Criteria    string `json:"criteria" gorm:"size:32;default:fastest"`
	Entries     []LeagueEntry
}

func (*League) TableName() string {
	return "leagues"
}

// LeagueEntry is one submitted lap in a league
type LeagueEntry struct {
	ID               uint      `json:"id" gorm:"primarykey;autoIncrement"`
	LeagueID         uint      `json:"leagueId" gorm:"index:idx_entry_league_id"`
	League           League    `gorm:"foreignkey:LeagueID"`
	DriverName       string    `json:"driverName" gorm:"size:127"`
	Track            string    `json:"track" gorm:"size:127"`
	Car              string    `json:"car" gorm:"size:127"`
	LapTime          float64   `json:"lapTime" gorm:"index:idx_entry_lap_time"`
	CleanlinessScore float64   `json:"cleanlinessScore"`
	ConsistencyScore float64   `json:"consistencyScore"`
	Timestamp        time.Time `json:"timestamp" gorm:"index:idx_entry_time"`
}

func (*LeagueEntry) TableName() string {
	return "league_entries"
}

// LapRecord stores a full lap report for later review
type LapRecord struct {
	ID         uint           `json:"id" gorm:"primarykey;autoIncrement"`
	SessionID  string         `json:"sessionId" gorm:"size:36;index:idx_lap_session"`
	Time       time.Time      `json:"time" gorm:"index:idx_lap_time"`
	Source     string         `json:"source" gorm:"size:16"`
	Driver     string         `json:"driver" gorm:"size:127"`
	Track      string         `json:"track" gorm:"size:127"`
	Car        string         `json:"car" gorm:"size:127"`
	Lap        int            `json:"lap"`
	LapSeconds float64        `json:"lapSeconds"`
	PilotScore int            `json:"pilotScore"`
	Mistakes   datatypes.JSON `json:"mistakes"`
	Traces     datatypes.JSON `json:"traces"`
}

func (*LapRecord) TableName() string {
	return "lap_records"
}
