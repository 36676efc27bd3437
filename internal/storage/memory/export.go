// internal/storage/memory/export.go
package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/neurallap/companion/pkg/core"
)

// SessionExport is the root JSON structure written on Close
type SessionExport struct {
	Exported time.Time                     `json:"exported"`
	Sessions []SessionLaps                 `json:"sessions"`
	Leagues  []core.League                 `json:"leagues"`
	Entries  map[string][]core.LeagueEntry `json:"entries"`
}

// SessionLaps is one session with its lap reports in order
type SessionLaps struct {
	core.Session
	Laps []core.LapReport `json:"laps"`
}

func (b *Backend) exportJSON() error {
	export := b.buildExport()

	// Build filename from the first session, if any
	name := "neurallap"
	if len(export.Sessions) > 0 && export.Sessions[0].Track != "" {
		name = strings.NewReplacer(" ", "_", ":", "_", "/", "_").Replace(export.Sessions[0].Track)
	}
	timestamp := export.Exported.Format("20060102_150405")

	filename := fmt.Sprintf("%s_%s.json", name, timestamp)
	if b.cfg.CompressOutput {
		filename += ".gz"
	}
	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	// Ensure output directory exists
	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var err error
	if b.cfg.CompressOutput {
		err = writeGzipJSON(outputPath, export)
	} else {
		err = writeJSON(outputPath, export)
	}
	if err != nil {
		return err
	}

	b.lastExportPath = outputPath
	return nil
}

// buildExport must be called with the lock held
func (b *Backend) buildExport() SessionExport {
	export := SessionExport{
		Exported: b.now().UTC(),
		Sessions: []SessionLaps{},
		Leagues:  []core.League{},
		Entries:  map[string][]core.LeagueEntry{},
	}

	index := map[string]int{}
	for _, rec := range b.laps {
		i, ok := index[rec.Session.ID]
		if !ok {
			i = len(export.Sessions)
			index[rec.Session.ID] = i
			export.Sessions = append(export.Sessions, SessionLaps{Session: rec.Session})
		}
		export.Sessions[i].Laps = append(export.Sessions[i].Laps, rec.Report)
	}

	for id := uint(1); id <= b.idCounter; id++ {
		l, ok := b.leagues[id]
		if !ok {
			continue
		}
		export.Leagues = append(export.Leagues, l)
		if es := b.entries[id]; len(es) > 0 {
			export.Entries[fmt.Sprint(id)] = es
		}
	}
	return export
}

func writeJSON(path string, data SessionExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	return encoder.Encode(data)
}

func writeGzipJSON(path string, data SessionExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gzWriter := gzip.NewWriter(f)
	defer gzWriter.Close()

	encoder := json.NewEncoder(gzWriter)
	return encoder.Encode(data)
}
