// internal/storage/memory/memory_test.go
package memory

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/neurallap/companion/internal/config"
	"github.com/neurallap/companion/internal/model"
	"github.com/neurallap/companion/internal/storage"
	"github.com/neurallap/companion/pkg/core"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestBackend(cfg config.MemoryConfig) *Backend {
	b := New(cfg)
	b.now = func() time.Time { return epoch }
	return b
}

func TestNew(t *testing.T) {
	b := New(config.MemoryConfig{OutputDir: "/tmp/test", CompressOutput: true})

	if b == nil {
		t.Fatal("New returned nil")
	}
	if b.cfg.OutputDir != "/tmp/test" {
		t.Errorf("expected OutputDir=/tmp/test, got %s", b.cfg.OutputDir)
	}
	leagues, _ := b.Leagues(context.Background())
	if len(leagues) != 1 || leagues[0].Name != model.DefaultLeagueName {
		t.Fatalf("expected default league, got %+v", leagues)
	}
	if leagues[0].ID != 1 {
		t.Errorf("expected default league ID 1, got %d", leagues[0].ID)
	}
}

func TestInitAndClose(t *testing.T) {
	b := New(config.MemoryConfig{})
	if err := b.Init(); err != nil {
		t.Errorf("Init returned error: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("Close returned error: %v", err)
	}
	if b.GetExportedFilePath() != "" {
		t.Error("expected no export without an output directory")
	}
}

func TestSubmitLap(t *testing.T) {
	b := newTestBackend(config.MemoryConfig{})
	ctx := context.Background()

	for _, lap := range []float64{95.1, 93.4, 94.0} {
		if err := b.SubmitLap(ctx, core.LapSubmission{LeagueID: 1, Driver: "A", LapTime: lap}); err != nil {
			t.Fatalf("SubmitLap: %v", err)
		}
	}

	entries, err := b.Entries(ctx, 1, "")
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].LapTime != 93.4 {
		t.Errorf("expected fastest lap first, got %v", entries[0].LapTime)
	}
	if !entries[0].Timestamp.Equal(epoch) {
		t.Errorf("expected timestamp %v, got %v", epoch, entries[0].Timestamp)
	}
}

func TestSubmitLap_UnknownLeague(t *testing.T) {
	b := New(config.MemoryConfig{})
	err := b.SubmitLap(context.Background(), core.LapSubmission{LeagueID: 9})
	if !errors.Is(err, storage.ErrLeagueNotFound) {
		t.Errorf("expected ErrLeagueNotFound, got %v", err)
	}
}

func TestEntries_ReturnsCopy(t *testing.T) {
	b := New(config.MemoryConfig{})
	ctx := context.Background()
	_ = b.SubmitLap(ctx, core.LapSubmission{LeagueID: 1, LapTime: 90})

	entries, _ := b.Entries(ctx, 1, "")
	entries[0].LapTime = 1

	again, _ := b.Entries(ctx, 1, "")
	if again[0].LapTime != 90 {
		t.Error("Entries must not expose internal state")
	}
}

func TestCreateLeague(t *testing.T) {
	b := New(config.MemoryConfig{})
	ctx := context.Background()

	l, err := b.CreateLeague(ctx, core.League{Name: "Clean Sweep", Criteria: core.CriteriaCleanest})
	if err != nil {
		t.Fatalf("CreateLeague: %v", err)
	}
	_ = b.SubmitLap(ctx, core.LapSubmission{LeagueID: l.ID, LapTime: 90, CleanlinessScore: 40})
	_ = b.SubmitLap(ctx, core.LapSubmission{LeagueID: l.ID, LapTime: 99, CleanlinessScore: 100})

	entries, _ := b.Entries(ctx, l.ID, "")
	if entries[0].CleanlinessScore != 100 {
		t.Errorf("expected cleanest first, got %+v", entries[0])
	}

	leagues, _ := b.Leagues(ctx)
	if len(leagues) != 2 || leagues[1].Name != "Clean Sweep" {
		t.Errorf("unexpected leagues %+v", leagues)
	}
}

func TestConcurrentSubmit(t *testing.T) {
	b := New(config.MemoryConfig{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = b.SubmitLap(ctx, core.LapSubmission{LeagueID: 1, LapTime: float64(90 + i)})
		}(i)
	}
	wg.Wait()

	entries, _ := b.Entries(ctx, 1, "")
	if len(entries) != 50 {
		t.Errorf("expected 50 entries, got %d", len(entries))
	}
}

func TestClose_ExportsGzip(t *testing.T) {
	dir := t.TempDir()
	b := newTestBackend(config.MemoryConfig{OutputDir: dir, CompressOutput: true})
	ctx := context.Background()

	s := core.Session{ID: "s1", Driver: "A", Track: "Spa Francorchamps", Car: "gt3"}
	_ = b.RecordLap(ctx, core.LapReport{Lap: 1, LapSeconds: 140}, s)
	_ = b.RecordLap(ctx, core.LapReport{Lap: 2, LapSeconds: 139}, s)
	_ = b.SubmitLap(ctx, core.LapSubmission{LeagueID: 1, LapTime: 139})

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	path := b.GetExportedFilePath()
	if !strings.HasSuffix(path, "Spa_Francorchamps_20240601_120000.json.gz") {
		t.Fatalf("unexpected export path %s", path)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}

	var export SessionExport
	if err := json.NewDecoder(gz).Decode(&export); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(export.Sessions) != 1 || len(export.Sessions[0].Laps) != 2 {
		t.Fatalf("unexpected sessions %+v", export.Sessions)
	}
	if export.Sessions[0].Driver != "A" {
		t.Errorf("expected driver A, got %s", export.Sessions[0].Driver)
	}
	if len(export.Entries["1"]) != 1 {
		t.Errorf("expected one entry in league 1, got %+v", export.Entries)
	}
}

func TestClose_ExportsPlainJSON(t *testing.T) {
	dir := t.TempDir()
	b := newTestBackend(config.MemoryConfig{OutputDir: dir})
	_ = b.SubmitLap(context.Background(), core.LapSubmission{LeagueID: 1, LapTime: 139})

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !strings.HasSuffix(b.GetExportedFilePath(), "neurallap_20240601_120000.json") {
		t.Errorf("unexpected export path %s", b.GetExportedFilePath())
	}
}

func TestClose_NothingToExport(t *testing.T) {
	b := newTestBackend(config.MemoryConfig{OutputDir: t.TempDir()})
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if b.GetExportedFilePath() != "" {
		t.Error("expected no export for an empty backend")
	}
}
