package monitor

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/neurallap/companion/internal/engine"
	"github.com/neurallap/companion/internal/logging"
	"github.com/neurallap/companion/internal/publish"
	"github.com/neurallap/companion/internal/session"
	"github.com/neurallap/companion/pkg/core"
)

// Dependencies holds all dependencies for the monitor service. Every func
// may be nil.
type Dependencies struct {
	LogManager  *logging.SlogManager
	Session     *session.Context
	Engine      func() engine.Status
	Publisher   func() publish.Stats
	Pending     func() int
	Subscribers func() int
	StatusFile  string
	Interval    time.Duration
}

// ProgramStatus is the snapshot written to the status file.
type ProgramStatus struct {
	Time        time.Time     `json:"time"`
	Session     core.Session  `json:"session"`
	Engine      engine.Status `json:"engine"`
	Publisher   publish.Stats `json:"publisher"`
	PendingLaps int           `json:"pending_laps"`
	Subscribers int           `json:"subscribers"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = time.Second
	}
	return &Service{deps: deps}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetProgramStatus returns the current program status
func (s *Service) GetProgramStatus() ProgramStatus {
	st := ProgramStatus{Time: time.Now().UTC()}
	if s.deps.Session != nil {
		st.Session = s.deps.Session.Get()
	}
	if s.deps.Engine != nil {
		st.Engine = s.deps.Engine()
	}
	if s.deps.Publisher != nil {
		st.Publisher = s.deps.Publisher()
	}
	if s.deps.Pending != nil {
		st.PendingLaps = s.deps.Pending()
	}
	if s.deps.Subscribers != nil {
		st.Subscribers = s.deps.Subscribers()
	}
	return st
}

// Start starts the status monitor goroutine. Without a status file it does
// nothing.
func (s *Service) Start() error {
	if s.deps.StatusFile == "" {
		return nil
	}

	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}

	statusFile, err := os.Create(s.deps.StatusFile)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("error creating status file: %w", err)
	}

	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()
		defer statusFile.Close()

		s.log("Starting status monitor goroutine", "DEBUG")

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			s.write(statusFile)
			select {
			case <-stop:
				s.write(statusFile)
				return
			case <-ticker.C:
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and waits for the last write.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()
	<-done
}

func (s *Service) write(f *os.File) {
	data, err := json.MarshalIndent(s.GetProgramStatus(), "", "  ")
	if err != nil {
		data = []byte(fmt.Sprintf(`{"error": "%s"}`, err))
	}
	if err := f.Truncate(0); err != nil {
		s.log(fmt.Sprintf("Error truncating status file: %s", err), "ERROR")
		return
	}
	if _, err := f.WriteAt(append(data, '\n'), 0); err != nil {
		s.log(fmt.Sprintf("Error writing status file: %s", err), "ERROR")
	}
}

func (s *Service) log(msg, level string) {
	if s.deps.LogManager != nil {
		s.deps.LogManager.WriteLog("monitor", msg, level)
	}
}
