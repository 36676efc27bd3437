package postgres

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/neurallap/companion/internal/config"
	"github.com/neurallap/companion/internal/storage"
)

var (
	_ storage.Backend = (*Backend)(nil)
	_ storage.Leagues = (*Backend)(nil)
)

func TestNew_Unreachable(t *testing.T) {
	cfg := config.PostgresConfig{
		Host:     "127.0.0.1",
		Port:     "1",
		Username: "postgres",
		Password: "postgres",
		Database: "neurallap",
	}
	_, err := New(cfg, time.Second, zerolog.Nop())
	assert.ErrorIs(t, err, storage.ErrPersistence)
}
