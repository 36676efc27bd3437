package bio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/neurallap/companion/internal/timeutil"
	"github.com/neurallap/companion/pkg/core"
)

// freshFor is how long a strap packet keeps the reading connected.
const freshFor = 5 * time.Second

var errShortPacket = errors.New("heart rate packet too short")

// DecodeMeasurement parses a BLE Heart Rate Measurement characteristic value.
// Bit 0 of the flags byte selects a uint16 rather than uint8 rate.
func DecodeMeasurement(b []byte) (int, error) {
	if len(b) < 2 {
		return 0, errShortPacket
	}
	if b[0]&0x01 == 0 {
		return int(b[1]), nil
	}
	if len(b) < 3 {
		return 0, errShortPacket
	}
	return int(b[1]) | int(b[2])<<8, nil
}

// MQTTConfig locates the strap bridge.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string
	Timeout  time.Duration
}

// MQTTSource reads heart rate packets relayed over MQTT and falls back to a
// Simulated source while none are fresh.
type MQTTSource struct {
	client   mqtt.Client
	clock    timeutil.Clock
	fallback *Simulated
	log      *slog.Logger

	mu       sync.Mutex
	hr       int
	lastSeen time.Time
}

// NewMQTTSource builds a source without connecting.
func NewMQTTSource(clock timeutil.Clock, fallback *Simulated, log *slog.Logger) *MQTTSource {
	return &MQTTSource{clock: clock, fallback: fallback, log: log}
}

// Connect dials the broker and subscribes to the strap topic.
func (s *MQTTSource) Connect(cfg MQTTConfig) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		token := c.Subscribe(cfg.Topic, 0, s.onMessage)
		if token.WaitTimeout(cfg.Timeout) && token.Error() != nil {
			s.log.Warn("Heart rate subscribe failed", "topic", cfg.Topic, "error", token.Error())
		}
	})

	s.client = mqtt.NewClient(opts)
	token := s.client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return fmt.Errorf("connect to %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.Broker, err)
	}
	s.log.Info("Heart rate bridge connected", "broker", cfg.Broker, "topic", cfg.Topic)
	return nil
}

func (s *MQTTSource) onMessage(_ mqtt.Client, msg mqtt.Message) {
	s.Ingest(msg.Payload())
}

// Ingest records one measurement packet.
func (s *MQTTSource) Ingest(packet []byte) {
	hr, err := DecodeMeasurement(packet)
	if err != nil {
		s.log.Debug("Dropping heart rate packet", "error", err)
		return
	}
	s.mu.Lock()
	s.hr = hr
	s.lastSeen = s.clock.Now()
	s.mu.Unlock()
}

func (s *MQTTSource) Observe(speedKmh, brake, rpm float64) {
	s.fallback.Observe(speedKmh, brake, rpm)
}

func (s *MQTTSource) Reading() core.BioReading {
	s.mu.Lock()
	hr, seen := s.hr, s.lastSeen
	s.mu.Unlock()

	if seen.IsZero() || s.clock.Since(seen) > freshFor {
		return s.fallback.Reading()
	}
	return core.BioReading{
		HeartRate:   hr,
		StressLevel: StressLevel(float64(hr)),
		Connected:   true,
	}
}

// Close disconnects from the broker.
func (s *MQTTSource) Close() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}
