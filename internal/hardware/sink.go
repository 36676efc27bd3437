package hardware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.bug.st/serial"

	"github.com/neurallap/companion/pkg/core"
)

// Sink delivers hardware events to a device.
type Sink interface {
	Send(ctx context.Context, ev core.HardwareEvents) error
	Close() error
}

// SerialSink writes a line protocol to a microcontroller driving LEDs and
// pedal motors:
//
//	L #RRGGBB
//	H <motor> <intensity>
type SerialSink struct {
	mu   sync.Mutex
	port io.WriteCloser
}

// OpenSerial opens the device at path.
func OpenSerial(path string, baud int) (*SerialSink, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", path, err)
	}
	return NewSerialSink(port), nil
}

// NewSerialSink wraps an already open port.
func NewSerialSink(port io.WriteCloser) *SerialSink {
	return &SerialSink{port: port}
}

func (s *SerialSink) Send(_ context.Context, ev core.HardwareEvents) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.Light != nil {
		if _, err := fmt.Fprintf(s.port, "L %s\n", ev.Light.Color); err != nil {
			return fmt.Errorf("write light: %w", err)
		}
	}
	if ev.Haptic != nil {
		if _, err := fmt.Fprintf(s.port, "H %s %.2f\n", ev.Haptic.Motor, ev.Haptic.Intensity); err != nil {
			return fmt.Errorf("write haptic: %w", err)
		}
	}
	return nil
}

func (s *SerialSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port.Close()
}

// publisher is the part of mqtt.Client the sink uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTConfig locates the lighting broker.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	Timeout     time.Duration
}

// MQTTSink publishes events as JSON to <prefix>/light and <prefix>/haptic,
// for ambient lighting controllers.
type MQTTSink struct {
	client  publisher
	prefix  string
	timeout time.Duration
	closer  func()
}

// DialMQTT connects to the broker.
func DialMQTT(cfg MQTTConfig) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("mqtt connect %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}

	s := newMQTTSink(client, cfg.TopicPrefix, cfg.Timeout)
	s.closer = func() { client.Disconnect(250) }
	return s, nil
}

func newMQTTSink(client publisher, prefix string, timeout time.Duration) *MQTTSink {
	return &MQTTSink{client: client, prefix: prefix, timeout: timeout}
}

func (s *MQTTSink) Send(_ context.Context, ev core.HardwareEvents) error {
	var errs []error
	if ev.Light != nil {
		errs = append(errs, s.publish("light", ev.Light))
	}
	if ev.Haptic != nil {
		errs = append(errs, s.publish("haptic", ev.Haptic))
	}
	return errors.Join(errs...)
}

func (s *MQTTSink) publish(kind string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", kind, err)
	}
	topic := s.prefix + "/" + kind
	token := s.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(s.timeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (s *MQTTSink) Close() error {
	if s.closer != nil {
		s.closer()
	}
	return nil
}
