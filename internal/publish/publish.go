// Package publish sends fixes to an MQTT broker as retained JSON messages.
package publish

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/rock-drivers/drivers-mb500/internal/gnss"
)

const DefaultTimeout = 5 * time.Second

type Config struct {
	Broker   string
	ClientID string
	Topic    string
	QoS      byte
	Timeout  time.Duration
}

// client is the part of mqtt.Client the publisher uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type Publisher struct {
	c       client
	topic   string
	qos     byte
	timeout time.Duration
}

// Connect dials the broker and returns a publisher for cfg.Topic.
func Connect(cfg Config) (*Publisher, error) {
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, errors.New("mqtt broker is required")
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(timeoutOr(cfg.Timeout))
	c := mqtt.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, token.Error())
	}
	log.Printf("mqtt connected broker=%s topic=%s", cfg.Broker, cfg.Topic)
	return newPublisher(c, cfg), nil
}

func newPublisher(c client, cfg Config) *Publisher {
	return &Publisher{c: c, topic: cfg.Topic, qos: cfg.QoS, timeout: timeoutOr(cfg.Timeout)}
}

func timeoutOr(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return DefaultTimeout
}

// FixMessage is the JSON document published per fix.
type FixMessage struct {
	Time            time.Time               `json:"time"`
	Latitude        float64                 `json:"lat"`
	Longitude       float64                 `json:"lon"`
	Altitude        float64                 `json:"alt"`
	Solution        string                  `json:"solution"`
	Satellites      int                     `json:"satellites"`
	DifferentialAge float64                 `json:"diff_age"`
	DevLatitude     float64                 `json:"dev_lat"`
	DevLongitude    float64                 `json:"dev_lon"`
	DevAltitude     float64                 `json:"dev_alt"`
	HDOP            float64                 `json:"hdop"`
	Used            gnss.ConstellationCount `json:"used"`
	Tracked         gnss.ConstellationCount `json:"tracked"`
}

func NewFixMessage(f gnss.Fix) FixMessage {
	return FixMessage{
		Time:            f.Position.Time,
		Latitude:        f.Position.Latitude,
		Longitude:       f.Position.Longitude,
		Altitude:        f.Position.Altitude,
		Solution:        f.Position.Solution.String(),
		Satellites:      f.Position.Satellites,
		DifferentialAge: f.Position.DifferentialAge,
		DevLatitude:     f.Errors.DevLatitude,
		DevLongitude:    f.Errors.DevLongitude,
		DevAltitude:     f.Errors.DevAltitude,
		HDOP:            f.Quality.HDOP,
		Used:            f.UsedPerConstellation(),
		Tracked:         f.TrackedPerConstellation(),
	}
}

// PublishFix publishes f to the configured topic.
func (p *Publisher) PublishFix(f gnss.Fix) error {
	return p.PublishJSON("", NewFixMessage(f))
}

// PublishJSON publishes v to the configured topic, or to topic/sub when
// sub is not empty.
func (p *Publisher) PublishJSON(sub string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("mqtt marshal: %w", err)
	}
	topic := p.topic
	if sub != "" {
		topic = strings.TrimSuffix(topic, "/") + "/" + sub
	}
	token := p.c.Publish(topic, p.qos, true, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("mqtt publish %s: timed out after %s", topic, p.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	if p == nil || p.c == nil {
		return nil
	}
	p.c.Disconnect(250)
	p.c = nil
	return nil
}
