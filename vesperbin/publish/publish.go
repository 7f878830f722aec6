// Package publish sends final decode reports to an MQTT broker so that a
// field station can follow a conversion run.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/flaneur2020/vesper-bin/vesperbin/logger"
	"github.com/flaneur2020/vesper-bin/vesperbin/report"
)

const (
	DefaultTopic    = "vesper/reports"
	DefaultClientID = "vesperbin"
	DefaultTimeout  = 5 * time.Second
)

// Options configure the broker connection.
type Options struct {
	Broker   string
	Topic    string
	ClientID string
	QoS      byte
	Timeout  time.Duration
}

func (o *Options) applyDefaults() {
	if o.Topic == "" {
		o.Topic = DefaultTopic
	}
	if o.ClientID == "" {
		o.ClientID = DefaultClientID
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
}

// client is the part of mqtt.Client the publisher uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Publisher publishes each report as JSON on <topic>/<stream>.
type Publisher struct {
	client client
	opts   Options
}

// Connect dials the broker.
func Connect(opts Options) (*Publisher, error) {
	opts.applyDefaults()
	if opts.Broker == "" {
		return nil, fmt.Errorf("mqtt broker not set")
	}

	co := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetConnectTimeout(opts.Timeout)
	c := mqtt.NewClient(co)
	token := c.Connect()
	if !token.WaitTimeout(opts.Timeout) {
		return nil, fmt.Errorf("connect to %s: timed out after %s", opts.Broker, opts.Timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", opts.Broker, err)
	}
	logger.Info("connected to MQTT broker %s as %s", opts.Broker, opts.ClientID)
	return newPublisher(c, opts), nil
}

func newPublisher(c client, opts Options) *Publisher {
	opts.applyDefaults()
	return &Publisher{client: c, opts: opts}
}

// Topic returns the topic a report is published on.
func (p *Publisher) Topic(rep *report.Report) string {
	stream := strings.ToLower(rep.Stream)
	if stream == "" {
		stream = "unknown"
	}
	return p.opts.Topic + "/" + stream
}

// Publish sends rep and waits for the broker to acknowledge it.
func (p *Publisher) Publish(ctx context.Context, rep *report.Report) error {
	payload, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	topic := p.Topic(rep)
	token := p.client.Publish(topic, p.opts.QoS, false, payload)

	timer := time.NewTimer(p.opts.Timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("publish %s: timed out after %s", topic, p.opts.Timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	logger.Debug("published %s report to %s (%d bytes)", rep.Source, topic, len(payload))
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
