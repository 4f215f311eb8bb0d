package command

import (
	"bytes"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/DidierTrosset-Acqiris/Waveforms/internal/config"
)

// MQTTSource feeds commands published on a broker topic into a Queue.
// A message payload may hold several newline-separated commands.
type MQTTSource struct {
	client mqtt.Client
	topic  string
	qos    byte
	queue  *Queue
	log    logrus.FieldLogger
}

// NewMQTTSource creates a source for cfg. It does not connect.
func NewMQTTSource(cfg config.MQTTConfig, queue *Queue, log logrus.FieldLogger) *MQTTSource {
	s := &MQTTSource{
		topic: cfg.Topic,
		qos:   byte(cfg.QoS),
		queue: queue,
		log:   log.WithField("component", "mqtt"),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetDefaultPublishHandler(s.handle)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		s.log.WithField("broker", cfg.Broker).Info("connected to broker")
		// Resubscribe after automatic reconnects.
		if token := c.Subscribe(s.topic, s.qos, s.handle); token.Wait() && token.Error() != nil {
			s.log.WithError(token.Error()).Error("resubscribe failed")
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.log.WithError(err).Warn("connection to broker lost")
	})
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	s.client = mqtt.NewClient(opts)
	return s
}

// Start connects to the broker. The subscription is made by the
// on-connect handler.
func (s *MQTTSource) Start() error {
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect to broker: %w", token.Error())
	}
	return nil
}

// Close unsubscribes and disconnects.
func (s *MQTTSource) Close() {
	if s.client == nil || !s.client.IsConnected() {
		return
	}
	s.client.Unsubscribe(s.topic).WaitTimeout(time.Second)
	s.client.Disconnect(250)
}

func (s *MQTTSource) handle(_ mqtt.Client, msg mqtt.Message) {
	for _, line := range bytes.Split(msg.Payload(), []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		params, err := ParseLine(line)
		if err != nil {
			s.log.WithField("topic", msg.Topic()).WithError(err).Warn("command dropped")
			continue
		}
		s.queue.Push(NewCommand("mqtt", params))
	}
}
