package command

import (
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DidierTrosset-Acqiris/Waveforms/internal/config"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestMQTTSourceHandlesPayloadLines(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	q := NewQueue()
	src := NewMQTTSource(config.MQTTConfig{
		Broker:   "tcp://127.0.0.1:1883",
		ClientID: "test",
		Topic:    "digitizer/commands",
		QoS:      1,
	}, q, log)

	src.handle(nil, fakeMessage{
		topic:   "digitizer/commands",
		payload: []byte("{\"records\":3}\n\n{broken\n{\"samples\":64}\n"),
	})

	cmds := q.Drain()
	require.Len(t, cmds, 2)
	assert.Equal(t, "mqtt", cmds[0].Source)
	assert.Len(t, hook.AllEntries(), 1)
}

func TestMQTTSourceCloseWithoutConnect(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	src := NewMQTTSource(config.MQTTConfig{Broker: "tcp://127.0.0.1:1883", Topic: "t"}, NewQueue(), log)
	assert.NotPanics(t, src.Close)
}
