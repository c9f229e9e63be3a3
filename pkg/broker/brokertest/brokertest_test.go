package brokertest

import (
	"testing"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_OptionsReader(t *testing.T) {
	opts := mqtt.NewClientOptions().SetClientID("rover-7").SetCleanSession(false)
	c := (&Factory{}).New(opts)

	r := c.OptionsReader()
	assert.Equal(t, "rover-7", r.ClientID())
	assert.False(t, r.CleanSession())
}

func TestClient_DeliverRoutesByFilter(t *testing.T) {
	f := &Factory{}
	c := f.New(mqtt.NewClientOptions()).(*Client)
	require.NoError(t, c.Connect().Error())

	var got []string
	c.Subscribe("ground/+/data", 1, func(_ mqtt.Client, m mqtt.Message) { got = append(got, m.Topic()) })

	assert.True(t, c.Deliver("ground/7/data", []byte("{}")))
	assert.False(t, c.Deliver("ground/7/telemetry", []byte("{}")))
	assert.Equal(t, []string{"ground/7/data"}, got)
	assert.Equal(t, 1, f.Open())
}
