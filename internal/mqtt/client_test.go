package mqtt

import (
	"testing"

	"github.com/berfenger/everblu2mqtt/internal/config"
	"github.com/berfenger/everblu2mqtt/internal/core/domain"
	"github.com/berfenger/everblu2mqtt/pkg/radian"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient() *MQTTClient {
	cfg := &config.Config{MQTT: config.MQTTConfig{Host: "localhost", Port: 1883, BaseTopic: "everblu"}}
	return CreateMQTTClient(cfg, OptsFromConfig(cfg), nil, nil)
}

func TestButtonCommandParse(t *testing.T) {

	assert := assert.New(t)

	r := buttonCommandExtractor("everblu")
	cmd, err := parseButtonCommand(r, "everblu/button/request_reading/press", "PRESS")
	require.NoError(t, err)
	assert.Equal("request_reading", cmd.DeviceId, "button extract")
	assert.Equal(COMMAND_BUTTON, cmd.Command)
	assert.Equal("PRESS", cmd.Payload)
}

func TestButtonCommandParseFail(t *testing.T) {

	r := buttonCommandExtractor("everblu")
	for _, topic := range []string{
		"everblu/button/request_reading/state",
		"everblu/sensor/volume/state",
		"other/button/request_reading/press",
		"everblu/button/request_reading/press/extra",
	} {
		_, err := parseButtonCommand(r, topic, "PRESS")
		assert.Error(t, err, topic)
	}
}

func TestTopics(t *testing.T) {

	assert := assert.New(t)

	c := testClient()
	assert.Equal("everblu/bridge/state", c.BridgeStateTopic())
	assert.Equal("everblu/sensor/volume/state", c.SensorStateTopic(domain.SENSOR_ID_VOLUME))
	assert.Equal("everblu/sensor/history/attributes", c.SensorAttributesTopic(domain.SENSOR_ID_HISTORY))
	assert.Equal("everblu/binary_sensor/radio_connected/state", c.BinarySensorStateTopic(domain.SENSOR_ID_RADIO_CONNECTED))
	assert.Equal("everblu/button/frequency_scan/press", c.ButtonCommandTopic(domain.BUTTON_ID_FREQUENCY_SCAN))
	assert.Equal("everblu/button/+/press", c.commandTopic())
}

func TestDiscoveryMessages(t *testing.T) {

	assert := assert.New(t)

	c := testClient()
	meter := radian.MeterIdentity{Year: 20, Serial: 257750, Type: radian.Gas}
	device := domain.MeterDevice(meter)

	var history, connected domain.GenericSensor
	for _, s := range append(domain.MeterReadingSensors(device, meter), domain.MeterStatusSensors(device)...) {
		switch s.Id {
		case domain.SENSOR_ID_HISTORY:
			history = s
		case domain.SENSOR_ID_RADIO_CONNECTED:
			connected = s
		}
	}

	msg := GenericSensorToHADiscoveryMessage(c, history)
	assert.Equal("everblu/sensor/history/state", msg.StateTopic)
	assert.Equal("everblu/sensor/history/attributes", msg.JsonAttributesTopic)
	assert.Equal("everblu/bridge/state", msg.AvTopic)

	msg = GenericSensorToHADiscoveryMessage(c, connected)
	assert.Equal(MQTT_PAYLOAD_ON, msg.PayloadOn)
	assert.Equal(MQTT_PAYLOAD_OFF, msg.PayloadOff)
	assert.Equal("homeassistant/binary_sensor/"+device.Id+"/radio_connected/config", HADiscoverySensorTopic(c, connected))

	buttons := domain.MeterButtons(device)
	require.Len(t, buttons, 3)
	msg = GenericButtonToHADiscoveryMessage(c, buttons[0])
	assert.Equal("everblu/button/request_reading/press", msg.CommandTopic)
	assert.Equal(MQTT_PAYLOAD_PRESS, msg.PayloadPress)
	assert.Empty(msg.StateTopic)
	assert.Equal("homeassistant/button/"+device.Id+"/request_reading/config", HADiscoveryButtonTopic(c, buttons[0]))
}
