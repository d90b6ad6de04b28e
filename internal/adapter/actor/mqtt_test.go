package actor

import (
	"testing"
	"time"

	"github.com/berfenger/everblu2mqtt/internal/core/domain"
	"github.com/berfenger/everblu2mqtt/internal/mqtt"
	"github.com/berfenger/everblu2mqtt/internal/util"
	"github.com/berfenger/everblu2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMQTTActor(t *testing.T) {

	cfg := util.LoadTestConfig()

	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)

	context := as.Root

	es := eventstream.EventStream{}

	act := NewTestMQTTActor(&cfg, &es, logger)
	props := actor.PropsFromProducer(func() actor.Actor { return act })
	pid := context.Spawn(props)

	msg := domain.ActorHealthRequest{}
	result, err := context.RequestFuture(pid, msg, 2*time.Second).Result()
	require.NoError(t, err)
	resp, ok := result.(domain.ActorHealthResponse)
	assert.True(t, ok)
	assert.True(t, resp.Healthy)

	es.Publish(domain.FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{
			Id: domain.SENSOR_ID_VOLUME,
		},
		Value:    245,
		Decimals: 3,
	})
	es.Publish(domain.IntSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{
			Id: domain.SENSOR_ID_BATTERY,
		},
		Value: 160,
	})
	// not a sensor update, ignored
	es.Publish("noise")

	require.Eventually(t, func() bool {
		return len(act.Published()) == 2
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, domain.SENSOR_ID_VOLUME, act.Published()[0].SensorId())

	context.Stop(pid)

	time.Sleep(200 * time.Millisecond)

	// unsubscribed on stop
	es.Publish(domain.IntSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{
			Id: domain.SENSOR_ID_COUNTER,
		},
		Value: 1,
	})
	time.Sleep(200 * time.Millisecond)
	assert.Len(t, act.Published(), 2)

	as.Shutdown()
}

func TestEventToMQTTMessage(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	act := NewTestMQTTActor(&cfg, nil, zap.NewNop())
	act.client = mqtt.CreateMQTTClient(&cfg, mqtt.OptsFromConfig(&cfg), nil, nil)

	msg := act.event2MQTTMessage(domain.FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: domain.SENSOR_ID_VOLUME},
		Value:                  1234.5,
		Decimals:               3,
	})
	assert.Equal("everblu/sensor/volume/state", msg.topic)
	assert.Equal("1234.500", msg.message)

	msg = act.event2MQTTMessage(domain.IntSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: domain.SENSOR_ID_RSSI_DBM},
		Value:                  -82,
	})
	assert.Equal("-82", msg.message)

	msg = act.event2MQTTMessage(domain.BinarySensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: domain.SENSOR_ID_ACTIVE_READING},
		Value:                  true,
	})
	assert.Equal("everblu/binary_sensor/active_reading/state", msg.topic)
	assert.Equal(mqtt.MQTT_PAYLOAD_ON, msg.message)

	msg = act.event2MQTTMessage(domain.AttributesUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: domain.SENSOR_ID_HISTORY},
		Value:                  `{"months_available":4}`,
	})
	assert.Equal("everblu/sensor/history/attributes", msg.topic)

	msg = act.event2MQTTMessage(domain.BridgeStateUpdateEvent{Value: false})
	assert.Equal(mqtt.MQTT_PAYLOAD_OFFLINE, msg.message)
	assert.True(msg.retain)
}
