package actor

import (
	"testing"
	"time"

	adactor "github.com/berfenger/everblu2mqtt/internal/adapter/actor"
	"github.com/berfenger/everblu2mqtt/internal/adapter/radio"
	"github.com/berfenger/everblu2mqtt/internal/core/domain"
	"github.com/berfenger/everblu2mqtt/internal/mqtt"
	"github.com/berfenger/everblu2mqtt/internal/util"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMasterActor(t *testing.T) {

	as := actor.NewActorSystem()
	context := as.Root

	cfg := util.LoadTestConfig()
	logCfg := zap.NewDevelopmentConfig()
	logCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger := zap.Must(logCfg.Build())

	session := testSession(&cfg, radio.NewTestMeterRadio(testResponseFields()), logger)

	var mqttActor *adactor.MQTTActor
	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMasterOfPuppetsActor(cfg, session, func(es *eventstream.EventStream) *adactor.MQTTActor {
			mqttActor = adactor.NewTestMQTTActor(&cfg, es, logger)
			return mqttActor
		}, logger)
	})
	pid, err := context.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	require.NoError(t, err)

	time.Sleep(1 * time.Second)

	res, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 10*time.Second).Result()
	require.NoError(t, err)
	healthResp, ok := res.(domain.ActorHealthResponse)
	require.True(t, ok)
	assert.True(t, healthResp.Healthy, "healthy is true")

	// the request reading button reaches the meter and the reading reaches MQTT
	context.Send(pid, adactor.ParsedCommand{Command: &mqtt.ParsedMQTTCommand{
		DeviceId: domain.BUTTON_ID_REQUEST_READING,
		Command:  mqtt.COMMAND_BUTTON,
		Payload:  mqtt.MQTT_PAYLOAD_PRESS,
	}})
	require.Eventually(t, func() bool {
		for _, event := range mqttActor.Published() {
			if event.SensorId() == domain.SENSOR_ID_VOLUME {
				return true
			}
		}
		return false
	}, 5*time.Second, 50*time.Millisecond)

	res, err = context.RequestFuture(pid, domain.GetMeterStatusRequest{}, 2*time.Second).Result()
	require.NoError(t, err)
	status := res.(domain.GetMeterStatusResponse).Status
	assert.EqualValues(t, 1, status.Attempt.SuccessfulReads)
	assert.Equal(t, domain.STATUS_READING_SUCCESSFUL, status.StatusMessage)

	context.Stop(pid)

	as.Shutdown()
}

func TestDiscoveryRequest(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	req := DiscoveryRequest(&cfg)

	meterDevice := domain.MeterDevice(cfg.MeterIdentity())
	assert.Equal(domain.SENSOR_ID_BRIDGE_STATE, req.Sensors[0].Id)
	assert.Equal(domain.SENSOR_ID_VOLUME, req.Sensors[1].Id)
	assert.Equal(meterDevice.Model, req.Sensors[1].Device.Model, "first meter entity carries the device")
	assert.Equal(domain.BridgeDevice(cfg.MQTT.BaseTopic).Id, req.Sensors[1].Device.ViaDevice)
	assert.Empty(req.Sensors[2].Device.Model)
	assert.Equal(meterDevice.Id, req.Sensors[2].Device.Id)

	ids := map[string]bool{}
	for _, sensor := range req.Sensors {
		assert.False(ids[sensor.UniqueId], "duplicate %s", sensor.UniqueId)
		ids[sensor.UniqueId] = true
	}
	assert.Len(req.Buttons, 3)
}
