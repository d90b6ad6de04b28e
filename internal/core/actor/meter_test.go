package actor

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/berfenger/everblu2mqtt/internal/adapter/radio"
	"github.com/berfenger/everblu2mqtt/internal/config"
	"github.com/berfenger/everblu2mqtt/internal/core/domain"
	"github.com/berfenger/everblu2mqtt/internal/core/service"
	"github.com/berfenger/everblu2mqtt/internal/store"
	"github.com/berfenger/everblu2mqtt/internal/util"
	"github.com/berfenger/everblu2mqtt/pkg/radian"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []domain.SensorUpdateEvent
}

func recordEvents(es *eventstream.EventStream) *eventRecorder {
	rec := &eventRecorder{}
	es.Subscribe(func(evt any) {
		if e, ok := evt.(domain.SensorUpdateEvent); ok {
			rec.mu.Lock()
			rec.events = append(rec.events, e)
			rec.mu.Unlock()
		}
	})
	return rec
}

func (r *eventRecorder) find(id string) domain.SensorUpdateEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].SensorId() == id {
			return r.events[i]
		}
	}
	return nil
}

func testResponseFields() radian.ResponseFields {
	return radian.ResponseFields{
		Volume:        123456,
		BatteryMonths: 160,
		Counter:       42,
		TimeStart:     6,
		TimeEnd:       18,
	}
}

func testSession(cfg *config.Config, r *radio.TestMeterRadio, logger *zap.Logger) *service.Session {
	calibrator := service.NewCalibrator(r, store.NewMemoryFrequencyStore(nil), cfg.ToRadioConfig(), cfg.ToCalibrationConfig(), logger)
	fsm := service.NewReadingFSM(cfg.ToScheduleConfig(), logger)
	return service.NewSession(cfg.ToSessionConfig(), r, fsm, calibrator, logger)
}

func spawnMeter(t *testing.T, cfg config.Config, r *radio.TestMeterRadio) (*actor.RootContext, *actor.PID, *service.Session, *eventRecorder) {
	as := actor.NewActorSystem()
	t.Cleanup(as.Shutdown)
	logger := zap.NewNop()
	es := &eventstream.EventStream{}
	rec := recordEvents(es)
	session := testSession(&cfg, r, logger)

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMeterActor(&cfg, session, es, logger)
	})
	pid, err := as.Root.SpawnNamed(props, domain.ACTOR_ID_METER)
	require.NoError(t, err)
	t.Cleanup(func() { as.Root.Stop(pid) })
	return as.Root, pid, session, rec
}

func TestMeterActorBootRead(t *testing.T) {

	cfg := util.LoadTestConfig()
	cfg.Schedule.InitialReadOnBoot = true
	_, _, session, rec := spawnMeter(t, cfg, radio.NewTestMeterRadio(testResponseFields()))

	require.Eventually(t, func() bool {
		return rec.find(domain.SENSOR_ID_VOLUME) != nil
	}, 5*time.Second, 50*time.Millisecond)

	volume := rec.find(domain.SENSOR_ID_VOLUME).(domain.FloatSensorUpdateEvent)
	assert.Equal(t, 123456.0, volume.Value)
	assert.Equal(t, uint(3), volume.Decimals)
	assert.Eventually(t, func() bool {
		return session.Status().Attempt.SuccessfulReads == 1
	}, time.Second, 20*time.Millisecond)
	assert.Eventually(t, func() bool {
		status, ok := rec.find(domain.SENSOR_ID_STATUS).(domain.TextSensorUpdateEvent)
		return ok && status.Value == domain.STATUS_READING_SUCCESSFUL
	}, time.Second, 20*time.Millisecond)
}

func TestMeterActorPublishesStatusOnStart(t *testing.T) {

	cfg := util.LoadTestConfig()
	_, _, _, rec := spawnMeter(t, cfg, radio.NewTestMeterRadio(testResponseFields()))

	require.Eventually(t, func() bool {
		return rec.find(domain.SENSOR_ID_METER_SERIAL) != nil
	}, 2*time.Second, 20*time.Millisecond)
	assert.Nil(t, rec.find(domain.SENSOR_ID_VOLUME), "no reading before the schedule")

	connected := rec.find(domain.SENSOR_ID_RADIO_CONNECTED).(domain.BinarySensorUpdateEvent)
	assert.True(t, connected.Value)
}

func TestMeterActorTriggerReading(t *testing.T) {

	cfg := util.LoadTestConfig()
	root, pid, session, rec := spawnMeter(t, cfg, radio.NewTestMeterRadio(testResponseFields()))

	res, err := root.RequestFuture(pid, domain.TriggerReadingRequest{}, 2*time.Second).Result()
	require.NoError(t, err)
	resp, ok := res.(domain.TriggerReadingResponse)
	require.True(t, ok)
	assert.NoError(t, resp.GetResponseError())

	require.Eventually(t, func() bool {
		return rec.find(domain.SENSOR_ID_VOLUME) != nil
	}, 5*time.Second, 50*time.Millisecond)
	assert.EqualValues(t, 1, session.Status().Attempt.TotalAttempts)
}

func TestMeterActorRejectsWhileBusy(t *testing.T) {

	cfg := util.LoadTestConfig()
	r := radio.NewTestMeterRadio(testResponseFields())
	r.Hold = make(chan struct{})
	root, pid, session, rec := spawnMeter(t, cfg, r)

	res, err := root.RequestFuture(pid, domain.TriggerReadingRequest{}, 2*time.Second).Result()
	require.NoError(t, err)
	assert.NoError(t, res.(domain.TriggerReadingResponse).GetResponseError())
	require.Eventually(t, session.Busy, 2*time.Second, 10*time.Millisecond)

	active, ok := rec.find(domain.SENSOR_ID_ACTIVE_READING).(domain.BinarySensorUpdateEvent)
	require.True(t, ok)
	assert.True(t, active.Value)

	res, err = root.RequestFuture(pid, domain.TriggerScanRequest{}, 2*time.Second).Result()
	require.NoError(t, err)
	assert.ErrorIs(t, res.(domain.TriggerScanResponse).GetResponseError(), domain.ErrSessionBusy)

	res, err = root.RequestFuture(pid, domain.TriggerReadingRequest{}, 2*time.Second).Result()
	require.NoError(t, err)
	assert.ErrorIs(t, res.(domain.TriggerReadingResponse).GetResponseError(), domain.ErrSessionBusy)

	res, err = root.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	require.NoError(t, err)
	assert.Equal(t, "busy", res.(domain.ActorHealthResponse).State)

	close(r.Hold)
	require.Eventually(t, func() bool {
		return rec.find(domain.SENSOR_ID_VOLUME) != nil
	}, 5*time.Second, 50*time.Millisecond)
	assert.EqualValues(t, 1, session.Status().Attempt.TotalAttempts)
}

func TestMeterActorScanAndReset(t *testing.T) {

	cfg := util.LoadTestConfig()
	r := radio.NewTestMeterRadio(testResponseFields())
	target := cfg.Radio.FrequencyMHz*1e6 + 10e3
	r.Reachable = func(frequencyHz float64) bool {
		return frequencyHz > target-1 && frequencyHz < target+1
	}
	root, pid, session, rec := spawnMeter(t, cfg, r)

	res, err := root.RequestFuture(pid, domain.TriggerScanRequest{}, 2*time.Second).Result()
	require.NoError(t, err)
	assert.NoError(t, res.(domain.TriggerScanResponse).GetResponseError())

	require.Eventually(t, func() bool {
		offset, ok := rec.find(domain.SENSOR_ID_FREQUENCY_OFFSET).(domain.FloatSensorUpdateEvent)
		return ok && math.Abs(offset.Value-10) < 0.01
	}, 5*time.Second, 50*time.Millisecond)
	assert.InDelta(t, 10e3, session.Status().Radio.FrequencyOffsetHz, 1)

	res, err = root.RequestFuture(pid, domain.ResetFrequencyRequest{}, 2*time.Second).Result()
	require.NoError(t, err)
	assert.NoError(t, res.(domain.ResetFrequencyResponse).GetResponseError())
	assert.Zero(t, session.Status().Radio.FrequencyOffsetHz)

	status := rec.find(domain.SENSOR_ID_STATUS).(domain.TextSensorUpdateEvent)
	assert.Equal(t, domain.STATUS_FREQUENCY_RESET, status.Value)
}

func TestMeterActorStatusRequest(t *testing.T) {

	cfg := util.LoadTestConfig()
	root, pid, _, _ := spawnMeter(t, cfg, radio.NewTestMeterRadio(testResponseFields()))

	res, err := root.RequestFuture(pid, domain.GetMeterStatusRequest{}, 2*time.Second).Result()
	require.NoError(t, err)
	status := res.(domain.GetMeterStatusResponse).Status
	assert.Equal(t, cfg.MeterIdentity(), status.Identity)
	assert.Equal(t, domain.ScheduleMonFri, status.Schedule)
	assert.Equal(t, domain.StateWaiting, status.Attempt.State)
	assert.False(t, status.Active)
}
