package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/berfenger/everblu2mqtt/internal/core/domain"
	"github.com/berfenger/everblu2mqtt/pkg/cc1101"
	"github.com/berfenger/everblu2mqtt/pkg/radian"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventsById(events []any) map[string]any {
	byId := map[string]any{}
	for _, event := range events {
		switch e := event.(type) {
		case domain.AttributesUpdateEvent:
			byId[e.SensorId()+"/attributes"] = e
		case domain.SensorUpdateEvent:
			byId[e.SensorId()] = e
		}
	}
	return byId
}

func TestMeterReadingToUpdateEvents(t *testing.T) {

	assert := assert.New(t)

	reading := &domain.MeterReading{
		Reading: radian.Reading{
			Volume:        2600,
			VolumeUnits:   2600,
			BatteryMonths: 160,
			Counter:       42,
			TimeStart:     6,
			TimeEnd:       18,
			History:       []uint32{1000, 1500, 1400, 2000},
		},
		Signal:       cc1101.SignalMetrics{RSSIDbm: -75, RSSIPercent: 62, LQI: 20, LQIPercent: 90},
		TimestampUTC: time.Date(2024, time.March, 11, 10, 0, 3, 0, time.UTC),
	}
	byId := eventsById(MeterReadingToUpdateEvents(reading))

	assert.Equal(2600.0, byId[domain.SENSOR_ID_VOLUME].(domain.FloatSensorUpdateEvent).Value)
	assert.Equal(int64(160), byId[domain.SENSOR_ID_BATTERY].(domain.IntSensorUpdateEvent).Value)
	assert.Equal(int64(-75), byId[domain.SENSOR_ID_RSSI_DBM].(domain.IntSensorUpdateEvent).Value)
	assert.Equal(int64(90), byId[domain.SENSOR_ID_LQI_PERCENT].(domain.IntSensorUpdateEvent).Value)
	assert.Equal("2024-03-11T10:00:03Z", byId[domain.SENSOR_ID_READING_TIMESTAMP].(domain.TextSensorUpdateEvent).Value)
	assert.Equal(int64(4), byId[domain.SENSOR_ID_HISTORY].(domain.IntSensorUpdateEvent).Value)

	var attributes map[string]any
	raw := byId[domain.SENSOR_ID_HISTORY+"/attributes"].(domain.AttributesUpdateEvent).Value
	require.NoError(t, json.Unmarshal([]byte(raw), &attributes))
	assert.EqualValues(600, attributes["current_month_usage"])

	reading.History = nil
	byId = eventsById(MeterReadingToUpdateEvents(reading))
	assert.NotContains(byId, domain.SENSOR_ID_HISTORY)
}

func TestMeterStatusToUpdateEvents(t *testing.T) {

	assert := assert.New(t)

	status := domain.MeterStatus{
		Identity:       radian.MeterIdentity{Year: 20, Serial: 257750},
		Schedule:       domain.ScheduleMonFri,
		Radio:          domain.RadioConfig{CenterFrequencyHz: 433.82e6, TunedFrequencyHz: 433.8325e6, FrequencyOffsetHz: 12.5e3},
		RadioConnected: true,
		RadioState:     domain.RADIO_STATE_IDLE,
		StatusMessage:  domain.STATUS_READY,
		ErrorMessage:   domain.ERROR_NONE,
		Attempt: domain.AttemptState{
			TotalAttempts:     5,
			SuccessfulReads:   4,
			FailedReads:       1,
			NextScheduledTime: time.Date(2024, time.March, 12, 10, 0, 0, 0, time.UTC),
		},
	}
	byId := eventsById(MeterStatusToUpdateEvents(status))

	assert.Equal("Monday-Friday", byId[domain.SENSOR_ID_READING_SCHEDULE].(domain.TextSensorUpdateEvent).Value)
	assert.Equal("257750", byId[domain.SENSOR_ID_METER_SERIAL].(domain.TextSensorUpdateEvent).Value)
	assert.Equal("2024-03-12T10:00:00Z", byId[domain.SENSOR_ID_NEXT_READING].(domain.TextSensorUpdateEvent).Value)
	assert.Equal(int64(4), byId[domain.SENSOR_ID_SUCCESSFUL_READS].(domain.IntSensorUpdateEvent).Value)
	assert.InDelta(12.5, byId[domain.SENSOR_ID_FREQUENCY_OFFSET].(domain.FloatSensorUpdateEvent).Value, 1e-9)
	assert.InDelta(433.8325, byId[domain.SENSOR_ID_TUNED_FREQUENCY].(domain.FloatSensorUpdateEvent).Value, 1e-9)
	assert.True(byId[domain.SENSOR_ID_RADIO_CONNECTED].(domain.BinarySensorUpdateEvent).Value)
	assert.False(byId[domain.SENSOR_ID_ACTIVE_READING].(domain.BinarySensorUpdateEvent).Value)

	status.Attempt.NextScheduledTime = time.Time{}
	assert.NotContains(eventsById(MeterStatusToUpdateEvents(status)), domain.SENSOR_ID_NEXT_READING)
}
