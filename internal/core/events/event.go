package events

import (
	"fmt"
	"time"

	. "github.com/berfenger/everblu2mqtt/internal/core/domain"
	"github.com/berfenger/everblu2mqtt/pkg/radian"
)

func MeterReadingToUpdateEvents(r *MeterReading) []any {
	var events []any

	// Volume
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_VOLUME,
		},
		Value:    r.VolumeUnits,
		Decimals: 3,
	})
	// Battery
	events = append(events, IntSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_BATTERY,
		},
		Value: int64(r.BatteryMonths),
	})
	// Read counter
	events = append(events, IntSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_COUNTER,
		},
		Value: int64(r.Counter),
	})
	// Wake window
	events = append(events, IntSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_TIME_START,
		},
		Value: int64(r.TimeStart),
	})
	events = append(events, IntSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_TIME_END,
		},
		Value: int64(r.TimeEnd),
	})
	// Signal
	events = append(events, IntSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_RSSI_DBM,
		},
		Value: int64(r.Signal.RSSIDbm),
	})
	events = append(events, IntSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_RSSI_PERCENT,
		},
		Value: int64(r.Signal.RSSIPercent),
	})
	events = append(events, IntSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_LQI,
		},
		Value: int64(r.Signal.LQI),
	})
	events = append(events, IntSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_LQI_PERCENT,
		},
		Value: int64(r.Signal.LQIPercent),
	})
	// Reading timestamp
	events = append(events, TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_READING_TIMESTAMP,
		},
		Value: r.TimestampUTC.UTC().Format(time.RFC3339),
	})
	// History, only when the frame carried a valid one
	if len(r.History) > 0 {
		stats := radian.ComputeHistoryStats(r.History, r.Volume)
		events = append(events, IntSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: SENSOR_ID_HISTORY,
			},
			Value: int64(stats.MonthsAvailable),
		})
		events = append(events, AttributesUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: SENSOR_ID_HISTORY,
			},
			Value: stats.JSON(),
		})
	}

	return events
}

func MeterStatusToUpdateEvents(s MeterStatus) []any {
	var events []any

	// Status texts
	for _, text := range []struct{ id, value string }{
		{SENSOR_ID_STATUS, s.StatusMessage},
		{SENSOR_ID_ERROR, s.ErrorMessage},
		{SENSOR_ID_RADIO_STATE, s.RadioState},
		{SENSOR_ID_METER_SERIAL, fmt.Sprintf("%d", s.Identity.Serial)},
		{SENSOR_ID_METER_YEAR, fmt.Sprintf("%d", s.Identity.Year)},
		{SENSOR_ID_READING_SCHEDULE, s.Schedule.String()},
	} {
		events = append(events, TextSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: text.id,
			},
			Value: text.value,
		})
	}
	// Next scheduled reading
	if !s.Attempt.NextScheduledTime.IsZero() {
		events = append(events, TextSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: SENSOR_ID_NEXT_READING,
			},
			Value: s.Attempt.NextScheduledTime.UTC().Format(time.RFC3339),
		})
	}
	// Attempt counters
	for _, counter := range []struct {
		id    string
		value uint64
	}{
		{SENSOR_ID_TOTAL_ATTEMPTS, s.Attempt.TotalAttempts},
		{SENSOR_ID_SUCCESSFUL_READS, s.Attempt.SuccessfulReads},
		{SENSOR_ID_FAILED_READS, s.Attempt.FailedReads},
	} {
		events = append(events, IntSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: counter.id,
			},
			Value: int64(counter.value),
		})
	}
	// Frequency
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_FREQUENCY_OFFSET,
		},
		Value:    s.Radio.FrequencyOffsetHz / 1e3,
		Decimals: 3,
	})
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_TUNED_FREQUENCY,
		},
		Value:    s.Radio.TunedFrequencyHz / 1e6,
		Decimals: 6,
	})
	// Flags
	events = append(events, BinarySensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_ACTIVE_READING,
		},
		Value: s.Active,
	})
	events = append(events, BinarySensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_RADIO_CONNECTED,
		},
		Value: s.RadioConnected,
	})

	return events
}

// ActiveReadingUpdateEvent flips the in-progress flag without republishing the whole
// status.
func ActiveReadingUpdateEvent(active bool) BinarySensorUpdateEvent {
	return BinarySensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_ACTIVE_READING,
		},
		Value: active,
	}
}
