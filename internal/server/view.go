package server

import (
	"time"

	"github.com/berfenger/everblu2mqtt/internal/core/domain"
)

type StatusView struct {
	Meter            string       `json:"meter"`
	MeterType        string       `json:"meter_type"`
	Schedule         string       `json:"reading_schedule"`
	Status           string       `json:"status"`
	Error            string       `json:"error"`
	RadioState       string       `json:"radio_state"`
	RadioConnected   bool         `json:"radio_connected"`
	ActiveReading    bool         `json:"active_reading"`
	State            string       `json:"state"`
	TotalAttempts    uint64       `json:"total_attempts"`
	SuccessfulReads  uint64       `json:"successful_reads"`
	FailedReads      uint64       `json:"failed_reads"`
	RetryCount       int          `json:"retry_count"`
	NextReading      *time.Time   `json:"next_reading,omitempty"`
	TunedFrequencyHz float64      `json:"tuned_frequency_hz"`
	OffsetHz         float64      `json:"frequency_offset_hz"`
	LastReading      *ReadingView `json:"last_reading,omitempty"`
}

type ReadingView struct {
	Volume        float64   `json:"volume"`
	BatteryMonths uint8     `json:"battery_months"`
	Counter       uint8     `json:"counter"`
	TimeStart     uint8     `json:"time_start"`
	TimeEnd       uint8     `json:"time_end"`
	RSSIDbm       int       `json:"rssi_dbm"`
	LQI           uint8     `json:"lqi"`
	History       []uint32  `json:"history,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewStatusView(s domain.MeterStatus) StatusView {
	view := StatusView{
		Meter:            s.Identity.String(),
		MeterType:        s.Identity.Type.String(),
		Schedule:         s.Schedule.String(),
		Status:           s.StatusMessage,
		Error:            s.ErrorMessage,
		RadioState:       s.RadioState,
		RadioConnected:   s.RadioConnected,
		ActiveReading:    s.Active,
		State:            s.Attempt.State.String(),
		TotalAttempts:    s.Attempt.TotalAttempts,
		SuccessfulReads:  s.Attempt.SuccessfulReads,
		FailedReads:      s.Attempt.FailedReads,
		RetryCount:       s.Attempt.CurrentRetryCount,
		TunedFrequencyHz: s.Radio.TunedFrequencyHz,
		OffsetHz:         s.Radio.FrequencyOffsetHz,
	}
	if !s.Attempt.NextScheduledTime.IsZero() {
		next := s.Attempt.NextScheduledTime
		view.NextReading = &next
	}
	if r := s.LastReading; r != nil {
		view.LastReading = &ReadingView{
			Volume:        r.VolumeUnits,
			BatteryMonths: r.BatteryMonths,
			Counter:       r.Counter,
			TimeStart:     r.TimeStart,
			TimeEnd:       r.TimeEnd,
			RSSIDbm:       r.Signal.RSSIDbm,
			LQI:           r.Signal.LQI,
			History:       r.History,
			Timestamp:     r.TimestampUTC,
		}
	}
	return view
}
