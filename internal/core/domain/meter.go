package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/berfenger/everblu2mqtt/pkg/cc1101"
	"github.com/berfenger/everblu2mqtt/pkg/radian"
)

// ReadingSchedule is the weekly pattern of days on which a scheduled read may run.
type ReadingSchedule int

const (
	ScheduleMonFri ReadingSchedule = iota
	ScheduleMonSat
	ScheduleMonSun
	ScheduleEveryday
)

func (s ReadingSchedule) String() string {
	switch s {
	case ScheduleMonFri:
		return "Monday-Friday"
	case ScheduleMonSat:
		return "Monday-Saturday"
	case ScheduleMonSun:
		return "Monday-Sunday"
	case ScheduleEveryday:
		return "Everyday"
	}
	return fmt.Sprintf("ReadingSchedule(%d)", int(s))
}

// Includes tells whether a read may be scheduled on the given weekday.
func (s ReadingSchedule) Includes(day time.Weekday) bool {
	switch s {
	case ScheduleMonFri:
		return day >= time.Monday && day <= time.Friday
	case ScheduleMonSat:
		return day != time.Sunday
	}
	return true
}

func ParseReadingSchedule(value string) (ReadingSchedule, error) {
	normalized := strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(value))
	switch normalized {
	case "mondayfriday", "monfri", "weekdays":
		return ScheduleMonFri, nil
	case "mondaysaturday", "monsat":
		return ScheduleMonSat, nil
	case "mondaysunday", "monsun":
		return ScheduleMonSun, nil
	case "everyday", "daily":
		return ScheduleEveryday, nil
	}
	return ScheduleMonFri, fmt.Errorf("unknown reading schedule %q", value)
}

type ReadingState int

const (
	StateIdle ReadingState = iota
	StateWaiting
	StateAttempting
	StateRetrying
	StateExhausted
)

func (s ReadingState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateWaiting:
		return "Waiting"
	case StateAttempting:
		return "Attempting"
	case StateRetrying:
		return "Retrying"
	case StateExhausted:
		return "Exhausted"
	}
	return fmt.Sprintf("ReadingState(%d)", int(s))
}

// ErrorKind is the outcome class of the last attempt.
type ErrorKind int

const (
	ErrorNone ErrorKind = iota
	ErrorSPI
	ErrorNotResponding
	ErrorTimeout
	ErrorCrcMismatch
	ErrorBadLength
	ErrorBadChecksum
	ErrorIdentityMismatch
	ErrorMalformedPayload
	ErrorUnknown
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorNone:
		return ERROR_NONE
	case ErrorSPI:
		return "SPI error"
	case ErrorNotResponding:
		return ERROR_RADIO_NOT_RESPONDING
	case ErrorTimeout:
		return "No response from meter"
	case ErrorCrcMismatch:
		return "Radio CRC mismatch"
	case ErrorBadLength:
		return "Bad frame length"
	case ErrorBadChecksum:
		return "Bad frame checksum"
	case ErrorIdentityMismatch:
		return "Frame from another meter"
	case ErrorMalformedPayload:
		return "Malformed meter data"
	}
	return "Unknown error"
}

// ClassifyError maps radio and codec errors to an ErrorKind.
func ClassifyError(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorNone
	case errors.Is(err, cc1101.ErrNotResponding):
		return ErrorNotResponding
	case errors.Is(err, cc1101.ErrSPI):
		return ErrorSPI
	case errors.Is(err, cc1101.ErrTimeout):
		return ErrorTimeout
	case errors.Is(err, cc1101.ErrCrcMismatch):
		return ErrorCrcMismatch
	case errors.Is(err, radian.ErrBadLength), errors.Is(err, radian.ErrStopBit):
		return ErrorBadLength
	case errors.Is(err, radian.ErrBadChecksum):
		return ErrorBadChecksum
	case errors.Is(err, radian.ErrIdentityMismatch):
		return ErrorIdentityMismatch
	case errors.Is(err, radian.ErrMalformedPayload):
		return ErrorMalformedPayload
	}
	return ErrorUnknown
}

type RadioConfig struct {
	CenterFrequencyHz float64
	// TunedFrequencyHz starts at the center and is only changed by calibration.
	TunedFrequencyHz  float64
	FrequencyOffsetHz float64
	GDO0Pin           string
}

type ScheduleConfig struct {
	Schedule              ReadingSchedule
	ReadHour              int
	ReadMinute            int
	TimezoneOffsetMinutes int
	AutoAlignTime         bool
	AutoAlignMidpoint     bool
	MaxRetries            int
	RetryCooldown         time.Duration
	InitialReadOnBoot     bool
}

// Location is the fixed zone the schedule is expressed in.
func (c ScheduleConfig) Location() *time.Location {
	sign, minutes := "+", c.TimezoneOffsetMinutes
	if minutes < 0 {
		sign, minutes = "-", -minutes
	}
	return time.FixedZone(fmt.Sprintf("UTC%s%02d:%02d", sign, minutes/60, minutes%60), c.TimezoneOffsetMinutes*60)
}

type AttemptState struct {
	TotalAttempts     uint64
	SuccessfulReads   uint64
	FailedReads       uint64
	CurrentRetryCount int
	LastAttemptTime   time.Time
	NextScheduledTime time.Time
	LastError         ErrorKind
	State             ReadingState
}

type MeterReading struct {
	radian.Reading
	Signal       cc1101.SignalMetrics
	TimestampUTC time.Time
}

type CalibrationResult struct {
	TunedFrequencyHz  float64
	FrequencyOffsetHz float64
	Signal            cc1101.SignalMetrics
	Candidates        int
	Successes         int
}

// MeterStatus is a read-only snapshot of everything the meter publishes besides the
// reading itself.
type MeterStatus struct {
	Identity       radian.MeterIdentity
	Schedule       ReadingSchedule
	Radio          RadioConfig
	RadioConnected bool
	Active         bool
	RadioState     string
	StatusMessage  string
	ErrorMessage   string
	Attempt        AttemptState
	LastReading    *MeterReading
}

const (
	RADIO_STATE_IDLE        = "Idle"
	RADIO_STATE_READING     = "Reading"
	RADIO_STATE_SCANNING    = "Scanning"
	RADIO_STATE_UNAVAILABLE = "unavailable"

	STATUS_READY              = "Ready"
	STATUS_ERROR              = "Error"
	STATUS_READING_SUCCESSFUL = "Reading successful"
	STATUS_RETRY_SCHEDULED    = "Retry scheduled"
	STATUS_FAILED_MAX_RETRIES = "Failed after max retries"
	STATUS_SCAN_COMPLETE      = "Frequency scan complete"
	STATUS_SCAN_FAILED        = "Frequency scan failed"
	STATUS_FREQUENCY_RESET    = "Frequency reset to center"

	ERROR_NONE                 = "None"
	ERROR_RADIO_NOT_RESPONDING = "CC1101 radio not responding"
	ERROR_RETRYING             = "Retrying after failure"
	ERROR_MAX_RETRIES          = "Max retries reached - cooling down"
)

type ExchangeOptions struct {
	AckTimeout  time.Duration
	DataTimeout time.Duration
}

// RadioExchange is the raw outcome of one request/response conversation.
type RadioExchange struct {
	Frame       []byte
	Signal      cc1101.SignalMetrics
	FrequencyHz float64
}

// FrequencyState is what gets persisted after a calibration.
type FrequencyState struct {
	CenterFrequencyHz float64   `yaml:"center_frequency_hz"`
	OffsetHz          float64   `yaml:"offset_hz"`
	UpdatedAt         time.Time `yaml:"updated_at"`
}
