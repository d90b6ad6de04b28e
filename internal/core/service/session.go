package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/berfenger/everblu2mqtt/internal/core/domain"
	"github.com/berfenger/everblu2mqtt/internal/core/port"
	"github.com/berfenger/everblu2mqtt/pkg/radian"
	"go.uber.org/zap"
)

var DefaultExchangeOptions = domain.ExchangeOptions{
	AckTimeout:  150 * time.Millisecond,
	DataTimeout: time.Second,
}

type SessionConfig struct {
	Meter      radian.MeterIdentity
	Schedule   domain.ScheduleConfig
	GasDivisor uint16
	Exchange   domain.ExchangeOptions
}

// AttemptOutcome is returned once the session lock is released.
type AttemptOutcome struct {
	// Reading is nil when the attempt failed.
	Reading *domain.MeterReading
	Err     error
	// Result is Waiting after a success, Retrying or Exhausted after a failure.
	Result domain.ReadingState
	// FrequencyAdjusted reports an adaptive tracking correction.
	FrequencyAdjusted bool
	Status            domain.MeterStatus
}

type ScanOutcome struct {
	Result *domain.CalibrationResult
	Err    error
	Status domain.MeterStatus
}

// Session runs everything that needs the radio: read attempts, calibration scans and
// frequency resets. Only one of them runs at a time; the others are rejected with
// domain.ErrSessionBusy. Status snapshots can be taken at any time.
type Session struct {
	lock sync.Mutex

	mu             sync.RWMutex
	fsm            *ReadingFSM
	radioConnected bool
	active         bool
	radioState     string
	statusMessage  string
	errorMessage   string
	lastReading    *domain.MeterReading

	config     SessionConfig
	radio      port.MeterRadio
	calibrator *Calibrator
	now        func() time.Time
	logger     *zap.Logger
}

func NewSession(config SessionConfig, radio port.MeterRadio, fsm *ReadingFSM, calibrator *Calibrator, logger *zap.Logger) *Session {
	if config.Exchange == (domain.ExchangeOptions{}) {
		config.Exchange = DefaultExchangeOptions
	}
	return &Session{
		fsm:           fsm,
		radioState:    domain.RADIO_STATE_IDLE,
		statusMessage: domain.STATUS_READY,
		errorMessage:  domain.ERROR_NONE,
		config:        config,
		radio:         radio,
		calibrator:    calibrator,
		now:           time.Now,
		logger:        logger,
	}
}

// SetClock replaces the wall clock.
func (s *Session) SetClock(now func() time.Time) {
	s.now = now
	s.calibrator.now = now
}

// Init brings the radio up and starts the schedule. A radio that does not answer is
// reported through the status and retried on the next attempt.
func (s *Session) Init() error {
	if !s.lock.TryLock() {
		return domain.ErrSessionBusy
	}
	defer s.lock.Unlock()

	if _, err := s.calibrator.Load(); err != nil {
		s.logger.Warn("session: cannot load frequency offset", zap.Error(err))
	}
	err := s.radio.Init(s.calibrator.TunedFrequencyHz())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.setRadioConnectedLocked(err == nil)
	if startErr := s.fsm.Start(s.now()); startErr != nil {
		s.logger.Error("session: cannot compute first read time", zap.Error(startErr))
	}
	return err
}

func (s *Session) Due() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.active && s.fsm.Due(s.now())
}

func (s *Session) Busy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *Session) Status() domain.MeterStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statusLocked()
}

// NeedsInitialScan is true when auto scan is on and no offset is known.
func (s *Session) NeedsInitialScan(autoScan bool) bool {
	return autoScan && s.calibrator.Radio().FrequencyOffsetHz == 0
}

// Attempt runs one read. triggered marks a read requested from outside the schedule.
func (s *Session) Attempt(ctx context.Context, triggered bool) (*AttemptOutcome, error) {
	if !s.lock.TryLock() {
		return nil, domain.ErrSessionBusy
	}
	defer s.lock.Unlock()

	s.mu.Lock()
	if err := s.fsm.Begin(s.now(), triggered); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.active = true
	s.radioState = domain.RADIO_STATE_READING
	connected := s.radioConnected
	s.mu.Unlock()

	reading, err := s.read(ctx, connected)

	outcome := &AttemptOutcome{Reading: reading, Err: err}
	if err == nil {
		adjusted, trackErr := s.calibrator.Track(reading.Signal)
		if trackErr != nil {
			s.logger.Warn("session: frequency tracking", zap.Error(trackErr))
		}
		outcome.FrequencyAdjusted = adjusted
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.radioState = domain.RADIO_STATE_IDLE
	now := s.now()

	if err == nil {
		s.lastReading = reading
		window := &ReadWindow{Start: reading.TimeStart, End: reading.TimeEnd}
		if schedErr := s.fsm.Succeed(now, window); schedErr != nil {
			s.logger.Error("session: cannot compute next read time", zap.Error(schedErr))
		}
		s.statusMessage = domain.STATUS_READING_SUCCESSFUL
		s.errorMessage = domain.ERROR_NONE
		outcome.Result = domain.StateWaiting
	} else {
		kind := domain.ClassifyError(err)
		if kind == domain.ErrorNotResponding {
			s.setRadioConnectedLocked(false)
		}
		result, fsmErr := s.fsm.Fail(now, kind)
		if fsmErr != nil {
			s.logger.Error("session: cannot compute next read time", zap.Error(fsmErr))
		}
		outcome.Result = result
		if result == domain.StateExhausted {
			s.statusMessage = domain.STATUS_FAILED_MAX_RETRIES
			s.errorMessage = domain.ERROR_MAX_RETRIES
		} else {
			s.statusMessage = domain.STATUS_RETRY_SCHEDULED
			s.errorMessage = fmt.Sprintf("%s: %s", domain.ERROR_RETRYING, kind)
		}
		if !s.radioConnected {
			s.radioState = domain.RADIO_STATE_UNAVAILABLE
			s.errorMessage = domain.ERROR_RADIO_NOT_RESPONDING
		}
		s.logger.Warn("session: read failed", zap.Stringer("result", result), zap.Error(err))
	}
	outcome.Status = s.statusLocked()
	return outcome, nil
}

// Scan runs a calibration scan. It never touches the read schedule.
func (s *Session) Scan(ctx context.Context, wide bool) (*ScanOutcome, error) {
	if !s.lock.TryLock() {
		return nil, domain.ErrSessionBusy
	}
	defer s.lock.Unlock()

	s.mu.Lock()
	s.active = true
	s.radioState = domain.RADIO_STATE_SCANNING
	connected := s.radioConnected
	s.mu.Unlock()

	var result *domain.CalibrationResult
	var err error
	if !connected {
		err = s.reconnect(domain.RADIO_STATE_SCANNING)
	}
	switch {
	case err != nil:
	case wide:
		result, err = s.calibrator.WideScan(ctx, s.config.Meter)
	default:
		result, err = s.calibrator.NarrowScan(ctx, s.config.Meter)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.radioState = domain.RADIO_STATE_IDLE
	switch {
	case result != nil:
		// a store failure does not undo the new frequency
		s.statusMessage = fmt.Sprintf("%s: offset %.1f kHz", domain.STATUS_SCAN_COMPLETE, result.FrequencyOffsetHz/1e3)
		s.errorMessage = domain.ERROR_NONE
		if err != nil {
			s.errorMessage = err.Error()
		}
	case errors.Is(err, ErrNoViableFrequency):
		s.statusMessage = domain.STATUS_SCAN_FAILED
		s.errorMessage = "No meter signal found"
	case domain.ClassifyError(err) == domain.ErrorNotResponding:
		s.setRadioConnectedLocked(false)
		s.statusMessage = domain.STATUS_SCAN_FAILED
	default:
		s.statusMessage = domain.STATUS_SCAN_FAILED
		s.errorMessage = err.Error()
	}
	return &ScanOutcome{Result: result, Err: err, Status: s.statusLocked()}, nil
}

// ResetFrequency sets the tuned frequency back to the center.
func (s *Session) ResetFrequency() (domain.MeterStatus, error) {
	if !s.lock.TryLock() {
		return s.Status(), domain.ErrSessionBusy
	}
	defer s.lock.Unlock()

	err := s.calibrator.ResetFrequency()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusMessage = domain.STATUS_FREQUENCY_RESET
	if err != nil {
		s.errorMessage = err.Error()
	}
	return s.statusLocked(), err
}

func (s *Session) read(ctx context.Context, connected bool) (*domain.MeterReading, error) {
	frequency := s.calibrator.TunedFrequencyHz()
	if !connected {
		if err := s.reconnect(domain.RADIO_STATE_READING); err != nil {
			return nil, err
		}
	}

	exchange, err := s.radio.Exchange(ctx, s.config.Meter, frequency, s.config.Exchange)
	if err != nil {
		return nil, err
	}
	reading, err := radian.ParseResponseFrame(exchange.Frame, s.config.Meter, radian.ParseOptions{GasDivisor: s.config.GasDivisor})
	if err != nil {
		return nil, err
	}
	s.logger.Info("session: meter read",
		zap.Stringer("meter", s.config.Meter), zap.Uint32("volume", reading.Volume),
		zap.Int("rssi_dbm", exchange.Signal.RSSIDbm), zap.Uint8("lqi", exchange.Signal.LQI))
	return &domain.MeterReading{
		Reading:      *reading,
		Signal:       exchange.Signal,
		TimestampUTC: s.now().UTC(),
	}, nil
}

// reconnect retries the radio bring up for a radio marked disconnected.
func (s *Session) reconnect(state string) error {
	if err := s.radio.Init(s.calibrator.TunedFrequencyHz()); err != nil {
		return err
	}
	s.mu.Lock()
	s.setRadioConnectedLocked(true)
	s.radioState = state
	s.mu.Unlock()
	return nil
}

func (s *Session) setRadioConnectedLocked(connected bool) {
	s.radioConnected = connected
	if connected {
		s.radioState = domain.RADIO_STATE_IDLE
		if s.errorMessage == domain.ERROR_RADIO_NOT_RESPONDING {
			s.statusMessage = domain.STATUS_READY
			s.errorMessage = domain.ERROR_NONE
		}
		return
	}
	s.radioState = domain.RADIO_STATE_UNAVAILABLE
	s.statusMessage = domain.STATUS_ERROR
	s.errorMessage = domain.ERROR_RADIO_NOT_RESPONDING
}

func (s *Session) statusLocked() domain.MeterStatus {
	return domain.MeterStatus{
		Identity:       s.config.Meter,
		Schedule:       s.config.Schedule.Schedule,
		Radio:          s.calibrator.Radio(),
		RadioConnected: s.radioConnected,
		Active:         s.active,
		RadioState:     s.radioState,
		StatusMessage:  s.statusMessage,
		ErrorMessage:   s.errorMessage,
		Attempt:        s.fsm.State(),
		LastReading:    s.lastReading,
	}
}
