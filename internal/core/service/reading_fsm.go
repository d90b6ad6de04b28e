package service

import (
	"fmt"
	"slices"
	"time"

	"github.com/berfenger/everblu2mqtt/internal/core/domain"
	"go.uber.org/zap"
)

var readingTransitions = map[domain.ReadingState][]domain.ReadingState{
	domain.StateIdle:       {domain.StateWaiting, domain.StateAttempting},
	domain.StateWaiting:    {domain.StateAttempting},
	domain.StateAttempting: {domain.StateWaiting, domain.StateRetrying, domain.StateExhausted},
	domain.StateRetrying:   {domain.StateAttempting},
	domain.StateExhausted:  {domain.StateWaiting},
}

// ReadingFSM decides when reads happen and how failures back off. It is not safe for
// concurrent use.
type ReadingFSM struct {
	config       domain.ScheduleConfig
	schedule     *Schedule
	state        domain.AttemptState
	backoffUntil time.Time
	window       *ReadWindow
	bootRead     bool
	logger       *zap.Logger
}

func NewReadingFSM(config domain.ScheduleConfig, logger *zap.Logger) *ReadingFSM {
	return &ReadingFSM{
		config:   config,
		schedule: NewSchedule(config),
		logger:   logger,
	}
}

func (f *ReadingFSM) State() domain.AttemptState {
	return f.state
}

func (f *ReadingFSM) BackoffUntil() time.Time {
	return f.backoffUntil
}

// Start leaves Idle. With a boot read configured the machine stays Idle and is due
// right away, so the first attempt goes Idle -> Attempting.
func (f *ReadingFSM) Start(now time.Time) error {
	if f.state.State != domain.StateIdle {
		return nil
	}
	if f.config.InitialReadOnBoot {
		f.bootRead = true
		return nil
	}
	return f.waitUntil(now, f.schedule.Next)
}

// Due tells whether an attempt should start now.
func (f *ReadingFSM) Due(now time.Time) bool {
	switch f.state.State {
	case domain.StateIdle:
		return f.bootRead
	case domain.StateWaiting:
		return !now.Before(f.state.NextScheduledTime)
	case domain.StateRetrying:
		return !now.Before(f.backoffUntil)
	}
	return false
}

// Begin enters Attempting. A scheduled attempt out of Waiting starts a new day and
// clears the retry count; a triggered one keeps it.
func (f *ReadingFSM) Begin(now time.Time, triggered bool) error {
	from := f.state.State
	if from == domain.StateAttempting {
		return domain.ErrSessionBusy
	}
	if err := f.transition(domain.StateAttempting); err != nil {
		return err
	}
	if from == domain.StateWaiting && !triggered {
		f.state.CurrentRetryCount = 0
	}
	f.bootRead = false
	f.state.TotalAttempts++
	f.state.LastAttemptTime = now
	return nil
}

// Succeed records a valid reading. The meter wake window, when present, feeds the
// read time alignment.
func (f *ReadingFSM) Succeed(now time.Time, window *ReadWindow) error {
	if window.span() > 0 {
		f.window = window
	}
	f.state.CurrentRetryCount = 0
	f.state.SuccessfulReads++
	f.state.LastError = domain.ErrorNone
	f.backoffUntil = time.Time{}
	return f.waitUntil(now, f.schedule.Next)
}

// Fail records a failed attempt and returns Retrying or Exhausted. After Exhausted the
// machine is already Waiting for the next scheduled day.
func (f *ReadingFSM) Fail(now time.Time, kind domain.ErrorKind) (domain.ReadingState, error) {
	f.state.FailedReads++
	f.state.LastError = kind

	if f.state.CurrentRetryCount+1 < f.config.MaxRetries {
		if err := f.transition(domain.StateRetrying); err != nil {
			return f.state.State, err
		}
		f.state.CurrentRetryCount++
		f.backoffUntil = now.Add(f.config.RetryCooldown)
		f.state.NextScheduledTime = f.backoffUntil
		return domain.StateRetrying, nil
	}

	if err := f.transition(domain.StateExhausted); err != nil {
		return f.state.State, err
	}
	f.logger.Warn("meter@exhausted giving up for today",
		zap.Int("attempts", f.state.CurrentRetryCount+1), zap.Stringer("error", kind))
	f.state.CurrentRetryCount = 0
	f.backoffUntil = time.Time{}
	return domain.StateExhausted, f.waitUntil(now, f.schedule.NextDay)
}

func (f *ReadingFSM) waitUntil(now time.Time, next func(time.Time, *ReadWindow) (time.Time, error)) error {
	if err := f.transition(domain.StateWaiting); err != nil {
		return err
	}
	at, err := next(now, f.window)
	if err != nil {
		// keep a daily cadence even with a broken schedule
		f.state.NextScheduledTime = now.Add(24 * time.Hour)
		return err
	}
	f.state.NextScheduledTime = at
	f.logger.Debug("meter@waiting next read scheduled", zap.Time("at", at))
	return nil
}

func (f *ReadingFSM) transition(to domain.ReadingState) error {
	from := f.state.State
	if !slices.Contains(readingTransitions[from], to) {
		return fmt.Errorf("invalid reading state transition %s -> %s", from, to)
	}
	f.state.State = to
	f.logger.Debug("meter@fsm transition", zap.Stringer("from", from), zap.Stringer("to", to))
	return nil
}
