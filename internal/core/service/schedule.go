package service

import (
	"fmt"
	"time"

	"github.com/berfenger/everblu2mqtt/internal/core/domain"
	"github.com/reugn/go-quartz/quartz"
)

// ReadWindow is the daily wake window a meter reports, in local hours.
type ReadWindow struct {
	Start uint8
	End   uint8
}

func (w *ReadWindow) span() int {
	if w == nil || w.Start > 23 || w.End > 23 {
		return 0
	}
	return (int(w.End) - int(w.Start) + 24) % 24
}

// AlignmentStrategy moves the configured read time relative to the meter wake window.
// A nil or empty window leaves the time unchanged.
type AlignmentStrategy interface {
	Align(hour, minute int, window *ReadWindow) (int, int)
}

type LiteralAlignment struct{}

func (LiteralAlignment) Align(hour, minute int, _ *ReadWindow) (int, int) {
	return hour, minute
}

// WindowStartAlignment reads at the hour the meter wakes up.
type WindowStartAlignment struct{}

func (WindowStartAlignment) Align(hour, minute int, window *ReadWindow) (int, int) {
	if window.span() == 0 {
		return hour, minute
	}
	return int(window.Start), minute
}

// WindowMidpointAlignment reads halfway through the wake window, which may wrap past
// midnight.
type WindowMidpointAlignment struct{}

func (WindowMidpointAlignment) Align(hour, minute int, window *ReadWindow) (int, int) {
	span := window.span()
	if span == 0 {
		return hour, minute
	}
	return (int(window.Start) + span/2) % 24, minute
}

func NewAlignmentStrategy(cfg domain.ScheduleConfig) AlignmentStrategy {
	switch {
	case cfg.AutoAlignTime && cfg.AutoAlignMidpoint:
		return WindowMidpointAlignment{}
	case cfg.AutoAlignTime:
		return WindowStartAlignment{}
	}
	return LiteralAlignment{}
}

// Schedule computes read times from the weekly pattern, evaluated in the configured
// fixed offset zone.
type Schedule struct {
	config   domain.ScheduleConfig
	align    AlignmentStrategy
	location *time.Location
}

func NewSchedule(config domain.ScheduleConfig) *Schedule {
	return &Schedule{
		config:   config,
		align:    NewAlignmentStrategy(config),
		location: config.Location(),
	}
}

func (s *Schedule) ReadTime(window *ReadWindow) (int, int) {
	return s.align.Align(s.config.ReadHour, s.config.ReadMinute, window)
}

// CronExpression is the quartz expression firing at hour:minute on scheduled days.
func (s *Schedule) CronExpression(hour, minute int) string {
	switch s.config.Schedule {
	case domain.ScheduleMonFri:
		return fmt.Sprintf("0 %d %d ? * MON-FRI", minute, hour)
	case domain.ScheduleMonSat:
		return fmt.Sprintf("0 %d %d ? * MON-SAT", minute, hour)
	}
	return fmt.Sprintf("0 %d %d * * ?", minute, hour)
}

// Next returns the first scheduled read strictly after now, in UTC.
func (s *Schedule) Next(now time.Time, window *ReadWindow) (time.Time, error) {
	hour, minute := s.ReadTime(window)
	expression := s.CronExpression(hour, minute)
	trigger, err := quartz.NewCronTriggerWithLoc(expression, s.location)
	if err != nil {
		return time.Time{}, fmt.Errorf("schedule %q: %w", expression, err)
	}
	next, err := trigger.NextFireTime(now.UnixNano())
	if err != nil {
		return time.Time{}, fmt.Errorf("schedule %q: %w", expression, err)
	}
	return time.Unix(0, next).UTC(), nil
}

// NextDay returns the first scheduled read on a later local day than now.
func (s *Schedule) NextDay(now time.Time, window *ReadWindow) (time.Time, error) {
	local := now.In(s.location)
	endOfDay := time.Date(local.Year(), local.Month(), local.Day(), 23, 59, 59, 0, s.location)
	return s.Next(endOfDay, window)
}
