package actor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/everblu2mqtt/internal/config"
	"github.com/berfenger/everblu2mqtt/internal/core/domain"
	"github.com/berfenger/everblu2mqtt/internal/core/events"
	"github.com/berfenger/everblu2mqtt/internal/core/service"
	. "github.com/berfenger/everblu2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

const (
	meterTickInterval    = 500 * time.Millisecond
	statusPublishEvery   = 5 * time.Minute
	meterHealthStateBusy = "busy"
	meterHealthStateIdle = "idle"
)

// MeterActor owns the radio session. Reads and scans run off the mailbox and report
// back with attemptFinished / scanFinished.
type MeterActor struct {
	behavior  actor.Behavior
	stash     *Stash
	scheduler *scheduler.TimerScheduler

	config      *config.Config
	session     *service.Session
	eventStream *eventstream.EventStream
	inFlight    bool
	lastStatus  time.Time
	runCtx      context.Context
	cancel      context.CancelFunc

	logger *zap.Logger
}

type meterTick struct {
}

type attemptFinished struct {
	Outcome *service.AttemptOutcome
	Err     error
}

type scanFinished struct {
	Outcome *service.ScanOutcome
	Err     error
}

func NewMeterActor(config *config.Config, session *service.Session, eventStream *eventstream.EventStream, logger *zap.Logger) *MeterActor {
	act := &MeterActor{
		config:      config,
		session:     session,
		behavior:    actor.NewBehavior(),
		stash:       &Stash{},
		logger:      ActorLogger(domain.ACTOR_ID_METER, logger),
		eventStream: eventStream,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MeterActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MeterActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("meter@starting started")
		state.runCtx, state.cancel = context.WithCancel(context.Background())

		if err := state.session.Init(); err != nil {
			state.logger.Warn("meter@starting radio init failed", zap.Error(err))
		}
		state.publishStatus(state.session.Status())

		state.scheduler = scheduler.NewTimerScheduler(ctx)
		state.scheduler.RequestOnce(meterTickInterval, ctx.Self(), meterTick{})

		state.behavior.Become(state.DefaultReceive)
		if state.session.NeedsInitialScan(state.config.Radio.AutoScan) {
			state.logger.Info("meter@starting no stored frequency offset, starting wide scan")
			state.startScan(ctx, true)
		}
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.stop()
	default:
		state.logger.Debug("meter@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MeterActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Stopping:
		state.stop()
	case *actor.Restarting:
		state.stop()
	case domain.ActorHealthRequest:
		state.logger.Debug("meter@default ActorHealthRequest")
		healthState := meterHealthStateIdle
		if state.inFlight {
			healthState = meterHealthStateBusy
		}
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_METER,
			Healthy: true,
			State:   healthState,
		})
	case meterTick:
		if !state.inFlight && state.session.Due() {
			state.logger.Debug("meter@default scheduled read due")
			state.startAttempt(ctx, false)
		}
		if time.Since(state.lastStatus) >= statusPublishEvery {
			state.publishStatus(state.session.Status())
		}
		// schedule next tick
		state.scheduler.RequestOnce(meterTickInterval, ctx.Self(), meterTick{})
	case domain.TriggerReadingRequest:
		state.logger.Info("meter@default reading requested")
		var err error
		if state.inFlight || state.session.Busy() {
			err = domain.ErrSessionBusy
		} else {
			state.startAttempt(ctx, true)
		}
		if err != nil {
			state.logger.Warn("meter@default reading rejected", zap.Error(err))
		}
		ForRequest(msg).Respond(ctx, domain.TriggerReadingResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
		})
	case domain.TriggerScanRequest:
		state.logger.Info("meter@default frequency scan requested", zap.Bool("wide", msg.Wide))
		var err error
		if state.inFlight || state.session.Busy() {
			err = domain.ErrSessionBusy
		} else {
			state.startScan(ctx, msg.Wide)
		}
		if err != nil {
			state.logger.Warn("meter@default scan rejected", zap.Error(err))
		}
		ForRequest(msg).Respond(ctx, domain.TriggerScanResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
		})
	case domain.ResetFrequencyRequest:
		state.logger.Info("meter@default frequency reset requested")
		status, err := state.session.ResetFrequency()
		if err != nil {
			state.logger.Warn("meter@default frequency reset", zap.Error(err))
		}
		if !errors.Is(err, domain.ErrSessionBusy) {
			state.publishStatus(status)
		}
		ForRequest(msg).Respond(ctx, domain.ResetFrequencyResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
		})
	case domain.GetMeterStatusRequest:
		ForRequest(msg).Respond(ctx, domain.GetMeterStatusResponse{
			Status: state.session.Status(),
		})
	case attemptFinished:
		state.inFlight = false
		if msg.Err != nil {
			state.logger.Warn("meter@default read not started", zap.Error(msg.Err))
			state.publishStatus(state.session.Status())
			return
		}
		if msg.Outcome.Reading != nil {
			state.logger.Info("meter@default reading published", zap.Float64("volume", msg.Outcome.Reading.VolumeUnits))
			state.publish(events.MeterReadingToUpdateEvents(msg.Outcome.Reading))
		} else {
			state.logger.Info("meter@default read failed", zap.Stringer("state", msg.Outcome.Result), zap.Error(msg.Outcome.Err))
		}
		state.publishStatus(msg.Outcome.Status)
	case scanFinished:
		state.inFlight = false
		if msg.Err != nil {
			state.logger.Warn("meter@default scan not started", zap.Error(msg.Err))
			state.publishStatus(state.session.Status())
			return
		}
		if msg.Outcome.Result != nil {
			state.logger.Info("meter@default scan complete",
				zap.Float64("offset_hz", msg.Outcome.Result.FrequencyOffsetHz),
				zap.Int("candidates", msg.Outcome.Result.Candidates),
				zap.Int("successes", msg.Outcome.Result.Successes))
		} else {
			state.logger.Warn("meter@default scan failed", zap.Error(msg.Outcome.Err))
		}
		state.publishStatus(msg.Outcome.Status)
	default:
		state.logger.Debug("meter@default unhandled", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MeterActor) startAttempt(ctx actor.Context, triggered bool) {
	state.inFlight = true
	state.eventStream.Publish(events.ActiveReadingUpdateEvent(true))
	runCtx := state.runCtx
	NewBackgroundTask(ctx, func() (*attemptFinished, error) {
		outcome, err := state.session.Attempt(runCtx, triggered)
		return &attemptFinished{Outcome: outcome, Err: err}, nil
	}).Recover(func(err error) attemptFinished {
		return attemptFinished{Err: err}
	}).PipeToAsync(ctx.Self())
}

func (state *MeterActor) startScan(ctx actor.Context, wide bool) {
	state.inFlight = true
	state.eventStream.Publish(events.ActiveReadingUpdateEvent(true))
	runCtx := state.runCtx
	NewBackgroundTask(ctx, func() (*scanFinished, error) {
		outcome, err := state.session.Scan(runCtx, wide)
		return &scanFinished{Outcome: outcome, Err: err}, nil
	}).Recover(func(err error) scanFinished {
		return scanFinished{Err: err}
	}).PipeToAsync(ctx.Self())
}

func (state *MeterActor) publishStatus(status domain.MeterStatus) {
	state.lastStatus = time.Now()
	state.publish(events.MeterStatusToUpdateEvents(status))
}

func (state *MeterActor) publish(evs []any) {
	for _, ev := range evs {
		state.eventStream.Publish(ev)
	}
}

func (state *MeterActor) stop() {
	if state.cancel != nil {
		state.cancel()
	}
}
