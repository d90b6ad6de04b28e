package actor

import (
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/everblu2mqtt/internal/config"
	"github.com/berfenger/everblu2mqtt/internal/core/domain"
	"github.com/berfenger/everblu2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// HADiscoveryActor publishes the Home Assistant discovery documents once the MQTT
// actor is up, then stays idle.
type HADiscoveryActor struct {
	config    *config.Config
	behavior  actor.Behavior
	stash     *actorutil.Stash
	mqttActor *actor.PID

	logger *zap.Logger
}

func NewHADiscoveryActor(config *config.Config, mqttActor *actor.PID, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:    config,
		mqttActor: mqttActor,
		behavior:  actor.NewBehavior(),
		stash:     &actorutil.Stash{},
		logger:    actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")

		// MQTT Actor Request
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		state.behavior.Become(state.WaitingHealthyReceive)
	case *actor.Restarting:
	default:
		state.logger.Debug("hadiscovery@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		if !msg.Healthy {
			panic(errors.New("MQTT Actor is not healthy"))
		}

		req := DiscoveryRequest(state.config)
		state.logger.Info("hadiscovery@healthcheck publishing discovery",
			zap.Int("sensors", len(req.Sensors)), zap.Int("buttons", len(req.Buttons)))
		ctx.Send(state.mqttActor, req)
		state.behavior.Become(state.Done)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("hadiscovery@healthcheck: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) Done(ctx actor.Context) {

}

// DiscoveryRequest lists every entity of the bridge and the configured meter. Only the
// first entity of each device carries the full device description.
func DiscoveryRequest(cfg *config.Config) domain.PublishDiscoveryRequest {
	var sensors []domain.GenericSensor

	bridgeDevice := domain.BridgeDevice(cfg.MQTT.BaseTopic)
	sensors = append(sensors, domain.BridgeSensors(bridgeDevice)...)

	meter := cfg.MeterIdentity()
	meterDevice := domain.MeterDevice(meter)
	meterDevice.ViaDevice = bridgeDevice.Id
	meterSensors := append(domain.MeterReadingSensors(meterDevice, meter), domain.MeterStatusSensors(meterDevice)...)
	for i := range meterSensors {
		if i > 0 {
			meterSensors[i].Device = domain.IdDevice(meterDevice)
		}
		sensors = append(sensors, meterSensors[i])
	}

	return domain.PublishDiscoveryRequest{
		Sensors: sensors,
		Buttons: domain.MeterButtons(domain.IdDevice(meterDevice)),
	}
}
