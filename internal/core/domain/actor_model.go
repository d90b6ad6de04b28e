package domain

import (
	"errors"

	"github.com/asynkron/protoactor-go/actor"
)

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_METER        = "meter"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"
)

// ErrSessionBusy is returned when a radio session is requested while another one holds
// the radio.
var ErrSessionBusy = errors.New("a radio session is already in progress")

type ActorRef actor.PID

type ActorRequest interface {
	ReplyTo() *ActorRef
}

type ActorRequestMixIn struct {
	ReplyToRef *ActorRef
}

func (r ActorRequestMixIn) ReplyTo() *ActorRef {
	return r.ReplyToRef
}

type ActorResponse interface {
	GetResponseError() error
	HasResponseError() bool
}

type ActorResponseMixIn struct {
	ResponseError error
}

func (r ActorResponseMixIn) GetResponseError() error {
	return r.ResponseError
}

func (r ActorResponseMixIn) HasResponseError() bool {
	return r.ResponseError != nil
}

// Meter commands. All of them are fire and forget from the MQTT side; the response only
// tells whether the command was accepted.

type TriggerReadingRequest struct {
	ActorRequestMixIn
}

type TriggerReadingResponse struct {
	ActorResponseMixIn
}

type TriggerScanRequest struct {
	ActorRequestMixIn
	Wide bool
}

type TriggerScanResponse struct {
	ActorResponseMixIn
}

type ResetFrequencyRequest struct {
	ActorRequestMixIn
}

type ResetFrequencyResponse struct {
	ActorResponseMixIn
}

type GetMeterStatusRequest struct {
	ActorRequestMixIn
}

type GetMeterStatusResponse struct {
	ActorResponseMixIn
	Status MeterStatus
}

// Publication

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors []GenericSensor
	Buttons []GenericButton
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
