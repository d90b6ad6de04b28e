package mqtt

import (
	"fmt"

	"github.com/berfenger/everblu2mqtt/internal/core/domain"
)

type HADiscoveryConfig struct {
	Device              HADiscoveryDevice `json:"device"`
	StateTopic          string            `json:"state_topic,omitempty"`
	CommandTopic        string            `json:"command_topic,omitempty"`
	JsonAttributesTopic string            `json:"json_attributes_topic,omitempty"`
	StateClass          string            `json:"state_class,omitempty"`
	DeviceClass         string            `json:"device_class,omitempty"`
	UnitOfMeasurement   string            `json:"unit_of_measurement,omitempty"`
	AvTopic             string            `json:"availability_topic,omitempty"`
	EntityCategory      string            `json:"entity_category,omitempty"`
	Name                string            `json:"name"`
	UniqueId            string            `json:"unique_id"`
	Platform            string            `json:"platform"`
	EnabledByDefault    *bool             `json:"enabled_by_default,omitempty"`
	PayloadOn           string            `json:"payload_on,omitempty"`
	PayloadOff          string            `json:"payload_off,omitempty"`
	PayloadPress        string            `json:"payload_press,omitempty"`
	Icon                string            `json:"icon,omitempty"`
}

type HADiscoveryDevice struct {
	Id           []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Version      string   `json:"sw_version,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name,omitempty"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

func HADiscoverySensorTopic(client *MQTTClient, sensor domain.GenericSensor) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", client.DiscoveryPrefix(), sensor.SensorType, sensor.Device.Id, sensor.Id)
}

func HADiscoveryButtonTopic(client *MQTTClient, button domain.GenericButton) string {
	return fmt.Sprintf("%s/button/%s/%s/config", client.DiscoveryPrefix(), button.Device.Id, button.Id)
}

func GenericSensorToHADiscoveryMessage(client *MQTTClient, sensor domain.GenericSensor) HADiscoveryConfig {
	dev := device(sensor.Device)
	var topic string
	switch {
	case sensor.Id == domain.SENSOR_ID_BRIDGE_STATE:
		topic = client.BridgeStateTopic()
	case sensor.SensorType == domain.SENSOR_TYPE_SENSOR:
		topic = client.SensorStateTopic(sensor.Id)
	case sensor.SensorType == domain.SENSOR_TYPE_BINARY:
		topic = client.BinarySensorStateTopic(sensor.Id)
	}
	disConfig := HADiscoveryConfig{
		Device:            dev,
		StateTopic:        topic,
		StateClass:        sensor.StateClass,
		DeviceClass:       sensor.DeviceClass,
		UnitOfMeasurement: sensor.UnitOfMeasurement,
		AvTopic:           client.BridgeStateTopic(),
		EntityCategory:    sensor.EntityCategory,
		Name:              sensor.Name,
		UniqueId:          sensor.UniqueId,
		Icon:              sensor.Icon,
		EnabledByDefault:  sensor.EnabledByDefault,
		Platform:          "mqtt",
	}
	if sensor.JsonAttributes {
		disConfig.JsonAttributesTopic = client.SensorAttributesTopic(sensor.Id)
	}
	if sensor.Id == domain.SENSOR_ID_BRIDGE_STATE {
		disConfig.PayloadOn = MQTT_PAYLOAD_ONLINE
		disConfig.PayloadOff = MQTT_PAYLOAD_OFFLINE
	} else if sensor.SensorType == domain.SENSOR_TYPE_BINARY {
		disConfig.PayloadOn = MQTT_PAYLOAD_ON
		disConfig.PayloadOff = MQTT_PAYLOAD_OFF
	}
	return disConfig
}

func GenericButtonToHADiscoveryMessage(client *MQTTClient, button domain.GenericButton) HADiscoveryConfig {
	return HADiscoveryConfig{
		Device:         device(button.Device),
		CommandTopic:   client.ButtonCommandTopic(button.Id),
		AvTopic:        client.BridgeStateTopic(),
		EntityCategory: button.EntityCategory,
		Name:           button.Name,
		UniqueId:       button.UniqueId,
		Icon:           button.Icon,
		Platform:       "mqtt",
		PayloadPress:   MQTT_PAYLOAD_PRESS,
	}
}

func device(d domain.Device) HADiscoveryDevice {
	return HADiscoveryDevice{
		Id:           []string{d.Id},
		Manufacturer: d.Manufacturer,
		Version:      d.Version,
		Model:        d.Model,
		Name:         d.Name,
		ViaDevice:    d.ViaDevice,
	}
}
