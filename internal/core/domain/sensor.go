package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/berfenger/everblu2mqtt/pkg/radian"
	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE       = "bridge"
	SENSOR_ID_VOLUME             = "volume"
	SENSOR_ID_BATTERY            = "battery"
	SENSOR_ID_COUNTER            = "counter"
	SENSOR_ID_RSSI_DBM           = "rssi_dbm"
	SENSOR_ID_RSSI_PERCENT       = "rssi_percent"
	SENSOR_ID_LQI                = "lqi"
	SENSOR_ID_LQI_PERCENT        = "lqi_percent"
	SENSOR_ID_TIME_START         = "time_start"
	SENSOR_ID_TIME_END           = "time_end"
	SENSOR_ID_STATUS             = "status"
	SENSOR_ID_ERROR              = "error"
	SENSOR_ID_RADIO_STATE        = "radio_state"
	SENSOR_ID_READING_TIMESTAMP  = "reading_timestamp"
	SENSOR_ID_HISTORY            = "history"
	SENSOR_ID_METER_SERIAL       = "meter_serial"
	SENSOR_ID_METER_YEAR         = "meter_year"
	SENSOR_ID_READING_SCHEDULE   = "reading_schedule"
	SENSOR_ID_NEXT_READING       = "next_reading"
	SENSOR_ID_TOTAL_ATTEMPTS     = "total_attempts"
	SENSOR_ID_SUCCESSFUL_READS   = "successful_reads"
	SENSOR_ID_FAILED_READS       = "failed_reads"
	SENSOR_ID_FREQUENCY_OFFSET   = "frequency_offset"
	SENSOR_ID_TUNED_FREQUENCY    = "tuned_frequency"
	SENSOR_ID_ACTIVE_READING     = "active_reading"
	SENSOR_ID_RADIO_CONNECTED    = "radio_connected"
	BUTTON_ID_REQUEST_READING    = "request_reading"
	BUTTON_ID_FREQUENCY_SCAN     = "frequency_scan"
	BUTTON_ID_RESET_FREQUENCY    = "reset_frequency"
	STATE_CLASS_MEASUREMENT      = "measurement"
	STATE_CLASS_TOTAL_INCREASING = "total_increasing"
	DEVICE_CLASS_WATER           = "water"
	DEVICE_CLASS_GAS             = "gas"
	DEVICE_CLASS_SIGNAL_STRENGTH = "signal_strength"
	DEVICE_CLASS_FREQUENCY       = "frequency"
	DEVICE_CLASS_TIMESTAMP       = "timestamp"
	DEVICE_CLASS_CONNECTIVITY    = "connectivity"
	DEVICE_CLASS_RUNNING         = "running"
	ENTITY_CLASS_DIAGNOSTIC      = "diagnostic"
	ENTITY_CLASS_CONFIG          = "config"
	SENSOR_TYPE_SENSOR           = "sensor"
	SENSOR_TYPE_BINARY           = "binary_sensor"
)

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("everblu_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "everblu2mqtt",
		Model:        "CC1101 RADIAN bridge",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("EverBlu bridge %s", md5HashShort(baseTopic)),
	}
}

func MeterDevice(meter radian.MeterIdentity) Device {
	return Device{
		Id:           fmt.Sprintf("everblu_meter_%s", md5HashShort(meter.String())),
		Manufacturer: "Itron",
		Model:        "EverBlu Cyble Enhanced",
		Name:         fmt.Sprintf("EverBlu %s meter %s", meter.Type, meter.String()),
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func MeterReadingSensors(meterDevice Device, meter radian.MeterIdentity) []GenericSensor {

	var sensors []GenericSensor

	// Volume
	volume := GenericSensor{
		Device:            meterDevice,
		Id:                SENSOR_ID_VOLUME,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Volume",
		StateClass:        STATE_CLASS_TOTAL_INCREASING,
		DeviceClass:       DEVICE_CLASS_WATER,
		UnitOfMeasurement: "L",
		UniqueId:          uniqueId(meterDevice.Id, SENSOR_ID_VOLUME),
	}
	if meter.Type == radian.Gas {
		volume.DeviceClass = DEVICE_CLASS_GAS
		volume.UnitOfMeasurement = "m³"
	}
	sensors = append(sensors, volume)

	// Battery
	sensors = append(sensors, GenericSensor{
		Device:            meterDevice,
		Id:                SENSOR_ID_BATTERY,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Battery",
		StateClass:        STATE_CLASS_MEASUREMENT,
		UnitOfMeasurement: "months",
		Icon:              "mdi:battery",
		UniqueId:          uniqueId(meterDevice.Id, SENSOR_ID_BATTERY),
	})

	// Read counter
	sensors = append(sensors, GenericSensor{
		Device:     meterDevice,
		Id:         SENSOR_ID_COUNTER,
		SensorType: SENSOR_TYPE_SENSOR,
		Name:       "Read counter",
		StateClass: STATE_CLASS_MEASUREMENT,
		Icon:       "mdi:counter",
		UniqueId:   uniqueId(meterDevice.Id, SENSOR_ID_COUNTER),
	})

	// Wake window
	sensors = append(sensors, GenericSensor{
		Device:            meterDevice,
		Id:                SENSOR_ID_TIME_START,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Wake window start",
		UnitOfMeasurement: "h",
		EntityCategory:    ENTITY_CLASS_DIAGNOSTIC,
		Icon:              "mdi:clock-start",
		UniqueId:          uniqueId(meterDevice.Id, SENSOR_ID_TIME_START),
	})
	sensors = append(sensors, GenericSensor{
		Device:            meterDevice,
		Id:                SENSOR_ID_TIME_END,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Wake window end",
		UnitOfMeasurement: "h",
		EntityCategory:    ENTITY_CLASS_DIAGNOSTIC,
		Icon:              "mdi:clock-end",
		UniqueId:          uniqueId(meterDevice.Id, SENSOR_ID_TIME_END),
	})

	// Signal
	sensors = append(sensors, GenericSensor{
		Device:            meterDevice,
		Id:                SENSOR_ID_RSSI_DBM,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "RSSI",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_SIGNAL_STRENGTH,
		UnitOfMeasurement: "dBm",
		EntityCategory:    ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:          uniqueId(meterDevice.Id, SENSOR_ID_RSSI_DBM),
	})
	sensors = append(sensors, GenericSensor{
		Device:            meterDevice,
		Id:                SENSOR_ID_RSSI_PERCENT,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "RSSI percent",
		StateClass:        STATE_CLASS_MEASUREMENT,
		UnitOfMeasurement: "%",
		EntityCategory:    ENTITY_CLASS_DIAGNOSTIC,
		Icon:              "mdi:signal",
		UniqueId:          uniqueId(meterDevice.Id, SENSOR_ID_RSSI_PERCENT),
	})
	sensors = append(sensors, GenericSensor{
		Device:           meterDevice,
		Id:               SENSOR_ID_LQI,
		SensorType:       SENSOR_TYPE_SENSOR,
		Name:             "LQI",
		StateClass:       STATE_CLASS_MEASUREMENT,
		EntityCategory:   ENTITY_CLASS_DIAGNOSTIC,
		EnabledByDefault: optionalBool(false),
		Icon:             "mdi:signal",
		UniqueId:         uniqueId(meterDevice.Id, SENSOR_ID_LQI),
	})
	sensors = append(sensors, GenericSensor{
		Device:            meterDevice,
		Id:                SENSOR_ID_LQI_PERCENT,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "LQI percent",
		StateClass:        STATE_CLASS_MEASUREMENT,
		UnitOfMeasurement: "%",
		EntityCategory:    ENTITY_CLASS_DIAGNOSTIC,
		Icon:              "mdi:signal",
		UniqueId:          uniqueId(meterDevice.Id, SENSOR_ID_LQI_PERCENT),
	})

	// Reading timestamp
	sensors = append(sensors, GenericSensor{
		Device:      meterDevice,
		Id:          SENSOR_ID_READING_TIMESTAMP,
		SensorType:  SENSOR_TYPE_SENSOR,
		Name:        "Last reading",
		DeviceClass: DEVICE_CLASS_TIMESTAMP,
		UniqueId:    uniqueId(meterDevice.Id, SENSOR_ID_READING_TIMESTAMP),
	})

	// History
	sensors = append(sensors, GenericSensor{
		Device:            meterDevice,
		Id:                SENSOR_ID_HISTORY,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Monthly history",
		UnitOfMeasurement: "months",
		EntityCategory:    ENTITY_CLASS_DIAGNOSTIC,
		EnabledByDefault:  optionalBool(false),
		Icon:              "mdi:history",
		UniqueId:          uniqueId(meterDevice.Id, SENSOR_ID_HISTORY),
		JsonAttributes:    true,
	})

	return sensors
}

func MeterStatusSensors(meterDevice Device) []GenericSensor {

	var sensors []GenericSensor

	for _, text := range []struct{ id, name, icon string }{
		{SENSOR_ID_STATUS, "Status", "mdi:information-outline"},
		{SENSOR_ID_ERROR, "Last error", "mdi:alert-circle-outline"},
		{SENSOR_ID_RADIO_STATE, "Radio state", "mdi:radio-tower"},
		{SENSOR_ID_METER_SERIAL, "Meter serial", "mdi:identifier"},
		{SENSOR_ID_METER_YEAR, "Meter year", "mdi:calendar"},
		{SENSOR_ID_READING_SCHEDULE, "Reading schedule", "mdi:calendar-clock"},
	} {
		sensors = append(sensors, GenericSensor{
			Device:         meterDevice,
			Id:             text.id,
			SensorType:     SENSOR_TYPE_SENSOR,
			Name:           text.name,
			EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
			Icon:           text.icon,
			UniqueId:       uniqueId(meterDevice.Id, text.id),
		})
	}

	// Next scheduled reading
	sensors = append(sensors, GenericSensor{
		Device:         meterDevice,
		Id:             SENSOR_ID_NEXT_READING,
		SensorType:     SENSOR_TYPE_SENSOR,
		Name:           "Next reading",
		DeviceClass:    DEVICE_CLASS_TIMESTAMP,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(meterDevice.Id, SENSOR_ID_NEXT_READING),
	})

	// Attempt counters
	for _, counter := range []struct{ id, name string }{
		{SENSOR_ID_TOTAL_ATTEMPTS, "Total attempts"},
		{SENSOR_ID_SUCCESSFUL_READS, "Successful reads"},
		{SENSOR_ID_FAILED_READS, "Failed reads"},
	} {
		sensors = append(sensors, GenericSensor{
			Device:         meterDevice,
			Id:             counter.id,
			SensorType:     SENSOR_TYPE_SENSOR,
			Name:           counter.name,
			StateClass:     STATE_CLASS_TOTAL_INCREASING,
			EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
			Icon:           "mdi:counter",
			UniqueId:       uniqueId(meterDevice.Id, counter.id),
		})
	}

	// Frequency
	sensors = append(sensors, GenericSensor{
		Device:            meterDevice,
		Id:                SENSOR_ID_FREQUENCY_OFFSET,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Frequency offset",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_FREQUENCY,
		UnitOfMeasurement: "kHz",
		EntityCategory:    ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:          uniqueId(meterDevice.Id, SENSOR_ID_FREQUENCY_OFFSET),
	})
	sensors = append(sensors, GenericSensor{
		Device:            meterDevice,
		Id:                SENSOR_ID_TUNED_FREQUENCY,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Tuned frequency",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_FREQUENCY,
		UnitOfMeasurement: "MHz",
		EntityCategory:    ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:          uniqueId(meterDevice.Id, SENSOR_ID_TUNED_FREQUENCY),
	})

	// Flags
	sensors = append(sensors, GenericSensor{
		Device:         meterDevice,
		Id:             SENSOR_ID_ACTIVE_READING,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Reading in progress",
		DeviceClass:    DEVICE_CLASS_RUNNING,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(meterDevice.Id, SENSOR_ID_ACTIVE_READING),
	})
	sensors = append(sensors, GenericSensor{
		Device:         meterDevice,
		Id:             SENSOR_ID_RADIO_CONNECTED,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Radio connected",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(meterDevice.Id, SENSOR_ID_RADIO_CONNECTED),
	})

	return sensors
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {

	var sensors []GenericSensor

	// Bridge connection
	sensors = append(sensors, GenericSensor{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Connection state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	})

	return sensors
}

func MeterButtons(meterDevice Device) []GenericButton {

	var buttons []GenericButton

	// Request reading now
	buttons = append(buttons, GenericButton{
		Device:   meterDevice,
		Id:       BUTTON_ID_REQUEST_READING,
		Name:     "Request reading",
		UniqueId: uniqueId(meterDevice.Id, BUTTON_ID_REQUEST_READING),
		Icon:     "mdi:water-sync",
	})
	// Frequency scan
	buttons = append(buttons, GenericButton{
		Device:         meterDevice,
		Id:             BUTTON_ID_FREQUENCY_SCAN,
		Name:           "Scan frequency",
		UniqueId:       uniqueId(meterDevice.Id, BUTTON_ID_FREQUENCY_SCAN),
		EntityCategory: ENTITY_CLASS_CONFIG,
		Icon:           "mdi:radar",
	})
	// Reset frequency
	buttons = append(buttons, GenericButton{
		Device:         meterDevice,
		Id:             BUTTON_ID_RESET_FREQUENCY,
		Name:           "Reset frequency",
		UniqueId:       uniqueId(meterDevice.Id, BUTTON_ID_RESET_FREQUENCY),
		EntityCategory: ENTITY_CLASS_CONFIG,
		Icon:           "mdi:restore",
	})

	return buttons
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	hash := md5Hash(text)
	return hash[0:8]
}

func optionalBool(value bool) *bool {
	return &value
}
