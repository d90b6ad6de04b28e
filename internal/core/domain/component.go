package domain

type Device struct {
	Id           string
	Name         string
	Version      string
	Model        string
	Manufacturer string
	ViaDevice    string
}

type GenericSensor struct {
	Device            Device
	Id                string
	SensorType        string
	Name              string
	UniqueId          string
	UnitOfMeasurement string
	StateClass        string // measurement, total_increasing
	DeviceClass       string // water, gas, signal_strength, timestamp
	EntityCategory    string // diagnostic, config, nil
	EnabledByDefault  *bool
	Icon              string
	// JsonAttributes publishes extra state as a JSON attributes document.
	JsonAttributes bool
}

// GenericButton is a stateless command entity. Pressing it publishes to the button
// command topic.
type GenericButton struct {
	Device         Device
	Id             string
	Name           string
	UniqueId       string
	EntityCategory string
	Icon           string
}
