package prism

import (
	"time"

	"prismbridge/internal/entity"
)

// DefaultExpireAfter is the freshness window of live telemetry
const DefaultExpireAfter = 600 * time.Second

// CoreTemperatureTopic is published retained by every device and used to probe it
const CoreTemperatureTopic = "0/info/temperature/core"

// GridPowerKey is the sensor the grid energy integral is computed from
const GridPowerKey = "input_grid_power"

func precision(p int) *int { return &p }

func measurement(key, topic, name, class, unit string) entity.Descriptor {
	return entity.Descriptor{
		Key:         key,
		Topic:       topic,
		Platform:    entity.PlatformSensor,
		Kind:        entity.KindPassthrough,
		ExpireAfter: DefaultExpireAfter,
		Meta: entity.Meta{
			Name:        name,
			DeviceClass: class,
			StateClass:  "measurement",
			Unit:        unit,
			Precision:   precision(0),
		},
	}
}

// PortSensors are created once per port
var PortSensors = []entity.Descriptor{
	{
		Key:         "current_state_{}",
		Topic:       "{}/state",
		Platform:    entity.PlatformSensor,
		Kind:        entity.KindEnum,
		ExpireAfter: DefaultExpireAfter,
		Options:     []string{"idle", "waiting", "charging", "pause"},
		Meta:        entity.Meta{Name: "Current state", DeviceClass: "enum"},
	},
	measurement("power_grid_voltage_{}", "{}/volt", "Power grid voltage", "voltage", "V"),
	measurement("output_power_{}", "{}/w", "Output power", "power", "W"),
	measurement("output_current_{}", "{}/amp", "Output current", "current", "mA"),
	measurement("output_car_current_{}", "{}/pilot", "Output car current", "current", "A"),
	measurement("current_set_by_user_{}", "{}/user_amp", "Current set by user", "current", "A"),
	measurement("session_time_{}", "{}/session_time", "Session time", "duration", "s"),
	{
		Key:         "session_output_energy_{}",
		Topic:       "{}/wh",
		Platform:    entity.PlatformSensor,
		Kind:        entity.KindPassthrough,
		ExpireAfter: DefaultExpireAfter,
		Meta:        entity.Meta{Name: "Session output energy", DeviceClass: "energy", StateClass: "total", Unit: "Wh", Precision: precision(0)},
	},
	{
		Key:         "total_output_energy_{}",
		Topic:       "{}/wh_total",
		Platform:    entity.PlatformSensor,
		Kind:        entity.KindPassthrough,
		ExpireAfter: DefaultExpireAfter,
		Meta:        entity.Meta{Name: "Total output energy", DeviceClass: "energy", StateClass: "total_increasing", Unit: "Wh", Precision: precision(0)},
	},
	{
		// TODO: confirm the firmware index of "suspended"; devices have been seen reporting 7
		Key:         "current_port_mode_{}",
		Topic:       "{}/mode",
		Platform:    entity.PlatformSensor,
		Kind:        entity.KindEnum,
		ExpireAfter: DefaultExpireAfter,
		Options:     []string{"solar", "normal", "paused", "suspended"},
		Meta:        entity.Meta{Name: "Current port mode", DeviceClass: "enum"},
	},
}

// BaseSensors belong to the device itself
var BaseSensors = []entity.Descriptor{
	measurement(GridPowerKey, "energy_data/power_grid", "Input grid power", "power", "W"),
	func() entity.Descriptor {
		d := measurement("core_temperature", CoreTemperatureTopic, "Core temperature", "temperature", "°C")
		d.ExpireAfter = 24 * time.Hour
		return d
	}(),
}

// VirtualSensors are derived from other entities
var VirtualSensors = []entity.Descriptor{
	{
		Key:      "input_grid_energy",
		Platform: entity.PlatformSensor,
		Kind:     entity.KindIntegral,
		Source:   GridPowerKey,
		Meta:     entity.Meta{Name: "Input grid energy", DeviceClass: "energy", StateClass: "total_increasing", Unit: "Wh", Precision: precision(1)},
	},
}

// BaseBinarySensors belong to the device itself
var BaseBinarySensors = []entity.Descriptor{
	{
		Key:             "online",
		Topic:           "energy_data/power_grid",
		Platform:        entity.PlatformBinarySensor,
		Kind:            entity.KindPresence,
		PresenceTimeout: DefaultExpireAfter,
		Meta:            entity.Meta{Name: "Online", DeviceClass: "connectivity", EntityCategory: "diagnostic"},
	},
}

func touch(key, name string, seq ...int) entity.Descriptor {
	return entity.Descriptor{
		Key:      key,
		Topic:    "{}/input/touch",
		Platform: entity.PlatformBinarySensor,
		Kind:     entity.KindSequence,
		Sequence: seq,
		Meta:     entity.Meta{Name: name, DeviceClass: "motion", EntityCategory: "diagnostic"},
	}
}

// PortBinarySensors are created once per port
var PortBinarySensors = []entity.Descriptor{
	{
		Key:         "port_error_{}",
		Topic:       "{}/error",
		Platform:    entity.PlatformBinarySensor,
		Kind:        entity.KindThreshold,
		ExpireAfter: DefaultExpireAfter,
		FailSafe:    true,
		Meta:        entity.Meta{Name: "Error", DeviceClass: "problem", EntityCategory: "diagnostic"},
	},
	touch("touch_single_{}", "Touch single", 1),
	touch("touch_double_{}", "Touch double", 1, 1),
	touch("touch_long_{}", "Touch long", 3),
}

// PortNumbers are created once per port
var PortNumbers = []entity.Descriptor{
	{
		Key:         "set_max_current_{}",
		Topic:       "{}/user_amp",
		OutputTopic: "{}/command/set_current_user",
		Platform:    entity.PlatformNumber,
		Kind:        entity.KindPassthrough,
		Min:         6,
		Max:         16,
		Meta:        entity.Meta{Name: "Max current", DeviceClass: "current", Unit: "A", Icon: "mdi:current-ac", EntityCategory: "config"},
	},
	{
		Key:         "set_current_limit_{}",
		OutputTopic: "{}/command/set_current_limit",
		Platform:    entity.PlatformNumber,
		Kind:        entity.KindPassthrough,
		Min:         6,
		Max:         16,
		Meta:        entity.Meta{Name: "Current limit", DeviceClass: "current", Unit: "A", Icon: "mdi:current-ac", EntityCategory: "config"},
	},
}

// PortSelects are created once per port
var PortSelects = []entity.Descriptor{
	{
		Key:             "set_mode_{}",
		Topic:           "{}/mode",
		OutputTopic:     "{}/command/set_mode",
		Platform:        entity.PlatformSelect,
		Kind:            entity.KindEnum,
		Options:         []string{"solar", "normal", "paused"},
		LegacyModeRemap: true,
		Meta:            entity.Meta{Name: "Mode", Icon: "mdi:ev-station", EntityCategory: "config"},
	},
}

// PortButtons are created once per port
var PortButtons = []entity.Descriptor{
	{
		Key:         "set_mode_traps_auth_{}",
		OutputTopic: "{}/command/set_mode_traps",
		Platform:    entity.PlatformButton,
		Kind:        entity.KindCommand,
		Payload:     "+auth",
		Meta:        entity.Meta{Name: "Require authorization", DeviceClass: "identify"},
	},
	{
		Key:         "set_mode_traps_noauth_{}",
		OutputTopic: "{}/command/set_mode_traps",
		Platform:    entity.PlatformButton,
		Kind:        entity.KindCommand,
		Payload:     "-auth",
		Meta:        entity.Meta{Name: "Skip authorization", DeviceClass: "identify"},
	},
}
