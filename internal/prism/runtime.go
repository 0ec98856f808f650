// Package prism describes the entities of a Silla Prism charger.
package prism

import (
	"errors"
	"fmt"
	"strconv"

	"prismbridge/internal/entity"
	"prismbridge/internal/mqtt"
	"prismbridge/internal/topic"
)

// Runtime is the identity of one configured charger. It is built once
// from configuration and passed to everything that resolves topics.
type Runtime struct {
	// Prefix is the base topic, always ending in "/"
	Prefix string
	// Ports is the number of charging outlets, at least 1
	Ports int
	// Serial qualifies unique ids when several chargers share a broker
	Serial string
	// VSensors enables derived sensors
	VSensors bool
	// Name is the device name shown in Home Assistant
	Name string
}

// NewRuntime normalises the prefix and validates the port count
func NewRuntime(prefix string, ports int, serial string, vsensors bool) (Runtime, error) {
	rt := Runtime{
		Prefix:   topic.NormalizePrefix(prefix),
		Ports:    ports,
		Serial:   serial,
		VSensors: vsensors,
		Name:     "Silla Prism",
	}
	return rt, rt.Validate()
}

// Validate reports misconfiguration
func (r Runtime) Validate() error {
	if r.Prefix == "" {
		return errors.New("topic prefix must not be empty")
	}
	if r.Ports < 1 {
		return fmt.Errorf("port count must be at least 1, got %d", r.Ports)
	}
	return nil
}

// MultiPort reports whether entity keys carry a port suffix
func (r Runtime) MultiPort() bool {
	return r.Ports > 1
}

// ProbeTopic is the retained topic used to check the device is reachable
func (r Runtime) ProbeTopic() string {
	return r.Prefix + CoreTemperatureTopic
}

// Binding is one descriptor bound to one port
type Binding struct {
	Descriptor entity.Descriptor
	Port       int
}

// Plan lists every entity of the device in setup order: sensors, derived
// sensors, binary sensors, numbers, selects and buttons. Base entities use
// port 0.
func (r Runtime) Plan() []Binding {
	var plan []Binding
	add := func(descs []entity.Descriptor, port int) {
		for _, d := range descs {
			plan = append(plan, Binding{Descriptor: d, Port: port})
		}
	}
	perPort := func(descs []entity.Descriptor) {
		for p := 1; p <= r.Ports; p++ {
			add(descs, p)
		}
	}

	add(BaseSensors, 0)
	perPort(PortSensors)
	if r.VSensors {
		add(VirtualSensors, 0)
	}
	add(BaseBinarySensors, 0)
	perPort(PortBinarySensors)
	perPort(PortNumbers)
	perPort(PortSelects)
	perPort(PortButtons)
	return plan
}

// Device returns the registry record an entity on port attaches to.
// Single-port installs put everything on the base device.
func (r Runtime) Device(port int) mqtt.Device {
	base := mqtt.Device{
		Identifiers:  []string{topic.UniqueID(r.Serial, "device")},
		Name:         r.Name,
		Manufacturer: "Silla Industries",
		Model:        "Prism",
		SerialNumber: r.Serial,
	}
	if port == 0 || !r.MultiPort() {
		return base
	}

	p := strconv.Itoa(port)
	return mqtt.Device{
		Identifiers:  []string{topic.UniqueID(r.Serial, "port_"+p)},
		Name:         r.Name + " port " + p,
		Manufacturer: base.Manufacturer,
		Model:        base.Model,
		ViaDevice:    base.Identifiers[0],
	}
}
