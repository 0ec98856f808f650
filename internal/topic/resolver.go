// Package topic expands per-port templates into concrete MQTT topics and
// derives the stable ids entities are registered under.
package topic

import (
	"strconv"
	"strings"
)

// Placeholder is the token replaced with the port number.
const Placeholder = "{}"

// ObjectPrefix prefixes every object id and entity id.
const ObjectPrefix = "silla_prism"

// Template is the unresolved key and topic strings of one descriptor.
// Topic and Output may be empty.
type Template struct {
	Key    string
	Topic  string
	Output string
}

// Resolved holds the concrete strings for one (template, port) pair.
// Topic and Output are full topics including the base prefix, or empty.
type Resolved struct {
	Key    string
	Topic  string
	Output string
}

// ResolveKey expands a key template.
// Port 0 leaves the template untouched. Multi-port installs substitute the
// port; single-port installs drop the placeholder suffix so entity ids stay
// unsuffixed.
func ResolveKey(template string, port int, multiPort bool) string {
	if port == 0 {
		return template
	}
	if multiPort {
		return strings.ReplaceAll(template, Placeholder, strconv.Itoa(port))
	}
	key := strings.ReplaceAll(template, "_"+Placeholder, "")
	return strings.ReplaceAll(key, Placeholder, "")
}

// ResolveTopic expands a topic template. Topics are port-addressed on the
// wire regardless of the install size.
func ResolveTopic(template string, port int) string {
	if port == 0 {
		return template
	}
	return strings.ReplaceAll(template, Placeholder, strconv.Itoa(port))
}

// Resolve expands t for port and joins the topics onto prefix.
func (t Template) Resolve(prefix string, port int, multiPort bool) Resolved {
	r := Resolved{Key: ResolveKey(t.Key, port, multiPort)}
	if t.Topic != "" {
		r.Topic = prefix + ResolveTopic(t.Topic, port)
	}
	if t.Output != "" {
		r.Output = prefix + ResolveTopic(t.Output, port)
	}
	return r
}

// NormalizePrefix makes sure a non-empty base prefix ends with a separator.
func NormalizePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" || strings.HasSuffix(prefix, "/") {
		return prefix
	}
	return prefix + "/"
}

// UniqueID returns the registry id of an entity key.
func UniqueID(serial, key string) string {
	if serial == "" {
		return "prism_" + key + "_001"
	}
	return "prism_" + serial + "_" + key
}

// ObjectID returns the object part of an entity id.
func ObjectID(serial, key string) string {
	if serial == "" {
		return ObjectPrefix + "_" + key
	}
	return ObjectPrefix + "_" + serial + "_" + key
}

// EntityID returns "<platform>.<object id>".
func EntityID(serial, platform, key string) string {
	return platform + "." + ObjectID(serial, key)
}
