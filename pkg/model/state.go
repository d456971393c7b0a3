package model

import "time"

// Channel names which transport served an operation.
type Channel string

const (
	ChannelPrimary  Channel = "primary"
	ChannelFallback Channel = "fallback"
)

// DeviceState is the canonical configuration view of one device, regardless
// of which channel produced it.
type DeviceState struct {
	DeviceID    string    `json:"deviceId"`
	Hostname    string    `json:"hostname"`
	DNSServers  []string  `json:"dnsServers"`
	NTPServers  []string  `json:"ntpServers"`
	SyslogHost  string    `json:"syslogHost"`
	CollectedAt time.Time `json:"collectedAt,omitempty"`
}

// Op sets one configuration field to a value.
type Op struct {
	Field string      `json:"field"`
	Value interface{} `json:"value"`
}

// ChangeSet is the computed difference between current and desired state.
// Changed is false iff Ops is empty.
type ChangeSet struct {
	Changed bool `json:"changed"`
	Ops     []Op `json:"ops"`
}
