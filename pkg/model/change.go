package model

import "fmt"

// Supported change types.
const (
	ChangeSetDNS    = "dns"
	ChangeSetNTP    = "ntp"
	ChangeSetSyslog = "syslog"
)

// DesiredChange declares the target value for exactly one configuration
// concern; only the field matching Type is consulted.
type DesiredChange struct {
	Type       string   `json:"type"`
	DNSServers []string `json:"dnsServers,omitempty"`
	NTPServers []string `json:"ntpServers,omitempty"`
	SyslogHost string   `json:"syslogHost,omitempty"`
}

// Validate checks that the change names a known type and carries its payload.
func (c DesiredChange) Validate() error {
	switch c.Type {
	case ChangeSetDNS:
		if len(c.DNSServers) == 0 {
			return fmt.Errorf("dns change: no servers given")
		}
	case ChangeSetNTP:
		if len(c.NTPServers) == 0 {
			return fmt.Errorf("ntp change: no servers given")
		}
	case ChangeSetSyslog:
		if c.SyslogHost == "" {
			return fmt.Errorf("syslog change: no host given")
		}
	default:
		return fmt.Errorf("unknown change type %q", c.Type)
	}
	return nil
}
