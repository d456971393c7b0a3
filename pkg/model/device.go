package model

import "time"

// Device is one managed unit in the fleet registry.
type Device struct {
	ID            string    `json:"id"`
	Name          string    `json:"name,omitempty"`
	Address       string    `json:"address"`              // base URL of the structured API
	SSHAddress    string    `json:"sshAddress,omitempty"` // host:port for the command channel
	CredentialRef string    `json:"credentialRef"`
	Environment   string    `json:"environment,omitempty"`
	AllowWrites   bool      `json:"allowWrites"`
	APIDisabled   bool      `json:"apiDisabled,omitempty"` // structured API known-off, skip straight to fallback
	Reachable     bool      `json:"reachable"`
	LastSeen      time.Time `json:"lastSeen,omitempty"`
}
