//go:build !consul

package registry

import (
	"log"
)

// NewConsulRegistry returns a memory registry when the consul build tag is not enabled.
func NewConsulRegistry(addr string) Registry {
	log.Printf("consul registry requested (addr=%s) but consul build tag not enabled; using memory registry", addr)
	return NewMemoryRegistry()
}
