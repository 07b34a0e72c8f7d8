package network

import (
	"net"
	"time"
)

// DialProbe reports connectivity by opening a TCP connection to Address.
type DialProbe struct {
	Address string
	Timeout time.Duration
}

// NewDialProbe creates a probe for address (host:port).
func NewDialProbe(address string) *DialProbe {
	return &DialProbe{Address: address, Timeout: 3 * time.Second}
}

// Connected dials the probe address once.
func (p *DialProbe) Connected() bool {
	if p.Address == "" {
		return true
	}
	conn, err := net.DialTimeout("tcp", p.Address, p.Timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
