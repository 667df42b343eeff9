package telemetry

import (
	"fmt"
	"net"
	"net/netip"
)

// UDPSender writes each payload as a single datagram to a fixed address.
type UDPSender struct {
	addr netip.AddrPort
	conn *net.UDPConn
}

// NewUDPSender resolves addr ("host:port") and opens a connected socket.
func NewUDPSender(addr string) (*UDPSender, error) {
	resolved, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve udp address %q: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to open udp socket to %s: %w", addr, err)
	}
	return &UDPSender{addr: resolved.AddrPort(), conn: conn}, nil
}

func (s *UDPSender) Name() string { return "udp" }

// Addr returns the destination.
func (s *UDPSender) Addr() netip.AddrPort { return s.addr }

// Send writes payload without retry.
func (s *UDPSender) Send(payload []byte) error {
	_, err := s.conn.Write(payload)
	return err
}

func (s *UDPSender) Close() error {
	return s.conn.Close()
}
