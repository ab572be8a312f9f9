package sv

import (
	"bytes"
	"net"
)

// Destination multicast range reserved for 9-2 sampled values.
var (
	MulticastFirst = net.HardwareAddr{0x01, 0x0C, 0xCD, 0x04, 0x00, 0x00}
	MulticastLast  = net.HardwareAddr{0x01, 0x0C, 0xCD, 0x04, 0x01, 0xFF}
)

// IsMulticastAddr reports whether mac lies in the SV multicast range.
func IsMulticastAddr(mac net.HardwareAddr) bool {
	if len(mac) != 6 {
		return false
	}
	return bytes.Compare(mac, MulticastFirst) >= 0 && bytes.Compare(mac, MulticastLast) <= 0
}
