package models

// WOL dispatch modes.
const (
	DispatchUDP  = "udp"
	DispatchRaw  = "raw"
	DispatchVLAN = "vlan"
)

// WakeResult holds the result of sending one magic packet.
type WakeResult struct {
	PacketSent bool
	Mode       string
	FrameSize  int
	Error      error
}
