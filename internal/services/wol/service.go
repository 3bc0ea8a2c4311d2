// Package wol provides Wake-on-LAN operations.
package wol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/fgeck/gowake-homelab/internal/models"
	"github.com/mdlayher/ethernet"
	"github.com/mdlayher/packet"
	"github.com/mdlayher/wol"
	"github.com/rs/zerolog"
)

// DefaultPort is the conventional UDP port for magic packets.
const DefaultPort = 9

// EtherTypeWakeOnLAN is the registered EtherType for Wake-on-LAN frames.
const EtherTypeWakeOnLAN ethernet.EtherType = 0x0842

// Service defines the interface for Wake-on-LAN operations.
type Service interface {
	Wake(ctx context.Context, device models.DeviceSpec) (*models.WakeResult, error)
}

// Client wraps the wol and packet libraries for mocking.
type Client interface {
	WakeUDP(addr string, mac net.HardwareAddr) error
	WakeRaw(ifi *net.Interface, mac net.HardwareAddr) error
	SendFrame(ifi *net.Interface, frame []byte) error
}

// InterfaceLookup resolves a network interface by name.
type InterfaceLookup func(name string) (*net.Interface, error)

// DefaultClient is the default implementation using mdlayher/wol and mdlayher/packet.
type DefaultClient struct{}

// WakeUDP sends a magic packet as a UDP datagram to addr.
func (c *DefaultClient) WakeUDP(addr string, mac net.HardwareAddr) error {
	client, err := wol.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create WOL client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if err := client.Wake(addr, mac); err != nil {
		return fmt.Errorf("failed to send WOL packet: %w", err)
	}
	return nil
}

// WakeRaw broadcasts an untagged Wake-on-LAN ethernet frame on ifi.
func (c *DefaultClient) WakeRaw(ifi *net.Interface, mac net.HardwareAddr) error {
	client, err := wol.NewRawClient(ifi)
	if err != nil {
		return fmt.Errorf("failed to create raw WOL client on %s: %w", ifi.Name, err)
	}
	defer func() { _ = client.Close() }()

	if err := client.Wake(mac); err != nil {
		return fmt.Errorf("failed to send WOL frame: %w", err)
	}
	return nil
}

// SendFrame writes a complete ethernet frame to the broadcast address on ifi.
func (c *DefaultClient) SendFrame(ifi *net.Interface, frame []byte) error {
	conn, err := packet.Listen(ifi, packet.Raw, int(ethernet.EtherTypeVLAN), nil)
	if err != nil {
		return fmt.Errorf("failed to open raw socket on %s: %w", ifi.Name, err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.WriteTo(frame, &packet.Addr{HardwareAddr: ethernet.Broadcast}); err != nil {
		return fmt.Errorf("failed to send WOL frame: %w", err)
	}
	return nil
}

// Impl implements the WOL Service interface.
type Impl struct {
	client Client
	lookup InterfaceLookup
	logger zerolog.Logger
}

// New creates a new WOL service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		client: &DefaultClient{},
		lookup: net.InterfaceByName,
		logger: logger,
	}
}

// NewWithClients creates a new WOL service with custom clients (for testing).
func NewWithClients(logger zerolog.Logger, client Client, lookup InterfaceLookup) *Impl {
	return &Impl{
		client: client,
		lookup: lookup,
		logger: logger,
	}
}

// Mode returns how a packet for device is delivered. A VLAN tag requires a raw
// frame, so it takes precedence over a configured broadcast IP.
func Mode(device models.DeviceSpec) string {
	switch {
	case device.VLAN != nil:
		return models.DispatchVLAN
	case device.BroadcastIP != "":
		return models.DispatchUDP
	default:
		return models.DispatchRaw
	}
}

// Wake hands one magic packet for device to the network layer. It never waits
// for the device to come up; failures are local only and are returned as
// *models.DispatchError in the result.
func (s *Impl) Wake(ctx context.Context, device models.DeviceSpec) (*models.WakeResult, error) {
	result := &models.WakeResult{Mode: Mode(device)}

	fail := func(err error) (*models.WakeResult, error) {
		result.Error = &models.DispatchError{Device: device.Name, Err: err}
		return result, nil
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	ifi, err := s.lookup(device.Interface)
	if err != nil {
		return fail(fmt.Errorf("interface %q not found: %w", device.Interface, err))
	}

	log := s.logger.With().
		Str("device", device.Name).
		Str("mac", device.MAC.String()).
		Str("interface", ifi.Name).
		Str("mode", result.Mode).
		Logger()

	switch result.Mode {
	case models.DispatchUDP:
		port := device.WOLPort
		if port == 0 {
			port = DefaultPort
		}
		addr := net.JoinHostPort(device.BroadcastIP, strconv.Itoa(port))
		log.Debug().Str("addr", addr).Msg("sending WOL packet")
		if err := s.client.WakeUDP(addr, device.MAC); err != nil {
			return fail(err)
		}
		result.FrameSize = 102

	case models.DispatchVLAN:
		if len(ifi.HardwareAddr) != 6 {
			return fail(fmt.Errorf("interface %q has no ethernet hardware address", ifi.Name))
		}
		frame, err := BuildFrame(ifi.HardwareAddr, device.MAC, device.VLAN)
		if err != nil {
			return fail(err)
		}
		log.Debug().Uint16("vlan", *device.VLAN).Int("bytes", len(frame)).Msg("sending tagged WOL frame")
		if err := s.client.SendFrame(ifi, frame); err != nil {
			return fail(err)
		}
		result.FrameSize = len(frame)

	default:
		log.Debug().Msg("sending WOL frame")
		if err := s.client.WakeRaw(ifi, device.MAC); err != nil {
			return fail(err)
		}
		result.FrameSize = 14 + 102
	}

	result.PacketSent = true
	log.Info().Msg("WOL packet sent")

	return result, nil
}

// MagicPacket returns the 102 byte payload for target: six 0xFF bytes followed
// by the hardware address repeated 16 times.
func MagicPacket(target net.HardwareAddr) ([]byte, error) {
	if len(target) != 6 {
		return nil, fmt.Errorf("invalid MAC address %q: must be 6 bytes", target)
	}
	mp := &wol.MagicPacket{Target: target}
	b, err := mp.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to build magic packet: %w", err)
	}
	return b, nil
}

// ErrNoSource is returned by BuildFrame when the source address is unusable.
var ErrNoSource = errors.New("source hardware address must be 6 bytes")

// BuildFrame builds a broadcast ethernet frame carrying the magic packet for
// target. With vlan set, an 802.1Q tag with that id is inserted after the
// source address.
func BuildFrame(source, target net.HardwareAddr, vlan *uint16) ([]byte, error) {
	if len(source) != 6 {
		return nil, ErrNoSource
	}
	payload, err := MagicPacket(target)
	if err != nil {
		return nil, err
	}

	f := &ethernet.Frame{
		Destination: ethernet.Broadcast,
		Source:      source,
		EtherType:   EtherTypeWakeOnLAN,
		Payload:     payload,
	}
	if vlan != nil {
		f.VLAN = &ethernet.VLAN{ID: *vlan}
	}

	b, err := f.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ethernet frame: %w", err)
	}
	return b, nil
}
