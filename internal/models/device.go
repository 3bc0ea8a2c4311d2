package models

import (
	"net"
	"regexp"
	"strconv"
	"time"
)

// CheckKind identifies one of the supported health-check variants.
type CheckKind string

// Supported health-check kinds.
const (
	CheckHTTP  CheckKind = "http"
	CheckPort  CheckKind = "port"
	CheckShell CheckKind = "shell"
)

// DeviceSpec describes one WOL-capable device and how to verify it is up.
type DeviceSpec struct {
	Name         string
	MAC          net.HardwareAddr
	Interface    string
	VLAN         *uint16 // nil if untagged
	BroadcastIP  string  // optional, switches dispatch to UDP broadcast
	WOLPort      int     // UDP port used with BroadcastIP
	Dependencies []string
	Checks       []HealthCheckSpec
}

// HealthCheckSpec is a closed tagged variant over the supported check kinds.
// Exactly one of HTTP, Port or Shell is set, matching Kind.
type HealthCheckSpec struct {
	Kind           CheckKind
	Retry          time.Duration // wait between failed attempts
	Timeout        time.Duration // total budget for this check
	AttemptTimeout time.Duration // bound on a single attempt

	HTTP  *HTTPCheck
	Port  *PortCheck
	Shell *ShellCheck
}

// HTTPCheck passes when a GET on URL matches the expected status and/or body pattern.
type HTTPCheck struct {
	URL            string
	ExpectedStatus *int
	Pattern        *regexp.Regexp
}

// PortCheck passes when a TCP connection to IP:Port can be established.
type PortCheck struct {
	IP   net.IP
	Port int
}

// ShellCheck passes when Command exits with the expected code and/or its stdout
// matches the pattern.
type ShellCheck struct {
	Command      string
	ExpectedExit *int
	Pattern      *regexp.Regexp
	SSH          *SSHTarget // nil runs the command locally
}

// SSHTarget holds the remote host a shell check is executed on.
type SSHTarget struct {
	Host       string
	Port       int
	Username   string
	KeyPath    string
	PrivateKey []byte // loaded from KeyPath when empty
}

// Target returns a short human readable description of the probed endpoint.
func (c HealthCheckSpec) Target() string {
	switch c.Kind {
	case CheckHTTP:
		if c.HTTP != nil {
			return c.HTTP.URL
		}
	case CheckPort:
		if c.Port != nil {
			return net.JoinHostPort(c.Port.IP.String(), strconv.Itoa(c.Port.Port))
		}
	case CheckShell:
		if c.Shell != nil {
			if c.Shell.SSH != nil {
				return c.Shell.SSH.Host + ": " + c.Shell.Command
			}
			return c.Shell.Command
		}
	}
	return string(c.Kind)
}

// TotalTimeout is the sum of all check timeouts of a device.
func (d DeviceSpec) TotalTimeout() time.Duration {
	var total time.Duration
	for _, c := range d.Checks {
		total += c.Timeout
	}
	return total
}
