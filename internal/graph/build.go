package graph

import (
	"fmt"

	"github.com/fgeck/gowake-homelab/internal/models"
)

// maxVLAN is the highest usable 802.1Q VLAN id.
const maxVLAN = 4094

// DFS colours.
const (
	unvisited = iota
	inProgress
	done
)

// Build validates devices and constructs the dependency graph. Validation runs
// in a fixed order: duplicate names, unknown dependencies, cycles, then health
// checks. The first problem found is returned as a *models.ValidationError and
// no graph is built.
func Build(devices []models.DeviceSpec) (*Graph, error) {
	g := &Graph{
		order:      make([]string, 0, len(devices)),
		devices:    make(map[string]models.DeviceSpec, len(devices)),
		deps:       make(map[string][]string, len(devices)),
		dependents: make(map[string][]string, len(devices)),
	}

	for _, d := range devices {
		if d.Name == "" {
			return nil, &models.ValidationError{Kind: models.ErrInvalidDevice, Detail: "device name must not be empty"}
		}
		if _, ok := g.devices[d.Name]; ok {
			return nil, &models.ValidationError{Kind: models.ErrDuplicateName, Device: d.Name}
		}
		g.devices[d.Name] = d
		g.order = append(g.order, d.Name)
	}

	for _, name := range g.order {
		seen := make(map[string]bool)
		for _, dep := range g.devices[name].Dependencies {
			if _, ok := g.devices[dep]; !ok {
				return nil, &models.ValidationError{
					Kind:   models.ErrUnknownDependency,
					Device: name,
					Detail: fmt.Sprintf("%q is not defined", dep),
				}
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			g.deps[name] = append(g.deps[name], dep)
			g.dependents[dep] = append(g.dependents[dep], name)
		}
	}

	if err := g.detectCycles(); err != nil {
		return nil, err
	}

	for _, name := range g.order {
		if err := validateDevice(g.devices[name]); err != nil {
			return nil, err
		}
	}

	return g, nil
}

// detectCycles walks the dependency edges depth first with three colours. On
// reaching a node that is still in progress, the current path from that node
// onwards is the cycle.
func (g *Graph) detectCycles() error {
	colour := make(map[string]int, len(g.order))
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		switch colour[name] {
		case done:
			return nil
		case inProgress:
			start := 0
			for i, p := range path {
				if p == name {
					start = i
					break
				}
			}
			members := append(append([]string{}, path[start:]...), name)
			return &models.ValidationError{Kind: models.ErrCyclicDependency, Device: name, Members: members}
		}

		colour[name] = inProgress
		path = append(path, name)
		for _, dep := range g.deps[name] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		colour[name] = done
		return nil
	}

	for _, name := range g.order {
		if colour[name] == unvisited {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateDevice(d models.DeviceSpec) error {
	invalid := func(format string, args ...any) error {
		return &models.ValidationError{Kind: models.ErrInvalidDevice, Device: d.Name, Detail: fmt.Sprintf(format, args...)}
	}

	if len(d.MAC) != 6 {
		return invalid("hardware address must be 6 bytes, got %d", len(d.MAC))
	}
	if d.Interface == "" {
		return invalid("network interface is required")
	}
	if d.VLAN != nil && *d.VLAN > maxVLAN {
		return invalid("vlan %d out of range 0-%d", *d.VLAN, maxVLAN)
	}

	for i, c := range d.Checks {
		if err := validateCheck(d.Name, i, c); err != nil {
			return err
		}
	}
	return nil
}

func validateCheck(device string, idx int, c models.HealthCheckSpec) error {
	invalid := func(format string, args ...any) error {
		return &models.ValidationError{
			Kind:   models.ErrInvalidCheck,
			Device: device,
			Detail: fmt.Sprintf("check %d (%s): ", idx, c.Kind) + fmt.Sprintf(format, args...),
		}
	}
	incomplete := func(detail string) error {
		return &models.ValidationError{
			Kind:   models.ErrIncompleteCheck,
			Device: device,
			Detail: fmt.Sprintf("check %d (%s): %s", idx, c.Kind, detail),
		}
	}

	if c.Retry <= 0 || c.Timeout <= 0 {
		return invalid("retry and timeout must be positive")
	}
	if c.Retry >= c.Timeout {
		return invalid("retry %s must be shorter than timeout %s", c.Retry, c.Timeout)
	}

	switch c.Kind {
	case models.CheckHTTP:
		if c.HTTP == nil || c.HTTP.URL == "" {
			return invalid("url is required")
		}
		if c.HTTP.ExpectedStatus == nil && c.HTTP.Pattern == nil {
			return incomplete("an expected status and/or a body pattern is required")
		}
	case models.CheckPort:
		if c.Port == nil || c.Port.IP == nil {
			return invalid("a valid ip is required")
		}
		if c.Port.Port < 1 || c.Port.Port > 65535 {
			return invalid("port %d out of range", c.Port.Port)
		}
	case models.CheckShell:
		if c.Shell == nil || c.Shell.Command == "" {
			return invalid("command is required")
		}
		if c.Shell.ExpectedExit == nil && c.Shell.Pattern == nil {
			return incomplete("an expected exit code and/or a stdout pattern is required")
		}
	default:
		return invalid("unknown kind")
	}
	return nil
}
