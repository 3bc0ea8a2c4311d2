// Package graph validates device definitions and builds the dependency graph
// the orchestrator schedules against.
package graph

import (
	"github.com/fgeck/gowake-homelab/internal/models"
)

// Graph is an immutable, validated dependency graph keyed by device name.
// It is safe for concurrent reads.
type Graph struct {
	order      []string
	devices    map[string]models.DeviceSpec
	deps       map[string][]string
	dependents map[string][]string
}

// Names returns all device names in definition order.
func (g *Graph) Names() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Len returns the number of devices.
func (g *Graph) Len() int {
	return len(g.order)
}

// Device returns the spec of the named device.
func (g *Graph) Device(name string) (models.DeviceSpec, bool) {
	d, ok := g.devices[name]
	return d, ok
}

// Dependencies returns the direct dependencies of name.
func (g *Graph) Dependencies(name string) []string {
	return copyOf(g.deps[name])
}

// Dependents returns the devices that directly depend on name.
func (g *Graph) Dependents(name string) []string {
	return copyOf(g.dependents[name])
}

// Roots returns the devices without dependencies, in definition order.
func (g *Graph) Roots() []string {
	var roots []string
	for _, name := range g.order {
		if len(g.deps[name]) == 0 {
			roots = append(roots, name)
		}
	}
	return roots
}

// Descendants returns the transitive closure of dependents of name, breadth first.
// name itself is not included.
func (g *Graph) Descendants(name string) []string {
	seen := map[string]bool{name: true}
	queue := []string{name}
	var out []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range g.dependents[cur] {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			out = append(out, dep)
			queue = append(queue, dep)
		}
	}
	return out
}

// WakeOrder returns a topological order grouped in waves: every device of a
// wave only depends on devices of earlier waves. Within a wave definition order
// is kept. It is meant for display; the orchestrator schedules on live
// readiness instead.
func (g *Graph) WakeOrder() []string {
	var out []string
	for _, wave := range g.Waves() {
		out = append(out, wave...)
	}
	return out
}

// Waves groups devices by the earliest round in which they could be woken if
// every health check passed instantly.
func (g *Graph) Waves() [][]string {
	pending := make(map[string]int, len(g.order))
	for _, name := range g.order {
		pending[name] = len(g.deps[name])
	}
	placed := make(map[string]bool, len(g.order))

	var waves [][]string
	for len(placed) < len(g.order) {
		var wave []string
		for _, name := range g.order {
			if !placed[name] && pending[name] == 0 {
				wave = append(wave, name)
			}
		}
		if len(wave) == 0 {
			// unreachable for graphs produced by Build
			break
		}
		for _, name := range wave {
			placed[name] = true
			for _, d := range g.dependents[name] {
				pending[d]--
			}
		}
		waves = append(waves, wave)
	}
	return waves
}

func copyOf(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
