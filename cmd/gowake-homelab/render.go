package main

import (
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fgeck/gowake-homelab/internal/graph"
	"github.com/fgeck/gowake-homelab/internal/models"
	"github.com/fgeck/gowake-homelab/internal/services/wol"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	return t
}

func colorStatus(status models.DeviceStatus) string {
	switch status {
	case models.StatusHealthy:
		return text.FgGreen.Sprint(status.String())
	case models.StatusFailed:
		return text.FgRed.Sprint(status.String())
	case models.StatusBlocked:
		return text.FgYellow.Sprint(status.String())
	default:
		return text.FgHiBlack.Sprint(status.String())
	}
}

// printEvents writes one line per status transition as the run progresses.
func printEvents(w io.Writer) func(<-chan models.Event) {
	return func(ch <-chan models.Event) {
		for ev := range ch {
			line := ev.Time.Local().Format("15:04:05") + "  " + ev.Device + "  " +
				ev.From.String() + " -> " + colorStatus(ev.To)
			if ev.Err != nil {
				line += "  " + ev.Err.Error()
			}
			_, _ = io.WriteString(w, line+"\n")
		}
	}
}

// renderResult prints one row per device: woken devices in dispatch order,
// then the ones that were never woken.
func renderResult(w io.Writer, result *models.RunResult, names []string) {
	t := newTable(w)
	t.SetTitle("Run " + result.RunID)
	t.AppendHeader(table.Row{"#", "Device", "Status", "Detail"})

	seen := make(map[string]bool, len(names))
	order := make([]string, 0, len(names))
	for _, name := range append(append([]string{}, result.WakeOrder...), names...) {
		if !seen[name] {
			seen[name] = true
			order = append(order, name)
		}
	}

	for i, name := range order {
		detail := ""
		if err := result.Errors[name]; err != nil {
			detail = err.Error()
		}
		t.AppendRow(table.Row{i + 1, name, colorStatus(result.Statuses[name]), detail})
	}

	t.AppendFooter(table.Row{"", "", "Duration", result.Duration.Round(time.Millisecond).String()})
	t.Render()
}

// renderPlan prints the devices grouped by the wave in which they can be woken.
func renderPlan(w io.Writer, g *graph.Graph) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Wave", "Device", "Depends On", "Required By", "Dispatch", "Checks", "Budget"})

	for i, wave := range g.Waves() {
		for _, name := range wave {
			d, _ := g.Device(name)
			t.AppendRow(table.Row{
				i + 1,
				name,
				joinOrDash(g.Dependencies(name)),
				joinOrDash(g.Dependents(name)),
				dispatch(d),
				checkSummary(d.Checks),
				d.TotalTimeout().String(),
			})
		}
	}
	t.Render()
}

func joinOrDash(names []string) string {
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ", ")
}

func dispatch(d models.DeviceSpec) string {
	mode := wol.Mode(d)
	switch mode {
	case models.DispatchUDP:
		return mode + " " + d.BroadcastIP + ":" + strconv.Itoa(d.WOLPort)
	case models.DispatchVLAN:
		return mode + " " + strconv.Itoa(int(*d.VLAN)) + " on " + d.Interface
	default:
		return mode + " on " + d.Interface
	}
}

func checkSummary(checks []models.HealthCheckSpec) string {
	if len(checks) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(checks))
	for _, c := range checks {
		parts = append(parts, string(c.Kind)+" "+c.Target())
	}
	return strings.Join(parts, "\n")
}

func renderRuns(w io.Writer, runs []models.RunRecord) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Run", "Started", "Duration", "Result", "Healthy", "Failed", "Blocked"})

	for _, r := range runs {
		outcome := text.FgGreen.Sprint("success")
		if !r.Success {
			outcome = text.FgRed.Sprint("failed")
		}
		t.AppendRow(table.Row{
			r.RunID,
			r.StartTime.Local().Format("2006-01-02 15:04:05"),
			r.Duration.Round(time.Second).String(),
			outcome,
			r.Healthy,
			r.Failed,
			r.Blocked,
		})
	}
	t.Render()
}

func renderEvents(w io.Writer, evs []models.EventRecord) {
	t := newTable(w)
	t.SetTitle("Run " + evs[0].RunID)
	t.AppendHeader(table.Row{"Time", "Device", "From", "To", "Error"})

	for _, ev := range evs {
		t.AppendRow(table.Row{
			ev.Time.Local().Format("15:04:05.000"),
			ev.Device,
			ev.From,
			ev.To,
			ev.Error,
		})
	}
	t.Render()
}
