package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/srg/powersaver/pkg/power"
	"github.com/srg/powersaver/pkg/sensor"
	"github.com/srg/powersaver/pkg/session"
)

const (
	clearScreenSequence = "\033[H\033[2J"
	recentLogLines      = 5
)

var roleLabels = map[string]struct{ name, unit string }{
	session.RolePower:     {"Power", "W"},
	session.RoleHeartRate: {"Heart rate", "bpm"},
	session.RoleCadence:   {"Cadence", "rpm"},
}

// roleStatus reports a sensor's sink status and device name.
type roleStatus interface {
	Status() (status, name string)
}

// dashboard redraws the ride screen. On a terminal it clears the screen and
// uses colour; otherwise it appends plain frames.
type dashboard struct {
	out    io.Writer
	roles  []string
	redraw bool
	recent []session.LogEntry

	title, value, good, warn, bad, dim *color.Color
}

func newDashboard(out io.Writer, roles []string, tty bool) *dashboard {
	d := &dashboard{
		out:    out,
		roles:  roles,
		redraw: tty,
		title:  color.New(color.Bold),
		value:  color.New(color.FgCyan, color.Bold),
		good:   color.New(color.FgGreen),
		warn:   color.New(color.FgYellow),
		bad:    color.New(color.FgRed),
		dim:    color.New(color.Faint),
	}
	for _, c := range []*color.Color{d.title, d.value, d.good, d.warn, d.bad, d.dim} {
		if tty {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return d
}

// Render draws one frame. entries are new connection log lines since the
// previous frame.
func (d *dashboard) Render(v session.View, statuses map[string]*session.RoleCallbacks, entries []session.LogEntry) {
	st := make(map[string]roleStatus, len(statuses))
	for role, s := range statuses {
		st[role] = s
	}
	d.render(v, st, entries)
}

func (d *dashboard) render(v session.View, statuses map[string]roleStatus, entries []session.LogEntry) {
	d.recent = append(d.recent, entries...)
	if len(d.recent) > recentLogLines {
		d.recent = d.recent[len(d.recent)-recentLogLines:]
	}

	var b strings.Builder
	if d.redraw {
		b.WriteString(clearScreenSequence)
	}
	fmt.Fprintf(&b, "%s  session %s  %d samples\n\n", d.title.Sprint("POWERSAVER"), shortSession(v.SessionID), v.Samples)

	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	for _, role := range d.roles {
		label := roleLabels[role]
		status, name := "", ""
		if s, ok := statuses[role]; ok {
			status, name = s.Status()
		}
		if name == "" {
			name = "-"
		}
		if status == "" {
			status = "Waiting"
		}
		fmt.Fprintf(w, "  %s\t%s %s\t%s\t%s\n", label.name, d.value.Sprintf("%4d", roleValue(v.Values, role)), label.unit, name, d.statusColor(status).Sprint(status))
	}
	_ = w.Flush()

	b.WriteString("\n")
	w = tabwriter.NewWriter(&b, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(w, "  WINDOW\tCURRENT\tBEST\t\n")
	for _, label := range power.Labels() {
		var stats power.Stats
		if v.Averages != nil {
			stats, _ = v.Averages.Get(label)
		}
		fmt.Fprintf(w, "  %s\t%d\t%d\t\n", label, stats.Current, stats.Best)
	}
	_ = w.Flush()

	if len(d.recent) > 0 {
		b.WriteString("\n")
		for _, e := range d.recent {
			b.WriteString("  " + d.dim.Sprint(e.String()) + "\n")
		}
	}

	fmt.Fprint(d.out, b.String())
}

func (d *dashboard) statusColor(status string) *color.Color {
	switch status {
	case sensor.SinkConnected:
		return d.good
	case sensor.SinkReconnecting, "Waiting":
		return d.warn
	case sensor.SinkFailed, sensor.SinkDisconnected:
		return d.bad
	}
	return d.dim
}

func roleValue(v session.Values, role string) int {
	switch role {
	case session.RolePower:
		return v.Power
	case session.RoleHeartRate:
		return v.HeartRate
	case session.RoleCadence:
		return v.Cadence
	}
	return 0
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// formatDuration renders d as h:mm:ss.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	return fmt.Sprintf("%d:%02d:%02d", h, m, d/time.Second)
}
