// Package ui renders command results for the terminal.
package ui

import (
	"fmt"
	"github.com/MuhamedUsman/adminplane/internal/health"
	"github.com/MuhamedUsman/adminplane/internal/mdns"
	"github.com/MuhamedUsman/adminplane/internal/message"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"io"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"
)

var (
	greenColor  = lipgloss.AdaptiveColor{Light: "#79740e", Dark: "#b8bb26"}
	redColor    = lipgloss.AdaptiveColor{Light: "#9d0006", Dark: "#fb4934"}
	yellowColor = lipgloss.AdaptiveColor{Light: "#b57614", Dark: "#fabd2f"}
	grayColor   = lipgloss.AdaptiveColor{Light: "#999999", Dark: "#7c6f64"}

	titleStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	okStyle     = lipgloss.NewStyle().Foreground(greenColor).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(redColor).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(yellowColor)
	subtleStyle = lipgloss.NewStyle().Foreground(grayColor)
	nameStyle   = lipgloss.NewStyle().Width(10)
	boxStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(grayColor).
			Padding(0, 1)
)

func verdict(ok bool) string {
	if ok {
		return okStyle.Render("UP")
	}
	return failStyle.Render("DOWN")
}

// PrintHealth writes a boxed summary of r to w.
func PrintHealth(w io.Writer, r health.Report) error {
	var b strings.Builder
	b.WriteString(titleStyle.Render(r.Server) + " " + verdict(r.Healthy) + "\n")
	for _, c := range r.Components {
		line := nameStyle.Render(c.Name) + " " + verdict(c.Healthy) + " " + subtleStyle.Render(latency(c.Latency))
		if c.Detail != "" {
			line += " " + warnStyle.Render(c.Detail)
		}
		b.WriteString(line + "\n")
	}
	if !r.Checked.IsZero() {
		b.WriteString(subtleStyle.Render("checked " + humanize.Time(r.Checked)))
	}
	_, err := fmt.Fprintln(w, boxStyle.Render(strings.TrimRight(b.String(), "\n")))
	return err
}

func latency(d time.Duration) string {
	if d < time.Millisecond {
		return d.Round(time.Microsecond).String()
	}
	return d.Round(time.Millisecond).String()
}

// PrintAnswer writes a one-line summary of a, followed by its object payload if any.
func PrintAnswer(w io.Writer, a message.Answer) error {
	style := okStyle
	if !a.Type.Positive() {
		style = failStyle
	}
	parts := []string{style.Render(a.Type.String())}
	for _, s := range []string{a.Message, a.Entity, a.FileID, a.ErrorReason} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	if a.ID != 0 {
		parts = append(parts, subtleStyle.Render("id="+humanize.Comma(a.ID)))
	}
	if _, err := fmt.Fprintln(w, strings.Join(parts, " ")); err != nil {
		return err
	}
	if len(a.Object) > 0 {
		_, err := fmt.Fprintln(w, string(a.Object))
		return err
	}
	return nil
}

// PrintBytes reports a finished transfer.
func PrintBytes(w io.Writer, verb, name string, n int64) error {
	_, err := fmt.Fprintf(w, "%s %s %s\n", okStyle.Render(verb), name, subtleStyle.Render(humanize.IBytes(uint64(n))))
	return err
}

// PrintEntries lists discovered instances sorted by instance name.
func PrintEntries(w io.Writer, entries []mdns.Entry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, subtleStyle.Render("no instances found"))
		return err
	}
	slices.SortFunc(entries, func(a, b mdns.Entry) int { return strings.Compare(a.Instance, b.Instance) })
	var b strings.Builder
	for _, e := range entries {
		host := e.IP
		if host == "" {
			host = e.Host
		}
		b.WriteString(nameStyle.Width(20).Render(e.Instance) + " " +
			okStyle.Render(e.Server) + " " +
			subtleStyle.Render(net.JoinHostPort(host, strconv.Itoa(e.Port))) + "\n")
	}
	_, err := fmt.Fprintln(w, boxStyle.Render(strings.TrimRight(b.String(), "\n")))
	return err
}
