// Package health holds the report produced by a HEALTH command.
package health

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// Component names used in a Report.
const (
	Admin    = "admin"
	Download = "download"
	Upload   = "upload"
	Web      = "web"
)

type Component struct {
	Name    string        `json:"name"`
	Healthy bool          `json:"healthy"`
	Detail  string        `json:"detail,omitempty"`
	Latency time.Duration `json:"latency"`
}

type Report struct {
	Server     string      `json:"server"`
	Healthy    bool        `json:"healthy"`
	Checked    time.Time   `json:"checked"`
	Components []Component `json:"components"`
}

// New aggregates components into a report that is healthy only if all of them are.
func New(server string, components ...Component) Report {
	r := Report{Server: server, Healthy: true, Checked: time.Now(), Components: components}
	for _, c := range components {
		r.Healthy = r.Healthy && c.Healthy
	}
	return r
}

// Component returns the named component.
func (r Report) Component(name string) (Component, bool) {
	i := slices.IndexFunc(r.Components, func(c Component) bool { return c.Name == name })
	if i < 0 {
		return Component{}, false
	}
	return r.Components[i], true
}

// Unhealthy lists the names of failing components.
func (r Report) Unhealthy() []string {
	var names []string
	for _, c := range r.Components {
		if !c.Healthy {
			names = append(names, c.Name)
		}
	}
	return names
}

// Check times fn and turns its result into a Component. A check still running when ctx
// ends is reported unhealthy right away; fn is left to finish on its own.
func Check(ctx context.Context, name string, fn func(ctx context.Context) error) Component {
	start := time.Now()
	res := make(chan error, 1)
	go func() { res <- fn(ctx) }()
	var err error
	select {
	case err = <-res:
	case <-ctx.Done():
		err = fmt.Errorf("check abandoned: %w", context.Cause(ctx))
	}
	c := Component{Name: name, Healthy: err == nil, Latency: time.Since(start)}
	if err != nil {
		c.Detail = err.Error()
	}
	return c
}
