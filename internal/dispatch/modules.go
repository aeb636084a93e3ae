package dispatch

import (
	"context"
	"errors"
	"github.com/MuhamedUsman/adminplane/internal/message"
	"github.com/dustin/go-humanize"
	"runtime"
	"strconv"
	"strings"
	"time"
)

const (
	LogModuleID  = "log"
	InfoModuleID = "info"

	defaultLogLines = 100
)

// LogModule returns recent server log lines. The line count comes from the entity or
// from a "lines=N" message value.
type LogModule struct {
	deps Deps
}

func NewLogModule(deps Deps) (Dispatcher, error) {
	if deps.Logs == nil {
		return nil, errors.New("log module requires a log buffer")
	}
	return &LogModule{deps: deps}, nil
}

func (m *LogModule) ID() string { return LogModuleID }

func (m *LogModule) Dispatch(_ context.Context, cmd message.Command) message.Answer {
	n := defaultLogLines
	raw := cmd.Entity
	if v, ok := cmd.MessageValue("lines"); ok {
		raw = v
	}
	if raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return message.Error("log", "lines must be a non-negative integer")
		}
		n = parsed
	}
	lines := []string{}
	if n > 0 {
		lines = m.deps.Logs.Last(n)
	}
	a := message.Answer{Type: message.TypeOK, Message: "log", ID: int64(len(lines))}
	if err := a.SetObject(lines); err != nil {
		return message.Error("log", err.Error())
	}
	return a
}

// Info is the payload of the info module.
type Info struct {
	Server     string   `json:"server"`
	StartedAt  string   `json:"started_at"`
	Uptime     string   `json:"uptime"`
	Goroutines int      `json:"goroutines"`
	Modules    []string `json:"modules"`
	GoVersion  string   `json:"go_version"`
}

type InfoModule struct {
	deps Deps
}

func NewInfoModule(deps Deps) (Dispatcher, error) {
	return &InfoModule{deps: deps}, nil
}

func (m *InfoModule) ID() string { return InfoModuleID }

func (m *InfoModule) Dispatch(_ context.Context, _ message.Command) message.Answer {
	info := Info{
		Server:     m.deps.ServerName,
		Goroutines: runtime.NumGoroutine(),
		GoVersion:  runtime.Version(),
	}
	if !m.deps.StartedAt.IsZero() {
		info.StartedAt = m.deps.StartedAt.Format(time.RFC3339)
		info.Uptime = strings.TrimSpace(humanize.RelTime(m.deps.StartedAt, time.Now(), "", ""))
	}
	if m.deps.Modules != nil {
		info.Modules = m.deps.Modules()
	}
	a := message.Answer{Type: message.TypeOK, Message: m.deps.ServerName}
	if err := a.SetObject(info); err != nil {
		return message.Error("info", err.Error())
	}
	return a
}
