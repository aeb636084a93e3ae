// Package dispatch routes non-internal commands to pluggable modules by dispatcher id.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"github.com/MuhamedUsman/adminplane/internal/logging"
	"github.com/MuhamedUsman/adminplane/internal/message"
	"github.com/sahilm/fuzzy"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"
)

var ErrUnknownModule = errors.New("unknown dispatcher module")

// Dispatcher handles every command addressed to its id.
type Dispatcher interface {
	ID() string
	Dispatch(ctx context.Context, cmd message.Command) message.Answer
}

// Deps is what a module may use; it is built once by the server and shared.
type Deps struct {
	Log        *slog.Logger
	ServerName string
	Logs       *logging.Buffer
	StartedAt  time.Time
	// Modules lists the ids active after Init.
	Modules func() []string
}

type Factory func(Deps) (Dispatcher, error)

// Registry maps dispatcher ids to factories and, after Init, to live modules.
type Registry struct {
	log       *slog.Logger
	mu        sync.RWMutex
	factories map[string]Factory
	active    map[string]Dispatcher
}

// NewRegistry returns a registry with the built-in log and info modules registered.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = logging.Discard()
	}
	r := &Registry{
		log:       log,
		factories: make(map[string]Factory),
		active:    make(map[string]Dispatcher),
	}
	r.Register(LogModuleID, NewLogModule)
	r.Register(InfoModuleID, NewInfoModule)
	return r
}

// Register makes a factory available to Init. A later registration replaces an earlier one.
func (r *Registry) Register(id string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = f
}

// Init builds the modules named in ids. Any unknown id or constructor failure aborts Init.
func (r *Registry) Init(ids []string, deps Deps) error {
	if deps.Log == nil {
		deps.Log = r.log
	}
	if deps.Modules == nil {
		deps.Modules = r.Modules
	}
	r.mu.RLock()
	factories := maps.Clone(r.factories)
	r.mu.RUnlock()

	built := make(map[string]Dispatcher, len(ids))
	for _, id := range ids {
		if id == message.DispatcherInternal {
			return fmt.Errorf("%w: %q is reserved", ErrUnknownModule, id)
		}
		f, ok := factories[id]
		if !ok {
			known := slices.Sorted(maps.Keys(factories))
			return fmt.Errorf("%w: %q%s", ErrUnknownModule, id, r.suggest(id, known))
		}
		d, err := f(deps)
		if err != nil {
			return fmt.Errorf("initializing dispatcher %q: %w", id, err)
		}
		built[id] = d
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = built
	return nil
}

// Modules returns the sorted ids of the initialized modules.
func (r *Registry) Modules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.active))
}

// Dispatch routes cmd to its module. Unknown ids and module panics are logged and
// answered with a generic OK so one module cannot break the transport.
func (r *Registry) Dispatch(ctx context.Context, cmd message.Command) (a message.Answer) {
	r.mu.RLock()
	d, ok := r.active[cmd.DispatcherID]
	r.mu.RUnlock()
	if !ok {
		r.log.Warn("Unknown dispatcher, command ignored",
			"dispatcher", cmd.DispatcherID,
			"command", cmd.Command,
			"hint", r.suggest(cmd.DispatcherID, r.Modules()),
		)
		return message.OK()
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("Dispatcher panicked", "dispatcher", cmd.DispatcherID, "command", cmd.Command, "panic", fmt.Sprint(rec))
			a = message.OK()
		}
	}()
	a = d.Dispatch(ctx, cmd)
	if err := a.Validate(); err != nil {
		r.log.Error("Dispatcher returned an invalid answer", "dispatcher", cmd.DispatcherID, "err", err)
		return message.OK()
	}
	return a
}

func (r *Registry) suggest(id string, known []string) string {
	if id == "" {
		return ""
	}
	matches := fuzzy.Find(id, known)
	if len(matches) == 0 {
		return ""
	}
	return fmt.Sprintf(" (did you mean %q?)", matches[0].Str)
}
