// Package mdns advertises the admin endpoint on the local network and finds other instances.
package mdns

import (
	"context"
	"errors"
	"fmt"
	"github.com/brutella/dnssd"
	"github.com/brutella/dnssd/log"
	"maps"
	"net"
	"sync"
)

const (
	Service = "_adminplane._tcp"
	// ServerKey holds the control plane server name in TXT records.
	ServerKey = "server"
	domain    = "local."
)

func init() {
	log.Info.Disable()
}

// Advert describes what is published for one control plane instance.
type Advert struct {
	Instance string
	Host     string
	Server   string
	Port     int
	IP       net.IP
}

// Publish advertises a until ctx is canceled.
func Publish(ctx context.Context, a Advert) error {
	cfg := dnssd.Config{
		Name: a.Instance,
		Type: Service,
		Host: a.Host,
		Port: a.Port,
		Text: map[string]string{ServerKey: a.Server},
	}
	if a.IP != nil {
		cfg.IPs = []net.IP{a.IP}
	}
	sv, err := dnssd.NewService(cfg)
	if err != nil {
		return fmt.Errorf("registering mdns entry: %w", err)
	}
	rp, err := dnssd.NewResponder()
	if err != nil {
		return fmt.Errorf("creating mdns responder: %w", err)
	}
	hdl, err := rp.Add(sv)
	if err != nil {
		return fmt.Errorf("adding service to mdns responder: %w", err)
	}
	go func() {
		<-ctx.Done()
		rp.Remove(hdl)
	}()
	if err = rp.Respond(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("responding to mdns requests: %w", err)
	}
	return nil
}

// Entry is a discovered instance.
type Entry struct {
	Instance string
	Server   string
	Host     string
	IP       string
	Port     int
}

// Entries collects discovered instances keyed by instance name.
// It is safe for concurrent use.
type Entries struct {
	mu sync.RWMutex
	m  map[string]Entry
}

// Discover browses for instances until ctx ends and records them in e.
func (e *Entries) Discover(ctx context.Context) error {
	add := dnssd.AddFunc(func(be dnssd.BrowseEntry) {
		entry := Entry{
			Instance: be.Name,
			Server:   be.Text[ServerKey],
			Host:     be.Host,
			Port:     be.Port,
		}
		if len(be.IPs) > 0 {
			entry.IP = be.IPs[0].String()
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.m == nil {
			e.m = make(map[string]Entry)
		}
		e.m[be.Name] = entry
	})
	rmv := dnssd.RmvFunc(func(be dnssd.BrowseEntry) {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.m, be.Name)
	})
	err := dnssd.LookupType(ctx, fmt.Sprintf("%s.%s", Service, domain), add, rmv)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("browsing mdns: %w", err)
	}
	return nil
}

// List returns a copy of the discovered instances.
func (e *Entries) List() map[string]Entry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return maps.Clone(e.m)
}
