/*
Package chat contains the real-time presence and session engine.

This file defines Presence, which publishes the online list to every live
connection. Registry changes trigger a background publish; triggers that
arrive during a publish collapse into a single follow-up.
*/
package chat

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"lfchat/internal/app/identity"
	"lfchat/internal/app/store"
	"lfchat/internal/pkg/logx"
)

const publishTimeout = 5 * time.Second

// Presence publishes the online list to every live connection.
type Presence struct {
	store    store.Store
	registry *Registry

	// mu serializes Publish so an older list never overtakes a newer one.
	mu sync.Mutex

	// trigger state for the coalescing background publisher.
	trigMu  sync.Mutex
	running bool
	pending bool
	wg      sync.WaitGroup

	logger zerolog.Logger
}

// NewPresence creates a Presence. The registry is attached with Attach because
// the registry itself is constructed with Presence.Trigger as its change hook.
func NewPresence(st store.Store) *Presence {
	return &Presence{
		store:  st,
		logger: logx.Component("Presence"),
	}
}

// Attach binds the registry whose online set is published.
func (p *Presence) Attach(r *Registry) {
	p.registry = r
}

// Snapshot loads the online list, sorted by nickname.
func (p *Presence) Snapshot(ctx context.Context) ([]identity.Presence, error) {
	ids := p.registry.OnlineIDs()
	if len(ids) == 0 {
		return []identity.Presence{}, nil
	}

	idents, err := p.store.ListIdentities(ctx, ids)
	if err != nil {
		return nil, err
	}

	list := make([]identity.Presence, 0, len(idents))
	for _, ident := range idents {
		// an identity may have gone offline between the two reads
		if p.registry.IsOnline(ident.ID) {
			list = append(list, ident.Presence())
		}
	}
	return list, nil
}

// Publish sends online_users_updated to every live connection.
func (p *Presence) Publish(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	list, err := p.Snapshot(ctx)
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to load online users")
		return err
	}

	for id, conn := range p.registry.snapshot() {
		if err := conn.Send(EventOnlineUsersUpdated, list); err != nil {
			p.logger.Warn().Err(err).Str("user_id", id).Msg("Dropped presence update")
		}
	}

	p.logger.Debug().Int("online", len(list)).Msg("Presence published")
	return nil
}

// Trigger schedules a Publish without blocking the caller. Triggers that
// arrive while a publish runs collapse into one follow-up publish.
func (p *Presence) Trigger() {
	p.trigMu.Lock()
	if p.running {
		p.pending = true
		p.trigMu.Unlock()
		return
	}
	p.running = true
	p.wg.Add(1)
	p.trigMu.Unlock()

	go p.drain()
}

func (p *Presence) drain() {
	defer p.wg.Done()

	for {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		_ = p.Publish(ctx)
		cancel()

		p.trigMu.Lock()
		if !p.pending {
			p.running = false
			p.trigMu.Unlock()
			return
		}
		p.pending = false
		p.trigMu.Unlock()
	}
}

// Wait blocks until no triggered publish is running.
func (p *Presence) Wait() {
	p.wg.Wait()
}
