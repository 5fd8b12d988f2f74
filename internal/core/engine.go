// Package core wires the ODID store, arming gate, TX scheduler, links
// and backends together into the running gateway. Restructured from the
// teacher's Engine (adapters + publishers funnelling into one routing
// goroutine) around RemoteID's shape: southbound Links decode ODID
// messages, a single goroutine applies them to the Store, and a second
// goroutine drives the Backends on the TX Scheduler's cadence.
package core

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ardupilot/remoteid-module/internal/core/arming"
	"github.com/ardupilot/remoteid-module/internal/core/armhistory"
	"github.com/ardupilot/remoteid-module/internal/core/odidstore"
	"github.com/ardupilot/remoteid-module/internal/core/scheduler"
	"github.com/ardupilot/remoteid-module/internal/models"
)

// transmitTick is how often the engine checks whether any backend is
// due to send, and re-evaluates the arming gate.
const transmitTick = 50 * time.Millisecond

// Engine owns the ODID Store and drives Links, the Arming Gate, the TX
// Scheduler, Backends and Publishers.
type Engine struct {
	store     *odidstore.Store
	gate      *arming.Gate
	scheduler *scheduler.Scheduler

	links      []Link
	backends   []Backend
	publishers []Publisher

	events chan Event
	wg     sync.WaitGroup
}

// NewEngine creates an Engine. forceArmOK should reflect the live value
// of the OPTIONS_FORCE_ARM_OK parameter bit.
func NewEngine(forceArmOK func() bool) *Engine {
	store := odidstore.New()
	return &Engine{
		store:     store,
		gate:      arming.New(store, forceArmOK),
		scheduler: scheduler.New(),
		events:    make(chan Event, 100),
	}
}

// RegisterLink adds a southbound Link.
func (e *Engine) RegisterLink(l Link) {
	e.links = append(e.links, l)
}

// RegisterBackend adds a northbound Backend and sets its transmit rate.
func (e *Engine) RegisterBackend(b Backend, rateHz float64) {
	e.backends = append(e.backends, b)
	e.scheduler.SetRate(b.Name(), rateHz)
}

// RegisterPublisher adds a telemetry Publisher.
func (e *Engine) RegisterPublisher(p Publisher) {
	e.publishers = append(e.publishers, p)
}

// SetArmChangeCallback installs a callback invoked whenever the arming
// gate's evaluated status or reason changes, for diagnostics broadcast.
func (e *Engine) SetArmChangeCallback(cb func(status models.ArmStatus, reason string)) {
	e.gate.SetChangeCallback(cb)
}

// Start begins all registered components.
func (e *Engine) Start(ctx context.Context) error {
	for _, p := range e.publishers {
		if err := p.Start(ctx); err != nil {
			return err
		}
		log.Printf("[engine] publisher started: %s", p.Name())
	}

	for _, l := range e.links {
		if err := l.Start(ctx, e.events); err != nil {
			return err
		}
		log.Printf("[engine] link started: %s", l.Name())
	}

	e.wg.Add(2)
	go e.routeEvents(ctx)
	go e.transmitLoop(ctx)

	log.Printf("[engine] started with %d links, %d backends, %d publishers",
		len(e.links), len(e.backends), len(e.publishers))
	return nil
}

// routeEvents is the sole writer to the Store.
func (e *Engine) routeEvents(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.events:
			e.apply(ev)
		}
	}
}

func (e *Engine) apply(ev Event) {
	switch ev.Kind {
	case EventBasicID:
		e.store.ApplyBasicID(ev.Slot, ev.BasicID)
	case EventLocation:
		e.store.ApplyLocation(ev.Location)
	case EventSelfID:
		e.store.ApplySelfID(ev.SelfID)
	case EventSystem:
		e.store.ApplySystem(ev.System)
	case EventSystemUpdate:
		e.store.ApplySystemUpdate(ev.SystemUpdate)
	case EventOperatorID:
		e.store.ApplyOperatorID(ev.OperatorID)
	case EventAuthentication:
		e.store.ApplyAuthentication(ev.Auth)
	}

	for _, p := range e.publishers {
		rec := e.store.Snapshot()
		if err := p.Publish(rec); err != nil {
			log.Printf("[engine] publish error (%s): %v", p.Name(), err)
		}
	}
}

// transmitLoop periodically re-evaluates the arming gate and asks the
// scheduler which backends are due, driving their Send method.
func (e *Engine) transmitLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(transmitTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status, reason := e.gate.Evaluate()
			for _, l := range e.links {
				l.Tick(status, reason)
			}

			rec := e.store.Snapshot()
			for _, b := range e.backends {
				if !e.scheduler.ShouldSend(b.Name()) {
					continue
				}
				if err := b.Send(ctx, rec, status, reason); err != nil {
					log.Printf("[engine] send error (%s): %v", b.Name(), err)
				}
			}
		}
	}
}

// Stop gracefully stops every component.
func (e *Engine) Stop() error {
	for _, l := range e.links {
		if err := l.Stop(); err != nil {
			log.Printf("[engine] error stopping link %s: %v", l.Name(), err)
		}
	}

	e.wg.Wait()

	for _, p := range e.publishers {
		if err := p.Stop(); err != nil {
			log.Printf("[engine] error stopping publisher %s: %v", p.Name(), err)
		}
	}

	log.Printf("[engine] stopped")
	return nil
}

// Snapshot returns the current ODID Record.
func (e *Engine) Snapshot() models.Record {
	return e.store.Snapshot()
}

// ArmStatus returns the last computed arm status and reason without
// forcing a re-evaluation.
func (e *Engine) ArmStatus() (models.ArmStatus, string) {
	return e.gate.LastResult()
}

// ArmHistory returns the last n arm-status transitions.
func (e *Engine) ArmHistory(n int) []armhistory.Event {
	return e.gate.History(n)
}

// LinkNames returns the names of all registered links.
func (e *Engine) LinkNames() []string {
	names := make([]string, len(e.links))
	for i, l := range e.links {
		names[i] = l.Name()
	}
	return names
}

// BackendNames returns the names of all registered backends.
func (e *Engine) BackendNames() []string {
	names := make([]string, len(e.backends))
	for i, b := range e.backends {
		names[i] = b.Name()
	}
	return names
}
