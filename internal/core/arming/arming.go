// Package arming implements the Arming Gate (component C5): it answers
// "is it safe to arm" by checking the freshness and plausibility of the
// ODID Record's message groups, the same way Transport::arm_status_check
// does in the original firmware. Structurally adapted from the
// teacher's alerter package (mutex-guarded evaluator with a bounded
// history and an optional change callback), but the rule engine itself
// is gone: the six checks below are fixed by the protocol, not
// user-configurable rules.
package arming

import (
	"strings"
	"sync"
	"time"

	"github.com/ardupilot/remoteid-module/internal/core/armhistory"
	"github.com/ardupilot/remoteid-module/internal/core/odidstore"
	"github.com/ardupilot/remoteid-module/internal/models"
)

const (
	// MaxAgeLocation is how stale a Location message may be before the
	// LOC tag is raised.
	MaxAgeLocation = 3000 * time.Millisecond
	// MaxAgeOther is the freshness window for SelfID and OperatorID.
	MaxAgeOther = 22000 * time.Millisecond
	// historyCapacity bounds the in-memory transition log.
	historyCapacity = 256
)

// Gate evaluates arm-readiness against a Store.
type Gate struct {
	store      *odidstore.Store
	forceArmOK func() bool

	mu         sync.RWMutex
	lastStatus models.ArmStatus
	lastReason string
	onChange   func(status models.ArmStatus, reason string)

	history *armhistory.RingBuffer
}

// New creates a Gate bound to store. forceArmOK is consulted on every
// Evaluate call and should reflect the OPTIONS_FORCE_ARM_OK parameter bit.
func New(store *odidstore.Store, forceArmOK func() bool) *Gate {
	return &Gate{
		store:      store,
		forceArmOK: forceArmOK,
		history:    armhistory.NewRingBuffer(historyCapacity),
	}
}

// SetChangeCallback installs a callback invoked whenever the evaluated
// status differs from the previous call's.
func (g *Gate) SetChangeCallback(cb func(status models.ArmStatus, reason string)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onChange = cb
}

// Evaluate runs the arm-readiness check once and returns the resulting
// status and, for a failing status, a space-separated reason string
// built from the tags below. This is a direct port of
// Transport::arm_status_check: tag order, freshness windows and the
// (0,0) location special case all match the original.
func (g *Gate) Evaluate() (models.ArmStatus, string) {
	if g.forceArmOK != nil && g.forceArmOK() {
		return g.record(models.ArmStatusGoodToArm, "")
	}

	rec := g.store.Snapshot()
	now := time.Now()

	var tags []string
	locStale := rec.LastLocationUpdate.IsZero() || now.Sub(rec.LastLocationUpdate) > MaxAgeLocation
	locZero := rec.Location.Latitude == 0 && rec.Location.Longitude == 0
	if locStale || locZero {
		tags = append(tags, "LOC")
	}
	if !rec.HaveBasicID() {
		tags = append(tags, "ID")
	}
	if rec.LastSelfIDUpdate.IsZero() || now.Sub(rec.LastSelfIDUpdate) > MaxAgeOther {
		tags = append(tags, "SELF_ID")
	}
	if rec.LastOperatorUpdate.IsZero() || now.Sub(rec.LastOperatorUpdate) > MaxAgeOther {
		tags = append(tags, "OP_ID")
	}
	if rec.LastSystemUpdate.IsZero() || now.Sub(rec.LastSystemUpdate) > MaxAgeLocation {
		tags = append(tags, "SYS")
	}
	if rec.System.OperatorLatitude == 0 && rec.System.OperatorLongitude == 0 {
		tags = append(tags, "OP_LOC")
	}

	if len(tags) == 0 {
		return g.record(models.ArmStatusGoodToArm, "")
	}
	return g.record(models.ArmStatusPreArmFailGeneric, strings.Join(tags, " "))
}

// record applies change-detection, appends to history, and invokes the
// callback before returning status/reason unchanged to the caller.
func (g *Gate) record(status models.ArmStatus, reason string) (models.ArmStatus, string) {
	g.mu.Lock()
	changed := status != g.lastStatus || reason != g.lastReason
	g.lastStatus = status
	g.lastReason = reason
	cb := g.onChange
	g.mu.Unlock()

	if changed {
		g.history.Push(armhistory.Event{
			Timestamp: time.Now().UnixMilli(),
			Status:    uint8(status),
			Reason:    reason,
		})
		if cb != nil {
			go cb(status, reason)
		}
	}

	return status, reason
}

// History returns the last n arm-status transitions.
func (g *Gate) History(n int) []armhistory.Event {
	return g.history.GetLast(n)
}

// LastResult returns the most recently computed status/reason without
// re-evaluating.
func (g *Gate) LastResult() (models.ArmStatus, string) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.lastStatus, g.lastReason
}
