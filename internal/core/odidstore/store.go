// Package odidstore is the sole owner of the vehicle's live ODID Record.
// Every protocol adapter (serial/MAVLink, CAN/DroneCAN) funnels its
// decoded messages through the Store's Apply* methods; every backend
// (BLE, Wi-Fi) and the arming gate read through Snapshot. Mirrors the
// single-writer discipline of the teacher's statestore, generalized from
// one map-of-devices to one Record per process, since a RemoteID
// transponder instance only ever describes the vehicle it rides on.
package odidstore

import (
	"sync"
	"time"

	"github.com/ardupilot/remoteid-module/internal/models"
)

// Store guards a single models.Record behind a mutex, exposing typed
// ingest methods so the validation rules below never have to be
// re-derived by callers.
type Store struct {
	mu     sync.RWMutex
	record models.Record
}

// New creates an empty Store.
func New() *Store {
	return &Store{}
}

// Snapshot returns a copy of the current Record, safe for callers to
// read without holding the Store's lock.
func (s *Store) Snapshot() models.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record
}

// ApplyBasicID installs a BasicID declaration into the given slot (0 or
// 1). A zero-length UAS ID is rejected: the firmware never considers an
// empty ID a valid declaration.
func (s *Store) ApplyBasicID(slot int, b models.BasicID) {
	if slot < 0 || slot > 1 || models.ASCIIString(b.UASID[:]) == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b.Valid = true
	s.record.BasicIDs[slot] = b
	s.record.LastBasicIDUpdate = time.Now()
}

// ApplyLocation installs a new Location message. The LOC tag in the
// arming gate also treats an (0,0) lat/lon pair as "no fix yet" even
// though this freshness timestamp is updated; that check lives in the
// arming package, not here, since it is about plausibility, not recency.
func (s *Store) ApplyLocation(l models.Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record.Location = l
	s.record.LastLocationUpdate = time.Now()
}

// ApplySelfID installs a new SelfID message.
func (s *Store) ApplySelfID(sid models.SelfID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sid.Valid = true
	s.record.SelfID = sid
	s.record.LastSelfIDUpdate = time.Now()
}

// ApplySystem installs a new System message.
func (s *Store) ApplySystem(sys models.System) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sys.Valid = true
	s.record.System = sys
	s.record.LastSystemUpdate = time.Now()
}

// ApplySystemUpdate merges a partial SYSTEM_UPDATE refresh into the
// existing System record. Freshness (LastSystemUpdate) is only bumped
// once a full System message has already been received, mirroring
// mavlink.cpp's process_packet: a SYSTEM_UPDATE can only refresh data
// a full System message already established.
func (s *Store) ApplySystemUpdate(u models.SystemUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hadFullSystem := s.record.System.Valid
	s.record.System.OperatorLatitude = u.OperatorLatitude
	s.record.System.OperatorLongitude = u.OperatorLongitude
	s.record.System.OperatorAltitudeGeo = u.OperatorAltitudeGeo
	s.record.System.Timestamp = u.Timestamp
	if hadFullSystem {
		s.record.LastSystemUpdate = time.Now()
	}
}

// ApplyOperatorID installs a new OperatorID message.
func (s *Store) ApplyOperatorID(op models.OperatorID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op.Valid = true
	s.record.Operator = op
	s.record.LastOperatorUpdate = time.Now()
}

// ApplyAuthentication installs one page of an authentication message.
// Duplicate pages (same DataPage re-sent with an identical Timestamp)
// are dropped rather than re-applied, since a resent page carries no
// new information and would otherwise reset freshness for no reason.
func (s *Store) ApplyAuthentication(a models.Authentication) bool {
	if a.DataPage > 4 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	bit := uint8(1) << a.DataPage
	if s.record.AuthPagesPresent&bit != 0 && s.record.Auth[a.DataPage].Timestamp == a.Timestamp {
		return false
	}
	s.record.Auth[a.DataPage] = a
	s.record.AuthPagesPresent |= bit
	return true
}

// HaveBasicID reports whether a usable BasicID is currently stored.
func (s *Store) HaveBasicID() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record.HaveBasicID()
}
