package core

import (
	"context"

	"github.com/ardupilot/remoteid-module/internal/models"
)

// Link is a southbound transport that decodes ODID messages from the
// flight controller and emits Events on the shared channel: the MAVLink
// serial link (C3) and the DroneCAN link (C2) both implement this. A
// Link never writes to the Store directly — the engine's routing
// goroutine is the sole writer, mirroring the teacher's single-writer
// discipline.
type Link interface {
	// Name identifies the link for logging and status reporting.
	Name() string

	// Start begins receiving messages and sending Events to the
	// channel. It must respect ctx cancellation.
	Start(ctx context.Context, events chan<- Event) error

	// Stop releases the underlying transport.
	Stop() error

	// Tick is driven on the engine's transmit cadence so a Link can emit
	// its own periodic southbound traffic (heartbeats, node status, arm
	// status) back to the flight controller at whatever rate its own
	// protocol requires. A Link with nothing due on a given call just
	// returns.
	Tick(armStatus models.ArmStatus, armReason string)
}

// EventKind discriminates the payload carried by an Event.
type EventKind int

const (
	EventBasicID EventKind = iota
	EventLocation
	EventSelfID
	EventSystem
	EventSystemUpdate
	EventOperatorID
	EventAuthentication
)

// Event is a single decoded ODID message, tagged with which Record field
// it updates. Exactly one of the payload fields is meaningful, selected
// by Kind.
type Event struct {
	Kind         EventKind
	Slot         int // BasicID slot, 0 or 1
	BasicID      models.BasicID
	Location     models.Location
	SelfID       models.SelfID
	System       models.System
	SystemUpdate models.SystemUpdate
	OperatorID   models.OperatorID
	Auth         models.Authentication
}

// Backend is a northbound broadcaster that reads the current Record and
// transmits ODID frames over its medium: the BLE (C7) and Wi-Fi (C8)
// backends both implement this.
type Backend interface {
	// Name identifies the backend (e.g. "ble", "wifi").
	Name() string

	// Send is invoked by the engine's transmit loop once the scheduler
	// says the backend is due. rec is a snapshot taken immediately
	// before the call.
	Send(ctx context.Context, rec models.Record, armStatus models.ArmStatus, armReason string) error
}

// Publisher is a telemetry sink unrelated to the ODID broadcast path,
// e.g. the optional UTM MQTT bridge (C11). Kept distinct from Backend
// because publishers consume the already-broadcast record for
// observability, not the wire protocol itself.
type Publisher interface {
	Name() string
	Start(ctx context.Context) error
	Publish(rec models.Record) error
	Stop() error
}
