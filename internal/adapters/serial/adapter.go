// Package serial implements the Serial Link (component C3): a
// MAVLink 2 parser/encoder over a UART (or, for bench testing, UDP/TCP)
// driven by gomavlib, decoding the inbound OPEN_DRONE_ID_* message
// group into core.Events and driving the southbound half of the
// protocol: pairing, the 1 Hz heartbeat/arm-status pair, MAVLink
// parameter streaming, and Secure Command dispatch. Restructured from
// the teacher's mavlink adapter (gomavlib.Node + per-system-ID state
// map + a switch over message types in handleFrame) onto ODID messages
// instead of GLOBAL_POSITION_INT/ATTITUDE/SYS_STATUS, and grounded on
// mavlink.cpp's MAVLinkSerial::update/update_send/process_packet for
// the parts the teacher never had a counterpart for.
package serial

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/ardupilotmega"
	"github.com/bluenviron/gomavlib/v3/pkg/frame"

	"github.com/ardupilot/remoteid-module/internal/config"
	"github.com/ardupilot/remoteid-module/internal/core"
	"github.com/ardupilot/remoteid-module/internal/models"
	"github.com/ardupilot/remoteid-module/internal/params"
	"github.com/ardupilot/remoteid-module/internal/security"
)

// heartbeatWarnInterval is how often "waiting for heartbeat" is logged
// while unpaired, matching MAVLinkSerial::update's last_hb_warn_ms gate.
const heartbeatWarnInterval = 2 * time.Second

// heartbeatInterval is the paired-state HEARTBEAT/ARM_STATUS cadence.
const heartbeatInterval = 1 * time.Second

// paramStreamInterval is the PARAM_VALUE pacing interval used to answer
// a PARAM_REQUEST_LIST without bursting the link.
const paramStreamInterval = 50 * time.Millisecond

// Adapter implements core.Link for the MAVLink serial transport.
type Adapter struct {
	cfg        config.SerialConfig
	params     *params.Parameters
	dispatcher *security.Dispatcher
	node       *gomavlib.Node

	mu         sync.Mutex
	systemID   uint8 // the flight controller's MAVLink system ID, learned from its first qualifying heartbeat
	paired     bool
	lastHBWarn time.Time
	lastHB     time.Time

	paramStreaming bool
	paramNext      int
	paramLastSend  time.Time
}

// New creates a Serial Link bound to cfg. paramStore and dispatcher may
// be nil, in which case parameter streaming and Secure Command handling
// are both no-ops.
func New(cfg config.SerialConfig, paramStore *params.Parameters, dispatcher *security.Dispatcher) *Adapter {
	return &Adapter{cfg: cfg, params: paramStore, dispatcher: dispatcher}
}

// Name implements core.Link.
func (a *Adapter) Name() string { return "serial" }

// Start implements core.Link.
func (a *Adapter) Start(ctx context.Context, events chan<- core.Event) error {
	endpoints, err := a.buildEndpoints()
	if err != nil {
		return fmt.Errorf("serial: building endpoints: %w", err)
	}

	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints:   endpoints,
		Dialect:     ardupilotmega.Dialect,
		OutVersion:  gomavlib.V2,
		OutSystemID: 1,
	})
	if err != nil {
		return fmt.Errorf("serial: creating mavlink node: %w", err)
	}
	a.node = node

	go a.receiveLoop(ctx, events)
	return nil
}

// Stop implements core.Link.
func (a *Adapter) Stop() error {
	if a.node != nil {
		a.node.Close()
	}
	return nil
}

func (a *Adapter) buildEndpoints() ([]gomavlib.EndpointConf, error) {
	switch a.cfg.ConnectionType {
	case "udp":
		return []gomavlib.EndpointConf{gomavlib.EndpointUDPServer{Address: a.cfg.Address}}, nil
	case "tcp":
		return []gomavlib.EndpointConf{gomavlib.EndpointTCPServer{Address: a.cfg.Address}}, nil
	case "serial":
		return []gomavlib.EndpointConf{gomavlib.EndpointSerial{
			Device: a.cfg.SerialPort,
			Baud:   a.cfg.SerialBaud,
		}}, nil
	default:
		return nil, fmt.Errorf("unknown connection type: %s", a.cfg.ConnectionType)
	}
}

func (a *Adapter) receiveLoop(ctx context.Context, events chan<- core.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-a.node.Events():
			if frm, ok := evt.(*gomavlib.EventFrame); ok {
				a.handleFrame(frm.Frame, events)
			}
		}
	}
}

func (a *Adapter) handleFrame(frm frame.Frame, events chan<- core.Event) {
	var ev core.Event
	ok := true

	switch msg := frm.GetMessage().(type) {
	case *ardupilotmega.MessageHeartbeat:
		a.handleHeartbeat(frm.GetSystemID(), msg)
		return
	case *ardupilotmega.MessageOpenDroneIdBasicId:
		ev = basicIDEvent(msg)
	case *ardupilotmega.MessageOpenDroneIdLocation:
		ev = locationEvent(msg)
	case *ardupilotmega.MessageOpenDroneIdSelfId:
		ev = selfIDEvent(msg)
	case *ardupilotmega.MessageOpenDroneIdSystem:
		ev = systemEvent(msg)
	case *ardupilotmega.MessageOpenDroneIdSystemUpdate:
		ev = systemUpdateEvent(msg)
	case *ardupilotmega.MessageOpenDroneIdOperatorId:
		ev = operatorIDEvent(msg)
	case *ardupilotmega.MessageOpenDroneIdAuthentication:
		ev = authenticationEvent(msg)
	case *ardupilotmega.MessageParamRequestList:
		a.handleParamRequestList()
		return
	case *ardupilotmega.MessageParamRequestRead:
		a.handleParamRequestRead(msg)
		return
	case *ardupilotmega.MessageParamSet:
		a.handleParamSet(msg)
		return
	case *ardupilotmega.MessageSecureCommand:
		a.handleSecureCommand(msg)
		return
	default:
		ok = false
	}

	if !ok {
		return
	}
	select {
	case events <- ev:
	default:
	}
}

// handleHeartbeat implements the NoPeer -> Paired transition: the first
// non-GCS heartbeat from a real system ID latches that system ID as our
// peer, mirroring process_packet's sysid==0 guard in mavlink.cpp.
func (a *Adapter) handleHeartbeat(sysID uint8, msg *ardupilotmega.MessageHeartbeat) {
	if sysID == 0 || msg.Type == ardupilotmega.MAV_TYPE_GCS {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.paired {
		return
	}
	a.paired = true
	a.systemID = sysID
	log.Printf("[serial] paired with system %d", sysID)
}

// Tick implements core.Link: it drives the NoPeer warning log, the
// paired-state heartbeat/arm-status pair, and the PARAM_VALUE pacer.
// The engine calls this every 50ms, which is also this module's
// PARAM_VALUE pacing interval, so no separate timer is needed for that.
func (a *Adapter) Tick(armStatus models.ArmStatus, armReason string) {
	now := time.Now()

	a.mu.Lock()
	paired := a.paired
	warnDue := !paired && now.Sub(a.lastHBWarn) >= heartbeatWarnInterval
	hbDue := paired && now.Sub(a.lastHB) >= heartbeatInterval
	if warnDue {
		a.lastHBWarn = now
	}
	if hbDue {
		a.lastHB = now
	}
	a.mu.Unlock()

	if warnDue {
		log.Println("[serial] waiting for heartbeat")
	}
	if hbDue {
		a.sendHeartbeat()
		a.sendArmStatus(armStatus, armReason)
	}

	a.pumpParamStream()
}

func (a *Adapter) sendHeartbeat() {
	if a.node == nil {
		return
	}
	msg := &ardupilotmega.MessageHeartbeat{
		Type:           ardupilotmega.MAV_TYPE_ODID,
		Autopilot:      ardupilotmega.MAV_AUTOPILOT_INVALID,
		BaseMode:       0,
		CustomMode:     0,
		SystemStatus:   0,
		MavlinkVersion: 3,
	}
	if err := a.node.WriteMessageAll(msg); err != nil {
		log.Printf("[serial] heartbeat send failed: %v", err)
	}
}

func (a *Adapter) sendArmStatus(status models.ArmStatus, reason string) {
	if a.node == nil {
		return
	}
	msg := &ardupilotmega.MessageOpenDroneIdArmStatus{
		Status: ardupilotmega.MAV_ODID_ARM_STATUS(status),
	}
	copy(msg.Error[:], reason)
	if err := a.node.WriteMessageAll(msg); err != nil {
		log.Printf("[serial] arm status send failed: %v", err)
	}
}

// handleParamRequestList starts the float-view pacer at index 0, per
// process_packet's PARAM_REQUEST_LIST case.
func (a *Adapter) handleParamRequestList() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.paramStreaming = true
	a.paramNext = 0
	a.paramLastSend = time.Time{}
}

func (a *Adapter) handleParamRequestRead(msg *ardupilotmega.MessageParamRequestRead) {
	if a.params == nil {
		return
	}
	var d *params.Descriptor
	var ok bool
	if msg.ParamIndex >= 0 {
		d, ok = a.params.FindByIndexFloat(int(msg.ParamIndex))
	} else {
		d, ok = a.params.Find(paramIDString(msg.ParamId[:]))
	}
	if !ok || d.Hidden() {
		return
	}
	a.sendParamValue(d, a.params.FloatIndexOf(d))
}

// handleParamSet applies a PARAM_SET, enforcing the lock-level rule: once
// locked, only LOCK_LEVEL itself may be changed, and only upward, per
// process_packet's PARAM_SET case.
func (a *Adapter) handleParamSet(msg *ardupilotmega.MessageParamSet) {
	if a.params == nil {
		return
	}
	d, ok := a.params.Find(paramIDString(msg.ParamId[:]))
	if !ok {
		return
	}
	cur, _ := d.GetAsFloat()
	if a.params.LockLevel > 0 && (d.Name != "LOCK_LEVEL" || uint8(msg.ParamValue) <= uint8(cur)) {
		log.Printf("[serial] parameters locked, rejecting set of %s", d.Name)
	} else if err := a.params.SetAsFloat(d, msg.ParamValue); err != nil {
		log.Printf("[serial] param set %s failed: %v", d.Name, err)
	}
	a.sendParamValue(d, a.params.FloatIndexOf(d))
}

// pumpParamStream sends the next float-view parameter once per call if
// a PARAM_REQUEST_LIST stream is active and the pacing interval has
// elapsed, mirroring MAVLinkSerial::update's param_next walk.
func (a *Adapter) pumpParamStream() {
	if a.params == nil {
		return
	}
	a.mu.Lock()
	if !a.paramStreaming || time.Since(a.paramLastSend) < paramStreamInterval {
		a.mu.Unlock()
		return
	}
	idx := a.paramNext
	a.paramLastSend = time.Now()
	a.mu.Unlock()

	d, ok := a.params.FindByIndexFloat(idx)
	a.mu.Lock()
	if !ok {
		a.paramStreaming = false
	} else {
		a.paramNext = idx + 1
	}
	a.mu.Unlock()

	if ok {
		a.sendParamValue(d, idx)
	}
}

func (a *Adapter) sendParamValue(d *params.Descriptor, idx int) {
	if a.node == nil || a.params == nil {
		return
	}
	value, ok := d.GetAsFloat()
	if !ok {
		return
	}
	msg := &ardupilotmega.MessageParamValue{
		ParamValue: value,
		ParamType:  ardupilotmega.MAV_PARAM_TYPE_REAL32,
		ParamCount: uint16(a.params.FloatCount()),
		ParamIndex: uint16(idx),
	}
	copy(msg.ParamId[:], d.Name)
	if err := a.node.WriteMessageAll(msg); err != nil {
		log.Printf("[serial] param value send failed: %v", err)
	}
}

func paramIDString(id []byte) string {
	for i, c := range id {
		if c == 0 {
			return string(id[:i])
		}
	}
	return string(id)
}

// handleSecureCommand decodes a SECURE_COMMAND frame, dispatches it
// through the Secure Command subsystem (C10), and sends back the reply,
// mirroring process_packet's SECURE_COMMAND case and handle_secure_command.
func (a *Adapter) handleSecureCommand(msg *ardupilotmega.MessageSecureCommand) {
	if a.dispatcher == nil {
		return
	}
	total := int(msg.DataLength) + int(msg.SigLength)
	if total > len(msg.Data) {
		total = len(msg.Data)
	}
	cf := security.CommandFrame{
		Sequence:  msg.Sequence,
		Operation: security.Operation(msg.Operation),
		SigLength: msg.SigLength,
		Data:      append([]byte(nil), msg.Data[:total]...),
	}
	reply := a.dispatcher.Handle(cf)
	a.sendSecureCommandReply(reply)
}

func (a *Adapter) sendSecureCommandReply(reply security.Reply) {
	if a.node == nil {
		return
	}
	msg := &ardupilotmega.MessageSecureCommandReply{
		Sequence:   reply.Sequence,
		Operation:  uint8(reply.Operation),
		Result:     uint8(reply.Result),
		DataLength: uint8(len(reply.Data)),
	}
	copy(msg.Data[:], reply.Data)
	if err := a.node.WriteMessageAll(msg); err != nil {
		log.Printf("[serial] secure command reply send failed: %v", err)
	}
}

func basicIDEvent(msg *ardupilotmega.MessageOpenDroneIdBasicId) core.Event {
	var b models.BasicID
	b.IDType = models.IDType(msg.IdType)
	b.UAType = models.UAType(msg.UaType)
	copy(b.UASID[:], msg.UasId[:])
	slot := 0
	return core.Event{Kind: core.EventBasicID, Slot: slot, BasicID: b}
}

func locationEvent(msg *ardupilotmega.MessageOpenDroneIdLocation) core.Event {
	l := models.Location{
		Status:            models.StatusFlag(msg.Status),
		Direction:         float32(msg.Direction),
		SpeedHorizontal:   float32(msg.SpeedHorizontal),
		SpeedVertical:     float32(msg.SpeedVertical),
		Latitude:          float64(msg.Latitude) / 1e7,
		Longitude:         float64(msg.Longitude) / 1e7,
		AltitudeBaro:      msg.AltitudeBarometric,
		AltitudeGeo:       msg.AltitudeGeodetic,
		HeightRef:         uint8(msg.HeightReference),
		Height:            msg.Height,
		HorizAccuracy:     uint8(msg.HorizontalAccuracy),
		VertAccuracy:      uint8(msg.VerticalAccuracy),
		BaroAccuracy:      uint8(msg.BarometerAccuracy),
		SpeedAccuracy:     uint8(msg.SpeedAccuracy),
		TimeStamp:         msg.Timestamp,
		TimestampAccuracy: uint8(msg.TimestampAccuracy),
	}
	return core.Event{Kind: core.EventLocation, Location: l}
}

func selfIDEvent(msg *ardupilotmega.MessageOpenDroneIdSelfId) core.Event {
	var s models.SelfID
	s.DescType = uint8(msg.DescriptionType)
	for i, c := range msg.Description {
		if i >= len(s.Desc) {
			break
		}
		s.Desc[i] = byte(c)
	}
	return core.Event{Kind: core.EventSelfID, SelfID: s}
}

func systemEvent(msg *ardupilotmega.MessageOpenDroneIdSystem) core.Event {
	s := models.System{
		OperatorLocationType: uint8(msg.OperatorLocationType),
		ClassificationType:   uint8(msg.ClassificationType),
		OperatorLatitude:     float64(msg.OperatorLatitude) / 1e7,
		OperatorLongitude:    float64(msg.OperatorLongitude) / 1e7,
		AreaCount:            msg.AreaCount,
		AreaRadius:           msg.AreaRadius,
		AreaCeiling:          msg.AreaCeiling,
		AreaFloor:            msg.AreaFloor,
		CategoryEU:           uint8(msg.CategoryEu),
		ClassEU:              uint8(msg.ClassEu),
		OperatorAltitudeGeo:  msg.OperatorAltitudeGeo,
		Timestamp:            msg.Timestamp,
	}
	return core.Event{Kind: core.EventSystem, System: s}
}

// systemUpdateEvent decodes OPEN_DRONE_ID_SYSTEM_UPDATE, the partial
// high-rate refresh of a System message's operator position fields.
func systemUpdateEvent(msg *ardupilotmega.MessageOpenDroneIdSystemUpdate) core.Event {
	u := models.SystemUpdate{
		OperatorLatitude:    float64(msg.OperatorLatitude) / 1e7,
		OperatorLongitude:   float64(msg.OperatorLongitude) / 1e7,
		OperatorAltitudeGeo: msg.OperatorAltitudeGeo,
		Timestamp:           msg.Timestamp,
	}
	return core.Event{Kind: core.EventSystemUpdate, SystemUpdate: u}
}

func operatorIDEvent(msg *ardupilotmega.MessageOpenDroneIdOperatorId) core.Event {
	var o models.OperatorID
	o.IDType = uint8(msg.OperatorIdType)
	for i, c := range msg.OperatorId {
		if i >= len(o.OperatorID) {
			break
		}
		o.OperatorID[i] = byte(c)
	}
	return core.Event{Kind: core.EventOperatorID, OperatorID: o}
}

func authenticationEvent(msg *ardupilotmega.MessageOpenDroneIdAuthentication) core.Event {
	var a models.Authentication
	a.AuthType = uint8(msg.AuthenticationType)
	a.DataPage = msg.DataPage
	a.PageCount = msg.LastPageIndex // populated only on page 0 by the standard; harmless elsewhere
	a.LastPageIndex = msg.LastPageIndex
	a.Length = msg.Length
	a.Timestamp = msg.Timestamp
	for i, c := range msg.AuthenticationData {
		if i >= len(a.AuthData) {
			break
		}
		a.AuthData[i] = byte(c)
	}
	return core.Event{Kind: core.EventAuthentication, Auth: a}
}
