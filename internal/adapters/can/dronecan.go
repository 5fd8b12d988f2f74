// Package can implements the CAN Link (component C2): a DroneCAN
// transfer engine over github.com/brutella/can, decoding the
// dronecan.remoteid.* message group into core.Events and driving
// dynamic node-id allocation (DNA), grounded on DroneCAN.cpp's
// onTransferReceived/do_DNA/node_status_send/arm_status_send.
//
// Reassembly follows DroneCAN's own multi-frame transfer rules: the
// last byte of every CAN frame is a tail byte carrying start-of-
// transfer, end-of-transfer, a toggle bit and a 5-bit transfer ID;
// frames sharing a (source node, transfer ID) pair are buffered until
// the end-of-transfer frame arrives. Sends use the same chunking
// scheme in reverse, since this module doesn't link against the C
// libcanard broadcast helpers the original firmware used.
package can

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	candrv "github.com/brutella/can"

	"github.com/ardupilot/remoteid-module/internal/config"
	"github.com/ardupilot/remoteid-module/internal/core"
	"github.com/ardupilot/remoteid-module/internal/core/cantiming"
	"github.com/ardupilot/remoteid-module/internal/models"
	"github.com/ardupilot/remoteid-module/internal/params"
	"github.com/ardupilot/remoteid-module/internal/security"
)

// DroneCAN message type IDs. BasicID..OperatorID mirror the
// dronecan.remoteid.* DSDL definitions DroneCAN.cpp subscribes to;
// NodeStatus and Allocation mirror the standard uavcan.protocol.*
// namespace. GetNodeInfo/RestartNode/ParamGetSet/SecureCommand/ArmStatus
// are given IDs in this module's own custom namespace rather than the
// real uavcan.protocol.* service IDs, since modelling the request/
// response service-transfer split those use is out of scope here —
// every message in this file is a broadcast transfer.
const (
	msgIDBasicID       = 20015
	msgIDLocation      = 20016
	msgIDSelfID        = 20017
	msgIDSystem        = 20018
	msgIDOperatorID    = 20019
	msgIDGetNodeInfo   = 20020
	msgIDRestartNode   = 20021
	msgIDParamGetSet   = 20022
	msgIDSecureCommand = 20023
	msgIDArmStatus     = 20024
	msgIDNodeStatus    = 341 // uavcan.protocol.NodeStatus
	msgIDAllocation    = 1   // uavcan.protocol.dynamic_node_id.Allocation
)

const tailStartOfTransfer = 0x80
const tailEndOfTransfer = 0x40
const tailToggle = 0x20
const tailTransferIDMask = 0x1F

// canEFFFlag marks a CAN identifier as 29-bit extended, matching the
// bit brutella/can sets on Frame.ID for extended frames.
const canEFFFlag uint32 = 0x80000000

// Transfer priority levels, mirroring libcanard's CANARD_TRANSFER_PRIORITY_*
// (0 = highest, 31 = lowest). Every message this module itself sends goes
// out at LOW, matching DroneCAN.cpp's node_status_send/arm_status_send,
// which both use CANARD_TRANSFER_PRIORITY_LOW.
const (
	transferPriorityMedium uint8 = 16
	transferPriorityLow    uint8 = 24
)

const nodeStatusInterval = 1 * time.Second

// transferKey identifies one in-progress multi-frame reassembly.
type transferKey struct {
	sourceNode uint8
	transferID uint8
}

// Adapter is the CAN Link: it owns a DroneCAN bus connection, the DNA
// client state machine, in-flight transfer reassembly buffers, and the
// Parameter Store (C9) / Secure Command (C10) collaborators reachable
// over this transport.
type Adapter struct {
	cfg        config.CANConfig
	params     *params.Parameters
	dispatcher *security.Dispatcher
	bus        *candrv.Bus

	mu             sync.Mutex
	transfers      map[transferKey][]byte
	nodeID         uint8
	allocated      bool
	txTransferIDs  map[uint32]uint8
	startTime      time.Time
	lastNodeStatus time.Time

	wg sync.WaitGroup
}

// New creates a CAN Link bound to cfg. paramStore and dispatcher may be
// nil, in which case ParamGetSet and SecureCommand handling are no-ops.
func New(cfg config.CANConfig, paramStore *params.Parameters, dispatcher *security.Dispatcher) *Adapter {
	return &Adapter{
		cfg:           cfg,
		params:        paramStore,
		dispatcher:    dispatcher,
		transfers:     make(map[transferKey][]byte),
		nodeID:        cfg.NodeID,
		allocated:     cfg.NodeID != 0,
		txTransferIDs: make(map[uint32]uint8),
		startTime:     time.Now(),
	}
}

// Name implements core.Link.
func (a *Adapter) Name() string { return "can" }

// Start implements core.Link: opens the bus and begins receiving.
func (a *Adapter) Start(ctx context.Context, events chan<- core.Event) error {
	if a.cfg.BitrateHz != 0 {
		if timings, ok := cantiming.Solve(a.cfg.BitrateHz); ok {
			log.Printf("[can] bitrate %d Hz: prescaler=%d bs1=%d bs2=%d sjw=%d",
				a.cfg.BitrateHz, timings.Prescaler, timings.BS1, timings.BS2, timings.SJW)
		} else {
			log.Printf("[can] warning: no valid bit-timing quadruple for %d Hz on this config's reference clock", a.cfg.BitrateHz)
		}
	}

	bus, err := candrv.NewBusForInterfaceWithName(a.cfg.Interface)
	if err != nil {
		return fmt.Errorf("can: opening %s: %w", a.cfg.Interface, err)
	}
	a.bus = bus

	bus.SubscribeFunc(func(frm candrv.Frame) {
		a.handleFrame(frm, events)
	})

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := bus.ConnectAndPublish(); err != nil {
			log.Printf("[can] bus error: %v", err)
		}
	}()

	a.wg.Add(1)
	go a.dnaLoop(ctx)

	return nil
}

// Stop implements core.Link.
func (a *Adapter) Stop() error {
	if a.bus != nil {
		a.bus.Disconnect()
	}
	a.wg.Wait()
	return nil
}

// Tick implements core.Link: once allocated, emits NodeStatus and
// ArmStatus at 1 Hz, mirroring DroneCAN::update's node_status_send/
// arm_status_send pair.
func (a *Adapter) Tick(armStatus models.ArmStatus, armReason string) {
	a.mu.Lock()
	due := a.allocated && time.Since(a.lastNodeStatus) >= nodeStatusInterval
	if due {
		a.lastNodeStatus = time.Now()
	}
	a.mu.Unlock()
	if !due {
		return
	}
	a.sendNodeStatus()
	a.sendArmStatus(armStatus, armReason)
}

func (a *Adapter) sendNodeStatus() {
	payload := make([]byte, 7)
	binary.LittleEndian.PutUint32(payload[0:4], uint32(time.Since(a.startTime).Seconds()))
	// health=OK(0), mode=OPERATIONAL(0) packed into payload[4]; vendor
	// status code left at 0.
	if err := a.sendBroadcast(msgIDNodeStatus, payload, transferPriorityLow); err != nil {
		log.Printf("[can] node status send failed: %v", err)
	}
}

func (a *Adapter) sendArmStatus(status models.ArmStatus, reason string) {
	payload := append([]byte{uint8(status)}, []byte(reason)...)
	if err := a.sendBroadcast(msgIDArmStatus, payload, transferPriorityLow); err != nil {
		log.Printf("[can] arm status send failed: %v", err)
	}
}

// dnaLoop periodically sends node-id allocation requests until one is
// granted, mirroring DroneCAN::do_DNA's retry-until-allocated loop.
func (a *Adapter) dnaLoop(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.mu.Lock()
			allocated := a.allocated
			a.mu.Unlock()
			if allocated {
				continue
			}
			a.sendAllocationRequest()
		}
	}
}

// sendAllocationRequest broadcasts a single-frame
// dynamic_node_id.Allocation request, modelled on DroneCAN.cpp's
// send_next_node_id_allocation_request. The frame holds only the tail
// byte: no unique-ID bytes are sent with it.
func (a *Adapter) sendAllocationRequest() {
	if a.bus == nil {
		return
	}
	frm := candrv.Frame{
		ID:     canID(msgIDAllocation, 0, true, transferPriorityLow),
		Length: 1,
	}
	frm.Data[0] = tailStartOfTransfer | tailEndOfTransfer
	if err := a.bus.Publish(frm); err != nil {
		log.Printf("[can] allocation request failed: %v", err)
	}
}

// sendBroadcast chunks payload into DroneCAN multi-frame transfers (7
// data bytes per CAN frame plus a tail byte) and publishes them under a
// fresh transfer ID, the send-side mirror of handleFrame's reassembly.
func (a *Adapter) sendBroadcast(msgID uint32, payload []byte, priority uint8) error {
	if a.bus == nil {
		return fmt.Errorf("can: bus not connected")
	}

	a.mu.Lock()
	tid := a.txTransferIDs[msgID]
	a.txTransferIDs[msgID] = (tid + 1) & tailTransferIDMask
	nodeID := a.nodeID
	a.mu.Unlock()

	id := canID(msgID, nodeID, true, priority)
	if len(payload) == 0 {
		payload = []byte{0}
	}

	toggle := false
	for i := 0; i < len(payload); i += 7 {
		end := i + 7
		if end > len(payload) {
			end = len(payload)
		}
		chunk := payload[i:end]

		var frm candrv.Frame
		frm.ID = id
		copy(frm.Data[:], chunk)

		tail := tid
		if i == 0 {
			tail |= tailStartOfTransfer
		}
		if end == len(payload) {
			tail |= tailEndOfTransfer
		}
		if toggle {
			tail |= tailToggle
		}
		toggle = !toggle

		frm.Data[len(chunk)] = tail
		frm.Length = uint8(len(chunk) + 1)

		if err := a.bus.Publish(frm); err != nil {
			return err
		}
	}
	return nil
}

// handleFrame reassembles multi-frame transfers and, once complete,
// decodes known message types into Events or dispatches side-effecting
// requests (ParamGetSet, GetNodeInfo, RestartNode, SecureCommand).
func (a *Adapter) handleFrame(frm candrv.Frame, events chan<- core.Event) {
	if frm.Length == 0 {
		return
	}
	tail := frm.Data[frm.Length-1]
	payload := frm.Data[:frm.Length-1]
	msgID, sourceNode, priority := decodeCANID(frm.ID)

	a.mu.Lock()
	allocated := a.allocated
	a.mu.Unlock()

	if !shouldAccept(msgID, priority, allocated) {
		return
	}

	key := transferKey{sourceNode: sourceNode, transferID: tail & tailTransferIDMask}

	a.mu.Lock()
	if tail&tailStartOfTransfer != 0 {
		a.transfers[key] = append([]byte{}, payload...)
	} else {
		a.transfers[key] = append(a.transfers[key], payload...)
	}
	complete := tail&tailEndOfTransfer != 0
	buf := a.transfers[key]
	if complete {
		delete(a.transfers, key)
	}
	a.mu.Unlock()

	if !complete {
		return
	}

	if msgID == msgIDAllocation && sourceNode == 0 {
		a.handleAllocationResponse(buf)
		return
	}

	switch msgID {
	case msgIDGetNodeInfo:
		a.handleGetNodeInfo()
		return
	case msgIDRestartNode:
		a.handleRestartNode()
		return
	case msgIDParamGetSet:
		a.handleParamGetSet(buf)
		return
	case msgIDSecureCommand:
		a.handleSecureCommand(buf)
		return
	}

	ev, ok := decodeMessage(msgID, buf)
	if !ok {
		return
	}
	select {
	case events <- ev:
	default:
		log.Printf("[can] event channel full, dropping message id %d", msgID)
	}
}

// shouldAccept mirrors DroneCAN.cpp's shouldAcceptTransfer: while
// unallocated, only allocation traffic is of interest; once allocated,
// only this module's own message group is accepted, and (per this
// module's own extension) only transfers at priority MEDIUM or lower
// (numerically >= transferPriorityMedium), since this module's own
// sends all use LOW and high-priority bus traffic unrelated to RemoteID
// would otherwise compete for CPU for no benefit.
func shouldAccept(msgID uint32, priority uint8, allocated bool) bool {
	if !allocated {
		return msgID == msgIDAllocation
	}
	if priority < transferPriorityMedium {
		return false
	}
	switch msgID {
	case msgIDBasicID, msgIDLocation, msgIDSelfID, msgIDSystem, msgIDOperatorID,
		msgIDGetNodeInfo, msgIDRestartNode, msgIDParamGetSet, msgIDSecureCommand:
		return true
	default:
		return false
	}
}

// handleAllocationResponse accepts the node ID offered by the
// allocator, mirroring handle_allocation_response's single-stage
// acceptance (this module does not implement the unique-id matching
// handshake the full DroneCAN DNA protocol uses across multiple
// request/response rounds, since a module typically only ever talks
// to one allocator already configured for it).
func (a *Adapter) handleAllocationResponse(payload []byte) {
	if len(payload) == 0 {
		return
	}
	a.mu.Lock()
	a.nodeID = payload[0] >> 1
	a.allocated = a.nodeID != 0
	a.mu.Unlock()
	log.Printf("[can] allocated node id %d", a.nodeID)
}

// handleGetNodeInfo replies with a minimal node identity: this module
// never populates the full uavcan.protocol.GetNodeInfo software/
// hardware version fields, since nothing in this repo inspects
// anything but the node's presence.
func (a *Adapter) handleGetNodeInfo() {
	payload := append(make([]byte, 7), []byte("remoteid")...)
	if err := a.sendBroadcast(msgIDGetNodeInfo, payload, transferPriorityLow); err != nil {
		log.Printf("[can] get node info reply failed: %v", err)
	}
}

// handleRestartNode logs the request without acting on it: the
// original firmware's handler reboots the microcontroller outright,
// which has no safe equivalent on a general-purpose host process.
func (a *Adapter) handleRestartNode() {
	log.Printf("[can] restart node requested, ignoring (not supported on this platform)")
}

// Flags on a ParamGetSet request payload, this module's own simplified
// stand-in for uavcan.protocol.param.GetSet's tagged-union request.
const (
	paramFlagByName uint8 = 1 << 0
	paramFlagSet    uint8 = 1 << 1
)

// handleParamGetSet decodes a simplified get/set request (flags byte,
// then an index or a length-prefixed name, then an optional float32
// value) and replies with the parameter's resulting value, mirroring
// the MAVLink PARAM_REQUEST_READ/PARAM_SET pairing over this transport.
func (a *Adapter) handleParamGetSet(payload []byte) {
	if a.params == nil || len(payload) < 2 {
		return
	}
	flags := payload[0]
	rest := payload[1:]

	var d *params.Descriptor
	var ok bool
	if flags&paramFlagByName != 0 {
		n := int(rest[0])
		if len(rest) < 1+n {
			return
		}
		d, ok = a.params.Find(string(rest[1 : 1+n]))
		rest = rest[1+n:]
	} else {
		d, ok = a.params.FindByIndex(int(rest[0]))
		rest = rest[1:]
	}
	if !ok || d.Hidden() {
		return
	}

	if flags&paramFlagSet != 0 && len(rest) >= 4 {
		v := math.Float32frombits(binary.LittleEndian.Uint32(rest[:4]))
		cur, _ := d.GetAsFloat()
		if a.params.LockLevel > 0 && (d.Name != "LOCK_LEVEL" || uint8(v) <= uint8(cur)) {
			log.Printf("[can] parameters locked, rejecting set of %s", d.Name)
		} else if err := a.params.SetAsFloat(d, v); err != nil {
			log.Printf("[can] param set %s failed: %v", d.Name, err)
		}
	}

	a.sendParamValue(d)
}

func (a *Adapter) sendParamValue(d *params.Descriptor) {
	value, ok := d.GetAsFloat()
	if !ok {
		return
	}
	name := []byte(d.Name)
	payload := make([]byte, 1+len(name)+4)
	payload[0] = uint8(len(name))
	copy(payload[1:], name)
	binary.LittleEndian.PutUint32(payload[1+len(name):], math.Float32bits(value))
	if err := a.sendBroadcast(msgIDParamGetSet, payload, transferPriorityLow); err != nil {
		log.Printf("[can] param value send failed: %v", err)
	}
}

// handleSecureCommand decodes a SecureCommand transfer, dispatches it
// through the Secure Command subsystem (C10), and broadcasts the reply,
// the DroneCAN-side mirror of serial.Adapter.handleSecureCommand.
func (a *Adapter) handleSecureCommand(payload []byte) {
	if a.dispatcher == nil || len(payload) < 9 {
		return
	}
	seq := le32(payload[0:4])
	op := le32(payload[4:8])
	sigLen := payload[8]
	cf := security.CommandFrame{
		Sequence:  seq,
		Operation: security.Operation(op),
		SigLength: sigLen,
		Data:      append([]byte(nil), payload[9:]...),
	}
	reply := a.dispatcher.Handle(cf)
	a.sendSecureCommandReply(reply)
}

func (a *Adapter) sendSecureCommandReply(reply security.Reply) {
	payload := make([]byte, 9+len(reply.Data))
	binary.LittleEndian.PutUint32(payload[0:4], reply.Sequence)
	binary.LittleEndian.PutUint32(payload[4:8], uint32(reply.Operation))
	payload[8] = uint8(reply.Result)
	copy(payload[9:], reply.Data)
	if err := a.sendBroadcast(msgIDSecureCommand, payload, transferPriorityLow); err != nil {
		log.Printf("[can] secure command reply send failed: %v", err)
	}
}

// canID builds a 29-bit DroneCAN identifier: priority occupies bits
// 28-24, msgID the middle bits, and sourceNode the low 7 bits, per the
// DroneCAN/UAVCAN v0 frame ID layout.
func canID(msgID uint32, sourceNode uint8, broadcast bool, priority uint8) uint32 {
	id := (msgID << 8) | uint32(sourceNode)
	if broadcast {
		id |= 1 << 7
	}
	id |= uint32(priority&0x1F) << 24
	return id | canEFFFlag
}

func decodeCANID(id uint32) (msgID uint32, sourceNode uint8, priority uint8) {
	id &^= canEFFFlag
	priority = uint8((id >> 24) & 0x1F)
	id &^= 0x1F << 24
	return id >> 8, uint8(id & 0x7F), priority
}

func decodeMessage(msgID uint32, payload []byte) (core.Event, bool) {
	switch msgID {
	case msgIDBasicID:
		return decodeBasicID(payload)
	case msgIDLocation:
		return decodeLocation(payload)
	case msgIDSelfID:
		return decodeSelfID(payload)
	case msgIDSystem:
		return decodeSystem(payload)
	case msgIDOperatorID:
		return decodeOperatorID(payload)
	default:
		return core.Event{}, false
	}
}

func decodeBasicID(p []byte) (core.Event, bool) {
	if len(p) < 22 {
		return core.Event{}, false
	}
	var b models.BasicID
	b.IDType = models.IDType(p[0] >> 4)
	b.UAType = models.UAType(p[0] & 0x0F)
	copy(b.UASID[:], p[1:21])
	return core.Event{Kind: core.EventBasicID, Slot: 0, BasicID: b}, true
}

func decodeLocation(p []byte) (core.Event, bool) {
	if len(p) < 22 {
		return core.Event{}, false
	}
	var l models.Location
	l.Status = models.StatusFlag(p[0])
	l.Direction = float32(le16(p[1:3]))
	l.SpeedHorizontal = float32(p[3])
	l.SpeedVertical = float32(int8(p[4]))
	l.Latitude = float64(int32(le32(p[5:9]))) / 1e7
	l.Longitude = float64(int32(le32(p[9:13]))) / 1e7
	l.AltitudeBaro = float32(int16(le16(p[13:15])))
	l.AltitudeGeo = float32(int16(le16(p[15:17])))
	l.Height = float32(int16(le16(p[17:19])))
	l.HorizAccuracy = p[19]
	l.VertAccuracy = p[20] >> 4
	l.BaroAccuracy = p[20] & 0x0F
	l.SpeedAccuracy = p[21] >> 4
	l.TimestampAccuracy = p[21] & 0x0F
	return core.Event{Kind: core.EventLocation, Location: l}, true
}

func decodeSystem(p []byte) (core.Event, bool) {
	if len(p) < 19 {
		return core.Event{}, false
	}
	var s models.System
	s.OperatorLocationType = p[0] >> 2
	s.ClassificationType = p[0] & 0x03
	s.OperatorLatitude = float64(int32(le32(p[1:5]))) / 1e7
	s.OperatorLongitude = float64(int32(le32(p[5:9]))) / 1e7
	s.AreaCount = le16(p[9:11])
	s.AreaRadius = le16(p[11:13])
	s.AreaCeiling = float32(int16(le16(p[13:15])))
	s.AreaFloor = float32(int16(le16(p[15:17])))
	s.CategoryEU = p[17] >> 4
	s.ClassEU = p[17] & 0x0F
	if len(p) >= 21 {
		s.OperatorAltitudeGeo = float32(int16(le16(p[18:20])))
	}
	return core.Event{Kind: core.EventSystem, System: s}, true
}

func le16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func decodeSelfID(p []byte) (core.Event, bool) {
	if len(p) < 24 {
		return core.Event{}, false
	}
	var s models.SelfID
	s.DescType = p[0]
	copy(s.Desc[:], p[1:24])
	return core.Event{Kind: core.EventSelfID, SelfID: s}, true
}

func decodeOperatorID(p []byte) (core.Event, bool) {
	if len(p) < 21 {
		return core.Event{}, false
	}
	var o models.OperatorID
	o.IDType = p[0]
	copy(o.OperatorID[:], p[1:21])
	return core.Event{Kind: core.EventOperatorID, OperatorID: o}, true
}
