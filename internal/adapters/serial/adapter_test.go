package serial

import (
	"testing"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/ardupilotmega"

	"github.com/ardupilot/remoteid-module/internal/config"
	"github.com/ardupilot/remoteid-module/internal/core"
	"github.com/ardupilot/remoteid-module/internal/models"
	"github.com/ardupilot/remoteid-module/internal/params"
	"github.com/ardupilot/remoteid-module/internal/security"
)

func TestNew(t *testing.T) {
	cfg := config.SerialConfig{
		Enabled:        true,
		ConnectionType: "udp",
		Address:        "0.0.0.0:14550",
	}

	a := New(cfg, nil, nil)

	if a == nil {
		t.Fatal("New should return non-nil adapter")
	}
	if a.cfg.ConnectionType != "udp" {
		t.Errorf("ConnectionType = %s, want 'udp'", a.cfg.ConnectionType)
	}
}

func TestAdapter_Name(t *testing.T) {
	a := New(config.SerialConfig{}, nil, nil)
	if a.Name() != "serial" {
		t.Errorf("Name() = %s, want 'serial'", a.Name())
	}
}

func TestAdapter_Stop_NilNode(t *testing.T) {
	a := New(config.SerialConfig{}, nil, nil)
	if err := a.Stop(); err != nil {
		t.Errorf("Stop should not error with nil node: %v", err)
	}
}

func TestAdapter_buildEndpoints_UDP(t *testing.T) {
	a := New(config.SerialConfig{ConnectionType: "udp", Address: "0.0.0.0:14550"}, nil, nil)
	endpoints, err := a.buildEndpoints()
	if err != nil {
		t.Fatalf("buildEndpoints: %v", err)
	}
	if len(endpoints) != 1 {
		t.Errorf("len(endpoints) = %d, want 1", len(endpoints))
	}
}

func TestAdapter_buildEndpoints_Serial(t *testing.T) {
	a := New(config.SerialConfig{ConnectionType: "serial", SerialPort: "/dev/ttyUSB0", SerialBaud: 57600}, nil, nil)
	endpoints, err := a.buildEndpoints()
	if err != nil {
		t.Fatalf("buildEndpoints: %v", err)
	}
	if len(endpoints) != 1 {
		t.Errorf("len(endpoints) = %d, want 1", len(endpoints))
	}
}

func TestAdapter_buildEndpoints_UnknownType(t *testing.T) {
	a := New(config.SerialConfig{ConnectionType: "carrier-pigeon"}, nil, nil)
	if _, err := a.buildEndpoints(); err == nil {
		t.Fatal("expected an error for an unknown connection type")
	}
}

func TestHandleHeartbeatPairsOnFirstNonGCSHeartbeat(t *testing.T) {
	a := New(config.SerialConfig{}, nil, nil)
	a.handleHeartbeat(0, &ardupilotmega.MessageHeartbeat{Type: ardupilotmega.MAV_TYPE_GCS})
	if a.paired {
		t.Fatal("GCS heartbeat must not pair")
	}
	a.handleHeartbeat(7, &ardupilotmega.MessageHeartbeat{Type: ardupilotmega.MAV_TYPE_QUADROTOR})
	if !a.paired || a.systemID != 7 {
		t.Fatalf("expected paired with system 7, got paired=%v systemID=%d", a.paired, a.systemID)
	}

	// a later heartbeat from a different system must not re-pair.
	a.handleHeartbeat(9, &ardupilotmega.MessageHeartbeat{Type: ardupilotmega.MAV_TYPE_QUADROTOR})
	if a.systemID != 7 {
		t.Errorf("systemID = %d, want 7 (first pairing should stick)", a.systemID)
	}
}

func TestHandleParamRequestListStartsStreaming(t *testing.T) {
	p := params.New(nil)
	a := New(config.SerialConfig{}, p, nil)
	a.handleParamRequestList()
	if !a.paramStreaming || a.paramNext != 0 {
		t.Fatalf("expected streaming from index 0, got streaming=%v next=%d", a.paramStreaming, a.paramNext)
	}
}

func TestPumpParamStreamAdvancesAndStops(t *testing.T) {
	p := params.New(nil)
	a := New(config.SerialConfig{}, p, nil)
	a.handleParamRequestList()

	for i := 0; i < p.FloatCount(); i++ {
		a.paramLastSend = time.Time{}
		a.pumpParamStream()
		if !a.paramStreaming && i != p.FloatCount()-1 {
			t.Fatalf("stream stopped early at index %d", i)
		}
	}
	a.paramLastSend = time.Time{}
	a.pumpParamStream()
	if a.paramStreaming {
		t.Fatal("expected streaming to stop once every float-view parameter has been sent")
	}
}

func TestHandleSecureCommandIsNoOpWithNoDispatcher(t *testing.T) {
	a := New(config.SerialConfig{}, nil, nil)
	// with no dispatcher configured, handling must be a safe no-op.
	a.handleSecureCommand(&ardupilotmega.MessageSecureCommand{Sequence: 1})
}

func TestHandleSecureCommandAcceptsInDevelopmentMode(t *testing.T) {
	p := params.New(nil) // no public keys configured => development mode
	dispatcher := security.NewDispatcher(p, [8]byte{1, 2, 3, 4, 5, 6, 7, 8})
	a := New(config.SerialConfig{}, p, dispatcher)

	reply := dispatcher.Handle(security.CommandFrame{
		Sequence:  1,
		Operation: security.OpGetSessionKey,
	})
	if reply.Result != security.ResultAccepted {
		t.Fatalf("Result = %v, want ResultAccepted in development mode", reply.Result)
	}
	_ = a
}

func TestBasicIDEventExtractsFields(t *testing.T) {
	msg := &ardupilotmega.MessageOpenDroneIdBasicId{
		IdType: uint8(2),
		UaType: uint8(3),
	}
	msg.UasId[0] = 'N'
	msg.UasId[1] = '1'

	ev := basicIDEvent(msg)
	if ev.Kind != core.EventBasicID {
		t.Errorf("Kind = %v, want EventBasicID", ev.Kind)
	}
	if ev.BasicID.IDType != 2 || ev.BasicID.UAType != 3 {
		t.Errorf("IDType/UAType = %v/%v, want 2/3", ev.BasicID.IDType, ev.BasicID.UAType)
	}
	if ev.BasicID.UASID[0] != 'N' {
		t.Errorf("UASID[0] = %c, want 'N'", ev.BasicID.UASID[0])
	}
}

func TestLocationEventScalesLatLon(t *testing.T) {
	msg := &ardupilotmega.MessageOpenDroneIdLocation{
		Latitude:  123456789,
		Longitude: -987654321,
	}
	ev := locationEvent(msg)
	if ev.Location.Latitude < 12.34 || ev.Location.Latitude > 12.346 {
		t.Errorf("Latitude = %v, want ~12.3456789", ev.Location.Latitude)
	}
	if ev.Location.Longitude > -98.76 {
		t.Errorf("Longitude = %v, want ~-98.7654321", ev.Location.Longitude)
	}
}

func TestOperatorIDEventCopiesBytes(t *testing.T) {
	msg := &ardupilotmega.MessageOpenDroneIdOperatorId{OperatorIdType: 1}
	msg.OperatorId[0] = 'G'
	msg.OperatorId[1] = 'B'

	ev := operatorIDEvent(msg)
	if ev.OperatorID.IDType != 1 {
		t.Errorf("IDType = %d, want 1", ev.OperatorID.IDType)
	}
	if ev.OperatorID.OperatorID[0] != 'G' || ev.OperatorID.OperatorID[1] != 'B' {
		t.Errorf("OperatorID bytes not copied correctly: %v", ev.OperatorID.OperatorID[:2])
	}
}

func TestAuthenticationEventCopiesDataPage(t *testing.T) {
	msg := &ardupilotmega.MessageOpenDroneIdAuthentication{
		AuthenticationType: 2,
		DataPage:           1,
		Length:             17,
	}
	msg.AuthenticationData[0] = 0xAB

	ev := authenticationEvent(msg)
	if ev.Auth.DataPage != 1 {
		t.Errorf("DataPage = %d, want 1", ev.Auth.DataPage)
	}
	if ev.Auth.AuthData[0] != 0xAB {
		t.Errorf("AuthData[0] = %x, want 0xAB", ev.Auth.AuthData[0])
	}
}
