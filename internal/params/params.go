// Package params implements the Parameter Store (component C9): a
// static, ordered table of typed parameter descriptors bound to the
// fields of a Parameters struct, mirroring the original firmware's
// Parameters::params[] / Parameters::Param table. Go has no
// void*-typed field pointers, so each descriptor closes over getter
// and setter funcs bound to one field instead of holding a raw
// pointer + type tag — the same "ordered descriptor table with a
// stable index" contract, built the idiomatic Go way.
//
// Persistence (the original's flash key-value store) is an external
// collaborator here too, per spec.md's scope boundary: Parameters
// depends only on the KVStore interface below.
package params

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// Flag bits on a Descriptor, mirroring PARAM_FLAG_*.
const (
	FlagNone     uint16 = 0
	FlagPassword uint16 = 1 << 0
	FlagHidden   uint16 = 1 << 1
)

// MaxPublicKeys is the number of public-key slots (C10 also depends on
// this).
const MaxPublicKeys = 5

const publicKeyPrefix = "PUBLIC_KEYV1:"

// Type identifies a descriptor's underlying Go type, used only to
// decide how SetByNameString parses its string argument.
type Type int

const (
	TypeNone Type = iota
	TypeUint8
	TypeInt8
	TypeUint32
	TypeFloat
	TypeString
)

// KVStore is the non-volatile persistence collaborator: spec.md places
// actual flash I/O out of scope, so Parameters only ever calls Get/Set.
type KVStore interface {
	Get(name string) (string, bool)
	Set(name, value string) error
}

// Descriptor is one entry of the parameter table: name, type, bounds
// and flags, plus closures bound to the backing field.
type Descriptor struct {
	Name       string
	Type       Type
	Default    float32
	Min        float32
	Max        float32
	Flags      uint16
	MinLen     int
	getFloat   func() float32
	setFloat   func(float32)
	getString  func() string
	setString  func(string)
}

// Hidden reports whether this descriptor is excluded from MAVLink
// param streams and the float index.
func (d *Descriptor) Hidden() bool { return d.Flags&FlagHidden != 0 }

// Password reports whether reads of this descriptor must be redacted.
func (d *Descriptor) Password() bool { return d.Flags&FlagPassword != 0 }

// Parameters holds every configurable field of the module plus the
// ordered descriptor table bound to them.
type Parameters struct {
	LockLevel    int8
	CANNode      uint8
	BcastPowerup uint8
	Baudrate     uint32

	UAType uint8
	IDType uint8
	UASID  string // max 20 chars

	UAType2 uint8
	IDType2 uint8
	UASID2  string

	WiFiNANRate    float32
	WiFiBeaconRate float32
	WiFiPower      float32
	BT4Rate        float32
	BT4Power       float32
	BT5Rate        float32
	BT5Power       float32

	WebserverEnable uint8
	MavlinkSysID    uint8

	WiFiSSID     string
	WiFiPassword string
	WiFiChannel  uint8

	ToFactoryDefaults uint8
	Options           uint8

	publicKeys [MaxPublicKeys]string

	kv          KVStore
	descriptors []*Descriptor
	floatIndex  []*Descriptor
}

// Option bits of the Options field, mirroring OPTIONS_*.
const (
	OptionForceArmOK               uint8 = 1 << 0
	OptionDontSaveBasicIDToParams  uint8 = 1 << 1
	OptionPrintRIDMavlink          uint8 = 1 << 2
)

// New creates a Parameters, loads compiled-in defaults, builds the
// descriptor table, then overlays any values persisted in kv.
func New(kv KVStore) *Parameters {
	p := &Parameters{
		kv:           kv,
		UASID:        "ABCD123456789",
		UASID2:       "ABCD123456789",
		WiFiPassword: "ArduRemoteID",
		WiFiChannel:  6,
		WiFiNANRate:  1,
		BT4Rate:      1,
		BT5Rate:      1,
		LockLevel:    -1,
	}
	p.build()
	p.loadFromStore()
	return p
}

func (p *Parameters) build() {
	add := func(d *Descriptor) { p.descriptors = append(p.descriptors, d) }

	add(&Descriptor{Name: "LOCK_LEVEL", Type: TypeInt8, Min: -1, Max: 2,
		getFloat: func() float32 { return float32(p.LockLevel) },
		setFloat: func(v float32) { p.LockLevel = int8(v) }})
	add(&Descriptor{Name: "CAN_NODE", Type: TypeUint8, Min: 0, Max: 127,
		getFloat: func() float32 { return float32(p.CANNode) },
		setFloat: func(v float32) { p.CANNode = uint8(v) }})
	add(&Descriptor{Name: "UA_TYPE", Type: TypeUint8, Max: 15,
		getFloat: func() float32 { return float32(p.UAType) },
		setFloat: func(v float32) { p.UAType = uint8(v) }})
	add(&Descriptor{Name: "ID_TYPE", Type: TypeUint8, Max: 4,
		getFloat: func() float32 { return float32(p.IDType) },
		setFloat: func(v float32) { p.IDType = uint8(v) }})
	add(&Descriptor{Name: "UAS_ID", Type: TypeString, MinLen: 0,
		getString: func() string { return p.UASID },
		setString: func(v string) { p.UASID = truncate(v, 20) }})
	add(&Descriptor{Name: "UA_TYPE_2", Type: TypeUint8, Max: 15,
		getFloat: func() float32 { return float32(p.UAType2) },
		setFloat: func(v float32) { p.UAType2 = uint8(v) }})
	add(&Descriptor{Name: "ID_TYPE_2", Type: TypeUint8, Max: 4,
		getFloat: func() float32 { return float32(p.IDType2) },
		setFloat: func(v float32) { p.IDType2 = uint8(v) }})
	add(&Descriptor{Name: "UAS_ID_2", Type: TypeString,
		getString: func() string { return p.UASID2 },
		setString: func(v string) { p.UASID2 = truncate(v, 20) }})
	add(&Descriptor{Name: "WIFI_NAN_RATE", Type: TypeFloat, Default: 1, Max: 5,
		getFloat: func() float32 { return p.WiFiNANRate },
		setFloat: func(v float32) { p.WiFiNANRate = v }})
	add(&Descriptor{Name: "WIFI_BCN_RATE", Type: TypeFloat, Max: 5,
		getFloat: func() float32 { return p.WiFiBeaconRate },
		setFloat: func(v float32) { p.WiFiBeaconRate = v }})
	add(&Descriptor{Name: "WIFI_POWER", Type: TypeFloat, Min: 2, Max: 20,
		getFloat: func() float32 { return p.WiFiPower },
		setFloat: func(v float32) { p.WiFiPower = v }})
	add(&Descriptor{Name: "BT4_RATE", Type: TypeFloat, Default: 1, Max: 5,
		getFloat: func() float32 { return p.BT4Rate },
		setFloat: func(v float32) { p.BT4Rate = v }})
	add(&Descriptor{Name: "BT4_POWER", Type: TypeFloat, Min: 2, Max: 20,
		getFloat: func() float32 { return p.BT4Power },
		setFloat: func(v float32) { p.BT4Power = v }})
	add(&Descriptor{Name: "BT5_RATE", Type: TypeFloat, Default: 1, Max: 5,
		getFloat: func() float32 { return p.BT5Rate },
		setFloat: func(v float32) { p.BT5Rate = v }})
	add(&Descriptor{Name: "BT5_POWER", Type: TypeFloat, Min: 2, Max: 20,
		getFloat: func() float32 { return p.BT5Power },
		setFloat: func(v float32) { p.BT5Power = v }})
	add(&Descriptor{Name: "WEB_ENABLE", Type: TypeUint8, Max: 1,
		getFloat: func() float32 { return float32(p.WebserverEnable) },
		setFloat: func(v float32) { p.WebserverEnable = uint8(v) }})
	add(&Descriptor{Name: "MAV_SYSID", Type: TypeUint8, Min: 1, Max: 255,
		getFloat: func() float32 { return float32(p.MavlinkSysID) },
		setFloat: func(v float32) { p.MavlinkSysID = uint8(v) }})
	add(&Descriptor{Name: "WIFI_SSID", Type: TypeString,
		getString: func() string { return p.WiFiSSID },
		setString: func(v string) { p.WiFiSSID = truncate(v, 20) }})
	add(&Descriptor{Name: "WIFI_PASSWORD", Type: TypeString, Flags: FlagPassword,
		getString: func() string { return p.WiFiPassword },
		setString: func(v string) { p.WiFiPassword = truncate(v, 20) }})
	add(&Descriptor{Name: "WIFI_CHAN", Type: TypeUint8, Min: 1, Max: 13,
		getFloat: func() float32 { return float32(p.WiFiChannel) },
		setFloat: func(v float32) { p.WiFiChannel = uint8(v) }})
	add(&Descriptor{Name: "OPTIONS", Type: TypeUint8,
		getFloat: func() float32 { return float32(p.Options) },
		setFloat: func(v float32) { p.Options = uint8(v) }})

	for i := 0; i < MaxPublicKeys; i++ {
		i := i
		add(&Descriptor{Name: fmt.Sprintf("PUBLIC_KEY%d", i), Type: TypeString, Flags: FlagHidden,
			getString: func() string { return p.publicKeys[i] },
			setString: func(v string) { p.publicKeys[i] = v }})
	}

	for _, d := range p.descriptors {
		if d.Type == TypeFloat || d.Type == TypeUint8 || d.Type == TypeInt8 || d.Type == TypeUint32 {
			if !d.Hidden() {
				p.floatIndex = append(p.floatIndex, d)
			}
		}
	}
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// Find looks up a descriptor by name.
func (p *Parameters) Find(name string) (*Descriptor, bool) {
	for _, d := range p.descriptors {
		if d.Name == name {
			return d, true
		}
	}
	return nil, false
}

// FindByIndex looks up a descriptor by its position in the full table.
func (p *Parameters) FindByIndex(idx int) (*Descriptor, bool) {
	if idx < 0 || idx >= len(p.descriptors) {
		return nil, false
	}
	return p.descriptors[idx], true
}

// Count is the number of entries in the full descriptor table,
// including hidden ones.
func (p *Parameters) Count() int { return len(p.descriptors) }

// FindByIndexFloat looks up a descriptor within the float-view index,
// which skips hidden and non-numeric entries, for MAVLink PARAM
// streaming.
func (p *Parameters) FindByIndexFloat(idx int) (*Descriptor, bool) {
	if idx < 0 || idx >= len(p.floatIndex) {
		return nil, false
	}
	return p.floatIndex[idx], true
}

// FloatCount is the number of entries exposed through the float view.
func (p *Parameters) FloatCount() int { return len(p.floatIndex) }

// FloatIndexOf returns d's position within the float view, or -1 if d
// is hidden or otherwise absent from it. Used to fill a PARAM_VALUE
// reply's param_index after a PARAM_SET or a by-name PARAM_REQUEST_READ.
func (p *Parameters) FloatIndexOf(d *Descriptor) int {
	for i, fd := range p.floatIndex {
		if fd == d {
			return i
		}
	}
	return -1
}

// GetAsFloat reads d's current value as a float32, the shared MAVLink
// float view for booleans/enums/floats.
func (d *Descriptor) GetAsFloat() (float32, bool) {
	if d.getFloat == nil {
		return 0, false
	}
	return d.getFloat(), true
}

// SetAsFloat writes v into d's backing field and persists it, if d has
// a numeric backing.
func (p *Parameters) SetAsFloat(d *Descriptor, v float32) error {
	if d.setFloat == nil {
		return fmt.Errorf("params: %s is not a numeric parameter", d.Name)
	}
	if d.Max > d.Min && (v < d.Min || v > d.Max) {
		return fmt.Errorf("params: %s value %v out of range [%v, %v]", d.Name, v, d.Min, d.Max)
	}
	d.setFloat(v)
	return p.persist(d)
}

// GetString reads d's current value as a string, redacting password
// fields to a literal mask.
func (d *Descriptor) GetString() (string, bool) {
	switch {
	case d.getString != nil:
		if d.Password() {
			return "********", true
		}
		return d.getString(), true
	case d.getFloat != nil:
		return strconv.FormatFloat(float64(d.getFloat()), 'g', -1, 32), true
	default:
		return "", false
	}
}

// SetByNameString parses value according to name's descriptor type and
// applies it, persisting to the key-value store on success.
func (p *Parameters) SetByNameString(name, value string) error {
	d, ok := p.Find(name)
	if !ok {
		return fmt.Errorf("params: unknown parameter %q", name)
	}
	switch d.Type {
	case TypeString:
		if d.MinLen > 0 && len(value) < d.MinLen {
			return fmt.Errorf("params: %s requires at least %d characters", name, d.MinLen)
		}
		d.setString(value)
	case TypeUint8, TypeInt8, TypeUint32, TypeFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 32)
		if err != nil {
			return fmt.Errorf("params: %s: %w", name, err)
		}
		return p.SetAsFloat(d, float32(f))
	default:
		return fmt.Errorf("params: %s has no settable type", name)
	}
	return p.persist(d)
}

func (p *Parameters) persist(d *Descriptor) error {
	if p.kv == nil {
		return nil
	}
	s, _ := d.GetString()
	if d.Password() {
		// never persist the redacted mask; re-read the true value.
		s = d.getString()
	}
	return p.kv.Set(d.Name, s)
}

func (p *Parameters) loadFromStore() {
	if p.kv == nil {
		return
	}
	for _, d := range p.descriptors {
		v, ok := p.kv.Get(d.Name)
		if !ok {
			continue
		}
		switch d.Type {
		case TypeString:
			d.setString(v)
		default:
			if f, err := strconv.ParseFloat(v, 32); err == nil {
				d.setFloat(float32(f))
			}
		}
	}
}

// GetPublicKey decodes slot i's base64 "PUBLIC_KEYV1:"-prefixed value
// into a 32-byte Ed25519 public key. ok is false if the slot is empty
// or malformed.
func (p *Parameters) GetPublicKey(i int) (key [32]byte, ok bool) {
	if i < 0 || i >= MaxPublicKeys {
		return key, false
	}
	raw := p.publicKeys[i]
	if !strings.HasPrefix(raw, publicKeyPrefix) {
		return key, false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(raw, publicKeyPrefix))
	if err != nil || len(decoded) != 32 {
		return key, false
	}
	copy(key[:], decoded)
	return key, true
}

// SetPublicKey installs key into slot i and persists it.
func (p *Parameters) SetPublicKey(i int, key [32]byte) error {
	if i < 0 || i >= MaxPublicKeys {
		return fmt.Errorf("params: public key slot %d out of range", i)
	}
	p.publicKeys[i] = publicKeyPrefix + base64.StdEncoding.EncodeToString(key[:])
	if p.kv != nil {
		return p.kv.Set(fmt.Sprintf("PUBLIC_KEY%d", i), p.publicKeys[i])
	}
	return nil
}

// RemovePublicKey clears slot i.
func (p *Parameters) RemovePublicKey(i int) error {
	if i < 0 || i >= MaxPublicKeys {
		return fmt.Errorf("params: public key slot %d out of range", i)
	}
	p.publicKeys[i] = ""
	if p.kv != nil {
		return p.kv.Set(fmt.Sprintf("PUBLIC_KEY%d", i), "")
	}
	return nil
}

// NoPublicKeys reports whether every slot is empty or undecodable,
// the "development mode" trigger for C10's signature check.
func (p *Parameters) NoPublicKeys() bool {
	for i := range p.publicKeys {
		if _, ok := p.GetPublicKey(i); ok {
			return false
		}
	}
	return true
}

// HaveBasicIDInfo mirrors Parameters::have_basic_id_info: whether the
// primary BasicID slot carries a configured, non-empty UAS ID.
func (p *Parameters) HaveBasicIDInfo() bool { return p.UASID != "" }

// HaveBasicID2Info mirrors Parameters::have_basic_id_2_info.
func (p *Parameters) HaveBasicID2Info() bool { return p.UASID2 != "" }

// ForceArmOK reports the OPTIONS_FORCE_ARM_OK bit, consulted by the
// arming gate (C5) to bypass all freshness checks.
func (p *Parameters) ForceArmOK() bool { return p.Options&OptionForceArmOK != 0 }
