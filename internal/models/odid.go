// Package models holds the shared Open Drone ID (ODID) data model.
//
// A Record is the single in-memory representation of everything the
// module currently knows about the vehicle it is riding on: the two
// possible BasicID declarations, the most recent Location, SelfID,
// System and OperatorID messages, and zero or more Authentication
// pages. Adapters (serial, CAN) write into a Record through
// internal/core/odidstore; backends (BLE, Wi-Fi) read from it.
package models

import "time"

// IDType mirrors MAV_ODID_ID_TYPE / ASTM F3411 BasicID ID types.
type IDType uint8

const (
	IDTypeNone             IDType = 0
	IDTypeSerialNumber     IDType = 1
	IDTypeCAARegistration  IDType = 2
	IDTypeUTMAssignedUUID  IDType = 3
	IDTypeSpecificSession  IDType = 4
)

// UAType mirrors MAV_ODID_UA_TYPE.
type UAType uint8

const (
	UATypeNone             UAType = 0
	UATypeAeroplane        UAType = 1
	UATypeHelicopterOrMR   UAType = 2
	UATypeGyroplane        UAType = 3
	UATypeHybridLift       UAType = 4
	UATypeOrnithopter      UAType = 5
	UATypeGlider           UAType = 6
	UATypeKite             UAType = 7
	UATypeFreeBalloon      UAType = 8
	UATypeCaptiveBalloon   UAType = 9
	UATypeAirship          UAType = 10
	UATypeFreeFallParachute UAType = 11
	UATypeRocket           UAType = 12
	UATypeTetheredPoweredAircraft UAType = 13
	UATypeGroundObstacle   UAType = 14
	UATypeOther            UAType = 15
)

// StatusFlag mirrors MAV_ODID_STATUS.
type StatusFlag uint8

const (
	StatusUndeclared StatusFlag = 0
	StatusGround     StatusFlag = 1
	StatusAirborne   StatusFlag = 2
	StatusEmergency  StatusFlag = 3
	StatusRemoteIDSystemFailure StatusFlag = 4
)

// ArmStatus mirrors MAV_ODID_ARM_STATUS, the codes the arming gate returns.
type ArmStatus uint8

const (
	ArmStatusGoodToArm        ArmStatus = 0
	ArmStatusPreArmFailGeneric ArmStatus = 1
)

// BasicID holds one of the (up to two) simultaneous BasicID declarations.
type BasicID struct {
	IDType   IDType
	UAType   UAType
	UASID    [20]byte // ASCII, NUL-padded
	Valid    bool
}

// Location is the most recent OPEN_DRONE_ID_LOCATION payload.
type Location struct {
	Status          StatusFlag
	Direction       float32 // degrees, 0-359.99, invalid = 361
	SpeedHorizontal float32 // m/s, invalid = 255
	SpeedVertical   float32 // m/s, invalid = 63
	Latitude        float64 // degrees, 0 if unknown
	Longitude       float64 // degrees, 0 if unknown
	AltitudeBaro    float32 // meters, invalid = -1000
	AltitudeGeo     float32 // meters, invalid = -1000
	HeightRef       uint8   // MAV_ODID_HEIGHT_REF
	Height          float32 // meters, invalid = -1000
	HorizAccuracy   uint8   // MAV_ODID_HOR_ACC
	VertAccuracy    uint8   // MAV_ODID_VER_ACC
	BaroAccuracy    uint8   // MAV_ODID_VER_ACC
	SpeedAccuracy   uint8   // MAV_ODID_SPEED_ACC
	TimeStamp       float32 // seconds since the full hour, UTC
	TimestampAccuracy uint8 // MAV_ODID_TIME_ACC
}

// SelfID is the free-text self-description message.
type SelfID struct {
	DescType uint8 // MAV_ODID_DESC_TYPE
	Desc     [23]byte
	Valid    bool
}

// System is the most recent OPEN_DRONE_ID_SYSTEM payload.
type System struct {
	OperatorLocationType uint8
	ClassificationType   uint8
	OperatorLatitude     float64
	OperatorLongitude    float64
	AreaCount            uint16
	AreaRadius           uint16
	AreaCeiling          float32
	AreaFloor            float32
	CategoryEU           uint8
	ClassEU              uint8
	OperatorAltitudeGeo  float32
	Timestamp            uint32 // seconds since UNIX epoch
	Valid                bool
}

// SystemUpdate carries OPEN_DRONE_ID_SYSTEM_UPDATE / the DroneCAN
// equivalent: a partial refresh of the operator's live position, sent
// at a higher rate than the full System message.
type SystemUpdate struct {
	OperatorLatitude    float64
	OperatorLongitude   float64
	OperatorAltitudeGeo float32
	Timestamp           uint32
}

// OperatorID holds the operator registration number.
type OperatorID struct {
	IDType     uint8
	OperatorID [20]byte
	Valid      bool
}

// Authentication is one page of an (up to 5 page) signed authentication blob.
type Authentication struct {
	AuthType      uint8
	DataPage      uint8
	PageCount     uint8
	LastPageIndex uint8
	Length        uint8
	Timestamp     uint32
	AuthData      [23]byte
}

// Record is the single source of truth for the vehicle's current ODID
// state. Freshness of each group is tracked with a monotonic timestamp
// (time.Time) rather than the firmware's 32-bit millisecond counter,
// since Go's clock does not roll over on the timescales this module runs.
type Record struct {
	BasicIDs [2]BasicID
	Location Location
	SelfID   SelfID
	System   System
	Operator OperatorID
	Auth     [5]Authentication
	AuthPagesPresent uint8 // bitmask of received pages

	LastLocationUpdate time.Time
	LastSelfIDUpdate   time.Time
	LastSystemUpdate   time.Time
	LastOperatorUpdate time.Time
	LastBasicIDUpdate  time.Time
}

// HaveBasicID reports whether at least one BasicID slot carries a
// non-empty UAS ID, mirroring Parameters::have_basic_id_info in the
// original firmware.
func (r *Record) HaveBasicID() bool {
	for _, b := range r.BasicIDs {
		if !b.Valid {
			continue
		}
		for _, c := range b.UASID {
			if c != 0 {
				return true
			}
		}
	}
	return false
}

// SetASCII copies s into dst, truncating to len(dst) and NUL-padding
// the remainder. It never writes past the end of dst.
func SetASCII(dst []byte, s string) {
	for i := range dst {
		dst[i] = 0
	}
	n := copy(dst, s)
	_ = n
}

// ASCIIString returns the NUL-terminated contents of b as a Go string.
func ASCIIString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
