package odidstore

import (
	"testing"

	"github.com/ardupilot/remoteid-module/internal/models"
)

func TestApplyBasicIDRejectsOutOfRangeSlot(t *testing.T) {
	s := New()
	s.ApplyBasicID(2, models.BasicID{})
	snap := s.Snapshot()
	if snap.LastBasicIDUpdate.IsZero() == false {
		t.Fatalf("out of range slot must not update the record")
	}
}

func TestHaveBasicIDFalseUntilNonEmptyUASID(t *testing.T) {
	s := New()
	if s.HaveBasicID() {
		t.Fatal("empty store must report no BasicID")
	}

	var b models.BasicID
	models.SetASCII(b.UASID[:], "")
	s.ApplyBasicID(0, b)
	if s.HaveBasicID() {
		t.Fatal("empty UAS ID must not count as a valid BasicID")
	}

	models.SetASCII(b.UASID[:], "1581F9BA7632")
	s.ApplyBasicID(0, b)
	if !s.HaveBasicID() {
		t.Fatal("non-empty UAS ID must count as a valid BasicID")
	}
}

func TestApplyAuthenticationDropsExactDuplicate(t *testing.T) {
	s := New()
	a := models.Authentication{DataPage: 1, Timestamp: 1000}
	if !s.ApplyAuthentication(a) {
		t.Fatal("first page application should be accepted")
	}
	if s.ApplyAuthentication(a) {
		t.Fatal("identical duplicate page should be rejected")
	}
	a.Timestamp = 1001
	if !s.ApplyAuthentication(a) {
		t.Fatal("page with a new timestamp should be accepted")
	}
}

func TestApplyAuthenticationRejectsPageOutOfRange(t *testing.T) {
	s := New()
	if s.ApplyAuthentication(models.Authentication{DataPage: 5}) {
		t.Fatal("data page 5 is out of range and must be rejected")
	}
}

func TestApplyLocationUpdatesFreshness(t *testing.T) {
	s := New()
	before := s.Snapshot().LastLocationUpdate
	s.ApplyLocation(models.Location{Latitude: 37.0, Longitude: -122.0})
	after := s.Snapshot().LastLocationUpdate
	if !after.After(before) {
		t.Fatal("applying a location must advance LastLocationUpdate")
	}
}
