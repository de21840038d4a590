package domain

import (
	"errors"
	"testing"
)

func TestRoomIDForDerivation(t *testing.T) {
	id, err := RoomIDFor("A1")
	if err != nil {
		t.Fatalf("RoomIDFor: %v", err)
	}
	if id != "consultation-A1" {
		t.Fatalf("id = %q, want %q", id, "consultation-A1")
	}

	appt, err := AppointmentOf(id)
	if err != nil {
		t.Fatalf("AppointmentOf: %v", err)
	}
	if appt != "A1" {
		t.Fatalf("appt = %q, want %q", appt, "A1")
	}
}

func TestRoomIDForEmptyAppointment(t *testing.T) {
	if _, err := RoomIDFor(""); !errors.Is(err, ErrEmptyAppointment) {
		t.Fatalf("err = %v, want ErrEmptyAppointment", err)
	}
}

func TestAppointmentOfRejectsForeignIDs(t *testing.T) {
	for _, raw := range []string{"", "A1", "room-A1", "consultation-", "Consultation-A1"} {
		if _, err := AppointmentOf(RoomID(raw)); !errors.Is(err, ErrBadRoomID) {
			t.Fatalf("AppointmentOf(%q) err = %v, want ErrBadRoomID", raw, err)
		}
		if RoomID(raw).Valid() {
			t.Fatalf("RoomID(%q).Valid() = true, want false", raw)
		}
	}
}

func TestParticipantRole(t *testing.T) {
	appt := Appointment{ID: "A1", DoctorID: "doc-1", PatientID: "pat-1"}

	if role, ok := appt.ParticipantRole("doc-1"); !ok || role != RoleDoctor {
		t.Fatalf("doctor lookup = (%q, %v)", role, ok)
	}
	if role, ok := appt.ParticipantRole("pat-1"); !ok || role != RolePatient {
		t.Fatalf("patient lookup = (%q, %v)", role, ok)
	}
	if _, ok := appt.ParticipantRole("other"); ok {
		t.Fatalf("stranger lookup ok = true, want false")
	}
}

func TestRoleInitiates(t *testing.T) {
	if !RoleDoctor.Initiates() {
		t.Fatalf("doctor should initiate")
	}
	if RolePatient.Initiates() {
		t.Fatalf("patient should answer, not initiate")
	}
}
