// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

// RoomIDPrefix is the mandatory prefix of every consultation room
// identifier. A room identifier is always derived from the appointment
// that backs the consultation; a client-supplied identifier that does
// not follow this derivation is rejected everywhere it is checked.
const RoomIDPrefix = "consultation-"

var (
	ErrBadRoomID        = errors.New("room id does not match consultation derivation")
	ErrEmptyAppointment = errors.New("appointment id empty")
)

type RoomID string

// RoomIDFor derives the room identifier for an appointment.
func RoomIDFor(id AppointmentID) (RoomID, error) {
	if id == "" {
		return "", ErrEmptyAppointment
	}
	return RoomID(RoomIDPrefix + string(id)), nil
}

// AppointmentOf reverses RoomIDFor. It fails on anything that could not
// have been produced by the derivation.
func AppointmentOf(id RoomID) (AppointmentID, error) {
	raw, ok := strings.CutPrefix(string(id), RoomIDPrefix)
	if !ok || raw == "" {
		return "", ErrBadRoomID
	}
	return AppointmentID(raw), nil
}

func (id RoomID) Valid() bool {
	_, err := AppointmentOf(id)
	return err == nil
}
