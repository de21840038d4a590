package domain

type AppointmentID string

// Appointment is the one slice of the excluded appointment store this
// subsystem consumes: who the two legitimate call participants are.
type Appointment struct {
	ID        AppointmentID `json:"id"`
	DoctorID  UserID        `json:"doctor_id"`
	PatientID UserID        `json:"patient_id"`
}

// ParticipantRole returns the consultation role of uid on this
// appointment, or false when uid is not one of the two participants.
func (a Appointment) ParticipantRole(uid UserID) (Role, bool) {
	switch uid {
	case a.DoctorID:
		return RoleDoctor, true
	case a.PatientID:
		return RolePatient, true
	}
	return "", false
}
