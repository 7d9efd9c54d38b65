package entities

import "time"

// ActivePatientSelection is a clinician session's focus on one patient.
// It lives only as long as the session.
type ActivePatientSelection struct {
	SessionID   string    `json:"-"`
	ClinicianID string    `json:"clinicianId"`
	PatientID   string    `json:"patientId"`
	SelectedAt  time.Time `json:"selectedAt"`
}
