package appointments

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAppointmentFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/appointments/A1" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer svc-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"A1","doctorId":"doc-1","patientId":"pat-1"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "svc-key")
	appt, err := c.Appointment(context.Background(), "A1")
	if err != nil {
		t.Fatalf("Appointment: %v", err)
	}
	if appt.DoctorID != "doc-1" || appt.PatientID != "pat-1" {
		t.Fatalf("appointment = %+v", appt)
	}
}

func TestAppointmentNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.Appointment(context.Background(), "missing")
	if !errors.Is(err, ErrUnknownAppointment) {
		t.Fatalf("err = %v, want ErrUnknownAppointment", err)
	}
}

func TestAppointmentIncomplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"A1","doctorId":"doc-1"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	if _, err := c.Appointment(context.Background(), "A1"); err == nil {
		t.Fatalf("incomplete appointment accepted")
	}
}
