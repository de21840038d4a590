// Package appointments is the read-only client for the scheduling
// service. Token issuance only needs the two participant identifiers
// of an appointment; everything else about scheduling stays out of
// this codebase.
package appointments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/medibridge/teleconsult/internal/domain"
)

var ErrUnknownAppointment = errors.New("unknown appointment")

type Client struct {
	base   string
	apiKey string
	http   *http.Client
}

// NewClient talks to the scheduling service at base. apiKey may be
// empty when the deployment fronts the service with network policy
// instead.
func NewClient(base, apiKey string) *Client {
	return &Client{
		base:   strings.TrimRight(base, "/"),
		apiKey: apiKey,
		http:   &http.Client{Timeout: 5 * time.Second},
	}
}

type appointmentDTO struct {
	ID        string `json:"id"`
	DoctorID  string `json:"doctorId"`
	PatientID string `json:"patientId"`
}

func (c *Client) Appointment(ctx context.Context, id domain.AppointmentID) (domain.Appointment, error) {
	u := fmt.Sprintf("%s/api/appointments/%s", c.base, url.PathEscape(string(id)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.Appointment{}, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Appointment{}, fmt.Errorf("appointment fetch: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return domain.Appointment{}, ErrUnknownAppointment
	default:
		log.Warn().Str("module", "appointments").Int("status", resp.StatusCode).Str("appointment", string(id)).Msg("unexpected status")
		return domain.Appointment{}, fmt.Errorf("appointment fetch: status %d", resp.StatusCode)
	}

	var dto appointmentDTO
	if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
		return domain.Appointment{}, fmt.Errorf("appointment decode: %w", err)
	}
	if dto.DoctorID == "" || dto.PatientID == "" {
		return domain.Appointment{}, fmt.Errorf("appointment %s: incomplete participants", id)
	}

	return domain.Appointment{
		ID:        domain.AppointmentID(dto.ID),
		DoctorID:  domain.UserID(dto.DoctorID),
		PatientID: domain.UserID(dto.PatientID),
	}, nil
}
