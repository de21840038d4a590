// Command consult is a headless call agent: it obtains a room token
// for an appointment, joins the signaling relay, and runs one
// consultation session to completion. Capture IO is left to the
// embedding integration; this binary exercises the full call path and
// is what support staff use to probe a room.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/medibridge/teleconsult/internal/adapters/rtc"
	"github.com/medibridge/teleconsult/internal/adapters/signalclient"
	"github.com/medibridge/teleconsult/internal/session"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "teleconsult server base URL")
	auth := flag.String("auth", "", "platform bearer token")
	appointment := flag.String("appointment", "", "appointment id to join")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *auth == "" || *appointment == "" {
		fmt.Fprintln(os.Stderr, "usage: consult -auth <token> -appointment <id> [-server <url>]")
		os.Exit(2)
	}

	ctx, cancel := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *server, *auth, *appointment); err != nil {
		log.Error().Err(err).Msg("call failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, server, auth, appointment string) error {
	roomToken, err := fetchRoomToken(ctx, server, auth, appointment)
	if err != nil {
		return fmt.Errorf("room token: %w", err)
	}
	ice, err := fetchICEServers(ctx, server, auth)
	if err != nil {
		return fmt.Errorf("ice servers: %w", err)
	}

	wsURL := "ws" + strings.TrimPrefix(server, "http") + "/api/ws/signal"
	channel, err := signalclient.Dial(ctx, wsURL, auth)
	if err != nil {
		return err
	}

	s := session.New(rtc.NewMediaPipeline(), rtc.NewFactory(ice), channel, session.Config{
		RoomToken: roomToken,
	})

	go func() {
		for st := range s.Updates() {
			log.Info().Str("state", st.String()).Msg("call state")
		}
	}()

	return s.Run(ctx)
}

func fetchRoomToken(ctx context.Context, server, auth, appointment string) (string, error) {
	body, _ := json.Marshal(map[string]string{"appointmentId": appointment})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server+"/api/room-token", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+auth)

	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	var out struct {
		RoomToken string `json:"roomToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.RoomToken, nil
}

func fetchICEServers(ctx context.Context, server, auth string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server+"/api/ice-servers", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+auth)

	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var out struct {
		ICEServers []string `json:"iceServers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.ICEServers, nil
}
