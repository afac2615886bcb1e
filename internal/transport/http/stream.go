// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/adiadia/demo-orchestrator/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	defaultPushInterval = 5 * time.Second
	streamWriteTimeout  = 10 * time.Second
)

// statusSnapshot is one frame on the status stream.
type statusSnapshot struct {
	Instance *domain.LeaseView `json:"instance"`
	Quota    domain.QuotaView  `json:"quota"`
	At       time.Time         `json:"at"`
}

// statusStream pushes instance and quota snapshots to a websocket client.
// It reads only stored state, the same as the polling endpoints.
type statusStream struct {
	status   StatusReader
	interval time.Duration
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func newStatusStream(status StatusReader, interval time.Duration, allowedOrigins []string, logger *slog.Logger) *statusStream {
	if interval <= 0 {
		interval = defaultPushInterval
	}
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return &statusStream{
		status:   status,
		interval: interval,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(r, allowed, logger)
			},
		},
	}
}

// originAllowed accepts clients that send no Origin (non-browser), browsers
// on the same host as the API, and the configured ALLOWED_ORIGINS.
func originAllowed(r *http.Request, allowed map[string]struct{}, logger *slog.Logger) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	if _, ok := allowed[strings.ToLower(strings.TrimRight(origin, "/"))]; ok {
		return true
	}
	logger.Warn("security: status stream origin rejected", "origin", origin)
	return false
}

func (s *statusStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Client frames are ignored; a read error means the peer went away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.push(ctx, conn); err != nil {
			s.logger.Debug("status stream closed", "error", err)
			return
		}
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			return
		case <-ticker.C:
		}
	}
}

func (s *statusStream) push(ctx context.Context, conn *websocket.Conn) error {
	snap := statusSnapshot{At: time.Now().UTC()}

	view, ok, err := s.status.ActiveInstance(ctx)
	if err != nil {
		return err
	}
	if ok {
		snap.Instance = &view
	}

	snap.Quota, err = s.status.Quota(ctx)
	if err != nil {
		return err
	}

	if err := conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(snap)
}
