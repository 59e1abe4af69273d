package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventCreditsReserved      EventType = "credits_reserved"
	EventReservationSettled   EventType = "reservation_settled"
	EventReservationReleased  EventType = "reservation_released"
	EventReservationExpired   EventType = "reservation_expired"
	EventPreflightRejected    EventType = "preflight_rejected"
	EventNotificationSent     EventType = "notification_sent"
	EventOperatorAuthFailure  EventType = "operator_auth_failure"
	EventSpendingCheckRequest EventType = "spending_check_request"
)

type Event struct {
	Type          EventType
	WorkspaceID   string
	AgentID       string
	ReservationID string
	UserID        string
	IP            string
	UserAgent     string
	Details       map[string]interface{}
}

func Log(ctx context.Context, event Event) {
	logger := loggerFrom(ctx).With().
		Str("audit", "billing").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.WorkspaceID != "" {
		logger = logger.With().Str("workspace_id", event.WorkspaceID).Logger()
	}
	if event.AgentID != "" {
		logger = logger.With().Str("agent_id", event.AgentID).Logger()
	}
	if event.ReservationID != "" {
		logger = logger.With().Str("reservation_id", event.ReservationID).Logger()
	}
	if event.UserID != "" {
		logger = logger.With().Str("user_id", event.UserID).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}
	if event.UserAgent != "" {
		logger = logger.With().Str("user_agent", event.UserAgent).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("billing audit event")
}

// loggerFrom prefers a logger attached to ctx and falls back to the global one.
func loggerFrom(ctx context.Context) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return *l
	}
	return log.Logger
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = getClientIP(r)
	event.UserAgent = r.UserAgent()
	Log(r.Context(), event)
}

func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
