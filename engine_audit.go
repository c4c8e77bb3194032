package goSession

import (
	"context"
	"strconv"

	"github.com/google/uuid"
)

const (
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventAccountLocked         = "account_locked"
	auditEventAccountUnlocked       = "account_unlocked"
	auditEventLogout                = "logout"
	auditEventLogoutAll             = "logout_all"
	auditEventOAuth2Success         = "oauth2_login_success"
	auditEventOAuth2Failure         = "oauth2_login_failure"
	auditEventInfrastructureFailure = "infrastructure_failure"
)

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, principalID, identifier, ip string, err error, metadata map[string]string) {
	if e == nil || e.audit == nil {
		return
	}

	event := AuditEvent{
		ID:          newEventID(),
		Timestamp:   e.now().UTC(),
		EventType:   eventType,
		PrincipalID: principalID,
		Identifier:  identifier,
		IP:          ip,
		Success:     success,
		Metadata:    metadata,
	}
	if err != nil {
		event.Error = err.Error()
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitLoginFailure(ctx context.Context, principalID, identifier, ip string, kind AuthErrorKind, metadata map[string]string) {
	if e == nil || e.audit == nil {
		return
	}
	if metadata == nil {
		metadata = make(map[string]string, 1)
	}
	metadata["reason"] = kind.String()
	e.emitAudit(ctx, auditEventLoginFailure, false, principalID, identifier, ip, nil, metadata)
}

// newEventID prefers time-ordered v7 IDs so sinks can sort by key.
func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
