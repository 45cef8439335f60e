package service

import (
	"context"
	"fmt"

	"github.com/donbool/tame/internal/domain/audit"
	"github.com/donbool/tame/internal/tameerr"
)

// AuditService wraps the Audit Log (C3) store, translating its sentinel
// errors into the closed tameerr.Kind taxonomy. GetSession optionally
// redacts sensitive argument values for display; Export and Verify
// always see the unredacted stored record, since both exist to
// reproduce or certify exactly what was persisted.
type AuditService struct {
	store audit.Store
}

func NewAuditService(store audit.Store) *AuditService {
	return &AuditService{store: store}
}

func (a *AuditService) Append(ctx context.Context, entry audit.LogEntry) (string, error) {
	id, err := a.store.Append(ctx, entry)
	if err != nil {
		return "", tameerr.New(tameerr.KindServer, fmt.Sprintf("append audit entry: %v", err))
	}
	return id, nil
}

func (a *AuditService) SealOutcome(ctx context.Context, entryID, sessionID string, outcome audit.Outcome) error {
	entry, err := a.store.GetEntry(ctx, entryID)
	if err != nil {
		if err == audit.ErrNotFound {
			return tameerr.New(tameerr.KindNotFound, fmt.Sprintf("log entry %s not found", entryID))
		}
		return tameerr.New(tameerr.KindServer, err.Error())
	}
	if entry.SessionID != sessionID {
		return tameerr.New(tameerr.KindValidation, "log_id does not belong to session_id")
	}

	if err := a.store.SealOutcome(ctx, entryID, outcome); err != nil {
		if err == audit.ErrAlreadySealed {
			return tameerr.New(tameerr.KindConflict, fmt.Sprintf("log entry %s is already sealed", entryID))
		}
		if err == audit.ErrNotFound {
			return tameerr.New(tameerr.KindNotFound, fmt.Sprintf("log entry %s not found", entryID))
		}
		return tameerr.New(tameerr.KindServer, err.Error())
	}
	return nil
}

func (a *AuditService) GetSession(ctx context.Context, sessionID string, offset, limit int, redact bool) ([]audit.LogEntry, error) {
	entries, err := a.store.GetSession(ctx, sessionID, offset, limit)
	if err != nil {
		return nil, tameerr.New(tameerr.KindServer, err.Error())
	}
	if redact {
		for i := range entries {
			entries[i].ToolArgs = audit.RedactSensitiveArgs(entries[i].ToolArgs)
		}
	}
	return entries, nil
}

func (a *AuditService) ListSessions(ctx context.Context, filter audit.SessionFilter) ([]audit.SessionSummary, error) {
	summaries, err := a.store.ListSessions(ctx, filter)
	if err != nil {
		return nil, tameerr.New(tameerr.KindServer, err.Error())
	}
	return summaries, nil
}

func (a *AuditService) Verify(ctx context.Context, rng audit.SessionRange) (audit.VerifyResult, error) {
	result, err := a.store.Verify(ctx, rng)
	if err != nil {
		return audit.VerifyResult{}, tameerr.New(tameerr.KindServer, err.Error())
	}
	return result, nil
}

// DeleteSession deletes sessionID and all of its log entries, returning
// the number of entries removed.
func (a *AuditService) DeleteSession(ctx context.Context, sessionID string) (int64, error) {
	count, err := a.store.DeleteSession(ctx, sessionID)
	if err != nil {
		return 0, tameerr.New(tameerr.KindServer, err.Error())
	}
	return count, nil
}

func (a *AuditService) Export(ctx context.Context, filter audit.ExportFilter, format audit.ExportFormat) ([]byte, error) {
	data, err := a.store.Export(ctx, filter, format)
	if err != nil {
		return nil, tameerr.New(tameerr.KindServer, err.Error())
	}
	return data, nil
}
