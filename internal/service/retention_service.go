package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/donbool/tame/internal/domain/audit"
	"github.com/donbool/tame/internal/tameerr"
)

// SweepResult is the outcome of a SweepExpired call.
type SweepResult struct {
	Candidates   []string
	DeletedCount int64
	Failures     map[string]string
}

// ActionCounts aggregates decision counts for AssembleReport.
type ActionCounts struct {
	Allow   int64
	Deny    int64
	Approve int64
}

// RetentionReport is the result of AssembleReport.
type RetentionReport struct {
	Start, End     time.Time
	TotalCalls     int64
	Actions        ActionCounts
	UniqueAgents   int
	UniqueUsers    int
	ViolationRate  float64
	IntegrityOK    bool
	Violations     []audit.Violation
	OverdueCount   int
	UpcomingCount  int
	DetailedEntries []audit.SessionSummary
}

// RetentionService implements C5: archival marking, expiry sweeping, and
// compliance report assembly, plus a ticker-driven background sweeper
// matching the teacher's ticker+stopChan+sync.Once worker shape.
type RetentionService struct {
	audit                audit.Store
	defaultRetentionDays int
	sweepInterval        time.Duration
	logger               *slog.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewRetentionService(store audit.Store, defaultRetentionDays int, sweepInterval time.Duration, logger *slog.Logger) *RetentionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionService{
		audit:                store,
		defaultRetentionDays: defaultRetentionDays,
		sweepInterval:        sweepInterval,
		logger:               logger,
		stopChan:             make(chan struct{}),
	}
}

// ScheduleArchival marks sessionIDs archived with retentionDays (or the
// service default when retentionDays <= 0).
func (r *RetentionService) ScheduleArchival(ctx context.Context, sessionIDs []string, retentionDays int, archivedBy string) error {
	if retentionDays <= 0 {
		retentionDays = r.defaultRetentionDays
	}
	if err := r.audit.ArchiveSessions(ctx, sessionIDs, retentionDays, archivedBy); err != nil {
		return tameerr.New(tameerr.KindServer, err.Error())
	}
	return nil
}

// SweepExpired finds sessions whose retention_until has passed and, when
// dryRun is false, deletes their log entries and session row in one
// transaction per session. A single session's delete failure is
// recorded and does not abort the sweep.
func (r *RetentionService) SweepExpired(ctx context.Context, dryRun bool) (SweepResult, error) {
	candidates, err := r.audit.ExpiredSessions(ctx, time.Now().UTC())
	if err != nil {
		return SweepResult{}, tameerr.New(tameerr.KindServer, err.Error())
	}

	result := SweepResult{Candidates: candidates}
	if dryRun {
		return result, nil
	}

	for _, id := range candidates {
		deleted, err := r.audit.DeleteSession(ctx, id)
		if err != nil {
			if result.Failures == nil {
				result.Failures = make(map[string]string)
			}
			result.Failures[id] = err.Error()
			r.logger.Error("retention sweep: delete session failed", "session_id", id, "error", err)
			continue
		}
		result.DeletedCount += deleted
	}
	return result, nil
}

// VerifyRange delegates to C3.Verify across all sessions in [start, end].
func (r *RetentionService) VerifyRange(ctx context.Context, start, end time.Time) (audit.VerifyResult, error) {
	result, err := r.audit.Verify(ctx, audit.SessionRange{Start: start, End: end})
	if err != nil {
		return audit.VerifyResult{}, tameerr.New(tameerr.KindServer, err.Error())
	}
	return result, nil
}

// AssembleReport builds a compliance report over [start, end]. detailed
// additionally populates every session summary in range.
func (r *RetentionService) AssembleReport(ctx context.Context, start, end time.Time, detailed bool) (RetentionReport, error) {
	verify, err := r.VerifyRange(ctx, start, end)
	if err != nil {
		return RetentionReport{}, err
	}

	summaries, err := r.audit.ListSessions(ctx, audit.SessionFilter{
		Start: start, End: end, IncludeArchived: true, Page: 1, PageSize: 1 << 20,
	})
	if err != nil {
		return RetentionReport{}, tameerr.New(tameerr.KindServer, err.Error())
	}

	report := RetentionReport{
		Start:       start,
		End:         end,
		IntegrityOK: verify.ChainIntact(),
		Violations:  verify.Violations,
	}

	expired, err := r.audit.ExpiredSessions(ctx, time.Now().UTC())
	if err != nil {
		return RetentionReport{}, tameerr.New(tameerr.KindServer, err.Error())
	}
	expiredSet := make(map[string]struct{}, len(expired))
	for _, id := range expired {
		expiredSet[id] = struct{}{}
	}

	agents := map[string]struct{}{}
	users := map[string]struct{}{}
	for _, sum := range summaries {
		report.TotalCalls += sum.EntryCount
		report.Actions.Allow += sum.AllowCount
		report.Actions.Deny += sum.DenyCount
		report.Actions.Approve += sum.ApproveCount
		if sum.AgentID != "" {
			agents[sum.AgentID] = struct{}{}
		}
		if sum.UserID != "" {
			users[sum.UserID] = struct{}{}
		}
		if _, isExpired := expiredSet[sum.SessionID]; isExpired {
			report.OverdueCount++
		} else if sum.Archived {
			report.UpcomingCount++
		}
	}
	report.UniqueAgents = len(agents)
	report.UniqueUsers = len(users)
	if report.TotalCalls > 0 {
		report.ViolationRate = float64(report.Actions.Deny) / float64(report.TotalCalls)
	}
	if detailed {
		report.DetailedEntries = summaries
	}
	return report, nil
}

// StartSweeper launches the background ticker-driven sweeper goroutine.
// Safe to call at most once per RetentionService.
func (r *RetentionService) StartSweeper(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopChan:
				return
			case <-ticker.C:
				if _, err := r.SweepExpired(ctx, false); err != nil {
					r.logger.Error("retention sweep failed", "error", err)
				}
			}
		}
	}()
}

// StopSweeper stops the background sweeper and waits for it to exit.
// Safe to call multiple times.
func (r *RetentionService) StopSweeper() {
	r.stopOnce.Do(func() {
		close(r.stopChan)
	})
	r.wg.Wait()
}
