package services

import (
	"context"
	"time"

	"github.com/pixscaler/pixscaler-api/utils/clock"
	"github.com/pixscaler/pixscaler-api/utils/metrics"
	"go.uber.org/zap"
)

const (
	// QuotaWindowHours is the trailing window the free tier limit applies to.
	QuotaWindowHours = 1
	// QuotaResetAfter is the retry hint handed to denied callers.
	QuotaResetAfter = time.Hour
)

// UsageStore is the subset of UsageService the evaluator needs.
type UsageStore interface {
	GetUsageCount(ctx context.Context, subject Subject, action string, windowHours int) (int, error)
	TrackUsage(ctx context.Context, subject Subject, action string) (uint, error)
}

// QuotaDecision is the outcome of one admission check.
type QuotaDecision struct {
	Allowed   bool
	Exempt    bool // premium subject, not tracked
	FailOpen  bool // store error, admitted without enforcement
	Used      int  // count before this request
	Limit     int
	ResetTime time.Time
	RecordID  uint
}

// QuotaEvaluator admits or denies metered actions for free tier subjects.
type QuotaEvaluator struct {
	store   UsageStore
	limit   int
	clock   clock.Clock
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewQuotaEvaluator(store UsageStore, limit int, clk clock.Clock, log *zap.Logger, m *metrics.Metrics) *QuotaEvaluator {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &QuotaEvaluator{store: store, limit: limit, clock: clk, log: log, metrics: m}
}

func (q *QuotaEvaluator) Limit() int {
	return q.limit
}

// Admit decides whether subject may perform one more action this hour.
// Premium subjects are always admitted and not tracked. Free subjects are
// denied once the trailing hour holds limit actions; otherwise the action is
// tracked before Admit returns so a failure later in the request still
// consumes quota. Store errors are logged and the request is admitted.
func (q *QuotaEvaluator) Admit(ctx context.Context, subject Subject, premium bool, action string) QuotaDecision {
	now := q.clock.Now()
	decision := QuotaDecision{Limit: q.limit, ResetTime: now.Add(QuotaResetAfter)}

	if premium {
		decision.Allowed = true
		decision.Exempt = true
		q.metrics.ObserveQuotaDecision(action, metrics.OutcomeExempt)
		return decision
	}

	used, err := q.store.GetUsageCount(ctx, subject, action, QuotaWindowHours)
	if err != nil {
		q.log.Error("quota check failed, allowing request",
			append(subjectFields(subject), zap.String("action", action), zap.Error(err))...)
		return q.failOpen(decision, action)
	}
	decision.Used = used

	if used >= q.limit {
		q.metrics.ObserveQuotaDecision(action, metrics.OutcomeDenied)
		return decision
	}

	id, err := q.store.TrackUsage(ctx, subject, action)
	if err != nil {
		q.log.Error("usage tracking failed, allowing request",
			append(subjectFields(subject), zap.String("action", action), zap.Error(err))...)
		return q.failOpen(decision, action)
	}

	decision.Allowed = true
	decision.RecordID = id
	q.metrics.ObserveQuotaDecision(action, metrics.OutcomeAllowed)
	return decision
}

func (q *QuotaEvaluator) failOpen(decision QuotaDecision, action string) QuotaDecision {
	decision.Allowed = true
	decision.FailOpen = true
	q.metrics.ObserveQuotaDecision(action, metrics.OutcomeFailOpen)
	return decision
}

func subjectFields(subject Subject) []zap.Field {
	fields := []zap.Field{zap.String("ip", subject.IPAddress)}
	if subject.UserID != nil {
		fields = append(fields, zap.Uint("user_id", *subject.UserID))
	}
	return fields
}
