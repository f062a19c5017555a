// Copyright (c) 2025 Meridian GRC
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package audit records security events with contextual risk scoring and
// serves the reporting surface built on top of them. The trail is
// append-only; entries leave only through retention cleanup.
package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/meridian-grc/meridian/internal/domain"
	"github.com/meridian-grc/meridian/internal/store"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// suspicionThreshold is the risk score at or above which an event
	// triggers a failure-pattern sweep for its source IP and account.
	suspicionThreshold = 70

	// accountFailureLimit flags an account with this many failed logins in
	// the trailing hour.
	accountFailureLimit = 5

	// ipFailureLimit flags a source IP with this many failed logins in the
	// trailing hour, across all accounts.
	ipFailureLimit = 10

	// failureWindow is the sliding window for both failure sweeps.
	failureWindow = time.Hour
)

// expectedCountries are the locations the platform normally serves.
// Events originating elsewhere carry extra risk.
var expectedCountries = map[string]bool{
	"US": true,
	"CA": true,
	"GB": true,
}

// =============================================================================
// TRAIL
// =============================================================================

// Trail is the audit logger. Logging is best-effort: a write failure is
// reported to the process log and swallowed so it can never abort the
// security operation that produced the event.
type Trail struct {
	store  store.Store
	clock  clockwork.Clock
	logger *zap.Logger
}

// NewTrail wires the audit trail against a store.
func NewTrail(st store.Store, clock clockwork.Clock, logger *zap.Logger) *Trail {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trail{store: st, clock: clock, logger: logger}
}

// Entry is the caller-supplied portion of an audit event. The trail fills
// in ID, risk score, and timestamp.
type Entry struct {
	AccountID   string
	Type        domain.EventType
	Description string
	IP          string
	UserAgent   string
	Success     bool
	Location    *domain.Location
}

// Log scores and persists an audit entry. It is a no-op when the active
// policy disables audit logging. High-risk entries with a source IP also
// trigger a failed-login pattern sweep.
func (t *Trail) Log(ctx context.Context, entry *Entry) {
	policy := t.policy(ctx)
	if !policy.AuditLogEnabled {
		return
	}

	now := t.clock.Now()
	event := &domain.SecurityEvent{
		ID:          uuid.NewString(),
		AccountID:   entry.AccountID,
		Type:        entry.Type,
		Description: entry.Description,
		IP:          entry.IP,
		UserAgent:   entry.UserAgent,
		Success:     entry.Success,
		RiskScore:   t.scoreEvent(entry, now),
		Location:    entry.Location,
		CreatedAt:   now,
	}

	if err := t.store.CreateSecurityEvent(ctx, event); err != nil {
		t.logger.Error("failed to record audit event",
			zap.String("type", string(entry.Type)), zap.Error(err))
		return
	}

	if event.RiskScore >= suspicionThreshold && event.IP != "" {
		t.checkSuspiciousActivity(ctx, event)
	}
}

// scoreEvent computes the contextual risk score: the event type's base
// score plus penalties for failure, unexpected origin country, and
// off-hours timing, clamped to [0, 100].
func (t *Trail) scoreEvent(entry *Entry, now time.Time) int {
	score := entry.Type.BaseRiskScore()
	if !entry.Success {
		score += 20
	}
	if entry.Location != nil && entry.Location.Country != "" && !expectedCountries[entry.Location.Country] {
		score += 15
	}
	if hour := now.Hour(); hour < 6 || hour >= 22 {
		score += 10
	}
	return domain.ClampRisk(score)
}

// checkSuspiciousActivity sweeps the trailing hour for failed-login
// clusters around the event's account and source IP, emitting a synthetic
// suspicious_activity event for each pattern found.
func (t *Trail) checkSuspiciousActivity(ctx context.Context, event *domain.SecurityEvent) {
	since := t.clock.Now().Add(-failureWindow)
	filter := store.EventFilter{
		Since:      since,
		Types:      []domain.EventType{domain.EventLoginFailed},
		FailedOnly: true,
	}

	if event.AccountID != "" {
		events, err := t.store.SecurityEventsForAccount(ctx, event.AccountID, filter)
		if err != nil {
			t.logger.Error("account failure sweep failed", zap.Error(err))
		} else if len(events) >= accountFailureLimit {
			t.recordSuspicious(ctx, event, 90,
				strconv.Itoa(len(events))+" failed login attempts for account in the last hour")
		}
	}

	events, err := t.store.SecurityEventsForIP(ctx, event.IP, filter)
	if err != nil {
		t.logger.Error("ip failure sweep failed", zap.Error(err))
		return
	}
	if len(events) >= ipFailureLimit {
		t.recordSuspicious(ctx, event, 85,
			strconv.Itoa(len(events))+" failed login attempts from IP in the last hour")
	}
}

func (t *Trail) recordSuspicious(ctx context.Context, source *domain.SecurityEvent, score int, description string) {
	event := &domain.SecurityEvent{
		ID:          uuid.NewString(),
		AccountID:   source.AccountID,
		Type:        domain.EventSuspiciousActivity,
		Description: description,
		IP:          source.IP,
		Success:     false,
		RiskScore:   domain.ClampRisk(score),
		CreatedAt:   t.clock.Now(),
	}
	if err := t.store.CreateSecurityEvent(ctx, event); err != nil {
		t.logger.Error("failed to record suspicious-activity event", zap.Error(err))
		return
	}
	t.logger.Warn("suspicious activity detected",
		zap.String("ip", source.IP),
		zap.String("account_id", source.AccountID),
		zap.String("detail", description))
}

// policy returns the active security policy, falling back to defaults
// when the store has none.
func (t *Trail) policy(ctx context.Context) *domain.SecurityPolicy {
	policy, err := t.store.SecurityPolicy(ctx)
	if err != nil {
		return domain.DefaultSecurityPolicy()
	}
	return policy
}

// =============================================================================
// REPORTING
// =============================================================================

// Dashboard summarizes trail activity over a trailing timeframe.
type Dashboard struct {
	Timeframe        string           `json:"timeframe"`
	TotalEvents      int              `json:"total_events"`
	FailedEvents     int              `json:"failed_events"`
	SuspiciousEvents int              `json:"suspicious_events"`
	UniqueAccounts   int              `json:"unique_accounts"`
	UniqueIPs        int              `json:"unique_ips"`
	RiskDistribution RiskDistribution `json:"risk_distribution"`
	EventsByType     map[string]int   `json:"events_by_type"`
	TopRiskyIPs      []IPRisk         `json:"top_risky_ips"`
}

// RiskDistribution buckets events by risk score.
type RiskDistribution struct {
	Low    int `json:"low"`    // score < 30
	Medium int `json:"medium"` // 30 <= score < 70
	High   int `json:"high"`   // score >= 70
}

// IPRisk is the mean risk score observed for one source IP.
type IPRisk struct {
	IP         string  `json:"ip"`
	EventCount int     `json:"event_count"`
	MeanRisk   float64 `json:"mean_risk"`
}

// BuildDashboard aggregates all events within the trailing timeframe.
func (t *Trail) BuildDashboard(ctx context.Context, timeframe time.Duration) (*Dashboard, error) {
	since := t.clock.Now().Add(-timeframe)
	events, err := t.store.SecurityEventsSince(ctx, since)
	if err != nil {
		return nil, err
	}

	dash := &Dashboard{
		Timeframe:    timeframe.String(),
		TotalEvents:  len(events),
		EventsByType: make(map[string]int),
	}
	accounts := make(map[string]bool)
	ips := make(map[string]bool)
	ipScores := make(map[string][]int)

	for _, event := range events {
		dash.EventsByType[string(event.Type)]++
		if !event.Success {
			dash.FailedEvents++
		}
		if event.Type == domain.EventSuspiciousActivity {
			dash.SuspiciousEvents++
		}
		if event.AccountID != "" {
			accounts[event.AccountID] = true
		}
		if event.IP != "" {
			ips[event.IP] = true
			ipScores[event.IP] = append(ipScores[event.IP], event.RiskScore)
		}
		switch {
		case event.RiskScore < 30:
			dash.RiskDistribution.Low++
		case event.RiskScore < 70:
			dash.RiskDistribution.Medium++
		default:
			dash.RiskDistribution.High++
		}
	}
	dash.UniqueAccounts = len(accounts)
	dash.UniqueIPs = len(ips)
	dash.TopRiskyIPs = topRiskyIPs(ipScores, 10)
	return dash, nil
}

func topRiskyIPs(scores map[string][]int, limit int) []IPRisk {
	ranked := make([]IPRisk, 0, len(scores))
	for ip, list := range scores {
		sum := 0
		for _, s := range list {
			sum += s
		}
		ranked = append(ranked, IPRisk{
			IP:         ip,
			EventCount: len(list),
			MeanRisk:   float64(sum) / float64(len(list)),
		})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].MeanRisk != ranked[j].MeanRisk {
			return ranked[i].MeanRisk > ranked[j].MeanRisk
		}
		return ranked[i].IP < ranked[j].IP
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// Export renders events since the cutoff as CSV, suitable for compliance
// evidence packages.
func (t *Trail) Export(ctx context.Context, since time.Time) ([]byte, error) {
	events, err := t.store.SecurityEventsSince(ctx, since)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"id", "created_at", "type", "account_id", "ip", "user_agent", "success", "risk_score", "country", "description"}); err != nil {
		return nil, err
	}
	for _, event := range events {
		country := ""
		if event.Location != nil {
			country = event.Location.Country
		}
		record := []string{
			event.ID,
			event.CreatedAt.UTC().Format(time.RFC3339),
			string(event.Type),
			event.AccountID,
			event.IP,
			event.UserAgent,
			strconv.FormatBool(event.Success),
			strconv.Itoa(event.RiskScore),
			country,
			event.Description,
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Cleanup purges events past the policy's retention window. Returns the
// number of events removed.
func (t *Trail) Cleanup(ctx context.Context) (int64, error) {
	policy := t.policy(ctx)
	cutoff := t.clock.Now().AddDate(0, 0, -policy.AuditRetentionDays)
	removed, err := t.store.DeleteSecurityEventsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		t.logger.Info("audit retention cleanup",
			zap.Int64("events_removed", removed),
			zap.Time("cutoff", cutoff))
	}
	return removed, nil
}
