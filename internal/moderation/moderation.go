// Package moderation handles user reports and administrator overrides.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Hrittik20/TSUSwap/internal/clock"
	"github.com/Hrittik20/TSUSwap/internal/event"
	"github.com/Hrittik20/TSUSwap/internal/market"
	"github.com/Hrittik20/TSUSwap/internal/store"
)

// MaxDescription bounds the free-text part of a report.
const MaxDescription = 1000

// Config holds moderation settings.
type Config struct {
	// AdminEmails lists administrator addresses. Matching ignores case;
	// an empty list means nobody is an administrator.
	AdminEmails []string
}

// Remover deletes a listing on an administrator's behalf.
type Remover interface {
	AdminDelete(ctx context.Context, adminID, itemID, reason string) error
}

// Alerter is told about every new report, for example to page moderators.
type Alerter interface {
	ReportFiled(ctx context.Context, r store.Report, item store.Item)
}

// Manager handles reports and admin actions.
type Manager struct {
	users   store.UserRepository
	items   store.ItemRepository
	reports store.ReportRepository
	events  event.Store
	remover Remover
	alerter Alerter
	admins  map[string]struct{}
	logger  *slog.Logger
	tracer  trace.Tracer
	clock   clock.Clock
}

// NewManager returns a moderation Manager. alerter may be nil.
func NewManager(repos *store.Repositories, remover Remover, alerter Alerter, cfg Config, logger *slog.Logger, tp trace.TracerProvider, clk clock.Clock) *Manager {
	admins := make(map[string]struct{}, len(cfg.AdminEmails))
	for _, e := range cfg.AdminEmails {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			admins[e] = struct{}{}
		}
	}
	return &Manager{
		users:   repos.Users,
		items:   repos.Items,
		reports: repos.Reports,
		events:  repos.Events,
		remover: remover,
		alerter: alerter,
		admins:  admins,
		logger:  logger,
		tracer:  tp.Tracer("github.com/Hrittik20/TSUSwap/internal/moderation"),
		clock:   clk,
	}
}

// IsAdmin reports whether userID belongs to an administrator.
func (m *Manager) IsAdmin(ctx context.Context, userID string) (bool, error) {
	if userID == "" || len(m.admins) == 0 {
		return false, nil
	}
	u, err := m.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("getting user: %w", err)
	}
	_, ok := m.admins[strings.ToLower(u.Email)]
	return ok, nil
}

func (m *Manager) requireAdmin(ctx context.Context, userID string) error {
	ok, err := m.IsAdmin(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return market.ErrNotAdmin
	}
	return nil
}

// Report flags itemID on behalf of reporterID. Each user may report an
// item once, and never their own.
func (m *Manager) Report(ctx context.Context, reporterID, itemID string, reason store.ReportReason, description string) (*store.Report, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Report",
		trace.WithAttributes(
			attribute.String("item_id", itemID),
			attribute.String("reporter_id", reporterID),
			attribute.String("reason", string(reason)),
		),
	)
	defer span.End()

	if reporterID == "" {
		return nil, market.ErrUnauthenticated
	}
	if !reason.Valid() {
		return nil, market.Invalid("reason", "must be one of INAPPROPRIATE, SCAM, FAKE, SPAM, OTHER")
	}
	description = strings.TrimSpace(description)
	if utf8.RuneCountInString(description) > MaxDescription {
		return nil, market.Invalid("description", fmt.Sprintf("must be at most %d characters", MaxDescription))
	}

	item, err := m.items.GetByID(ctx, itemID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, market.ErrNotFound
		}
		return nil, fmt.Errorf("getting item: %w", err)
	}
	if item.SellerID == reporterID {
		return nil, market.ErrSelfReport
	}
	exists, err := m.reports.Exists(ctx, itemID, reporterID)
	if err != nil {
		return nil, fmt.Errorf("checking reports: %w", err)
	}
	if exists {
		return nil, market.ErrDuplicateReport
	}

	r := &store.Report{
		ID:         uuid.NewString(),
		ItemID:     itemID,
		ReporterID: reporterID,
		Reason:     reason,
		Status:     store.ReportPending,
		CreatedAt:  m.clock.Now(),
	}
	if description != "" {
		r.Description = &description
	}
	if err := m.reports.Create(ctx, r); err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicate):
			return nil, market.ErrDuplicateReport
		case errors.Is(err, store.ErrNotFound):
			return nil, market.ErrNotFound
		}
		return nil, fmt.Errorf("creating report: %w", err)
	}

	event.Record(ctx, m.events, m.logger, itemID, event.ReportFiled, event.ReportData{
		ActorID: reporterID,
		Reason:  string(reason),
		Status:  string(r.Status),
	}, r.CreatedAt)
	if m.alerter != nil {
		m.alerter.ReportFiled(ctx, *r, *item)
	}

	m.logger.InfoContext(ctx, "item reported",
		slog.String("report_id", r.ID),
		slog.String("item_id", itemID),
		slog.String("reason", string(reason)),
	)
	return r, nil
}

// SetReportStatus moves every report on itemID to status and returns how
// many were updated.
func (m *Manager) SetReportStatus(ctx context.Context, adminID, itemID string, status store.ReportStatus) (int, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.SetReportStatus",
		trace.WithAttributes(
			attribute.String("item_id", itemID),
			attribute.String("status", string(status)),
		),
	)
	defer span.End()

	if err := m.requireAdmin(ctx, adminID); err != nil {
		return 0, err
	}
	if !status.Valid() {
		return 0, market.Invalid("status", "must be one of PENDING, REVIEWED, RESOLVED, DISMISSED")
	}

	n, err := m.reports.SetStatusForItem(ctx, itemID, status)
	if err != nil {
		return 0, fmt.Errorf("updating reports: %w", err)
	}
	if n == 0 {
		return 0, market.ErrNotFound
	}

	event.Record(ctx, m.events, m.logger, itemID, event.ReportStatusChanged, event.ReportData{
		ActorID: adminID,
		Status:  string(status),
		Count:   n,
	}, m.clock.Now())
	m.logger.InfoContext(ctx, "report status changed",
		slog.String("item_id", itemID),
		slog.String("status", string(status)),
		slog.Int("count", n),
	)
	return n, nil
}

// RemoveItem deletes itemID as adminID and notifies its seller.
func (m *Manager) RemoveItem(ctx context.Context, adminID, itemID, reason string) error {
	ctx, span := m.tracer.Start(ctx, "Manager.RemoveItem",
		trace.WithAttributes(attribute.String("item_id", itemID)),
	)
	defer span.End()

	if err := m.requireAdmin(ctx, adminID); err != nil {
		return err
	}
	return m.remover.AdminDelete(ctx, adminID, itemID, strings.TrimSpace(reason))
}

// ListReports returns reports newest first. An empty status lists all.
func (m *Manager) ListReports(ctx context.Context, adminID string, status store.ReportStatus) ([]store.Report, error) {
	if err := m.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	if status != "" && !status.Valid() {
		return nil, market.Invalid("status", "unknown report status")
	}
	rs, err := m.reports.List(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("listing reports: %w", err)
	}
	return rs, nil
}

// ItemHistory returns the audit log of itemID, oldest first. It outlives
// the item itself.
func (m *Manager) ItemHistory(ctx context.Context, adminID, itemID string) ([]event.Event, error) {
	if err := m.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	if m.events == nil {
		return nil, nil
	}
	evts, err := m.events.Load(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}
	return evts, nil
}
