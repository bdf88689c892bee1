// Package commands implements the moderation console's slash commands.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Hrittik20/TSUSwap/internal/auction"
	"github.com/Hrittik20/TSUSwap/internal/market"
	"github.com/Hrittik20/TSUSwap/internal/store"
)

// maxListed caps how many reports one reply lists; Discord messages are
// limited to 2000 characters.
const maxListed = 15

// Sweeper runs and inspects the auction sweep.
type Sweeper interface {
	SweepEnded(ctx context.Context) (auction.SweepResult, error)
	PendingSettlements(ctx context.Context) (int, error)
}

// Moderator performs admin actions on behalf of a marketplace user.
type Moderator interface {
	ListReports(ctx context.Context, adminID string, status store.ReportStatus) ([]store.Report, error)
	SetReportStatus(ctx context.Context, adminID, itemID string, status store.ReportStatus) (int, error)
	RemoveItem(ctx context.Context, adminID, itemID, reason string) error
}

// Handlers process Discord interactions.
type Handlers struct {
	sweeper   Sweeper
	moderator Moderator
	adminID   string
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewHandlers creates command handlers acting as the marketplace user
// adminID.
func NewHandlers(sweeper Sweeper, moderator Moderator, adminID string, logger *slog.Logger, tp trace.TracerProvider) *Handlers {
	return &Handlers{
		sweeper:   sweeper,
		moderator: moderator,
		adminID:   adminID,
		logger:    logger,
		tracer:    tp.Tracer("github.com/Hrittik20/TSUSwap/internal/bot/commands"),
	}
}

var statusChoices = []*discordgo.ApplicationCommandOptionChoice{
	{Name: "pending", Value: string(store.ReportPending)},
	{Name: "reviewed", Value: string(store.ReportReviewed)},
	{Name: "resolved", Value: string(store.ReportResolved)},
	{Name: "dismissed", Value: string(store.ReportDismissed)},
}

var adminOnly = int64(discordgo.PermissionAdministrator)

// SlashCommands returns the slash command definitions.
func SlashCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:                     "market-sweep",
			Description:              "Settle every auction past its end time",
			DefaultMemberPermissions: &adminOnly,
		},
		{
			Name:                     "market-pending",
			Description:              "Count ended auctions waiting for the sweep",
			DefaultMemberPermissions: &adminOnly,
		},
		{
			Name:                     "market-reports",
			Description:              "List reported items",
			DefaultMemberPermissions: &adminOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "status",
					Description: "Only reports in this status (default: pending)",
					Choices:     statusChoices,
				},
			},
		},
		{
			Name:                     "market-report-status",
			Description:              "Set the status of every report on an item",
			DefaultMemberPermissions: &adminOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "item-id",
					Description: "Reported item",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "status",
					Description: "New status",
					Required:    true,
					Choices:     statusChoices,
				},
			},
		},
		{
			Name:                     "market-remove",
			Description:              "Remove a listing and notify its seller",
			DefaultMemberPermissions: &adminOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "item-id",
					Description: "Item to remove",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "reason",
					Description: "Shown to the seller",
					Required:    true,
				},
			},
		},
	}
}

// InteractionCreate handles incoming slash command interactions.
func (h *Handlers) InteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	opts := make(map[string]string, len(data.Options))
	for _, o := range data.Options {
		opts[o.Name] = o.StringValue()
	}
	respond(s, i, h.Execute(context.Background(), data.Name, opts))
}

// Execute runs the command name with its string options and returns the
// reply text.
func (h *Handlers) Execute(ctx context.Context, name string, opts map[string]string) string {
	ctx, span := h.tracer.Start(ctx, "Handlers.Execute",
		trace.WithAttributes(attribute.String("command", name)),
	)
	defer span.End()

	h.logger.InfoContext(ctx, "console command", slog.String("command", name))
	switch name {
	case "market-sweep":
		return h.sweep(ctx)
	case "market-pending":
		return h.pending(ctx)
	case "market-reports":
		return h.reports(ctx, opts["status"])
	case "market-report-status":
		return h.reportStatus(ctx, opts["item-id"], opts["status"])
	case "market-remove":
		return h.remove(ctx, opts["item-id"], opts["reason"])
	default:
		return "Unknown command"
	}
}

func (h *Handlers) sweep(ctx context.Context) string {
	res, err := h.sweeper.SweepEnded(ctx)
	if err != nil {
		return h.failure(ctx, "Sweep failed", err)
	}
	msg := fmt.Sprintf("Sweep done: **%d** processed, **%d** sold, **%d** relisted as fixed price.",
		res.Processed, res.SoldToWinner, res.ConvertedToRegular)
	if len(res.Errors) > 0 {
		msg += fmt.Sprintf("\n%d failed:\n- %s", len(res.Errors), strings.Join(res.Errors, "\n- "))
	}
	return msg
}

func (h *Handlers) pending(ctx context.Context) string {
	n, err := h.sweeper.PendingSettlements(ctx)
	if err != nil {
		return h.failure(ctx, "Counting failed", err)
	}
	if n == 0 {
		return "No ended auctions are waiting."
	}
	return fmt.Sprintf("**%d** ended auction(s) waiting for the next sweep.", n)
}

func (h *Handlers) reports(ctx context.Context, status string) string {
	if status == "" {
		status = string(store.ReportPending)
	}
	rs, err := h.moderator.ListReports(ctx, h.adminID, store.ReportStatus(status))
	if err != nil {
		return h.failure(ctx, "Listing reports failed", err)
	}
	if len(rs) == 0 {
		return fmt.Sprintf("No %s reports.", strings.ToLower(status))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%s reports (%d):**\n", strings.ToLower(status), len(rs))
	for idx, r := range rs {
		if idx == maxListed {
			fmt.Fprintf(&b, "…and %d more", len(rs)-maxListed)
			break
		}
		fmt.Fprintf(&b, "%d. `%s` %s by `%s` on %s", idx+1, r.ItemID, r.Reason, r.ReporterID, r.CreatedAt.Format("2006-01-02"))
		if r.Description != nil {
			fmt.Fprintf(&b, ": %s", *r.Description)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func (h *Handlers) reportStatus(ctx context.Context, itemID, status string) string {
	n, err := h.moderator.SetReportStatus(ctx, h.adminID, itemID, store.ReportStatus(status))
	if err != nil {
		return h.failure(ctx, "Updating reports failed", err)
	}
	return fmt.Sprintf("Marked **%d** report(s) on `%s` as %s.", n, itemID, strings.ToLower(status))
}

func (h *Handlers) remove(ctx context.Context, itemID, reason string) string {
	if err := h.moderator.RemoveItem(ctx, h.adminID, itemID, reason); err != nil {
		return h.failure(ctx, "Removal failed", err)
	}
	return fmt.Sprintf("Removed `%s`. The seller has been notified.", itemID)
}

// failure turns err into a reply. Domain errors are shown as-is; anything
// else is logged and hidden.
func (h *Handlers) failure(ctx context.Context, prefix string, err error) string {
	if market.KindOf(err) != market.KindInternal {
		return fmt.Sprintf("%s: %s", prefix, err)
	}
	h.logger.ErrorContext(ctx, "console command failed", slog.String("prefix", prefix), slog.Any("error", err))
	return prefix + ": internal error, see logs."
}

func respond(s *discordgo.Session, i *discordgo.InteractionCreate, msg string) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: msg,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}
