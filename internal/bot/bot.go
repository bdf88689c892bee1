// Package bot runs the Discord moderation console: slash commands for
// admins and report alerts posted to a moderation channel.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/Hrittik20/TSUSwap/internal/bot/commands"
	"github.com/Hrittik20/TSUSwap/internal/config"
	"github.com/Hrittik20/TSUSwap/internal/store"
)

// Bot wraps the Discord session and command handlers.
type Bot struct {
	session *discordgo.Session
	cfg     config.DiscordConfig
	logger  *slog.Logger
	cmds    []*discordgo.ApplicationCommand
}

// New creates a Bot. The session is not opened until Start, but alerts can
// be sent right away since they go over the REST API.
func New(cfg config.DiscordConfig, logger *slog.Logger) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	return &Bot{session: session, cfg: cfg, logger: logger}, nil
}

// Start opens the Discord connection and registers slash commands.
func (b *Bot) Start(ctx context.Context, handlers *commands.Handlers) error {
	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.logger.InfoContext(ctx, "bot is ready", slog.String("user", s.State.User.Username))
	})

	b.session.AddHandler(handlers.InteractionCreate)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("opening discord session: %w", err)
	}

	appCmds := commands.SlashCommands()
	registered, err := b.session.ApplicationCommandBulkOverwrite(b.session.State.User.ID, b.cfg.GuildID, appCmds)
	if err != nil {
		return fmt.Errorf("registering slash commands: %w", err)
	}
	b.cmds = registered

	b.logger.InfoContext(ctx, "slash commands registered", slog.Int("count", len(registered)))
	return nil
}

// Stop closes the Discord connection and removes the registered commands.
func (b *Bot) Stop() error {
	for _, cmd := range b.cmds {
		if err := b.session.ApplicationCommandDelete(b.session.State.User.ID, b.cfg.GuildID, cmd.ID); err != nil {
			b.logger.Error("failed to delete command", slog.String("command", cmd.Name), slog.Any("error", err))
		}
	}
	return b.session.Close()
}

// ReportFiled posts a new report to the moderation channel. Failures are
// logged; reporting never depends on Discord being reachable.
func (b *Bot) ReportFiled(ctx context.Context, r store.Report, item store.Item) {
	if b.cfg.ModerationChannelID == "" {
		return
	}
	if _, err := b.session.ChannelMessageSend(b.cfg.ModerationChannelID, FormatReport(r, item)); err != nil {
		b.logger.WarnContext(ctx, "posting report alert failed",
			slog.String("report_id", r.ID),
			slog.Any("error", err),
		)
	}
}

// FormatReport renders a report alert.
func FormatReport(r store.Report, item store.Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, ":triangular_flag_on_post: **%s** report on **%s** (`%s`)\n", r.Reason, item.Title, item.ID)
	fmt.Fprintf(&b, "Seller: `%s` · Reporter: `%s`", item.SellerID, r.ReporterID)
	if r.Description != nil && *r.Description != "" {
		fmt.Fprintf(&b, "\n> %s", strings.ReplaceAll(*r.Description, "\n", "\n> "))
	}
	return b.String()
}
