package bot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/MSWS/TSTats/internal/config"
	"github.com/MSWS/TSTats/internal/metrics"
	"github.com/MSWS/TSTats/internal/notify"
	"github.com/MSWS/TSTats/internal/query"
	"github.com/MSWS/TSTats/internal/schedule"
	"github.com/MSWS/TSTats/internal/server"
)

// Monitor is the server and subscription surface the commands drive.
// *monitor.Monitor implements it.
type Monitor interface {
	Register(ctx context.Context, rec *server.Record) error
	Deregister(ctx context.Context, scope, name string) error
	ApplyExternalEdit(ctx context.Context, rec *server.Record) error
	Server(scope, name string) (*server.Record, bool)
	Servers(scope string) []*server.Record
	Subscribe(ctx context.Context, sub notify.Subscription) (bool, error)
	ListSubscriptions(owner string, f notify.Filter) []notify.Subscription
	ClearSubscriptions(ctx context.Context, owner string, f notify.Filter) int
	Totals() (players, servers int)
}

// Bot represents the Discord bot instance
type Bot struct {
	config   *config.Config
	session  *discordgo.Session
	monitor  Monitor
	control  *notify.Controller
	metrics  *metrics.Metrics
	kinds    []query.KindInfo
	log      *slog.Logger
	commands []*discordgo.ApplicationCommand
	presence *schedule.Task
}

// NewSession creates the Discord session for cfg.
func NewSession(cfg *config.Config) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	// Set intents
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages
	return session, nil
}

// New creates a new Bot instance over an existing session
func New(cfg *config.Config, session *discordgo.Session, mon Monitor, control *notify.Controller, kinds []query.KindInfo, m *metrics.Metrics, log *slog.Logger) *Bot {
	if log == nil {
		log = slog.Default()
	}
	b := &Bot{
		config:  cfg,
		session: session,
		monitor: mon,
		control: control,
		metrics: m,
		kinds:   kinds,
		log:     log,
	}

	// Register event handlers
	b.registerHandlers()

	return b
}

// Start opens the Discord connection, registers commands and starts the
// presence loop
func (b *Bot) Start(ctx context.Context) error {
	// Open Discord connection
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}

	b.log.Info("Connected to Discord", "user", b.session.State.User.Username)

	// Register slash commands
	if err := b.registerCommands(); err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}

	b.presence = schedule.Start(ctx, 0, b.config.TopicRateDuration(), b.updatePresence)
	return nil
}

// Stop gracefully shuts down the bot
func (b *Bot) Stop() error {
	if b.presence != nil {
		b.presence.Stop()
	}

	// Close Discord session
	if b.session != nil {
		return b.session.Close()
	}

	return nil
}

// registerHandlers sets up Discord event handlers
func (b *Bot) registerHandlers() {
	b.session.AddHandler(b.handleInteraction)
	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.log.Info("Bot is ready", "guilds", len(r.Guilds))
	})
}

// handleInteraction routes slash commands and notice controls
func (b *Bot) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		b.handleCommand(s, i)
	case discordgo.InteractionMessageComponent:
		b.handleComponent(s, i)
	}
}

func (b *Bot) updatePresence(ctx context.Context) {
	players, servers := b.monitor.Totals()
	b.metrics.SetTotals(players, servers)
	if err := b.session.UpdateWatchStatus(0, presenceText(players, servers)); err != nil {
		b.log.Warn("Failed to update presence", "error", err)
	}
}

func presenceText(players, servers int) string {
	return fmt.Sprintf("%d player%s across %d server%s", players, plural(players), servers, plural(servers))
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
