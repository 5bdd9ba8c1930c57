// Package bot wires the Discord gateway to the relay core: DM events,
// staff channel events, command routing, and startup recovery.
package bot

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/robfig/cron/v3"

	"github.com/castellan/mailroom/internal/attachments"
	"github.com/castellan/mailroom/internal/chat"
	"github.com/castellan/mailroom/internal/config"
	"github.com/castellan/mailroom/internal/hooks"
	"github.com/castellan/mailroom/internal/logs"
	"github.com/castellan/mailroom/internal/store"
	"github.com/castellan/mailroom/internal/thread"
	"github.com/castellan/mailroom/internal/updates"
)

// Version is stamped at build time.
var Version = "dev"

// Bot owns the gateway session and the relay collaborators.
type Bot struct {
	cfg       *config.Config
	session   *discordgo.Session
	messenger chat.Messenger
	store     *store.Store
	manager   *thread.Manager
	logs      *logs.Manager
	cron      *cron.Cron
}

// New builds the bot and its collaborators from an open configuration.
func New(cfg *config.Config, st *store.Store) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("bot: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	messenger := chat.NewDiscord(session)

	attStorage, err := attachments.NewStorage(cfg, messenger)
	if err != nil {
		return nil, err
	}
	logStorage, err := logs.NewStorage(cfg)
	if err != nil {
		return nil, err
	}

	registry := hooks.NewRegistry()
	manager := thread.NewManager(cfg, st, messenger, registry, attStorage)
	logManager := logs.NewManager(st, logStorage)

	b := &Bot{
		cfg:       cfg,
		session:   session,
		messenger: messenger,
		store:     st,
		manager:   manager,
		logs:      logManager,
		cron:      cron.New(),
	}
	b.registerHooks(registry)

	session.AddHandler(b.onReady)
	session.AddHandler(b.onMessageCreate)
	session.AddHandler(b.onMessageUpdate)
	session.AddHandler(b.onMessageDelete)
	return b, nil
}

// Manager exposes the relay core, mainly for tests.
func (b *Bot) Manager() *thread.Manager { return b.manager }

// Start opens the gateway connection and the cron schedule. It returns once
// connected; Stop tears everything down.
func (b *Bot) Start(ctx context.Context) error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("bot: open gateway: %w", err)
	}

	if b.cfg.UpdateNotifications {
		checker := updates.NewChecker(Version, b.cfg.LogChannelID, b.messenger)
		if err := checker.Schedule(b.cron, b.cfg.UpdateCheckSchedule); err != nil {
			return err
		}
	}
	b.cron.Start()
	return nil
}

// Stop closes the gateway, the cron schedule, and the creation serializer.
func (b *Bot) Stop() {
	cronCtx := b.cron.Stop()
	<-cronCtx.Done()
	b.manager.Shutdown()
	if err := b.session.Close(); err != nil {
		log.Printf("bot: close gateway: %v", err)
	}
}

// registerHooks installs the built-in extension points: the accidental
// thread guard and transcript save on close.
func (b *Bot) registerHooks(registry *hooks.Registry) {
	if b.cfg.IgnoreAccidentalThreads {
		registry.OnBeforeNewThread(b.accidentalThreadGuard)
	}
	registry.OnAfterThreadClose(func(ctx context.Context, ev *hooks.ThreadEvent) error {
		if err := b.logs.SaveOnClose(ctx, ev.Thread); err != nil {
			log.Printf("bot: save transcript for thread #%d: %v", ev.Thread.ThreadNumber, err)
		}
		return nil
	})
}

// accidentalThreadMessages are bare pleasantries that should not reopen a
// conversation right after a close.
var accidentalThreadMessages = []string{
	"ok", "okay", "thanks", "thank you", "thx", "ty", "k", "kk",
	"no problem", "np", "yes", "no", "cool", "nice", "alright",
}

// accidentalThreadGuard cancels creation when the triggering DM is a bare
// pleasantry sent shortly after the user's previous thread closed.
func (b *Bot) accidentalThreadGuard(_ context.Context, ev *hooks.NewThreadEvent) error {
	if ev.Message == nil {
		return nil
	}
	content := strings.ToLower(strings.TrimSpace(strings.Trim(ev.Message.Content, "!.? ")))
	accidental := false
	for _, phrase := range accidentalThreadMessages {
		if content == phrase {
			accidental = true
			break
		}
	}
	if !accidental {
		return nil
	}

	recent, err := b.store.ClosedThreadsByUserID(ev.User.ID, 1, 1)
	if err != nil || len(recent) == 0 {
		return nil
	}
	latest, err := b.store.LatestUserFacingMessage(recent[0].ID)
	if err != nil {
		return nil
	}
	if time.Since(latest.CreatedAt) < 5*time.Minute {
		log.Printf("bot: ignored accidental thread message from %s", ev.User.ID)
		ev.Cancel = true
	}
	return nil
}

// onReady sets the status message and replays DMs missed during downtime.
func (b *Bot) onReady(s *discordgo.Session, _ *discordgo.Ready) {
	if b.cfg.StatusMessage != "" {
		if err := s.UpdateCustomStatus(b.cfg.StatusMessage); err != nil {
			log.Printf("bot: set status: %v", err)
		}
	}
	log.Printf("bot: connected as %s", s.State.User.Username)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := b.manager.RecoverDowntimeMessages(ctx); err != nil {
			log.Printf("bot: downtime recovery: %v", err)
		}
	}()
}
