// Package discord hosts the behavior engine on Discord. Every channel is one
// agent: user messages run through the pipeline and notices about phase
// changes, consent prompts and safety resources are posted back.
package discord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/keshon/behavior-sim/internal/behavior"
	"github.com/keshon/behavior-sim/internal/engine"
	"github.com/keshon/behavior-sim/pkg/cmd"
	"github.com/keshon/behavior-sim/pkg/ratelimit"
)

type Options struct {
	HistorySize int
	// Explicit turns explicit mode on for every channel.
	Explicit bool
	// RatePerSecond and Burst limit processed messages per channel.
	RatePerSecond float64
	Burst         int
	// Timeout bounds the pipeline work of one message.
	Timeout time.Duration
	// CacheDir stores per-guild command hashes; empty disables the cache.
	CacheDir string
	Logger   zerolog.Logger
}

// sender is the part of the session used to post to channels.
type sender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Bot is a Discord bot
type Bot struct {
	dg       *discordgo.Session
	out      sender
	engine   *engine.Engine
	history  *history
	limiter  *ratelimit.Keyed
	commands *cmd.Registry
	retry    ratelimit.RetryConfig
	opts     Options
	logger   zerolog.Logger
	ctx      context.Context
}

func New(eng *engine.Engine, opts Options) *Bot {
	if opts.HistorySize <= 0 {
		opts.HistorySize = 20
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	logger := opts.Logger.With().Str("component", "discord").Logger()
	retry := ratelimit.DefaultRetryConfig()
	retry.Classify = restStatus
	retry.Logger = logger
	b := &Bot{
		engine:   eng,
		history:  newHistory(opts.HistorySize),
		limiter:  ratelimit.NewKeyed(opts.RatePerSecond, opts.Burst, 30*time.Minute),
		commands: cmd.NewRegistry(),
		retry:    retry,
		opts:     opts,
		logger:   logger,
		ctx:      context.Background(),
	}
	b.registerSlashCommands()
	return b
}

// Run connects and serves until ctx ends.
func (b *Bot) Run(ctx context.Context, token string) error {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	b.dg = dg
	b.out = dg
	b.ctx = ctx

	dg.Identify.Intents = discordgo.IntentGuilds | discordgo.IntentGuildMessages | discordgo.IntentMessageContent
	dg.AddHandler(b.onReady)
	dg.AddHandler(b.onGuildCreate)
	dg.AddHandler(b.onMessageCreate)
	dg.AddHandler(b.onInteractionCreate)

	if err := dg.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}
	defer dg.Close()

	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.limiter.Sweep()
			}
		}
	}()

	<-ctx.Done()
	b.logger.Info().Msg("shutdown signal received, closing session")
	return nil
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	for _, g := range r.Guilds {
		if err := b.registerCommands(g.ID); err != nil {
			b.logger.Error().Err(err).Str("guild", g.ID).Msg("register slash commands")
		}
	}
	b.logger.Info().Str("user", r.User.Username).Int("guilds", len(r.Guilds)).Msg("discord bot is running")
}

func (b *Bot) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	if err := b.registerCommands(g.ID); err != nil {
		b.logger.Error().Err(err).Str("guild", g.ID).Msg("register slash commands")
	}
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID {
		return
	}
	msg := behavior.Message{ID: m.ID, Role: behavior.RoleUser, Content: m.Content, At: m.Timestamp}
	if m.Author.Bot {
		msg.Role = behavior.RoleAssistant
	}

	ctx, cancel := context.WithTimeout(b.ctx, b.opts.Timeout)
	defer cancel()
	for _, r := range b.handleMessage(ctx, m.ChannelID, msg) {
		if err := b.send(ctx, m.ChannelID, r); err != nil {
			b.logger.Error().Err(err).Str("channel", m.ChannelID).Msg("post notice")
		}
	}
}

// handleMessage records msg in the channel history and, for user messages,
// runs it through the engine. It returns the notices to post.
func (b *Bot) handleMessage(ctx context.Context, channelID string, msg behavior.Message) []string {
	prior := b.history.add(channelID, msg)
	if msg.Role != behavior.RoleUser {
		return nil
	}
	if !b.limiter.Allow(channelID) {
		b.logger.Debug().Str("channel", channelID).Msg("message skipped by rate limit")
		return nil
	}

	d, err := b.engine.Process(ctx, engine.Input{
		AgentID:  channelID,
		Message:  msg,
		History:  prior,
		Explicit: b.opts.Explicit,
	})
	if err != nil {
		b.logger.Error().Err(err).Str("channel", channelID).Msg("process message")
		return nil
	}
	for _, w := range d.Warnings {
		b.logger.Warn().Str("channel", channelID).Str("warning", w).Msg("pipeline degraded")
	}
	return notices(d)
}

// send posts text to a channel, retrying transient API failures.
func (b *Bot) send(ctx context.Context, channelID, text string) error {
	if b.out == nil {
		return errors.New("discord session is not open")
	}
	for _, chunk := range chunks(text, maxMessageLen) {
		err := ratelimit.Retry(ctx, b.retry, func(context.Context) error {
			_, err := b.out.ChannelMessageSend(channelID, chunk)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// restStatus reads the HTTP status of a Discord REST failure.
func restStatus(err error) int {
	var re *discordgo.RESTError
	if errors.As(err, &re) && re.Response != nil {
		return re.Response.StatusCode
	}
	return ratelimit.StatusOf(err)
}
