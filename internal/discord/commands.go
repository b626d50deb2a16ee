package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/keshon/behavior-sim/internal/behavior"
	"github.com/keshon/behavior-sim/pkg/cmd"
	"github.com/keshon/behavior-sim/pkg/ratelimit"
)

const (
	cmdStatus = "behavior-status"
	cmdEnable = "behavior-enable"
	cmdReset  = "behavior-reset"
	cmdRevoke = "consent-revoke"
)

var errUnknownCommand = errors.New("unknown command")

func categoryOption(required bool) *discordgo.ApplicationCommandOption {
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(behavior.AllCategories))
	for _, c := range behavior.AllCategories {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: string(c), Value: string(c)})
	}
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "category",
		Description: "Behavior category",
		Required:    required,
		Choices:     choices,
	}
}

// slashCall is the payload of a slash command invocation. Commands set embed.
type slashCall struct {
	data  discordgo.ApplicationCommandInteractionData
	opts  map[string]*discordgo.ApplicationCommandInteractionDataOption
	embed *discordgo.MessageEmbed
}

func (c *slashCall) category() behavior.Category {
	if o, ok := c.opts["category"]; ok {
		return behavior.Category(o.StringValue())
	}
	return ""
}

// slashCommand adapts a Discord command definition to cmd.Command.
type slashCommand struct {
	def *discordgo.ApplicationCommand
	run func(ctx context.Context, agentID string, call *slashCall) error
}

func (c *slashCommand) Name() string        { return c.def.Name }
func (c *slashCommand) Description() string { return c.def.Description }

func (c *slashCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	call, ok := inv.Data.(*slashCall)
	if !ok {
		return cmd.ErrInvalidInvocation
	}
	return c.run(ctx, inv.Scope, call)
}

// withCommandLog logs every slash command run with its outcome.
func withCommandLog(logger zerolog.Logger) cmd.Middleware {
	return func(c cmd.Command) cmd.Command {
		return cmd.Wrap(c, func(ctx context.Context, inv *cmd.Invocation) error {
			start := time.Now()
			err := c.Run(ctx, inv)
			ev := logger.Info()
			if err != nil {
				ev = logger.Warn().Err(err)
			}
			ev.Str("command", c.Name()).Str("channel", inv.Scope).Dur("took", time.Since(start)).Msg("slash command")
			return err
		})
	}
}

// registerSlashCommands fills the bot's command registry.
func (b *Bot) registerSlashCommands() {
	manage := int64(discordgo.PermissionManageChannels)
	commands := []*slashCommand{
		{
			def: &discordgo.ApplicationCommand{
				Name:                     cmdEnable,
				Description:              "Enable a behavior in this channel",
				DefaultMemberPermissions: &manage,
				Options: []*discordgo.ApplicationCommandOption{
					categoryOption(true),
					{
						Type:        discordgo.ApplicationCommandOptionNumber,
						Name:        "baseline",
						Description: "Starting baseline intensity, 0 to 1",
					},
				},
			},
			run: b.enable,
		},
		{
			def: &discordgo.ApplicationCommand{
				Name:                     cmdReset,
				Description:              "Return a behavior to phase 1",
				DefaultMemberPermissions: &manage,
				Options:                  []*discordgo.ApplicationCommandOption{categoryOption(true)},
			},
			run: b.reset,
		},
		{
			def: &discordgo.ApplicationCommand{
				Name:        cmdStatus,
				Description: "Show the behaviors of this channel",
			},
			run: b.status,
		},
		{
			def: &discordgo.ApplicationCommand{
				Name:        cmdRevoke,
				Description: "Withdraw consent given in this channel",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "key",
						Description: "Consent key; all consents when empty",
					},
				},
			},
			run: b.revoke,
		},
	}
	for _, c := range commands {
		if err := b.commands.Register(c, withCommandLog(b.logger)); err != nil {
			panic(err)
		}
	}
}

// commandDefinitions lists the registered slash commands, sorted by name.
func (b *Bot) commandDefinitions() []*discordgo.ApplicationCommand {
	var defs []*discordgo.ApplicationCommand
	for _, c := range b.commands.All() {
		if sc, ok := cmd.Root(c).(*slashCommand); ok {
			defs = append(defs, sc.def)
		}
	}
	return defs
}

// runCommand executes a slash command for the channel's agent.
func (b *Bot) runCommand(ctx context.Context, channelID string, data discordgo.ApplicationCommandInteractionData) (*discordgo.MessageEmbed, error) {
	c := b.commands.Get(data.Name)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", errUnknownCommand, data.Name)
	}
	call := &slashCall{data: data, opts: make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(data.Options))}
	for _, o := range data.Options {
		call.opts[o.Name] = o
	}
	if err := c.Run(ctx, &cmd.Invocation{Scope: channelID, Data: call}); err != nil {
		return nil, err
	}
	return call.embed, nil
}

func (b *Bot) enable(ctx context.Context, agentID string, call *slashCall) error {
	var po behavior.ProfileOptions
	if o, ok := call.opts["baseline"]; ok {
		v := o.FloatValue()
		po.Baseline = &v
	}
	p, err := b.engine.EnableBehavior(ctx, agentID, call.category(), po)
	if err != nil {
		return err
	}
	call.embed = &discordgo.MessageEmbed{
		Title:       "Behavior enabled",
		Description: fmt.Sprintf("**%s** at phase %d, baseline %.2f", p.Category, p.CurrentPhase, p.BaselineIntensity),
		Color:       EmbedColor,
	}
	return nil
}

func (b *Bot) reset(ctx context.Context, agentID string, call *slashCall) error {
	p, err := b.engine.ResetPhase(ctx, agentID, call.category())
	if err != nil {
		return err
	}
	call.embed = &discordgo.MessageEmbed{
		Title:       "Phase reset",
		Description: fmt.Sprintf("**%s** is back at phase %d", p.Category, p.CurrentPhase),
		Color:       EmbedColor,
	}
	return nil
}

func (b *Bot) revoke(ctx context.Context, agentID string, call *slashCall) error {
	if o, ok := call.opts["key"]; ok && o.StringValue() != "" {
		key := o.StringValue()
		if err := b.engine.RevokeConsent(ctx, agentID, key); err != nil {
			return err
		}
		call.embed = &discordgo.MessageEmbed{Title: "Consent revoked", Description: key, Color: EmbedColor}
		return nil
	}
	if err := b.engine.RevokeAllConsent(ctx, agentID); err != nil {
		return err
	}
	call.embed = &discordgo.MessageEmbed{Title: "Consent revoked", Description: "All consents of this channel were withdrawn.", Color: EmbedColor}
	return nil
}

func (b *Bot) status(ctx context.Context, agentID string, call *slashCall) error {
	st, err := b.engine.State(ctx, agentID)
	if err != nil {
		return err
	}
	keys, err := b.engine.Consents(ctx, agentID)
	if err != nil {
		return err
	}

	embed := &discordgo.MessageEmbed{Title: "Behavior status", Color: EmbedColor}
	call.embed = embed
	if len(st.Profiles) == 0 {
		embed.Description = "No behaviors in this channel. Use /" + cmdEnable + " to add one."
		return nil
	}
	phases := b.engine.Tables().Phases
	for _, p := range st.Profiles {
		state := "enabled"
		if !p.Enabled {
			state = "disabled"
		}
		value := fmt.Sprintf("phase %d (%s) · baseline %.2f · %s",
			p.CurrentPhase, phases.Rules(p.Category).Name(p.CurrentPhase), p.BaselineIntensity, state)
		if v, ok := st.Progression.CachedIntensities[p.Category]; ok {
			value += fmt.Sprintf(" · intensity %.2f", v)
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: string(p.Category), Value: value})
	}
	var lines []string
	if len(keys) > 0 {
		lines = append(lines, "Consents: "+strings.Join(keys, ", "))
	}
	if len(st.PendingConsent) > 0 {
		lines = append(lines, "Awaiting consent: "+strings.Join(st.PendingConsent, ", "))
	}
	embed.Description = strings.Join(lines, "\n")
	embed.Footer = &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("%d interactions", st.Progression.TotalInteractions)}
	return nil
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()

	ctx, cancel := context.WithTimeout(b.ctx, b.opts.Timeout)
	defer cancel()
	embed, err := b.runCommand(ctx, i.ChannelID, data)
	if err != nil {
		embed = &discordgo.MessageEmbed{Title: "Command failed", Description: err.Error(), Color: EmbedColor}
		err = RespondEmbedEphemeral(s, i, embed)
	} else {
		err = RespondEmbed(s, i, embed)
	}
	if err != nil {
		b.logger.Error().Err(err).Str("command", data.Name).Msg("respond to interaction")
	}
}

// registerCommands replaces the guild's slash commands when their definitions changed.
func (b *Bot) registerCommands(guildID string) error {
	defs := b.commandDefinitions()
	hash := hashDefinitions(defs)
	if cached, ok := loadCommandHash(b.opts.CacheDir, guildID); ok && cached == hash {
		b.logger.Debug().Str("guild", guildID).Msg("slash commands unchanged")
		return nil
	}

	appID := b.dg.State.User.ID
	err := ratelimit.Retry(b.ctx, b.retry, func(context.Context) error {
		_, err := b.dg.ApplicationCommandBulkOverwrite(appID, guildID, defs)
		return err
	})
	if err != nil {
		return fmt.Errorf("overwrite commands for guild %s: %w", guildID, err)
	}
	if err := saveCommandHash(b.opts.CacheDir, guildID, hash); err != nil {
		b.logger.Warn().Err(err).Str("guild", guildID).Msg("save command hash")
	}
	b.logger.Info().Str("guild", guildID).Int("commands", len(defs)).Msg("slash commands registered")
	return nil
}
