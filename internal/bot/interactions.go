package bot

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MSWS/TSTats/internal/notify"
)

// componentResult is how a notice control press is answered.
type componentResult struct {
	Response *discordgo.InteractionResponse
	// FollowUp is posted after Response when the original notice keeps its
	// text and the confirmation goes into a new message.
	FollowUp *discordgo.WebhookParams
	// DeleteMessage removes the notice the control belongs to.
	DeleteMessage bool
}

func ephemeral(content string) componentResult {
	return componentResult{Response: &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content, Flags: discordgo.MessageFlagsEphemeral},
	}}
}

// isConfirmation reports whether a message is a confirmation posted by a
// previous control press rather than the original notice.
func isConfirmation(content string) bool {
	return strings.HasPrefix(content, "You will") || strings.HasPrefix(content, "Snoozed")
}

// componentReply builds the answer to a control press. current is the text
// of the message the control is attached to.
func componentReply(token, current string, out notify.Outcome, err error) componentResult {
	switch {
	case errors.Is(err, notify.ErrNotOwner):
		return ephemeral("This notification belongs to someone else.")
	case errors.Is(err, notify.ErrUnknownToken):
		return ephemeral("This notification has expired.")
	case errors.Is(err, notify.ErrNotSubscribed):
		return ephemeral("You are no longer subscribed to this.")
	case err != nil:
		return ephemeral("Something went wrong, please try again.")
	}

	var next []discordgo.MessageComponent
	var used string
	switch out.Action {
	case notify.ActionDelete:
		return componentResult{
			Response:      &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate},
			DeleteMessage: true,
		}
	case notify.ActionStop:
		next, used = resumeControls(token, "Re-subscribe"), "Unsubscribed"
	case notify.ActionSnooze:
		next, used = resumeControls(token, "Resume now"), "Snoozed"
	case notify.ActionResume:
		next, used = activeControls(token), "Resumed"
	default:
		return ephemeral("Something went wrong, please try again.")
	}

	if isConfirmation(current) {
		return componentResult{Response: &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseUpdateMessage,
			Data: &discordgo.InteractionResponseData{Content: out.Message, Components: next},
		}}
	}
	return componentResult{
		Response: &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseUpdateMessage,
			Data: &discordgo.InteractionResponseData{Content: current, Components: usedControls(used)},
		},
		FollowUp: &discordgo.WebhookParams{Content: out.Message, Components: next},
	}
}

// handleComponent processes presses on notice controls.
func (b *Bot) handleComponent(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.MessageComponentData()
	action, token, ok := parseCustomID(data.CustomID)
	if !ok {
		return
	}

	cmd := notify.Command{Action: action, Token: token, Actor: interactionUser(i)}
	if action == notify.ActionSnooze {
		d, err := parseSnooze(data.Values)
		if err != nil {
			b.log.Warn("Invalid snooze selection", "values", data.Values, "error", err)
			b.respondComponent(s, i, ephemeral("That snooze duration is not available."))
			return
		}
		cmd.Duration = d
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out, err := b.control.Handle(ctx, cmd)
	if err != nil && !errors.Is(err, notify.ErrNotOwner) && !errors.Is(err, notify.ErrUnknownToken) && !errors.Is(err, notify.ErrNotSubscribed) {
		b.log.Error("Failed to apply notice control", "action", action, "user", cmd.Actor, "error", err)
	}

	current := ""
	if i.Message != nil {
		current = i.Message.Content
	}
	b.respondComponent(s, i, componentReply(token, current, out, err))
}

func (b *Bot) respondComponent(s *discordgo.Session, i *discordgo.InteractionCreate, res componentResult) {
	if err := s.InteractionRespond(i.Interaction, res.Response); err != nil {
		b.log.Error("Failed to respond to interaction", "error", err)
		return
	}
	if res.DeleteMessage && i.Message != nil {
		if err := s.ChannelMessageDelete(i.ChannelID, i.Message.ID); err != nil {
			b.log.Warn("Failed to delete notice", "channel", i.ChannelID, "error", err)
		}
	}
	if res.FollowUp != nil {
		if _, err := s.FollowupMessageCreate(i.Interaction, false, res.FollowUp); err != nil {
			b.log.Error("Failed to send follow-up", "error", err)
		}
	}
}

// handleCommand processes slash commands.
func (b *Bot) handleCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	in := invocation{Guild: i.GuildID, Channel: i.ChannelID, User: interactionUser(i)}
	b.log.Debug("Received command", "command", data.Name, "guild", in.Guild, "user", in.User)

	if in.Guild == "" {
		b.respondWithReply(s, i, failure("This must be used in a guild."))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	b.respondWithReply(s, i, b.runCommand(ctx, in, data))
}

func interactionUser(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func (b *Bot) respondWithReply(s *discordgo.Session, i *discordgo.InteractionCreate, r reply) {
	data := &discordgo.InteractionResponseData{Content: r.Content}
	// at most 10 embeds per message
	if len(r.Embeds) > 10 {
		data.Embeds = r.Embeds[:10]
	} else {
		data.Embeds = r.Embeds
	}
	if r.Ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	}); err != nil {
		b.log.Error("Failed to respond to command", "error", err)
		return
	}
	for rest := r.Embeds[min(len(r.Embeds), 10):]; len(rest) > 0; rest = rest[min(len(rest), 10):] {
		params := &discordgo.WebhookParams{Embeds: rest[:min(len(rest), 10)]}
		if r.Ephemeral {
			params.Flags = discordgo.MessageFlagsEphemeral
		}
		if _, err := s.FollowupMessageCreate(i.Interaction, false, params); err != nil {
			b.log.Error("Failed to send follow-up", "error", err)
			return
		}
	}
}
