package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MSWS/TSTats/internal/board"
	"github.com/MSWS/TSTats/internal/notify"
)

// noticePrefix namespaces the custom ids of notice controls.
const noticePrefix = "notif"

// dmSender is the part of *discordgo.Session used to deliver notices.
type dmSender interface {
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Delivery sends notices as direct messages carrying stop, snooze and
// delete controls.
type Delivery struct {
	session dmSender
}

// NewDelivery creates a Delivery over session.
func NewDelivery(session dmSender) *Delivery {
	return &Delivery{session: session}
}

// Deliver implements notify.Deliverer.
func (d *Delivery) Deliver(ctx context.Context, n notify.Notice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch, err := d.session.UserChannelCreate(n.Subscription.Owner, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to open DM channel: %w", err)
	}
	msg := &discordgo.MessageSend{Content: n.Content}
	if n.Token != "" {
		msg.Components = activeControls(n.Token)
	}
	if _, err := d.session.ChannelMessageSendComplex(ch.ID, msg, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to send DM: %w", err)
	}
	return nil
}

func customID(action notify.Action, token string) string {
	return noticePrefix + ":" + action.String() + ":" + token
}

// parseCustomID splits a notice control id. ok is false for ids that do not
// belong to notice controls.
func parseCustomID(id string) (action notify.Action, token string, ok bool) {
	parts := strings.SplitN(id, ":", 3)
	if len(parts) != 3 || parts[0] != noticePrefix || parts[2] == "" {
		return 0, "", false
	}
	action, err := notify.ParseAction(parts[1])
	if err != nil {
		return 0, "", false
	}
	return action, parts[2], true
}

// activeControls are attached to a notice whose subscription is active.
func activeControls(token string) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{Label: "Unsubscribe", Style: discordgo.DangerButton, CustomID: customID(notify.ActionStop, token)},
			discordgo.Button{Label: "Delete", Style: discordgo.SecondaryButton, CustomID: customID(notify.ActionDelete, token)},
		}},
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			snoozeMenu(token),
		}},
	}
}

// resumeControls are attached once the subscription was stopped or snoozed.
func resumeControls(token, label string) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{Label: label, Style: discordgo.SuccessButton, CustomID: customID(notify.ActionResume, token)},
			discordgo.Button{Label: "Delete", Style: discordgo.SecondaryButton, CustomID: customID(notify.ActionDelete, token)},
		}},
	}
}

// usedControls replaces the controls of a notice after a follow-up took
// them over.
func usedControls(label string) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{Label: label, Style: discordgo.DangerButton, CustomID: noticePrefix + ":used", Disabled: true},
		}},
	}
}

func snoozeMenu(token string) discordgo.SelectMenu {
	opts := make([]discordgo.SelectMenuOption, 0, len(notify.SnoozeMenu))
	for _, d := range notify.SnoozeMenu {
		opts = append(opts, discordgo.SelectMenuOption{
			Label: snoozeLabel(d),
			Value: strconv.Itoa(int(d / time.Minute)),
		})
	}
	return discordgo.SelectMenu{
		MenuType:    discordgo.StringSelectMenu,
		CustomID:    customID(notify.ActionSnooze, token),
		Placeholder: "Snooze",
		Options:     opts,
	}
}

func snoozeLabel(d time.Duration) string {
	if d >= time.Hour {
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return strconv.Itoa(h) + " hours"
	}
	return strconv.Itoa(int(d/time.Minute)) + " minutes"
}

// parseSnooze reads a snooze menu value.
func parseSnooze(values []string) (time.Duration, error) {
	if len(values) != 1 {
		return 0, fmt.Errorf("expected one snooze value, got %d", len(values))
	}
	mins, err := strconv.Atoi(values[0])
	if err != nil {
		return 0, fmt.Errorf("invalid snooze value %q", values[0])
	}
	d := time.Duration(mins) * time.Minute
	if !notify.ValidSnooze(d) {
		return 0, fmt.Errorf("snooze of %s is not offered", d)
	}
	return d, nil
}

// channelSession is the part of *discordgo.Session a board writes through.
type channelSession interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ChannelMessagesBulkDelete(channelID string, messages []string, options ...discordgo.RequestOption) error
	ChannelEdit(channelID string, data *discordgo.ChannelEdit, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

// Channels implements board.Channels with embeds.
type Channels struct {
	session channelSession
	log     *slog.Logger
}

// NewChannels creates a Channels over session.
func NewChannels(session channelSession, log *slog.Logger) *Channels {
	if log == nil {
		log = slog.Default()
	}
	return &Channels{session: session, log: log}
}

func (c *Channels) Send(ctx context.Context, channel string, card board.Card) (string, error) {
	msg, err := c.session.ChannelMessageSendEmbed(channel, cardEmbed(card), discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (c *Channels) Edit(ctx context.Context, channel, id string, card board.Card) error {
	_, err := c.session.ChannelMessageEditEmbed(channel, id, cardEmbed(card), discordgo.WithContext(ctx))
	return err
}

func (c *Channels) Delete(ctx context.Context, channel, id string) error {
	return c.session.ChannelMessageDelete(channel, id, discordgo.WithContext(ctx))
}

// Purge deletes up to limit recent messages. Messages too old for a bulk
// delete are removed one by one.
func (c *Channels) Purge(ctx context.Context, channel string, limit int) error {
	msgs, err := c.session.ChannelMessages(channel, limit, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to list messages: %w", err)
	}
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	if len(ids) > 1 {
		err := c.session.ChannelMessagesBulkDelete(channel, ids, discordgo.WithContext(ctx))
		if err == nil {
			return nil
		}
		c.log.Debug("Bulk delete failed, deleting individually", "channel", channel, "error", err)
	}
	for _, id := range ids {
		if err := c.session.ChannelMessageDelete(channel, id, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("failed to delete message %s: %w", id, err)
		}
	}
	return nil
}

func (c *Channels) SetTopic(ctx context.Context, channel, topic string) error {
	_, err := c.session.ChannelEdit(channel, &discordgo.ChannelEdit{Topic: topic}, discordgo.WithContext(ctx))
	return err
}

func cardEmbed(card board.Card) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:       card.Title,
		Description: card.Description,
		Color:       card.Color,
	}
	for _, f := range card.Fields {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	if card.Footer != "" {
		e.Footer = &discordgo.MessageEmbedFooter{Text: card.Footer}
	}
	if card.Image != "" {
		e.Image = &discordgo.MessageEmbedImage{URL: card.Image}
	}
	if !card.Timestamp.IsZero() {
		e.Timestamp = card.Timestamp.Format(time.RFC3339)
	}
	return e
}
