package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/MSWS/TSTats/internal/board"
	"github.com/MSWS/TSTats/internal/monitor"
	"github.com/MSWS/TSTats/internal/notify"
	"github.com/MSWS/TSTats/internal/server"
)

// reply is the response to a slash command.
type reply struct {
	Content   string
	Embeds    []*discordgo.MessageEmbed
	Ephemeral bool
}

func failure(content string) reply {
	return reply{Content: content, Ephemeral: true}
}

// args holds the string and channel options of a command by name.
type args map[string]string

func optionArgs(opts []*discordgo.ApplicationCommandInteractionDataOption) args {
	out := make(args, len(opts))
	for _, o := range opts {
		if v, ok := o.Value.(string); ok {
			out[o.Name] = strings.TrimSpace(v)
		}
	}
	return out
}

// invocation is who ran a command and where.
type invocation struct {
	Guild   string
	Channel string
	User    string
}

// buildKindChoices creates the query kind choices for slash commands
func (b *Bot) buildKindChoices() []*discordgo.ApplicationCommandOptionChoice {
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(b.kinds))
	for _, k := range b.kinds {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{
			Name:  string(k.Kind),
			Value: string(k.Kind),
		})
	}
	return choices
}

// Slash command definitions
func (b *Bot) getCommandDefinitions() []*discordgo.ApplicationCommand {
	manage := int64(discordgo.PermissionManageServer)
	noDM := false

	nameOpt := func(desc string) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        "name",
			Description: desc,
			Required:    true,
		}
	}
	channelOpt := func(required bool) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:         discordgo.ApplicationCommandOptionChannel,
			Name:         "channel",
			Description:  "The channel to log server status to",
			Required:     required,
			ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
		}
	}
	editSub := func(name, desc string, value *discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Name:        name,
			Description: desc,
			Options:     []*discordgo.ApplicationCommandOption{nameOpt("The server to edit"), value},
		}
	}
	stringOpt := func(name, desc string, required bool) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        name,
			Description: desc,
			Required:    required,
		}
	}
	typeOpt := func(required bool) *discordgo.ApplicationCommandOption {
		o := stringOpt("type", "The type of game", required)
		o.Choices = b.buildKindChoices()
		return o
	}

	notifyTypes := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(notify.Kinds)+2)
	for _, k := range notify.Kinds {
		notifyTypes = append(notifyTypes, &discordgo.ApplicationCommandOptionChoice{Name: k.Summary(), Value: string(k)})
	}
	notifyTypes = append(notifyTypes,
		&discordgo.ApplicationCommandOptionChoice{Name: "List", Value: "LIST"},
		&discordgo.ApplicationCommandOptionChoice{Name: "Clear", Value: "CLEAR"},
	)

	return []*discordgo.ApplicationCommand{
		{
			Name:                     "addserver",
			Description:              "Adds a server to the bot",
			DefaultMemberPermissions: &manage,
			DMPermission:             &noDM,
			Options: []*discordgo.ApplicationCommandOption{
				nameOpt("The name of the server"),
				stringOpt("ip", "The IP of the server", true),
				typeOpt(false),
				channelOpt(false),
				stringOpt("image", "Graph link if available", false),
				stringOpt("color", "Hex color if desired", false),
			},
		},
		{
			Name:                     "deleteserver",
			Description:              "Deletes a server from the bot",
			DefaultMemberPermissions: &manage,
			DMPermission:             &noDM,
			Options:                  []*discordgo.ApplicationCommandOption{nameOpt("The name of the server to delete")},
		},
		{
			Name:                     "editserver",
			Description:              "Edits a specified server. Specify \"none\" to reset.",
			DefaultMemberPermissions: &manage,
			DMPermission:             &noDM,
			Options: []*discordgo.ApplicationCommandOption{
				editSub("ip", "Edits the IP of the server", stringOpt("ip", "The IP to change to", true)),
				editSub("channel", "Edits the channel that the server is logged to", channelOpt(true)),
				editSub("type", "Edits the type of server", typeOpt(true)),
				editSub("color", "Sets the color of the embed (overrides auto-coloring)", stringOpt("color", "The color to change to", true)),
				editSub("image", "Sets the image that is embedded", stringOpt("image", "The link to the image", true)),
			},
		},
		{
			Name:         "servers",
			Description:  "Lists servers in the discord",
			DMPermission: &noDM,
		},
		{
			Name:         "notify",
			Description:  "Toggles notification for when a server's status changes",
			DMPermission: &noDM,
			Options: []*discordgo.ApplicationCommandOption{
				stringOpt("server", "The server whose status will be monitored", true),
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "type",
					Description: "The thing to monitor",
					Required:    true,
					Choices:     notifyTypes,
				},
				stringOpt("value", "The name of the map / player to notify", false),
			},
		},
	}
}

// registerCommands registers all slash commands with Discord
func (b *Bot) registerCommands() error {
	b.log.Info("Registering slash commands")

	appID := b.config.DiscordApplicationID
	if appID == "" {
		appID = b.session.State.User.ID
	}

	commandDefinitions := b.getCommandDefinitions()
	registeredCommands := make([]*discordgo.ApplicationCommand, 0, len(commandDefinitions))

	for _, cmd := range commandDefinitions {
		registered, err := b.session.ApplicationCommandCreate(
			appID,
			"", // Empty string = global command
			cmd,
		)
		if err != nil {
			return fmt.Errorf("failed to register command %s: %w", cmd.Name, err)
		}
		registeredCommands = append(registeredCommands, registered)
		b.log.Debug("Registered command", "name", cmd.Name)
	}

	b.commands = registeredCommands
	b.log.Info("Slash commands registered", "count", len(registeredCommands))
	return nil
}

func (b *Bot) validKind(kind string) bool {
	for _, k := range b.kinds {
		if string(k.Kind) == kind {
			return true
		}
	}
	return false
}

// normaliseColor accepts a hex colour or "none". ok is false for anything
// else.
func normaliseColor(s string) (string, bool) {
	if s == "" || strings.EqualFold(s, "none") {
		return "", true
	}
	c, ok := board.ParseColor(s)
	if !ok {
		return "", false
	}
	return board.FormatColor(c), true
}

func possessive(name string) string {
	if strings.HasSuffix(strings.ToLower(name), "s") {
		return name + "'"
	}
	return name + "'s"
}

func (b *Bot) addServer(ctx context.Context, in invocation, a args) reply {
	name, ip := a["name"], a["ip"]
	if name == "" || ip == "" {
		return failure("You must specify a server name and IP.")
	}
	channel := a["channel"]
	if channel == "" {
		channel = in.Channel
	}
	kind := a["type"]
	if kind == "" {
		kind = server.DefaultKind
	}
	if !b.validKind(kind) {
		return failure(fmt.Sprintf("Unknown game type `%s`.", kind))
	}
	color, ok := normaliseColor(a["color"])
	if !ok {
		return failure(fmt.Sprintf("Invalid color `%s`, use a hex color such as #ff8800.", a["color"]))
	}

	rec := server.New(in.Guild, name, ip, kind, channel)
	rec.Color = color
	rec.Image = a["image"]
	if err := b.monitor.Register(ctx, rec); err != nil {
		if errors.Is(err, monitor.ErrDuplicateServer) {
			return failure("A server already exists by that name.")
		}
		b.log.Error("Failed to register server", "guild", in.Guild, "server", name, "error", err)
		return failure("Failed to add the server. Please try again.")
	}

	colorText := rec.Color
	if colorText == "" {
		colorText = "Dynamic"
	}
	embed := &discordgo.MessageEmbed{
		Title:       "Success",
		Description: fmt.Sprintf("Added %s (%s) to <#%s>.", rec.Name, rec.Address, rec.Channel),
		Color:       0x2ECC71,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Game", Value: rec.Kind, Inline: true},
			{Name: "Color", Value: colorText, Inline: true},
		},
	}
	if rec.Image != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Image", Value: rec.Image, Inline: true})
	}
	return reply{Embeds: []*discordgo.MessageEmbed{embed}}
}

func (b *Bot) deleteServer(ctx context.Context, in invocation, a args) reply {
	rec, ok := b.monitor.Server(in.Guild, a["name"])
	if !ok {
		return failure("Unknown server specified.")
	}
	if err := b.monitor.Deregister(ctx, in.Guild, rec.Name); err != nil {
		b.log.Error("Failed to deregister server", "guild", in.Guild, "server", rec.Name, "error", err)
		return failure("Failed to delete the server. Please try again.")
	}
	return reply{Embeds: []*discordgo.MessageEmbed{{
		Title:       "Success",
		Description: fmt.Sprintf("Deleted %s (%s).", rec.Name, rec.Address),
		Color:       0xE74C3C,
	}}}
}

// editServer applies one field edit; field is the subcommand name.
func (b *Bot) editServer(ctx context.Context, in invocation, field string, a args) reply {
	rec, ok := b.monitor.Server(in.Guild, a["name"])
	if !ok {
		return failure("Unknown server.")
	}
	value := a[field]
	reset := strings.EqualFold(value, "none")
	shown := value

	switch field {
	case "ip":
		if value == "" || reset {
			return failure("A server needs an IP.")
		}
		rec.Address = value
	case "channel":
		if value == "" {
			return failure("Unknown channel.")
		}
		rec.Channel = value
		shown = "<#" + value + ">"
	case "type":
		if reset {
			value = server.DefaultKind
		}
		if !b.validKind(value) {
			return failure(fmt.Sprintf("Unknown game type `%s`.", value))
		}
		rec.Kind = value
		shown = value
	case "color":
		c, ok := normaliseColor(value)
		if !ok {
			return failure(fmt.Sprintf("Invalid color `%s`, use a hex color such as #ff8800.", value))
		}
		rec.Color = c
		if c == "" {
			shown = "Dynamic"
		} else {
			shown = c
		}
	case "image":
		if reset {
			value, shown = "", "none"
		}
		rec.Image = value
	default:
		return failure("Unknown setting.")
	}

	if err := b.monitor.ApplyExternalEdit(ctx, rec); err != nil {
		b.log.Error("Failed to edit server", "guild", in.Guild, "server", rec.Name, "field", field, "error", err)
		return failure("Failed to edit the server. Please try again.")
	}
	return reply{Content: fmt.Sprintf("Successfully changed %s %s to %s.", possessive(rec.Name), field, shown)}
}

func (b *Bot) listServers(in invocation) reply {
	recs := b.monitor.Servers(in.Guild)
	if len(recs) == 0 {
		return failure("No servers in here!")
	}
	names := make([]string, 0, len(recs))
	for _, r := range recs {
		names = append(names, r.Name)
	}
	return reply{Content: "Servers in here: `" + strings.Join(names, ", ") + "`"}
}

func (b *Bot) notify(ctx context.Context, in invocation, a args) reply {
	sn, typ, value := a["server"], strings.ToUpper(a["type"]), a["value"]
	if sn == "" {
		return failure("Invalid server.")
	}

	all := strings.EqualFold(sn, "list") || strings.EqualFold(sn, "all")
	var rec *server.Record
	if !all {
		r, ok := b.monitor.Server(in.Guild, sn)
		if !ok {
			return failure("Unknown server.")
		}
		rec = r
	}

	if typ == "LIST" || all || strings.EqualFold(value, "list") {
		f := notify.Filter{Scope: in.Guild}
		target := "any server"
		if rec != nil {
			f.Server = rec.Name
			target = rec.Name
		}
		if k, err := notify.ParseKind(typ); err == nil {
			f.Kind = k
		}
		embeds := subscriptionEmbeds(b.monitor.ListSubscriptions(in.User, f))
		if len(embeds) == 0 {
			what := ""
			if f.Kind != "" {
				what = f.Kind.Summary() + " "
			}
			return reply{Content: fmt.Sprintf("You do not have any %snotifications for %s.", what, target), Ephemeral: true}
		}
		return reply{Embeds: embeds, Ephemeral: true}
	}

	if typ == "CLEAR" {
		n := b.monitor.ClearSubscriptions(ctx, in.User, notify.Filter{Scope: in.Guild, Server: rec.Name})
		return reply{Content: fmt.Sprintf("Successfully cleared your notification preferences for %s (%d removed).", rec.Name, n), Ephemeral: true}
	}

	kind, err := notify.ParseKind(typ)
	if err != nil {
		return failure("Unknown type.")
	}

	if strings.EqualFold(value, "clear") {
		n := b.monitor.ClearSubscriptions(ctx, in.User, notify.Filter{Scope: in.Guild, Server: rec.Name, Kind: kind})
		return reply{Content: fmt.Sprintf("Successfully cleared your %s preferences for %s (%d removed).", kind.Summary(), rec.Name, n), Ephemeral: true}
	}

	sub := notify.Subscription{Owner: in.User, Scope: in.Guild, Server: rec.Name, Kind: kind}
	if kind == notify.KindMap || kind == notify.KindPlayer {
		sub.Filter = value
	}
	added, err := b.monitor.Subscribe(ctx, sub)
	if err != nil {
		b.log.Warn("Failed to subscribe", "guild", in.Guild, "server", rec.Name, "error", err)
		return failure("Unknown server.")
	}
	if !added {
		return failure("You are already being notified about that.")
	}
	return reply{Content: "You will now be notified " + sub.Description(), Ephemeral: true}
}

// subscriptionEmbeds renders one embed per server, each listing the
// subscriptions grouped by kind.
func subscriptionEmbeds(subs []notify.Subscription) []*discordgo.MessageEmbed {
	var out []*discordgo.MessageEmbed
	byServer := make(map[string]*discordgo.MessageEmbed)
	for _, g := range notify.GroupSubscriptions(subs) {
		id := g.Scope + "/" + g.Server
		e, ok := byServer[id]
		if !ok {
			e = &discordgo.MessageEmbed{Title: g.Server}
			byServer[id] = e
			out = append(out, e)
		}
		lines := []string{"**" + g.Kind.Summary() + "**"}
		for _, f := range g.Filters {
			sub := notify.Subscription{Server: g.Server, Kind: g.Kind}
			if f != "any" {
				sub.Filter = f
			}
			lines = append(lines, "Notifying you "+sub.Description())
		}
		if g.Snoozed > 0 {
			lines = append(lines, fmt.Sprintf("_%d snoozed_", g.Snoozed))
		}
		if e.Description != "" {
			e.Description += "\n\n"
		}
		e.Description += strings.Join(lines, "\n")
		e.Color = notify.Subscription{Kind: g.Kind}.Color()
	}
	return out
}

// runCommand routes a slash command to its handler.
func (b *Bot) runCommand(ctx context.Context, in invocation, data discordgo.ApplicationCommandInteractionData) reply {
	switch data.Name {
	case "addserver":
		return b.addServer(ctx, in, optionArgs(data.Options))
	case "deleteserver":
		return b.deleteServer(ctx, in, optionArgs(data.Options))
	case "editserver":
		if len(data.Options) == 0 {
			return failure("Unknown setting.")
		}
		sub := data.Options[0]
		return b.editServer(ctx, in, sub.Name, optionArgs(sub.Options))
	case "servers":
		return b.listServers(in)
	case "notify":
		return b.notify(ctx, in, optionArgs(data.Options))
	}
	b.log.Warn("Unknown command", "command", data.Name)
	return failure("Unknown command.")
}
