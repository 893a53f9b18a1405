package nellebot

import (
	"context"
	"errors"
	"fmt"
	"github.com/NELLExchange/Reifnir/ordbok"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
)

const (
	DiscordCommandQuarantine           = "quarantine"
	DiscordCommandApprove              = "approve"
	DiscordCommandValhallKick          = "vkick"
	DiscordCommandValhallBan           = "vban"
	DiscordCommandSetGreetingMessage   = "set-greeting-message"
	DiscordCommandSetQuarantineMessage = "set-quarantine-message"
	DiscordCommandAddGoodbyeMessage    = "add-goodbye-message"
	DiscordCommandAddMetaMessage       = "add-meta-message"
	DiscordCommandEditMetaMessage      = "edit-meta-message"
	DiscordCommandModmail              = "modmail"
	DiscordCommandCloseTicket          = "close-ticket"
	DiscordCommandBokmal               = "bm"
	DiscordCommandNynorsk              = "nn"
	DiscordCommandBokmalFreeText       = "bm-free-text"
	DiscordCommandNynorskFreeText      = "nn-free-text"
	DiscordCommandOi                   = "oi"
	DiscordCommandSlap                 = "slap"
	DiscordCommandBan                  = "ban"
	DiscordCommandListAwardChannels    = "list-award-channels"
	DiscordCommandRunJob               = "run-job"
	DiscordCommandCancelJob            = "cancel-job"

	DiscordUserMenuQuarantine = "Quarantine user"
	DiscordUserMenuApprove    = "Approve user"
	DiscordUserMenuValhallBan = "VBan user"
	DiscordUserMenuSlap       = "Slap"

	optionUser      = "user"
	optionReason    = "reason"
	optionMessage   = "message"
	optionChannel   = "channel"
	optionMessageID = "message_id"
	optionName      = "name"
	optionDryRun    = "dry_run"
	optionQuery     = "query"

	noPermissionResponse = "You do not have permission to do that."
	dmCommandResponse    = "I do not care for DM commands."
	badArgumentsResponse = "Command arguments are (probably) incorrect."
	commandErrorResponse = "Something went wrong."

	// Discord drops autocomplete responses after 3 seconds
	autocompleteTimeout = 3 * time.Second
)

var userArgPattern = regexp.MustCompile(`^(?:<@!?(\d+)>|(\d+))$`)

type accessLevel int

const (
	accessEveryone accessLevel = iota
	accessTrusted
	accessModerator
)

type commandOptions = map[string]*discordgo.ApplicationCommandInteractionDataOption

// commandDefinition describes a command available as an application
// command, a prefixed text command, or both. The builders return
// either a Command or a Query.
type commandDefinition struct {
	name   string
	access accessLevel

	// parallel commands go to the CommandParallelQueue
	parallel bool

	app   *discordgo.ApplicationCommand
	slash func(ic *InteractionContext, opts commandOptions) (any, error)
	text  func(mc *MessageContext) (any, error)
}

// CommandRouter turns interactions and prefixed messages into requests,
// checks the invoker's access, and writes the requests to their queues.
type CommandRouter struct {
	config   *BotConfig
	prefix   string
	session  DiscordSessionHandler
	queues   *Queues
	ordbok   *ordbokHandler
	app      map[string]*commandDefinition
	text     map[string]*commandDefinition
	commands []*commandDefinition
	logger   *slog.Logger

	// autocomplete and component interactions are answered outside
	// the gateway event loop
	wg sync.WaitGroup
}

func NewCommandRouter(
	config *BotConfig,
	prefix string,
	session DiscordSessionHandler,
	queues *Queues,
	ordbokHandler *ordbokHandler,
	jobNames []string,
	logger *slog.Logger,
) *CommandRouter {
	if logger == nil {
		logger = slog.Default()
	}
	r := &CommandRouter{
		config:  config,
		prefix:  prefix,
		session: session,
		queues:  queues,
		ordbok:  ordbokHandler,
		app:     map[string]*commandDefinition{},
		text:    map[string]*commandDefinition{},
		logger:  logger.With(loggerNameKey, "commands"),
	}
	r.commands = commandDefinitions(jobNames)
	for _, def := range r.commands {
		if def.app != nil {
			r.app[def.app.Name] = def
		}
		if def.text != nil {
			r.text[def.name] = def
		}
	}
	return r
}

// ApplicationCommands returns the application commands to register
// with Discord
func (r *CommandRouter) ApplicationCommands() []*discordgo.ApplicationCommand {
	rv := make([]*discordgo.ApplicationCommand, 0, len(r.app))
	for _, def := range r.commands {
		if def.app != nil {
			rv = append(rv, def.app)
		}
	}
	return rv
}

// Wait blocks until in-flight autocomplete and component responses
// are done
func (r *CommandRouter) Wait() {
	r.wg.Wait()
}

func (r *CommandRouter) allowed(m *discordgo.Member, level accessLevel) bool {
	switch level {
	case accessModerator:
		return hasRole(m, r.config.ModRoleID)
	case accessTrusted:
		return hasRole(m, r.config.ModRoleID) || hasAnyRole(m, r.config.TrustedRoleIDs)
	default:
		return true
	}
}

func (r *CommandRouter) enqueue(ctx context.Context, def *commandDefinition, request any) error {
	switch req := request.(type) {
	case Query:
		return r.queues.Request.Write(ctx, req)
	case Command:
		if def.parallel {
			return r.queues.CommandParallel.Write(ctx, req)
		}
		return r.queues.Command.Write(ctx, req)
	default:
		return fmt.Errorf("unsupported request type %T for command %s", request, def.name)
	}
}

// reject tells the invoker why their command wasn't queued
func (r *CommandRouter) reject(ctx context.Context, cmdCtx CommandContext, err error) {
	logger := contextLoggerOr(ctx, r.logger)
	message := commandErrorResponse
	var inputErr *UserInputError
	if errors.As(err, &inputErr) {
		message = inputErr.Message
		logger.InfoContext(ctx, "command rejected", "reason", message)
	} else {
		logger.ErrorContext(ctx, "error queueing command", tint.Err(err))
	}
	if respErr := cmdCtx.Respond(ctx, message, true); respErr != nil {
		logger.ErrorContext(ctx, "unable to respond to command", tint.Err(respErr))
	}
}

// HandleInteraction routes an interaction. Application commands are
// queued. Autocomplete and component interactions are answered in
// their own goroutine.
func (r *CommandRouter) HandleInteraction(ctx context.Context, i *discordgo.InteractionCreate) {
	ic := NewInteractionContext(r.session, i)
	if u := ic.User(); u == nil || u.Bot {
		return
	}
	logger := r.logger.With(
		"interaction_id", i.ID,
		"interaction_type", i.Type.String(),
		"user_id", ic.User().ID,
	)
	ctx = WithLogger(ctx, logger)

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		r.routeInteraction(ctx, ic)
	case discordgo.InteractionApplicationCommandAutocomplete:
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.autocomplete(ctx, i)
		}()
	case discordgo.InteractionMessageComponent:
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.component(ctx, i)
		}()
	default:
		logger.DebugContext(ctx, "ignoring interaction")
	}
}

func (r *CommandRouter) routeInteraction(ctx context.Context, ic *InteractionContext) {
	logger := contextLoggerOr(ctx, r.logger)
	name := ic.CommandName()
	def, ok := r.app[name]
	if !ok {
		logger.WarnContext(ctx, "unknown application command", "command", name)
		return
	}
	logger = logger.With("command", name)
	ctx = WithLogger(ctx, logger)
	logger.InfoContext(ctx, "received application command")

	if ic.GuildID() == "" {
		r.reject(ctx, ic, NewUserInputError(dmCommandResponse))
		return
	}
	if !r.allowed(ic.Member(), def.access) {
		r.reject(ctx, ic, NewUserInputError(noPermissionResponse))
		return
	}
	request, err := def.slash(ic, discordInteractionOptions(ic.Interaction()))
	if err != nil {
		r.reject(ctx, ic, err)
		return
	}
	if err = r.enqueue(ctx, def, request); err != nil {
		r.reject(ctx, ic, err)
	}
}

// HandleMessage queues the text command in m, if there is one. Unknown
// commands are ignored, the prefix is easy to type by accident.
func (r *CommandRouter) HandleMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	mc := NewMessageContext(r.session, m, r.prefix)
	if mc == nil {
		return
	}
	def, ok := r.text[mc.CommandName()]
	if !ok {
		return
	}
	logger := r.logger.With("command", def.name, "user_id", m.Author.ID, "message_id", m.ID)
	ctx = WithLogger(ctx, logger)
	logger.InfoContext(ctx, "received text command")

	if m.GuildID == "" {
		r.reject(ctx, mc, NewUserInputError(dmCommandResponse))
		return
	}
	if !r.allowed(mc.Member(), def.access) {
		r.reject(ctx, mc, NewUserInputError(noPermissionResponse))
		return
	}
	request, err := def.text(mc)
	if err != nil {
		r.reject(ctx, mc, err)
		return
	}
	if err = r.enqueue(ctx, def, request); err != nil {
		r.reject(ctx, mc, err)
	}
}

func (r *CommandRouter) autocomplete(ctx context.Context, i *discordgo.InteractionCreate) {
	logger := contextLoggerOr(ctx, r.logger)
	data := i.ApplicationCommandData()
	var dictionary string
	switch data.Name {
	case DiscordCommandBokmal:
		dictionary = ordbok.DictionaryBokmal
	case DiscordCommandNynorsk:
		dictionary = ordbok.DictionaryNynorsk
	default:
		logger.WarnContext(ctx, "no autocomplete for command", "command", data.Name)
		return
	}

	var prefix string
	for _, opt := range data.Options {
		if opt.Focused {
			prefix, _ = opt.Value.(string)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, autocompleteTimeout)
	defer cancel()

	choices := []*discordgo.ApplicationCommandOptionChoice{}
	if r.ordbok != nil {
		suggested, err := r.ordbok.autocomplete(ctx, dictionary, prefix)
		if err != nil {
			logger.WarnContext(ctx, "error getting suggestions", tint.Err(err))
		}
		choices = append(choices, suggested...)
	}
	err := r.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionApplicationCommandAutocompleteResult,
			Data: &discordgo.InteractionResponseData{Choices: choices},
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		logger.ErrorContext(ctx, "error responding to autocomplete", tint.Err(err))
	}
}

func (r *CommandRouter) component(ctx context.Context, i *discordgo.InteractionCreate) {
	logger := contextLoggerOr(ctx, r.logger)
	customID := i.MessageComponentData().CustomID
	if !strings.HasPrefix(customID, ordbokPageCustomIDPrefix+":") || r.ordbok == nil {
		logger.WarnContext(ctx, "unknown component", "custom_id", customID)
		return
	}
	if err := r.ordbok.turnPage(ctx, r.session, i); err != nil {
		logger.ErrorContext(ctx, "error turning page", "custom_id", customID, tint.Err(err))
	}
}

// parseUserArg accepts a user mention or a raw user ID
func parseUserArg(s string) (string, bool) {
	m := userArgPattern.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	if m[1] != "" {
		return m[1], true
	}
	return m[2], true
}

// textTarget parses text command arguments of the form "<user> [rest]"
func textTarget(mc *MessageContext) (userID string, rest string, err error) {
	args := mc.Args()
	if len(args) == 0 {
		return "", "", NewUserInputError(badArgumentsResponse)
	}
	userID, ok := parseUserArg(args[0])
	if !ok {
		return "", "", NewUserInputError(badArgumentsResponse)
	}
	rest = strings.TrimSpace(strings.TrimPrefix(mc.RawArgs(), args[0]))
	return userID, rest, nil
}

func requiredOption(opts commandOptions, name string) (string, error) {
	v := strings.TrimSpace(optionString(opts, name))
	if v == "" {
		return "", NewUserInputError(badArgumentsResponse)
	}
	return v, nil
}

func requiredText(mc *MessageContext) (string, error) {
	v := mc.RawArgs()
	if v == "" {
		return "", NewUserInputError(badArgumentsResponse)
	}
	return v, nil
}

func menuTarget(ic *InteractionContext) (string, error) {
	target := ic.Interaction().ApplicationCommandData().TargetID
	if target == "" {
		return "", NewUserInputError(badArgumentsResponse)
	}
	return target, nil
}

// guild-only commands aren't offered in DMs
func noDMs() *bool {
	dm := false
	return &dm
}

func slashCommand(
	name string,
	description string,
	options ...*discordgo.ApplicationCommandOption,
) *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:         name,
		Description:  description,
		Type:         discordgo.ChatApplicationCommand,
		DMPermission: noDMs(),
		Options:      options,
	}
}

func userMenu(name string) *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:         name,
		Type:         discordgo.UserApplicationCommand,
		DMPermission: noDMs(),
	}
}

func userOption(description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionUser,
		Name:        optionUser,
		Description: description,
		Required:    true,
	}
}

func stringOption(name string, description string, required bool) *discordgo.ApplicationCommandOption {
	minLength := 1
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        name,
		Description: description,
		Required:    required,
		MinLength:   &minLength,
	}
}

func channelOption(description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:         discordgo.ApplicationCommandOptionChannel,
		Name:         optionChannel,
		Description:  description,
		Required:     true,
		ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
	}
}

func jobNameOption(jobNames []string) *discordgo.ApplicationCommandOption {
	opt := stringOption(optionName, "Job name", true)
	for _, name := range jobNames {
		opt.Choices = append(opt.Choices, &discordgo.ApplicationCommandOptionChoice{Name: name, Value: name})
	}
	return opt
}

func ordbokCommand(name string, dictionary string, autocomplete bool) *commandDefinition {
	description := "Search the Bokmål dictionary"
	if dictionary == ordbok.DictionaryNynorsk {
		description = "Search the Nynorsk dictionary"
	}
	if !autocomplete {
		description += " (free text)"
	}
	query := stringOption(optionQuery, "What to search for", true)
	query.Autocomplete = autocomplete
	return &commandDefinition{
		name: name,
		app:  slashCommand(name, description, query),
		slash: func(ic *InteractionContext, opts commandOptions) (any, error) {
			q, err := requiredOption(opts, optionQuery)
			if err != nil {
				return nil, err
			}
			return SearchOrdbokQuery{
				BotSlashQuery: BotSlashQuery{Ctx: ic},
				Dictionary:    dictionary,
				Query:         q,
				Autocomplete:  autocomplete,
			}, nil
		},
	}
}

//nolint:funlen // one entry per command
func commandDefinitions(jobNames []string) []*commandDefinition {
	return []*commandDefinition{
		{
			name:     DiscordCommandQuarantine,
			access:   accessTrusted,
			parallel: true,
			app: slashCommand(
				DiscordCommandQuarantine,
				"Quarantine user",
				userOption("User to quarantine"),
				stringOption(optionReason, "Reason", false),
			),
			slash: func(ic *InteractionContext, opts commandOptions) (any, error) {
				target, err := requiredOption(opts, optionUser)
				if err != nil {
					return nil, err
				}
				return QuarantineUserCommand{
					BotCommand:   BotCommand{Ctx: ic},
					TargetUserID: target,
					Reason:       optionString(opts, optionReason),
				}, nil
			},
			text: func(mc *MessageContext) (any, error) {
				target, reason, err := textTarget(mc)
				if err != nil {
					return nil, err
				}
				return QuarantineUserCommand{BotCommand: BotCommand{Ctx: mc}, TargetUserID: target, Reason: reason}, nil
			},
		},
		{
			name:     DiscordUserMenuQuarantine,
			access:   accessTrusted,
			parallel: true,
			app:      userMenu(DiscordUserMenuQuarantine),
			slash: func(ic *InteractionContext, _ commandOptions) (any, error) {
				target, err := menuTarget(ic)
				if err != nil {
					return nil, err
				}
				return QuarantineUserCommand{BotCommand: BotCommand{Ctx: ic}, TargetUserID: target}, nil
			},
		},
		{
			name:     DiscordCommandApprove,
			access:   accessTrusted,
			parallel: true,
			app:      slashCommand(DiscordCommandApprove, "Approve user", userOption("User to approve")),
			slash: func(ic *InteractionContext, opts commandOptions) (any, error) {
				target, err := requiredOption(opts, optionUser)
				if err != nil {
					return nil, err
				}
				return ApproveUserCommand{BotCommand: BotCommand{Ctx: ic}, TargetUserID: target}, nil
			},
			text: func(mc *MessageContext) (any, error) {
				target, _, err := textTarget(mc)
				if err != nil {
					return nil, err
				}
				return ApproveUserCommand{BotCommand: BotCommand{Ctx: mc}, TargetUserID: target}, nil
			},
		},
		{
			name:     DiscordUserMenuApprove,
			access:   accessTrusted,
			parallel: true,
			app:      userMenu(DiscordUserMenuApprove),
			slash: func(ic *InteractionContext, _ commandOptions) (any, error) {
				target, err := menuTarget(ic)
				if err != nil {
					return nil, err
				}
				return ApproveUserCommand{BotCommand: BotCommand{Ctx: ic}, TargetUserID: target}, nil
			},
		},
		{
			name:     DiscordCommandValhallKick,
			access:   accessTrusted,
			parallel: true,
			app: slashCommand(
				DiscordCommandValhallKick,
				"Valhall kick user",
				userOption("User to kick"),
				stringOption(optionReason, "Reason", false),
			),
			slash: func(ic *InteractionContext, opts commandOptions) (any, error) {
				target, err := requiredOption(opts, optionUser)
				if err != nil {
					return nil, err
				}
				return ValhallKickUserCommand{
					BotCommand:   BotCommand{Ctx: ic},
					TargetUserID: target,
					Reason:       optionString(opts, optionReason),
				}, nil
			},
			text: func(mc *MessageContext) (any, error) {
				target, reason, err := textTarget(mc)
				if err != nil {
					return nil, err
				}
				return ValhallKickUserCommand{BotCommand: BotCommand{Ctx: mc}, TargetUserID: target, Reason: reason}, nil
			},
		},
		{
			name:     DiscordCommandValhallBan,
			access:   accessTrusted,
			parallel: true,
			app: slashCommand(
				DiscordCommandValhallBan,
				"Valhall ban user",
				userOption("User to ban"),
				stringOption(optionReason, "Reason", false),
			),
			slash: func(ic *InteractionContext, opts commandOptions) (any, error) {
				target, err := requiredOption(opts, optionUser)
				if err != nil {
					return nil, err
				}
				return ValhallBanUserCommand{
					BotCommand:   BotCommand{Ctx: ic},
					TargetUserID: target,
					Reason:       optionString(opts, optionReason),
				}, nil
			},
			text: func(mc *MessageContext) (any, error) {
				target, reason, err := textTarget(mc)
				if err != nil {
					return nil, err
				}
				return ValhallBanUserCommand{BotCommand: BotCommand{Ctx: mc}, TargetUserID: target, Reason: reason}, nil
			},
		},
		{
			name:     DiscordUserMenuValhallBan,
			access:   accessTrusted,
			parallel: true,
			app:      userMenu(DiscordUserMenuValhallBan),
			slash: func(ic *InteractionContext, _ commandOptions) (any, error) {
				target, err := menuTarget(ic)
				if err != nil {
					return nil, err
				}
				return ValhallBanUserCommand{BotCommand: BotCommand{Ctx: ic}, TargetUserID: target}, nil
			},
		},
		{
			name:   DiscordCommandSetGreetingMessage,
			access: accessModerator,
			app: slashCommand(
				DiscordCommandSetGreetingMessage,
				"Set the greeting message. $USER is replaced with a mention.",
				stringOption(optionMessage, "Greeting message", true),
			),
			slash: func(ic *InteractionContext, opts commandOptions) (any, error) {
				msg, err := requiredOption(opts, optionMessage)
				if err != nil {
					return nil, err
				}
				return SetGreetingMessageCommand{BotCommand: BotCommand{Ctx: ic}, Message: msg}, nil
			},
			text: func(mc *MessageContext) (any, error) {
				msg, err := requiredText(mc)
				if err != nil {
					return nil, err
				}
				return SetGreetingMessageCommand{BotCommand: BotCommand{Ctx: mc}, Message: msg}, nil
			},
		},
		{
			name:   DiscordCommandSetQuarantineMessage,
			access: accessModerator,
			app: slashCommand(
				DiscordCommandSetQuarantineMessage,
				"Set the quarantine message. $USER and $REASON are replaced.",
				stringOption(optionMessage, "Quarantine message", true),
			),
			slash: func(ic *InteractionContext, opts commandOptions) (any, error) {
				msg, err := requiredOption(opts, optionMessage)
				if err != nil {
					return nil, err
				}
				return SetQuarantineMessageCommand{BotCommand: BotCommand{Ctx: ic}, Message: msg}, nil
			},
			text: func(mc *MessageContext) (any, error) {
				msg, err := requiredText(mc)
				if err != nil {
					return nil, err
				}
				return SetQuarantineMessageCommand{BotCommand: BotCommand{Ctx: mc}, Message: msg}, nil
			},
		},
		{
			name:   DiscordCommandAddGoodbyeMessage,
			access: accessModerator,
			app: slashCommand(
				DiscordCommandAddGoodbyeMessage,
				"Add a goodbye message. Must contain $USER.",
				stringOption(optionMessage, "Goodbye message", true),
			),
			slash: func(ic *InteractionContext, opts commandOptions) (any, error) {
				msg, err := requiredOption(opts, optionMessage)
				if err != nil {
					return nil, err
				}
				return AddGoodbyeMessageCommand{BotCommand: BotCommand{Ctx: ic}, Message: msg}, nil
			},
			text: func(mc *MessageContext) (any, error) {
				msg, err := requiredText(mc)
				if err != nil {
					return nil, err
				}
				return AddGoodbyeMessageCommand{BotCommand: BotCommand{Ctx: mc}, Message: msg}, nil
			},
		},
		{
			name:   DiscordCommandAddMetaMessage,
			access: accessTrusted,
			app: slashCommand(
				DiscordCommandAddMetaMessage,
				"Post a message as the bot in a meta channel",
				channelOption("Meta channel"),
				stringOption(optionMessage, "Message", true),
			),
			slash: func(ic *InteractionContext, opts commandOptions) (any, error) {
				channelID, err := requiredOption(opts, optionChannel)
				if err != nil {
					return nil, err
				}
				msg, err := requiredOption(opts, optionMessage)
				if err != nil {
					return nil, err
				}
				return AddMetaMessageCommand{
					BotSlashCommand: BotSlashCommand{Ctx: ic},
					ChannelID:       channelID,
					Message:         msg,
				}, nil
			},
		},
		{
			name:   DiscordCommandEditMetaMessage,
			access: accessTrusted,
			app: slashCommand(
				DiscordCommandEditMetaMessage,
				"Edit a message the bot posted in a meta channel",
				channelOption("Meta channel"),
				stringOption(optionMessageID, "ID of the message to edit", true),
				stringOption(optionMessage, "New message", true),
			),
			slash: func(ic *InteractionContext, opts commandOptions) (any, error) {
				channelID, err := requiredOption(opts, optionChannel)
				if err != nil {
					return nil, err
				}
				messageID, err := requiredOption(opts, optionMessageID)
				if err != nil {
					return nil, err
				}
				msg, err := requiredOption(opts, optionMessage)
				if err != nil {
					return nil, err
				}
				return EditMetaMessageCommand{
					BotSlashCommand: BotSlashCommand{Ctx: ic},
					ChannelID:       channelID,
					MessageID:       messageID,
					Message:         msg,
				}, nil
			},
		},
		{
			name:     DiscordCommandModmail,
			parallel: true,
			app:      slashCommand(DiscordCommandModmail, "Send a message via the modmail"),
			slash: func(ic *InteractionContext, _ commandOptions) (any, error) {
				return RequestModmailTicketCommand{BotSlashCommand: BotSlashCommand{Ctx: ic}}, nil
			},
		},
		{
			name:   DiscordCommandCloseTicket,
			access: accessModerator,
			app:    slashCommand(DiscordCommandCloseTicket, "Close the modmail ticket in this post"),
			slash: func(ic *InteractionContext, _ commandOptions) (any, error) {
				return CloseModmailTicketCommand{BotSlashCommand: BotSlashCommand{Ctx: ic}}, nil
			},
		},
		ordbokCommand(DiscordCommandBokmal, ordbok.DictionaryBokmal, true),
		ordbokCommand(DiscordCommandNynorsk, ordbok.DictionaryNynorsk, true),
		ordbokCommand(DiscordCommandBokmalFreeText, ordbok.DictionaryBokmal, false),
		ordbokCommand(DiscordCommandNynorskFreeText, ordbok.DictionaryNynorsk, false),
		{
			name: DiscordCommandOi,
			app:  slashCommand(DiscordCommandOi, "Oi!"),
			slash: func(ic *InteractionContext, _ commandOptions) (any, error) {
				return OiCommand{BotCommand: BotCommand{Ctx: ic}}, nil
			},
			text: func(mc *MessageContext) (any, error) {
				return OiCommand{BotCommand: BotCommand{Ctx: mc}}, nil
			},
		},
		{
			name: DiscordCommandSlap,
			app:  slashCommand(DiscordCommandSlap, "Slap someone with a trout", userOption("User to slap")),
			slash: func(ic *InteractionContext, opts commandOptions) (any, error) {
				target, err := requiredOption(opts, optionUser)
				if err != nil {
					return nil, err
				}
				return SlapCommand{BotCommand: BotCommand{Ctx: ic}, TargetUserID: target}, nil
			},
			text: func(mc *MessageContext) (any, error) {
				target, _, err := textTarget(mc)
				if err != nil {
					return nil, err
				}
				return SlapCommand{BotCommand: BotCommand{Ctx: mc}, TargetUserID: target}, nil
			},
		},
		{
			name: DiscordUserMenuSlap,
			app:  userMenu(DiscordUserMenuSlap),
			slash: func(ic *InteractionContext, _ commandOptions) (any, error) {
				target, err := menuTarget(ic)
				if err != nil {
					return nil, err
				}
				return SlapCommand{BotCommand: BotCommand{Ctx: ic}, TargetUserID: target}, nil
			},
		},
		{
			name: DiscordCommandBan,
			text: func(mc *MessageContext) (any, error) {
				return BanJokeCommand{BotCommand: BotCommand{Ctx: mc}, Text: mc.RawArgs()}, nil
			},
		},
		{
			name:   DiscordCommandListAwardChannels,
			access: accessTrusted,
			app:    slashCommand(DiscordCommandListAwardChannels, "List the channels counted for awards"),
			slash: func(ic *InteractionContext, _ commandOptions) (any, error) {
				return ListAwardChannelsCommand{BotCommand: BotCommand{Ctx: ic}}, nil
			},
			text: func(mc *MessageContext) (any, error) {
				return ListAwardChannelsCommand{BotCommand: BotCommand{Ctx: mc}}, nil
			},
		},
		{
			name:   DiscordCommandRunJob,
			access: accessModerator,
			app: slashCommand(
				DiscordCommandRunJob,
				"Run a job",
				jobNameOption(jobNames),
				&discordgo.ApplicationCommandOption{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        optionDryRun,
					Description: "Report what the job would do, without doing it",
				},
			),
			slash: func(ic *InteractionContext, opts commandOptions) (any, error) {
				name, err := requiredOption(opts, optionName)
				if err != nil {
					return nil, err
				}
				return RunJobCommand{BotCommand: BotCommand{Ctx: ic}, Name: name, DryRun: optionBool(opts, optionDryRun)}, nil
			},
			text: func(mc *MessageContext) (any, error) {
				args := mc.Args()
				if len(args) == 0 {
					return nil, NewUserInputError(badArgumentsResponse)
				}
				dryRun := len(args) > 1 && (args[1] == "dry-run" || args[1] == "true")
				return RunJobCommand{BotCommand: BotCommand{Ctx: mc}, Name: args[0], DryRun: dryRun}, nil
			},
		},
		{
			name:   DiscordCommandCancelJob,
			access: accessModerator,
			app:    slashCommand(DiscordCommandCancelJob, "Cancel a running job", jobNameOption(jobNames)),
			slash: func(ic *InteractionContext, opts commandOptions) (any, error) {
				name, err := requiredOption(opts, optionName)
				if err != nil {
					return nil, err
				}
				return CancelJobCommand{BotCommand: BotCommand{Ctx: ic}, Name: name}, nil
			},
			text: func(mc *MessageContext) (any, error) {
				args := mc.Args()
				if len(args) == 0 {
					return nil, NewUserInputError(badArgumentsResponse)
				}
				return CancelJobCommand{BotCommand: BotCommand{Ctx: mc}, Name: args[0]}, nil
			},
		},
	}
}
