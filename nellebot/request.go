package nellebot

// Command is a request with side effects, dispatched to exactly one handler.
type Command interface {
	isCommand()
}

// Query is a request for a value, dispatched to exactly one handler.
type Query interface {
	isQuery()
}

// Notification is an event, dispatched to every registered handler.
type Notification interface {
	isNotification()
}

// BaseCommand is embedded by command types without a user-facing context.
type BaseCommand struct{}

func (BaseCommand) isCommand() {}

// BaseQuery is embedded by query types without a user-facing context.
type BaseQuery struct{}

func (BaseQuery) isQuery() {}

// BaseNotification is embedded by notification types.
type BaseNotification struct{}

func (BaseNotification) isNotification() {}

// BotCommand is embedded by commands invoked by a user, either by a
// slash command or a prefixed text command.
type BotCommand struct {
	Ctx CommandContext
}

func (BotCommand) isCommand() {}

func (c BotCommand) CommandContext() CommandContext {
	return c.Ctx
}

// BotSlashCommand is embedded by commands that can only be invoked
// by an application command interaction.
type BotSlashCommand struct {
	Ctx SlashContext
}

func (BotSlashCommand) isCommand() {}

func (c BotSlashCommand) CommandContext() CommandContext {
	return c.Ctx
}

func (c BotSlashCommand) SlashContext() SlashContext {
	return c.Ctx
}

// BotSlashQuery is embedded by queries answered to an application
// command interaction.
type BotSlashQuery struct {
	Ctx SlashContext
}

func (BotSlashQuery) isQuery() {}

func (q BotSlashQuery) CommandContext() CommandContext {
	return q.Ctx
}

func (q BotSlashQuery) SlashContext() SlashContext {
	return q.Ctx
}

// contextRequest is implemented by requests carrying a CommandContext
type contextRequest interface {
	CommandContext() CommandContext
}

// slashRequest is implemented by requests that can only originate from
// an interaction. Errors for these are always shown ephemerally.
type slashRequest interface {
	SlashContext() SlashContext
}

// JobKey identifies a long-running job.
type JobKey struct {
	Name  string `json:"name"`
	Group string `json:"group"`
}

func (k JobKey) String() string {
	if k.Group == "" {
		return k.Name
	}
	return k.Group + "." + k.Name
}
