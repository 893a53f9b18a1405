package nellebot

import (
	"github.com/bwmarrin/discordgo"
)

// Moderation

type QuarantineUserCommand struct {
	BotCommand
	TargetUserID string
	Reason       string
}

type ApproveUserCommand struct {
	BotCommand
	TargetUserID string
}

// ValhallKickUserCommand kicks a recent member on behalf of a trusted
// member
type ValhallKickUserCommand struct {
	BotCommand
	TargetUserID string
	Reason       string
}

// ValhallBanUserCommand bans a recent member on behalf of a trusted
// member
type ValhallBanUserCommand struct {
	BotCommand
	TargetUserID string
	Reason       string
}

// Message templates

type SetGreetingMessageCommand struct {
	BotCommand
	Message string
}

type SetQuarantineMessageCommand struct {
	BotCommand
	Message string
}

type AddGoodbyeMessageCommand struct {
	BotCommand
	Message string
}

type AddMetaMessageCommand struct {
	BotSlashCommand
	ChannelID string
	Message   string
}

type EditMetaMessageCommand struct {
	BotSlashCommand
	ChannelID string
	MessageID string
	Message   string
}

// Modmail

type RequestModmailTicketCommand struct {
	BotSlashCommand
}

// RelayRequesterMessageCommand relays a DM from a ticket's requester
// to the ticket's forum post. Ticket is nil when the requester has no
// open ticket yet.
type RelayRequesterMessageCommand struct {
	BaseCommand
	Message *discordgo.Message
	Ticket  *ModmailTicket
}

// RelayModeratorMessageCommand relays a moderator's message in a
// ticket's forum post to the requester
type RelayModeratorMessageCommand struct {
	BaseCommand
	Message *discordgo.Message
	Ticket  *ModmailTicket
}

type CloseModmailTicketCommand struct {
	BotSlashCommand
}

type CloseInactiveModmailTicketCommand struct {
	BaseCommand
	Ticket ModmailTicket
}

// Ordbok

// SearchOrdbokQuery searches one of the dictionaries. With
// Autocomplete set, the query is matched exactly when it's one of the
// suggested words.
type SearchOrdbokQuery struct {
	BotSlashQuery
	Dictionary   string
	Query        string
	Autocomplete bool
}

// Utility

type OiCommand struct {
	BotCommand
}

type SlapCommand struct {
	BotCommand
	TargetUserID string
}

type BanJokeCommand struct {
	BotCommand
	Text string
}

type ListAwardChannelsCommand struct {
	BotCommand
}

// Jobs

type RunJobCommand struct {
	BotCommand
	Name   string
	DryRun bool
}

type CancelJobCommand struct {
	BotCommand
	Name string
}
