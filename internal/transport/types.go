package transport

import "context"

type UpdateKind string

const (
	UpdateMessage    UpdateKind = "message"
	UpdateCallback   UpdateKind = "callback"
	UpdateChatMember UpdateKind = "chat_member"
)

type Update struct {
	Kind       UpdateKind
	Message    *Message
	Callback   *Callback
	ChatMember *ChatMember
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsPrivate    bool
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
}

// MemberStatus is the new status of a chat member after a membership change.
type MemberStatus string

const (
	MemberJoined MemberStatus = "member"
	MemberAdmin  MemberStatus = "administrator"
	MemberKicked MemberStatus = "kicked"
	MemberLeft   MemberStatus = "left"
)

// ChatMember describes a my_chat_member update: the bot's own membership changed.
type ChatMember struct {
	ChatID          int64
	Status          MemberStatus
	TargetUserID    int64 // whose membership changed
	ActorUserID     int64 // who changed it
	ActorUsername   string
	IsBotTargetSelf bool
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode          string
	DisablePreview     bool
	ReplyMarkupAdapter any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

// ParseModeMarkdown is the legacy Markdown mode every report is written in.
const ParseModeMarkdown = "Markdown"

// Button is a platform-neutral inline button carrying raw callback data.
type Button struct {
	Text string
	Data string
}

// Gateway is the chat platform: inbound updates and outbound text.
type Gateway interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendButtons(ctx context.Context, to ChatTarget, text string, rows [][]Button) (MessageRef, error)
	AnswerCallback(ctx context.Context, callbackID string, text string, showAlert bool) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by gateways that expose a command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
