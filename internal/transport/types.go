package transport

import "context"

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// LinkFunc binds a chat to a user account. The code is whatever the user
// pasted after /start; the callback decides whether it is valid.
type LinkFunc func(ctx context.Context, code string, chat ChatTarget) error

// Adapter is an outbound message channel. Reminder delivery only needs
// SendText; inbound traffic is limited to account linking.
type Adapter interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}
