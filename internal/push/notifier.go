package push

import (
	"context"
	"log"
	"unicode/utf8"

	hostErrors "github.com/pocketagent/host/internal/errors"
)

// MaxBodyLength is the longest notification body, in runes, sent to devices.
const MaxBodyLength = 200

const ellipsis = "…"

// TokenSource lists the push tokens of every paired device.
// auth.CredentialStore implements it.
type TokenSource interface {
	PushTokens() []string
}

// Sender submits one batch of messages to a push gateway.
type Sender interface {
	Send(ctx context.Context, messages []ExpoMessage) ([]ExpoTicket, error)
}

// Notifier broadcasts a notification to every device with a push token.
type Notifier struct {
	tokens TokenSource
	sender Sender
}

// NewNotifier creates a notifier reading tokens from tokens and delivering
// through sender.
func NewNotifier(tokens TokenSource, sender Sender) *Notifier {
	return &Notifier{tokens: tokens, sender: sender}
}

// Notify sends title and body to all registered devices in a single batch.
// Delivery is best effort: failures are logged and never returned, and
// nothing is retried.
func (n *Notifier) Notify(ctx context.Context, title, body string, data map[string]any) {
	tokens := n.tokens.PushTokens()
	if len(tokens) == 0 {
		return
	}

	body = TruncateBody(body)
	messages := make([]ExpoMessage, 0, len(tokens))
	for _, token := range tokens {
		messages = append(messages, ExpoMessage{
			To:       token,
			Title:    title,
			Body:     body,
			Data:     data,
			Sound:    "default",
			Priority: "high",
		})
	}

	tickets, err := n.sender.Send(ctx, messages)
	if err != nil {
		log.Printf("push: %v", hostErrors.Wrap(hostErrors.CodePushSendFailed, "notification not delivered", err))
		return
	}

	failed := 0
	for _, ticket := range tickets {
		if ticket.Status == "error" {
			failed++
		}
	}
	if failed > 0 {
		log.Printf("push: gateway rejected %d of %d messages", failed, len(messages))
		return
	}
	log.Printf("push: sent notification to %d devices", len(messages))
}

// TruncateBody shortens body to MaxBodyLength runes, ending in an ellipsis
// when it was cut.
func TruncateBody(body string) string {
	if utf8.RuneCountInString(body) <= MaxBodyLength {
		return body
	}
	runes := []rune(body)
	return string(runes[:MaxBodyLength-1]) + ellipsis
}
