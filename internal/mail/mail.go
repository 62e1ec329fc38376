// Package mail is the boundary to the outbound mail collaborator. Delivery,
// templating, and retries live in the mail platform; the auth core only hands
// over a template name and merge variables, fire and log.
package mail

import (
	"context"
	"log/slog"
)

type Message struct {
	To           string
	From         string
	Subject      string
	TemplateName string
	MergeVars    map[string]string
}

type Sender interface {
	SendTemplate(ctx context.Context, msg Message) error
}

// LogSender stands in where no delivery backend is wired (development, some
// test setups). It records the dispatch as a structured log line.
type LogSender struct {
	Logger *slog.Logger
}

func (s *LogSender) SendTemplate(ctx context.Context, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "mail dispatched",
		"to", msg.To,
		"template", msg.TemplateName,
		"subject", msg.Subject,
	)
	return nil
}
