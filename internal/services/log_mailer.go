package services

import (
	"context"
	"log/slog"

	pkglogger "github.com/xiaomao8090/kazay-website/pkg/logger"
)

// LogMailer writes messages to the process log instead of sending them. It is
// meant for local development only; the body, including any code, is logged.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	m.logger.WarnContext(ctx, "mail delivery disabled, message logged",
		slog.String("to", pkglogger.SanitizedEmail(to)),
		slog.String("subject", subject),
		slog.String("body", htmlBody))
	return nil
}
