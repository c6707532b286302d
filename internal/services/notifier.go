package services

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// AlertNotifier tells the operators about a security event.
type AlertNotifier interface {
	Alert(ctx context.Context, subject string, fields map[string]string)
}

// MailNotifier mails alerts to the configured operator addresses. Alerts beyond
// the limiter's budget are dropped and logged so a flood of failures cannot
// turn into a flood of mail.
type MailNotifier struct {
	mailer     Mailer
	recipients []string
	limiter    *rate.Limiter
	logger     *slog.Logger
	now        func() time.Time
}

// NewMailNotifier allows one alert per interval with the given burst.
func NewMailNotifier(mailer Mailer, recipients []string, interval time.Duration, burst int, logger *slog.Logger) *MailNotifier {
	if burst < 1 {
		burst = 1
	}
	return &MailNotifier{
		mailer:     mailer,
		recipients: recipients,
		limiter:    rate.NewLimiter(rate.Every(interval), burst),
		logger:     logger,
		now:        time.Now,
	}
}

// Alert implements AlertNotifier. Delivery errors are logged, never returned.
func (n *MailNotifier) Alert(ctx context.Context, subject string, fields map[string]string) {
	if len(n.recipients) == 0 {
		return
	}
	if !n.limiter.Allow() {
		n.logger.Warn("operator alert suppressed by rate limit", slog.String("subject", subject))
		return
	}

	body := renderAlert(subject, fields, n.now())
	for _, to := range n.recipients {
		if err := n.mailer.Send(ctx, to, "[Kazay security] "+subject, body); err != nil {
			n.logger.Error("failed to send operator alert",
				slog.String("subject", subject),
				slog.Any("error", err))
		}
	}
}

func renderAlert(subject string, fields map[string]string, at time.Time) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var rows strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&rows, "<tr><td style=\"padding: 4px 12px 4px 0; color: #666;\">%s</td><td>%s</td></tr>\n",
			html.EscapeString(k), html.EscapeString(fields[k]))
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333;">
    <h2 style="color: #c0392b;">%s</h2>
    <p>Reported at %s.</p>
    <table>
%s    </table>
</body>
</html>
`, html.EscapeString(subject), at.UTC().Format(time.RFC3339), rows.String())
}
