package services

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	pkglogger "github.com/xiaomao8090/kazay-website/pkg/logger"
)

// Mailer delivers one HTML message.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// SESClient is the part of the SES API the mailer uses.
type SESClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESMailer sends mail through AWS SES
type SESMailer struct {
	client      SESClient
	fromAddress string
	logger      *slog.Logger
}

// NewSESMailer loads the default AWS config for region and builds an SES mailer.
func NewSESMailer(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*SESMailer, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSESMailerWithClient(ses.NewFromConfig(cfg), fromAddress, logger), nil
}

func NewSESMailerWithClient(client SESClient, fromAddress string, logger *slog.Logger) *SESMailer {
	return &SESMailer{
		client:      client,
		fromAddress: fromAddress,
		logger:      logger,
	}
}

// Send implements Mailer.
func (m *SESMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(m.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data:    aws.String(htmlBody),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := m.client.SendEmail(ctx, input)
	if err != nil {
		m.logger.Error("failed to send email via SES",
			slog.String("to", pkglogger.SanitizedEmail(to)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	m.logger.Info("email sent",
		slog.String("to", pkglogger.SanitizedEmail(to)),
		slog.String("message_id", aws.ToString(result.MessageId)))
	return nil
}

const verificationSubject = "Kazay admin login verification code"

// VerificationEmail renders the message carrying a login code.
func VerificationEmail(code string, ttl time.Duration, ip string) (subject, body string) {
	body = fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
</head>
<body style="font-family: Arial, sans-serif; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px; border: 1px solid #eee; border-radius: 5px;">
        <h2 style="color: #3498db; text-align: center;">Kazay admin login</h2>
        <p>A sign-in to the Kazay admin console was requested from %s. Your verification code is:</p>
        <div style="text-align: center; margin: 30px 0;">
            <span style="font-size: 32px; font-weight: bold; letter-spacing: 5px; padding: 10px 20px; background-color: #f8f9fa; border-radius: 5px;">%s</span>
        </div>
        <p>The code expires in %d minutes. If you did not try to sign in, ignore this email and review the security log.</p>
        <div style="margin-top: 30px; padding-top: 15px; border-top: 1px solid #eee; text-align: center; color: #7f8c8d; font-size: 12px;">
            <p>This is an automated message. Please do not reply.</p>
        </div>
    </div>
</body>
</html>
`, html.EscapeString(ip), html.EscapeString(code), int(ttl.Minutes()))

	return verificationSubject, body
}

// TestEmail renders the message sent from the settings page to check delivery.
func TestEmail(sentAt time.Time) (subject, body string) {
	return "Kazay mail delivery test", fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333;">
    <p>This test message was sent from the Kazay admin console at %s.</p>
    <p>Mail delivery is configured correctly.</p>
</body>
</html>
`, sentAt.UTC().Format(time.RFC1123))
}
