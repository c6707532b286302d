package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrz1836/postmark"
)

// PostmarkClient is the part of the Postmark API the mailer uses.
type PostmarkClient interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// PostmarkMailer sends mail through Postmark's transactional API.
type PostmarkMailer struct {
	client      PostmarkClient
	fromAddress string
}

func NewPostmarkMailer(serverToken, accountToken, fromAddress string) (*PostmarkMailer, error) {
	if serverToken == "" {
		return nil, errors.New("postmark server token is required")
	}
	if fromAddress == "" {
		return nil, errors.New("postmark sender address is required")
	}
	return NewPostmarkMailerWithClient(postmark.NewClient(serverToken, accountToken), fromAddress), nil
}

func NewPostmarkMailerWithClient(client PostmarkClient, fromAddress string) *PostmarkMailer {
	return &PostmarkMailer{client: client, fromAddress: fromAddress}
}

// Send implements Mailer. Tracking stays off; these are security messages.
func (m *PostmarkMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	resp, err := m.client.SendEmail(ctx, postmark.Email{
		From:     m.fromAddress,
		To:       to,
		Subject:  subject,
		Tag:      "admin-auth",
		HTMLBody: htmlBody,
	})
	if err != nil {
		return fmt.Errorf("postmark send: %w", err)
	}
	if resp.ErrorCode > 0 {
		return fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message)
	}
	return nil
}
