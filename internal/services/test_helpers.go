package services

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/mrz1836/postmark"

	"github.com/xiaomao8090/kazay-website/internal/blocklist"
)

// SentMail is one message captured by MockMailer.
type SentMail struct {
	To      string
	Subject string
	Body    string
}

// MockMailer implements Mailer for testing
type MockMailer struct {
	mu       sync.Mutex
	SendFunc func(ctx context.Context, to, subject, htmlBody string) error
	Sent     []SentMail
}

func (m *MockMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	if m.SendFunc != nil {
		if err := m.SendFunc(ctx, to, subject, htmlBody); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, SentMail{To: to, Subject: subject, Body: htmlBody})
	return nil
}

func (m *MockMailer) Messages() []SentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMail(nil), m.Sent...)
}

// SentAlert is one alert captured by MockAlertNotifier.
type SentAlert struct {
	Subject string
	Fields  map[string]string
}

// MockAlertNotifier implements AlertNotifier for testing
type MockAlertNotifier struct {
	mu     sync.Mutex
	Alerts []SentAlert
}

func (m *MockAlertNotifier) Alert(ctx context.Context, subject string, fields map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Alerts = append(m.Alerts, SentAlert{Subject: subject, Fields: fields})
}

func (m *MockAlertNotifier) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Alerts)
}

// MockSESClient implements SESClient for testing
type MockSESClient struct {
	SendEmailFunc func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

func (m *MockSESClient) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	if m.SendEmailFunc != nil {
		return m.SendEmailFunc(ctx, params, optFns...)
	}
	return &ses.SendEmailOutput{}, nil
}

// MockPostmarkClient implements PostmarkClient for testing
type MockPostmarkClient struct {
	SendEmailFunc func(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

func (m *MockPostmarkClient) SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error) {
	if m.SendEmailFunc != nil {
		return m.SendEmailFunc(ctx, email)
	}
	return postmark.EmailResponse{}, nil
}

// MockBlocklistStorage implements blocklist.Storage for testing
type MockBlocklistStorage struct {
	mu  sync.Mutex
	Doc blocklist.Document
}

func (m *MockBlocklistStorage) Load(ctx context.Context) (blocklist.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Doc, nil
}

func (m *MockBlocklistStorage) Save(ctx context.Context, doc blocklist.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Doc = doc
	return nil
}

// TestClock is a settable clock shared by the components under test.
type TestClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewTestClock(start time.Time) *TestClock {
	return &TestClock{now: start}
}

func (c *TestClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *TestClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
