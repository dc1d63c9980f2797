// Package twiliowhatsapp wraps the Twilio API for WhatsApp delivery in
// LeadFlow, as an alternative to the Whatsmeow transport.
package twiliowhatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Sender is the outbound surface the messaging service depends on. Each send
// returns the Twilio message SID.
type Sender interface {
	SendText(ctx context.Context, to, body string) (string, error)
	SendImage(ctx context.Context, to, mediaURL, caption string) (string, error)
	SendLocation(ctx context.Context, to string, latitude, longitude float64, name string) (string, error)
}

// Opts holds configuration options for the Twilio WhatsApp client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string // WhatsApp number in "whatsapp:+1234567890" format
}

// Option defines a configuration option for the Twilio WhatsApp client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the sending WhatsApp number.
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// Client wraps the Twilio REST API for WhatsApp.
type Client struct {
	client    *twilio.RestClient
	fromWhats string
}

// NewClient creates a Twilio WhatsApp client. Credentials fall back to the
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, and TWILIO_FROM_NUMBER environment
// variables when not provided via options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("fromWhats number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Client{client: client, fromWhats: cfg.FromWhats}, nil
}

func (c *Client) create(params *twilioApi.CreateMessageParams, to string) (string, error) {
	resp, err := c.client.Api.CreateMessage(params)
	if err != nil {
		return "", fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	var sid string
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.Debug("twiliowhatsapp.Client: message sent", "to", to, "sid", sid)
	return sid, nil
}

// SendText sends a WhatsApp text message and returns the Twilio message SID.
func (c *Client) SendText(ctx context.Context, to, body string) (string, error) {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo("whatsapp:+" + to)
	params.SetFrom(c.fromWhats)
	params.SetBody(body)
	return c.create(params, to)
}

// SendImage sends media by URL with an optional caption.
func (c *Client) SendImage(ctx context.Context, to, mediaURL, caption string) (string, error) {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo("whatsapp:+" + to)
	params.SetFrom(c.fromWhats)
	params.SetMediaUrl([]string{mediaURL})
	if caption != "" {
		params.SetBody(caption)
	}
	return c.create(params, to)
}

// SendLocation sends a location as a maps link; the Twilio Go SDK has no
// native WhatsApp location message.
func (c *Client) SendLocation(ctx context.Context, to string, latitude, longitude float64, name string) (string, error) {
	body := fmt.Sprintf("%s\nhttps://maps.google.com/?q=%f,%f", name, latitude, longitude)
	return c.SendText(ctx, to, body)
}

// MockClient records sends for tests.
type MockClient struct {
	SentMessages []SentMessage
	nextID       int
}

// SentMessage is one recorded outbound message.
type SentMessage struct {
	To   string
	Kind string
	Body string
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) record(to, kind, body string) (string, error) {
	m.nextID++
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Kind: kind, Body: body})
	return fmt.Sprintf("SM%d", m.nextID), nil
}

func (m *MockClient) SendText(ctx context.Context, to, body string) (string, error) {
	return m.record(to, "text", body)
}

func (m *MockClient) SendImage(ctx context.Context, to, mediaURL, caption string) (string, error) {
	return m.record(to, "image", mediaURL)
}

func (m *MockClient) SendLocation(ctx context.Context, to string, latitude, longitude float64, name string) (string, error) {
	return m.record(to, "location", name)
}
