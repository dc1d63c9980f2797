// Package whatsapp wraps the Whatsmeow client for WhatsApp integration in
// LeadFlow.
//
// It handles pairing (QR or numeric code), session persistence, and sending
// text, media, and location messages. Provider message IDs are returned so
// outbound turns can be correlated with delivery.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/leadflow/leadflow/internal/store"
)

// Constants for WhatsApp client configuration
const (
	// DefaultSQLitePath is the default path for the whatsmeow SQLite database
	DefaultSQLitePath = "/var/lib/leadflow/whatsmeow.db"
	// JIDSuffix is the WhatsApp JID suffix for regular users
	JIDSuffix = "s.whatsapp.net"
)

// Sender is the outbound surface the messaging service depends on. Each send
// returns the provider message ID.
type Sender interface {
	SendText(ctx context.Context, to, body string) (string, error)
	SendImage(ctx context.Context, to, mediaURL, caption string) (string, error)
	SendLocation(ctx context.Context, to string, latitude, longitude float64, name string) (string, error)
}

// Opts holds configuration options for the WhatsApp client.
type Opts struct {
	DBDSN       string // whatsmeow database connection string
	QRPath      string // path to write login QR code
	NumericCode bool   // use numeric login code instead of QR code
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the whatsmeow database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) {
		o.DBDSN = dsn
	}
}

// WithQRCodeOutput instructs the client to write the login QR code to the specified path.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) {
		o.QRPath = path
	}
}

// WithNumericCode instructs the client to use a numeric login code instead of a QR code.
func WithNumericCode() Option {
	return func(o *Opts) {
		o.NumericCode = true
	}
}

// Client wraps the Whatsmeow client for modular use.
type Client struct {
	waClient *whatsmeow.Client
}

// NewClient creates a new WhatsApp client, applying any provided options.
// First run triggers the pairing flow; afterwards the persisted session is
// reused.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("whatsapp.NewClient: options set", "dbDSNSet", cfg.DBDSN != "", "qrPathSet", cfg.QRPath != "", "numericCode", cfg.NumericCode)

	dbDSN := cfg.DBDSN
	if dbDSN == "" {
		dbDSN = DefaultSQLitePath
	}

	var dbDriver string
	if store.DetectDSNType(dbDSN) == "postgres" {
		dbDriver = "postgres"
	} else {
		dbDriver = "sqlite3"
		// whatsmeow strongly recommends foreign keys on SQLite.
		if !strings.Contains(dbDSN, "foreign_keys") {
			slog.Warn("whatsapp.NewClient: SQLite DSN does not enable foreign keys; consider adding '?_foreign_keys=on'", "dsnExample", "file:"+dbDSN+"?_foreign_keys=on")
		}
	}

	logger := waLog.Stdout("Database", "INFO", true)
	ctx := context.Background()
	container, err := sqlstore.New(ctx, dbDriver, dbDSN, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}

	clientLog := waLog.Stdout("Client", "INFO", true)
	waClient := whatsmeow.NewClient(deviceStore, clientLog)

	if waClient.Store.ID == nil {
		slog.Info("whatsapp.NewClient: login required, starting pairing flow")
		qrChan, _ := waClient.GetQRChannel(context.Background())
		if err := waClient.Connect(); err != nil {
			return nil, fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
		}
		writer := io.Writer(os.Stdout)
		if cfg.QRPath != "" {
			f, ferr := os.Create(cfg.QRPath)
			if ferr != nil {
				return nil, fmt.Errorf("failed to create QR file: %w", ferr)
			}
			defer f.Close()
			writer = f
		}
		for evt := range qrChan {
			if evt.Event == "code" {
				if cfg.NumericCode {
					fmt.Fprintln(writer, evt.Code)
				} else {
					qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
				}
			} else {
				slog.Debug("whatsapp.NewClient: login event", "event", evt.Event)
			}
		}
	} else {
		if err := waClient.Connect(); err != nil {
			return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
		}
	}
	slog.Info("whatsapp.NewClient: client connected")
	return &Client{waClient: waClient}, nil
}

func (c *Client) checkReady(to string) error {
	if c.waClient == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}
	if c.waClient.Store == nil {
		return fmt.Errorf("whatsapp client store not available")
	}
	if to == "" {
		return fmt.Errorf("recipient cannot be empty")
	}
	return nil
}

// SendText sends a plain text message and returns the provider message ID.
func (c *Client) SendText(ctx context.Context, to, body string) (string, error) {
	if err := c.checkReady(to); err != nil {
		return "", err
	}
	if body == "" {
		return "", fmt.Errorf("message body cannot be empty")
	}

	jid := types.NewJID(to, JIDSuffix)
	msg := &waE2E.Message{Conversation: &body}
	resp, err := c.waClient.SendMessage(ctx, jid, msg)
	if err != nil {
		return "", fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	slog.Debug("Client.SendText: message sent", "to", to, "messageID", resp.ID)
	return string(resp.ID), nil
}

// SendImage downloads the media, uploads it to WhatsApp, and sends it with an
// optional caption. Returns the provider message ID.
func (c *Client) SendImage(ctx context.Context, to, mediaURL, caption string) (string, error) {
	if err := c.checkReady(to); err != nil {
		return "", err
	}
	if mediaURL == "" {
		return "", fmt.Errorf("media URL cannot be empty")
	}

	data, mimeType, err := fetchMedia(ctx, mediaURL)
	if err != nil {
		return "", fmt.Errorf("failed to fetch media %s: %w", mediaURL, err)
	}

	uploaded, err := c.waClient.Upload(ctx, data, whatsmeow.MediaImage)
	if err != nil {
		return "", fmt.Errorf("failed to upload media: %w", err)
	}

	fileLength := uint64(len(data))
	img := &waE2E.ImageMessage{
		URL:           &uploaded.URL,
		DirectPath:    &uploaded.DirectPath,
		MediaKey:      uploaded.MediaKey,
		FileEncSHA256: uploaded.FileEncSHA256,
		FileSHA256:    uploaded.FileSHA256,
		FileLength:    &fileLength,
		Mimetype:      &mimeType,
	}
	if caption != "" {
		img.Caption = &caption
	}

	jid := types.NewJID(to, JIDSuffix)
	resp, err := c.waClient.SendMessage(ctx, jid, &waE2E.Message{ImageMessage: img})
	if err != nil {
		return "", fmt.Errorf("failed to send image to %s: %w", to, err)
	}
	slog.Debug("Client.SendImage: image sent", "to", to, "messageID", resp.ID)
	return string(resp.ID), nil
}

// SendLocation sends a location pin and returns the provider message ID.
func (c *Client) SendLocation(ctx context.Context, to string, latitude, longitude float64, name string) (string, error) {
	if err := c.checkReady(to); err != nil {
		return "", err
	}

	loc := &waE2E.LocationMessage{
		DegreesLatitude:  &latitude,
		DegreesLongitude: &longitude,
	}
	if name != "" {
		loc.Name = &name
	}

	jid := types.NewJID(to, JIDSuffix)
	resp, err := c.waClient.SendMessage(ctx, jid, &waE2E.Message{LocationMessage: loc})
	if err != nil {
		return "", fmt.Errorf("failed to send location to %s: %w", to, err)
	}
	slog.Debug("Client.SendLocation: location sent", "to", to, "messageID", resp.ID)
	return string(resp.ID), nil
}

// GetClient returns the underlying whatsmeow client for event handling.
func (c *Client) GetClient() *whatsmeow.Client {
	return c.waClient
}

func fetchMedia(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return data, mimeType, nil
}

// MockClient implements Sender without a real WhatsApp connection, for tests.
type MockClient struct {
	nextID int
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) nextMessageID() string {
	m.nextID++
	return fmt.Sprintf("mock-%d", m.nextID)
}

func (m *MockClient) SendText(ctx context.Context, to, body string) (string, error) {
	return m.nextMessageID(), nil
}

func (m *MockClient) SendImage(ctx context.Context, to, mediaURL, caption string) (string, error) {
	return m.nextMessageID(), nil
}

func (m *MockClient) SendLocation(ctx context.Context, to string, latitude, longitude float64, name string) (string, error) {
	return m.nextMessageID(), nil
}
