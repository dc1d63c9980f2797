package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/leadflow/leadflow/internal/models"
	"github.com/leadflow/leadflow/internal/whatsapp"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client    whatsapp.Sender
	waClient  *whatsapp.Client // underlying client for event handling, nil for mocks
	responses chan models.InboundEvent
	done      chan struct{}

	mu      sync.RWMutex
	stopped bool
}

// NewWhatsAppService creates a WhatsAppService wrapping the given sender.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	service := &WhatsAppService{
		client:    client,
		responses: make(chan models.InboundEvent, DefaultChannelBufferSize),
		done:      make(chan struct{}),
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
	} else {
		slog.Debug("messaging.NewWhatsAppService: interface client, inbound events disabled")
	}
	return service
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp
// phone number to bare digits.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhoneNumber(recipient)
}

// Start registers the inbound event handler.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Debug("WhatsAppService.Start: no full client available, skipping event handling")
		return nil
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(v)
		default:
		}
	})
	slog.Debug("WhatsAppService.Start: event handler registered")
	return nil
}

// Stop stops background processing and closes the inbound channel. The close
// of the responses channel is deferred briefly so an event handler already
// past the stopped check observes done instead of sending on a closed channel.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.done)
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.responses)
	}()
	slog.Info("WhatsAppService.Stop: stopped")
	return nil
}

func (s *WhatsAppService) SendText(ctx context.Context, to, body string) (string, error) {
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return "", err
	}
	return s.client.SendText(ctx, canonical, body)
}

func (s *WhatsAppService) SendImage(ctx context.Context, to, mediaURL, caption string) (string, error) {
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return "", err
	}
	return s.client.SendImage(ctx, canonical, mediaURL, caption)
}

func (s *WhatsAppService) SendLocation(ctx context.Context, to string, latitude, longitude float64, name string) (string, error) {
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return "", err
	}
	return s.client.SendLocation(ctx, canonical, latitude, longitude, name)
}

// Responses returns the channel of incoming lead messages.
func (s *WhatsAppService) Responses() <-chan models.InboundEvent {
	return s.responses
}

// handleIncomingMessage converts a whatsmeow message event into an inbound
// event. Non-text messages are recorded with HasMedia so the ingestion layer
// can decide what to do with them.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe {
		return
	}

	var body string
	hasMedia := false
	switch {
	case evt.Message.Conversation != nil:
		body = *evt.Message.Conversation
	case evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil:
		body = *evt.Message.ExtendedTextMessage.Text
	default:
		hasMedia = true
		if img := evt.Message.ImageMessage; img != nil && img.Caption != nil {
			body = *img.Caption
		}
	}

	event := models.InboundEvent{
		ChatID:            evt.Info.Sender.User,
		From:              evt.Info.Sender.User,
		Body:              body,
		ExternalMessageID: string(evt.Info.ID),
		Timestamp:         evt.Info.Timestamp.Unix(),
		HasMedia:          hasMedia,
	}

	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		slog.Debug("WhatsAppService.handleIncomingMessage: service stopped, dropping message", "from", event.From)
		return
	}

	select {
	case <-s.done:
		slog.Debug("WhatsAppService.handleIncomingMessage: service stopped, dropping message", "from", event.From)
	case s.responses <- event:
		slog.Debug("WhatsAppService.handleIncomingMessage: inbound event forwarded", "from", event.From, "hasMedia", hasMedia)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService.handleIncomingMessage: responses channel blocked, dropping message", "from", event.From)
	}
}
