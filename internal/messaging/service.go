// Package messaging provides the pluggable delivery abstraction between the
// orchestration engine and the WhatsApp transports, plus the ingestion path
// that turns inbound gateway events into orchestration jobs.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/leadflow/leadflow/internal/models"
)

// Constants for messaging service configuration
const (
	// DefaultChannelBufferSize defines the buffer size for inbound event channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when a send is attempted after Stop.
var ErrServiceStopped = errors.New("messaging service is stopped")

// phoneNumberRegex matches everything that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`\D`)

// Service defines a pluggable message delivery abstraction. Sends return the
// provider message ID; Responses delivers inbound gateway events.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient
	// identifier according to the transport's rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	SendText(ctx context.Context, to, body string) (string, error)
	SendImage(ctx context.Context, to, mediaURL, caption string) (string, error)
	SendLocation(ctx context.Context, to string, latitude, longitude float64, name string) (string, error)

	// Start begins background processing (e.g. event polling).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Responses returns a channel of incoming messages from leads.
	Responses() <-chan models.InboundEvent
}

// canonicalizePhoneNumber strips non-digits and enforces the minimum length.
// Both transports identify recipients by bare-digit phone numbers.
func canonicalizePhoneNumber(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < models.MinPhoneNumberDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, models.MinPhoneNumberDigits)
	}
	if recipient != canonical {
		slog.Debug("messaging.canonicalizePhoneNumber: canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}
