// Package models defines playbook structures for pre-approved message sequences.
package models

import (
	"errors"
	"time"
)

// PlaybookStepKind defines the media type of a playbook step.
type PlaybookStepKind string

const (
	// PlaybookStepText is a plain text message.
	PlaybookStepText PlaybookStepKind = "text"
	// PlaybookStepImage is an image with an optional caption.
	PlaybookStepImage PlaybookStepKind = "image"
	// PlaybookStepVideo is a video with an optional caption.
	PlaybookStepVideo PlaybookStepKind = "video"
	// PlaybookStepLocation is a geographic location pin.
	PlaybookStepLocation PlaybookStepKind = "location"
)

// Playbook validation errors
var (
	ErrEmptyPlaybookTitle  = errors.New("playbook title cannot be empty")
	ErrInvalidStepKind     = errors.New("invalid playbook step kind")
	ErrEmptyStepBody       = errors.New("playbook step body cannot be empty")
	ErrMissingStepMediaURL = errors.New("media URL is required for image and video steps")
	ErrMissingStepLocation = errors.New("latitude and longitude are required for location steps")
	ErrNegativeStepOrder   = errors.New("playbook step order cannot be negative")
)

// IsValidPlaybookStepKind checks if the given step kind is supported.
func IsValidPlaybookStepKind(k PlaybookStepKind) bool {
	switch k {
	case PlaybookStepText, PlaybookStepImage, PlaybookStepVideo, PlaybookStepLocation:
		return true
	default:
		return false
	}
}

// Playbook is a pre-approved, ordered sequence of messages retrievable by
// semantic search and sendable verbatim via a tool call. Content is compliance
// checked out of band; the orchestrator only ever sends steps as stored.
type Playbook struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// PlaybookStep is one ordered message within a playbook.
type PlaybookStep struct {
	ID         string           `json:"id"`
	PlaybookID string           `json:"playbook_id"`
	StepOrder  int              `json:"step_order"`
	Kind       PlaybookStepKind `json:"kind"`
	Body       string           `json:"body"`
	MediaURL   string           `json:"media_url,omitempty"`
	Latitude   float64          `json:"latitude,omitempty"`
	Longitude  float64          `json:"longitude,omitempty"`
	DelayMS    int              `json:"delay_ms,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Validate performs validation on a playbook step.
func (s *PlaybookStep) Validate() error {
	if !IsValidPlaybookStepKind(s.Kind) {
		return ErrInvalidStepKind
	}
	if s.StepOrder < 0 {
		return ErrNegativeStepOrder
	}
	switch s.Kind {
	case PlaybookStepText:
		if s.Body == "" {
			return ErrEmptyStepBody
		}
	case PlaybookStepImage, PlaybookStepVideo:
		if s.MediaURL == "" {
			return ErrMissingStepMediaURL
		}
	case PlaybookStepLocation:
		if s.Latitude == 0 && s.Longitude == 0 {
			return ErrMissingStepLocation
		}
	}
	return nil
}
