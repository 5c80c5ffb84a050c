// Package provider defines the interface for relay delivery backends.
package provider

import (
	"context"

	"github.com/shineum/inbound-parse-relay/internal/email"
)

// Provider delivers a message built from a normalized inbound webhook to a
// target service such as stdout, SES or Microsoft Graph.
type Provider interface {
	// Send delivers msg. It returns an error if delivery fails.
	Send(ctx context.Context, msg *email.Email) error

	// Name returns the human-readable name of this provider.
	Name() string
}
