// Package notify provides best-effort push delivery to gatekeeper devices.
package notify

import (
	"context"
	"log"
)

// Report summarizes a fan-out. Individual delivery failures are recorded per
// token and never fail the overall call.
type Report struct {
	Success int
	Failure int
	// Failed holds the tokens that did not receive the notification.
	Failed []string
}

// Notifier sends a multicast notification to a set of device tokens.
type Notifier interface {
	Send(ctx context.Context, tokens []string, title, body string) (Report, error)
}

// Console logs the would-be notifications instead of sending them. Used when FCM
// credentials are not configured.
type Console struct{}

func NewConsole() *Console {
	return &Console{}
}

func (c *Console) Send(_ context.Context, tokens []string, title, body string) (Report, error) {
	log.Printf("notify: console delivery to %d device(s): %s :: %s", len(tokens), title, body)
	return Report{Success: len(tokens)}, nil
}
