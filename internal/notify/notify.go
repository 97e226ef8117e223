// Package notify delivers best-effort notifications about finished copy jobs.
package notify

import (
	"context"
	"errors"
)

// Notifier sends a message to the operator.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// Nop discards every notification.
type Nop struct{}

var _ Notifier = Nop{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, string, string) error { return nil }

// Multi fans a notification out to several notifiers. Every notifier is
// tried; their errors are joined.
type Multi []Notifier

var _ Notifier = Multi(nil)

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, subject, body string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, subject, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
