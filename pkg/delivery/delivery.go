// Package delivery sends plain-text messages to an actor's address.
package delivery

import "context"

// Deliverer sends a message to an address. A nil error means delivered.
type Deliverer interface {
	Deliver(ctx context.Context, address, message string) error
}
