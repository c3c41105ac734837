package channel

import "context"

// Channel delivers one message through an external provider and returns the
// provider's message id. Implementations must report missing credentials
// before attempting any network call.
type Channel interface {
	Deliver(ctx context.Context, recipient, subject, content string) (externalID string, err error)
}
