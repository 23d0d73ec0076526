// Package broadcast defines how sync status reaches dashboard connections.
package broadcast

import "context"

// Broadcaster fans a typed event out to every connected dashboard. It must
// not block the sync run: slow or dead connections are dropped, not waited on.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}
