package registry

import (
	"context"

	"github.com/covgateway/gateway/bacnetobj"
)

// Notifier is the COV manager contract the registry depends on. Notify
// is fire-and-forget from the registry's point of view: per-subscriber
// send failures are the COV manager's concern (§4.4 — failed
// subscribers are retried only on the object's next value change).
type Notifier interface {
	Notify(ctx context.Context, key bacnetobj.ObjectKey, value bacnetobj.Value, flags bacnetobj.StatusFlags, priority uint8)
	CancelAllForObject(key bacnetobj.ObjectKey)
}
