package registry

import (
	"context"

	"github.com/covgateway/gateway/bacnetobj"
)

// Mirror is the cache-mirror contract the registry depends on. It is
// satisfied by the cache package's KV-backed implementation; a fake in
// registry's own tests keeps registry logic testable without NATS.
//
// Every method returns an explicit error classifying transient
// (connection lost, timeout) vs permanent failure per the cache
// mirror's failure model; the registry does not inspect the class
// itself; it forwards the error to the caller (the pipeline apply
// path), which decides retry vs skip.
type Mirror interface {
	PutObject(ctx context.Context, record ObjectRecord) error
	GetObject(ctx context.Context, key bacnetobj.ObjectKey) (ObjectRecord, bool, error)
	DeleteObject(ctx context.Context, key bacnetobj.ObjectKey) error
	IterateObjects(ctx context.Context, fn func(ObjectRecord) error) error

	PutCursor(ctx context.Context, subscriptionID string, position uint64) error
	GetCursor(ctx context.Context, subscriptionID string) (uint64, bool, error)

	PutDeviceConfig(ctx context.Context, device DeviceRecord) error
	GetDeviceConfig(ctx context.Context) (DeviceRecord, bool, error)

	// PublishChange is a best-effort out-of-band signal; callers must
	// not treat its error as fatal to the apply path.
	PublishChange(ctx context.Context, key bacnetobj.ObjectKey) error
}
