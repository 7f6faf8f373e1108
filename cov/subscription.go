package cov

import "github.com/covgateway/gateway/bacnetobj"

// Identity is the COV subscription identity tuple (§3): unique across
// the manager; a re-subscribe with the same identity renews rather than
// creating a second entry.
type Identity struct {
	SubscriberProcessID uint32
	SubscriberAddress   string
	Object              bacnetobj.ObjectKey
}

// Subscription is one live COV registration.
type Subscription struct {
	Identity Identity

	Confirmed                bool
	LifetimeSecondsRemaining uint32 // 0 means indefinite
	CovIncrementOverride     *float64

	CreatedAt      int64 // wall-clock seconds
	LastNotifiedAt int64 // wall-clock seconds, 0 if never notified
}

// Indefinite reports whether the subscription never expires via Tick.
func (s *Subscription) Indefinite() bool {
	return s.LifetimeSecondsRemaining == 0
}
