package verification

import "time"

// Clock abstracts time.Now so expiry-window checks and signing timestamps are
// deterministic in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns the wall clock (UTC).
func SystemClock() Clock { return systemClock{} }
