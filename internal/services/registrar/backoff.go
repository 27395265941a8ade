package registrar

import "time"

const (
	pendingBaseDelay = 5 * time.Minute
	pendingMaxDelay  = 60 * time.Minute

	// After this many waits (~6h of doubling delays) a shipment whose
	// fulfillment order never materialized flips to sync_status=error
	// instead of waiting forever.
	maxPendingRetries = 12
)

// pendingDelay doubles from 5 minutes per retry, capped at an hour.
func pendingDelay(retryCount int32) time.Duration {
	d := pendingBaseDelay
	for i := int32(0); i < retryCount; i++ {
		d *= 2
		if d >= pendingMaxDelay {
			return pendingMaxDelay
		}
	}
	return d
}
