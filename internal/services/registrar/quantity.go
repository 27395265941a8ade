package registrar

// resolveQuantity picks how many units to request on the external
// fulfillment. Precedence: the vendor's explicit quantity clipped to what the
// fulfillment order still considers fulfillable, then the FO remainder, then
// the locally cached fulfillable quantity, then the full ordered quantity.
func resolveQuantity(requested, remaining, cachedFulfillable, ordered int32) int32 {
	if requested > 0 && remaining > 0 {
		if requested > remaining {
			return remaining
		}
		return requested
	}
	if remaining > 0 {
		return remaining
	}
	if cachedFulfillable > 0 {
		return cachedFulfillable
	}
	return ordered
}
