package shopify

// Internal carrier codes mapped to the tracking-company labels Shopify
// recognizes. Unknown codes pass through unchanged.
var carrierLabels = map[string]string{
	"yamato":    "Yamato Transport",
	"sagawa":    "Sagawa",
	"japanpost": "Japan Post",
	"dhl":       "DHL Express",
	"fedex":     "FedEx",
}

func CarrierLabel(code string) string {
	if label, ok := carrierLabels[code]; ok {
		return label
	}
	return code
}
