package scoring

import "strconv"

// SignalBag is the flat key-value bag of raw risk signals collected for a
// transaction, refund request or user. Values are strings so collectors
// can forward whatever a processor or device SDK reported without a
// schema migration; the group scorers parse what they understand.
type SignalBag map[string]string

// Signal keys, grouped by the signal group that consumes them.
const (
	// Device
	SigDeviceFingerprint = "device.fingerprint"
	SigDeviceReputation  = "device.reputation" // 0-100
	SigDeviceMatch       = "device.match_original" // refund: device matches original payment

	// Network
	SigIPReputation = "network.ip_reputation" // 0-100
	SigIPMatch      = "network.ip_match_original"
	SigGeoVelocity  = "network.geo_velocity_kmh"
	SigIPCountry    = "network.ip_country"

	// Payment method
	SigAVSMatch    = "payment.avs_match"
	SigCVVMatch    = "payment.cvv_match"
	SigBINHighRisk = "payment.bin_high_risk"
	SigCardCountry = "payment.card_country"

	// Behavioral
	SigAccountAgeDays  = "behavioral.account_age_days"
	SigPriorRefunds    = "behavioral.prior_refund_count"
	SigChargebackCount = "behavioral.chargeback_count"
	SigTotalSpend      = "behavioral.total_spend"

	// Platform context
	SigPlatformTrust     = "platform.trust" // 0-100
	SigCreatorTenureDays = "platform.creator_tenure_days"

	// Refund context (set by the platform on refund requests)
	SigContentAccessed = "refund.content_accessed"
)

// Float parses a numeric signal. The second return is false when the
// signal is absent or unparseable.
func (b SignalBag) Float(key string) (float64, bool) {
	raw, ok := b[key]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Bool parses a boolean signal
func (b SignalBag) Bool(key string) (bool, bool) {
	raw, ok := b[key]
	if !ok {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

// Has reports whether the signal is present
func (b SignalBag) Has(key string) bool {
	_, ok := b[key]
	return ok
}
