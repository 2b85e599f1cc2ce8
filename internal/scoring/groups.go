package scoring

import "payout-core/internal/models"

// The group scorers below each turn one signal group into a partial score
// in [0,100] starting from a neutral baseline. Deltas and codes follow
// the same additive style as the rest of the risk tooling: a code is only
// emitted when its signal actually moved the score.

func scoreDevice(entityType models.EntityType, bag SignalBag) (float64, []string, bool) {
	available := bag.Has(SigDeviceFingerprint) || bag.Has(SigDeviceReputation) || bag.Has(SigDeviceMatch)
	if !available {
		return 0, nil, false
	}

	score := 60.0
	var codes []string

	if rep, ok := bag.Float(SigDeviceReputation); ok {
		score = clamp(rep, 0, 100)
		if rep < 30 {
			codes = append(codes, "device_low_reputation")
		}
	}
	if !bag.Has(SigDeviceFingerprint) && !bag.Has(SigDeviceReputation) {
		// A bare match flag with no identity behind it.
		score = 50
	}

	// Refund requests carry a match-against-original-payment flag.
	if match, ok := bag.Bool(SigDeviceMatch); ok {
		if match {
			score += 20
			codes = append(codes, "device_matches_original")
		} else {
			score -= 30
			codes = append(codes, "device_mismatch")
		}
	}

	return clamp(score, 0, 100), codes, true
}

func scoreNetwork(entityType models.EntityType, bag SignalBag) (float64, []string, bool) {
	available := bag.Has(SigIPReputation) || bag.Has(SigGeoVelocity) ||
		bag.Has(SigIPCountry) || bag.Has(SigIPMatch)
	if !available {
		return 0, nil, false
	}

	score := 60.0
	var codes []string

	if rep, ok := bag.Float(SigIPReputation); ok {
		score = clamp(rep, 0, 100)
		if rep < 30 {
			codes = append(codes, "ip_low_reputation")
		}
	}

	// Impossible travel between consecutive sessions.
	if v, ok := bag.Float(SigGeoVelocity); ok && v > 800 {
		score -= 40
		codes = append(codes, "geo_velocity_improbable")
	}

	if ipCountry, ok := bag[SigIPCountry]; ok {
		if cardCountry, ok2 := bag[SigCardCountry]; ok2 && ipCountry != cardCountry {
			score -= 20
			codes = append(codes, "geo_country_mismatch")
		}
	}

	if match, ok := bag.Bool(SigIPMatch); ok {
		if match {
			score += 15
			codes = append(codes, "ip_matches_original")
		} else {
			score -= 15
			codes = append(codes, "ip_mismatch")
		}
	}

	return clamp(score, 0, 100), codes, true
}

func scorePayment(entityType models.EntityType, bag SignalBag) (float64, []string, bool) {
	available := bag.Has(SigAVSMatch) || bag.Has(SigCVVMatch) || bag.Has(SigBINHighRisk)
	if !available {
		return 0, nil, false
	}

	score := 50.0
	var codes []string

	if avs, ok := bag.Bool(SigAVSMatch); ok {
		if avs {
			score += 25
		} else {
			score -= 20
			codes = append(codes, "avs_mismatch")
		}
	}
	if cvv, ok := bag.Bool(SigCVVMatch); ok {
		if cvv {
			score += 25
		} else {
			score -= 30
			codes = append(codes, "cvv_mismatch")
		}
	}
	if highRisk, ok := bag.Bool(SigBINHighRisk); ok && highRisk {
		score -= 35
		codes = append(codes, "bin_high_risk")
	}

	return clamp(score, 0, 100), codes, true
}

func scoreBehavioral(entityType models.EntityType, bag SignalBag) (float64, []string, bool) {
	available := bag.Has(SigAccountAgeDays) || bag.Has(SigPriorRefunds) ||
		bag.Has(SigChargebackCount) || bag.Has(SigTotalSpend)
	if !available {
		return 0, nil, false
	}

	score := 50.0
	var codes []string

	if age, ok := bag.Float(SigAccountAgeDays); ok {
		switch {
		case age < 7:
			score -= 25
			codes = append(codes, "account_new")
		case age >= 365:
			score += 20
			codes = append(codes, "account_established")
		default:
			score += 5
		}
	}

	if refunds, ok := bag.Float(SigPriorRefunds); ok {
		switch {
		case refunds == 0:
			score += 15
		case refunds >= 3:
			score -= clamp(10*refunds, 0, 40)
			codes = append(codes, "repeat_refunder")
		}
	}

	// Refund-request scoring weighs prior refunds harder than charges do.
	if entityType == models.EntityRefundRequest {
		if refunds, ok := bag.Float(SigPriorRefunds); ok && refunds >= 2 {
			score -= 10
		}
	}

	if chargebacks, ok := bag.Float(SigChargebackCount); ok && chargebacks > 0 {
		score -= clamp(30*chargebacks, 0, 60)
		codes = append(codes, "prior_chargebacks")
	}

	if spend, ok := bag.Float(SigTotalSpend); ok && spend >= 500 {
		score += 15
		codes = append(codes, "payer_history_strong")
	}

	return clamp(score, 0, 100), codes, true
}

func scorePlatform(entityType models.EntityType, bag SignalBag) (float64, []string, bool) {
	available := bag.Has(SigPlatformTrust) || bag.Has(SigCreatorTenureDays)
	if !available {
		return 0, nil, false
	}

	score := 70.0
	var codes []string

	if trust, ok := bag.Float(SigPlatformTrust); ok {
		score = clamp(trust, 0, 100)
		if trust < 40 {
			codes = append(codes, "platform_low_trust")
		}
	}
	if tenure, ok := bag.Float(SigCreatorTenureDays); ok && tenure >= 180 {
		score += 10
		codes = append(codes, "creator_established")
	}

	return clamp(score, 0, 100), codes, true
}
