package types

import "strings"

// Package tiers assigned to credentials.  MasterCard and ServiceCard are
// reserved universal tiers: they grant access to every access point and
// bypass the entitlement matrix.  All other tiers (General, Deluxe, ...)
// are matrix-governed.
const (
	TierGeneral     = "General"
	TierMasterCard  = "MasterCard"
	TierServiceCard = "ServiceCard"
)

func IsUniversalTier(tier string) bool {
	return tier == TierMasterCard || tier == TierServiceCard
}

// DefaultFacilities is the closed set of shared-facility names used when
// none is configured.  Matrix upserts for names outside the configured set
// are ignored.
var DefaultFacilities = []string{"Lounge", "Spa", "Pool", "Gym"}

// NormalizeTier trims whitespace and maps an empty tier to General.
func NormalizeTier(tier string) string {
	tier = strings.TrimSpace(tier)
	if tier == "" {
		return TierGeneral
	}
	return tier
}
