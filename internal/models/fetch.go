package models

// FetchTier identifies one rung of the progressive fetch ladder. Higher
// tiers cost more and are only reached by promotion.
type FetchTier int

const (
	FetchTierDirect FetchTier = iota
	FetchTierStandard
	FetchTierPremium
	FetchTierStealth
)

// String returns the tier name used in logs.
func (t FetchTier) String() string {
	switch t {
	case FetchTierDirect:
		return "direct"
	case FetchTierStandard:
		return "standard"
	case FetchTierPremium:
		return "premium"
	case FetchTierStealth:
		return "stealth"
	default:
		return "unknown"
	}
}

// FetchResponse is the result of a successful fetch at whatever tier finally
// answered.
type FetchResponse struct {
	StatusCode  int
	Body        []byte
	ContentType string
	FinalURL    string
	Headers     map[string]string
	Tier        FetchTier
}
