package classify

import "strings"

// FailureKind is the closed classification of payment failure causes.
type FailureKind string

const (
	HardDeclineStolen  FailureKind = "HARD_DECLINE_STOLEN"
	HardDeclineFraud   FailureKind = "HARD_DECLINE_FRAUD"
	HardDeclineBlocked FailureKind = "HARD_DECLINE_BLOCKED"
	AuthRequired       FailureKind = "AUTHENTICATION_REQUIRED"
	InsufficientFunds  FailureKind = "INSUFFICIENT_FUNDS"
	ExpiredCard        FailureKind = "EXPIRED_CARD"
	DoNotHonor         FailureKind = "DO_NOT_HONOR"
	IncorrectData      FailureKind = "INCORRECT_DATA"
	Generic            FailureKind = "GENERIC"

	// HardDeclineLegacy exists only for reading records written before the
	// hard-decline split. Classify never produces it.
	HardDeclineLegacy FailureKind = "HARD_DECLINE"
)

// declineCodeMap follows the Stripe decline-code table,
// https://docs.stripe.com/declines/codes
var declineCodeMap = map[string]FailureKind{
	// Hard decline, stolen/lost card: no retry, no outreach
	"stolen_card": HardDeclineStolen,
	"lost_card":   HardDeclineStolen,

	// Hard decline, fraud
	"fraudulent":         HardDeclineFraud,
	"pickup_card":        HardDeclineFraud,
	"merchant_blacklist": HardDeclineFraud,

	// Hard decline, permanently blocked
	"restricted_card":    HardDeclineBlocked,
	"security_violation": HardDeclineBlocked,
	"do_not_try_again":   HardDeclineBlocked,
	"not_permitted":      HardDeclineBlocked,

	// 3D Secure, recoverable with customer action
	"authentication_required": AuthRequired,

	// Soft decline: bank refused without a specific reason, retryable
	"do_not_honor": DoNotHonor,

	// Retryable once funds are available
	"insufficient_funds":              InsufficientFunds,
	"withdrawal_count_limit_exceeded": InsufficientFunds,

	// Card expired or unsupported
	"expired_card":       ExpiredCard,
	"card_not_supported": ExpiredCard,

	// Incorrect card data, customer needs to re-enter
	"incorrect_number":     IncorrectData,
	"invalid_cvc":          IncorrectData,
	"incorrect_cvc":        IncorrectData,
	"invalid_expiry_month": IncorrectData,
	"invalid_expiry_year":  IncorrectData,
	"invalid_number":       IncorrectData,
}

// Classify maps a processor decline code to a FailureKind. It is total:
// empty or unknown codes yield Generic.
func Classify(declineCode string) FailureKind {
	code := strings.ToLower(strings.TrimSpace(declineCode))
	if code == "" {
		return Generic
	}
	if kind, ok := declineCodeMap[code]; ok {
		return kind
	}
	return Generic
}

// ParseStored normalizes a failure kind read back from the database,
// keeping the deprecated catch-all confined to this boundary.
func ParseStored(raw string) FailureKind {
	switch FailureKind(raw) {
	case HardDeclineStolen, HardDeclineFraud, HardDeclineBlocked,
		AuthRequired, InsufficientFunds, ExpiredCard, DoNotHonor,
		IncorrectData, Generic:
		return FailureKind(raw)
	case HardDeclineLegacy:
		return HardDeclineLegacy
	default:
		return Generic
	}
}

// IsHardDecline reports whether no automated recovery should be attempted:
// no retry and no outreach.
func IsHardDecline(kind FailureKind) bool {
	switch kind {
	case HardDeclineStolen, HardDeclineFraud, HardDeclineBlocked, HardDeclineLegacy:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether a processor-side forced collection attempt
// is worth making before outreach.
func IsRetryable(kind FailureKind) bool {
	return kind == InsufficientFunds || kind == DoNotHonor
}
