package domain

// ReasonCode is the machine-readable explanation attached to every gating
// decision.
type ReasonCode string

const (
	ReasonActiveSubscriptionSufficient ReasonCode = "ACTIVE_SUBSCRIPTION_SUFFICIENT"
	ReasonUseUpgradeFlow               ReasonCode = "USE_UPGRADE_FLOW"
	ReasonNoSubscription               ReasonCode = "NO_SUBSCRIPTION"
)

// Decision is the outcome of a gating check.
type Decision struct {
	Allowed bool       `json:"allowed"`
	Reason  ReasonCode `json:"reason"`
}

// GateDeniedError carries a denial out of a request path so the HTTP layer
// can attach the reason code and a redirect target.
type GateDeniedError struct {
	Decision Decision
}

func (e *GateDeniedError) Error() string {
	return "billing_gate_denied: " + string(e.Decision.Reason)
}

// Gate decides whether the owner may take a non-exempt action requiring
// desiredQuantity seats. It is side-effect-free: callers supply the account
// snapshot and the decision is a pure function of its fields.
//
// Exempt actions (billing administration, login) always pass. Everything else
// requires a paid status and enough seats; every other state fails closed.
func Gate(account BillingAccount, desiredQuantity int64, exempt bool) Decision {
	if exempt {
		return Decision{Allowed: true, Reason: ReasonActiveSubscriptionSufficient}
	}
	if !account.Status.Paid() || !account.HasSubscription() {
		return Decision{Allowed: false, Reason: ReasonNoSubscription}
	}
	if account.Quantity >= desiredQuantity {
		return Decision{Allowed: true, Reason: ReasonActiveSubscriptionSufficient}
	}
	return Decision{Allowed: false, Reason: ReasonUseUpgradeFlow}
}
