package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func subID(s string) *string { return &s }

func TestGateExemptAlwaysAllows(t *testing.T) {
	account := BillingAccount{Status: StatusCanceled}

	decision := Gate(account, 10, true)

	require.True(t, decision.Allowed)
	require.Equal(t, ReasonActiveSubscriptionSufficient, decision.Reason)
}

func TestGateAllowsWithinPurchasedQuantity(t *testing.T) {
	account := BillingAccount{
		ProviderSubscriptionID: subID("sub_1"),
		Status:                 StatusActive,
		Quantity:               3,
	}

	decision := Gate(account, 3, false)

	require.True(t, decision.Allowed)
	require.Equal(t, ReasonActiveSubscriptionSufficient, decision.Reason)
}

func TestGateDeniesBeyondPurchasedQuantity(t *testing.T) {
	account := BillingAccount{
		ProviderSubscriptionID: subID("sub_1"),
		Status:                 StatusActive,
		Quantity:               2,
	}

	decision := Gate(account, 3, false)

	require.False(t, decision.Allowed)
	require.Equal(t, ReasonUseUpgradeFlow, decision.Reason)
}

func TestGateTrialingCountsAsPaid(t *testing.T) {
	account := BillingAccount{
		ProviderSubscriptionID: subID("sub_1"),
		Status:                 StatusTrialing,
		Quantity:               1,
	}

	decision := Gate(account, 1, false)

	require.True(t, decision.Allowed)
}

func TestGateFailsClosedOnUnpaidStatuses(t *testing.T) {
	unpaid := []SubscriptionStatus{
		StatusNone,
		StatusIncomplete,
		StatusIncompleteExpired,
		StatusPastDue,
		StatusCanceled,
		StatusUnpaid,
		StatusPaused,
	}

	for _, status := range unpaid {
		account := BillingAccount{
			ProviderSubscriptionID: subID("sub_1"),
			Status:                 status,
			Quantity:               100,
		}

		decision := Gate(account, 1, false)

		require.False(t, decision.Allowed, "status %s must deny", status)
		require.Equal(t, ReasonNoSubscription, decision.Reason, "status %s", status)
	}
}

func TestGateDeniesWithoutSubscriptionHandle(t *testing.T) {
	account := BillingAccount{Status: StatusActive, Quantity: 5}

	decision := Gate(account, 1, false)

	require.False(t, decision.Allowed)
	require.Equal(t, ReasonNoSubscription, decision.Reason)
}

func TestParseSubscriptionStatusCollapsesUnknown(t *testing.T) {
	require.Equal(t, StatusActive, ParseSubscriptionStatus("active"))
	require.Equal(t, StatusNone, ParseSubscriptionStatus("some_future_status"))
	require.Equal(t, StatusNone, ParseSubscriptionStatus(""))
}
