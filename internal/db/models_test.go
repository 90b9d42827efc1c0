package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestOrderStatusIsTerminal tests terminal classification of order statuses
func TestOrderStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status   OrderStatus
		terminal bool
	}{
		{OrderStatusOpen, false},
		{OrderStatusNegotiating, false},
		{OrderStatusFulfilled, true},
		{OrderStatusExpired, true},
		{OrderStatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}

// TestSlotStatusIsTerminal tests terminal classification of slot statuses
func TestSlotStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status   SlotStatus
		terminal bool
	}{
		{SlotStatusPending, false},
		{SlotStatusOffered, false},
		{SlotStatusCounterOffered, false},
		{SlotStatusAccepted, true},
		{SlotStatusDeclined, true},
		{SlotStatusExpired, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}

// TestSellerEligible tests the eligibility predicate
func TestSellerEligible(t *testing.T) {
	minBudget := Money(50000)

	tests := []struct {
		name     string
		seller   Seller
		budget   Money
		eligible bool
	}{
		{
			name:     "accepting without minimum",
			seller:   Seller{AcceptingCommissions: true},
			budget:   100,
			eligible: true,
		},
		{
			name:     "not accepting",
			seller:   Seller{AcceptingCommissions: false},
			budget:   1000000,
			eligible: false,
		},
		{
			name:     "budget meets minimum",
			seller:   Seller{AcceptingCommissions: true, MinimumBudget: &minBudget},
			budget:   50000,
			eligible: true,
		},
		{
			name:     "budget below minimum",
			seller:   Seller{AcceptingCommissions: true, MinimumBudget: &minBudget},
			budget:   49999,
			eligible: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.eligible, tt.seller.Eligible(tt.budget))
		})
	}
}
