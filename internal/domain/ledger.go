package domain

import "time"

// CreditTransaction is one row of the credit audit trail. Amount is
// negative for debits.
type CreditTransaction struct {
	OwnerKey  string    `json:"ownerKey"`
	Amount    int       `json:"amount"`
	Reason    string    `json:"reason"`
	Reference string    `json:"reference,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

const (
	ReasonBundlePurchase = "bundle_purchase"
	ReasonRedeem         = "credit_redeemed"
	ReasonRefund         = "dispatch_refund"
)

type FreePassClaim struct {
	OwnerKey  string    `json:"ownerKey"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Email     string    `json:"email"`
	JobID     string    `json:"jobId"`
	ClaimedAt time.Time `json:"claimedAt"`
}
