package query

import "github.com/ethereum/go-ethereum/common"

// BalanceResponse is a wallet's holdings in the in-memory bank.
type BalanceResponse struct {
	Address common.Address    `json:"address"`
	Assets  map[string]string `json:"assets"` // asset name -> amount

	// Set when the address has a queued action.
	Pending *PendingResponse `json:"pending,omitempty"`

	AsOfSequence uint64 `json:"as_of_sequence"`
}
