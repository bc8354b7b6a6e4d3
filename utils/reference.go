package utils

import (
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewULID returns a monotonic ULID string; ids minted in the same millisecond stay ordered
func NewULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(UTCNow()), entropy).String()
}

// NewTransactionReference returns a unique ledger reference such as TXN-01J...
func NewTransactionReference() string {
	return fmt.Sprintf("%s-%s", TransactionReferencePrefix, NewULID())
}

// ProfitReference is the deterministic credit reference of a sale share
func ProfitReference(saleID, userID uint) string {
	return fmt.Sprintf("%s-%d-%d", ProfitReferencePrefix, saleID, userID)
}

// ReversalReference is the deterministic reference of the compensating transaction for originalID
func ReversalReference(originalID uint) string {
	return fmt.Sprintf("%s-%d", ReversalReferencePrefix, originalID)
}

// MaturityReference is the deterministic reference of a matured investment's return credit
func MaturityReference(investmentID uint) string {
	return fmt.Sprintf("%s-%d", MaturityReferencePrefix, investmentID)
}

// CapitalReturnReference is the deterministic reference of a matured investment's capital refund
func CapitalReturnReference(investmentID uint) string {
	return fmt.Sprintf("%s-%d", CapitalReturnReferencePrefix, investmentID)
}
