package utils

import (
	"time"
)

// CORS and security constants
const (
	// CORSMaxAge is the maximum age for CORS preflight requests (24 hours)
	CORSMaxAge = 86400
)

// Request tracing
type requestIDKey string

// RequestIDKey carries the request id through contexts into audit rows
const RequestIDKey requestIDKey = "X-Request-ID"

// Ledger constants
const (
	// CurrencyPlaces is the number of decimal places money is kept at
	CurrencyPlaces int32 = 2

	// Day is the unit lock periods and maturities are expressed in
	Day = 24 * time.Hour

	// TransactionReferencePrefix prefixes generated transaction references
	TransactionReferencePrefix = "TXN"

	// ProfitReferencePrefix prefixes the credit reference of a profit row
	ProfitReferencePrefix = "PRF"

	// ReversalReferencePrefix prefixes compensating transaction references
	ReversalReferencePrefix = "REV"

	// MaturityReferencePrefix prefixes the return credit of a matured investment
	MaturityReferencePrefix = "MAT"

	// CapitalReturnReferencePrefix prefixes the capital refund of a matured investment
	CapitalReturnReferencePrefix = "CAP"
)
