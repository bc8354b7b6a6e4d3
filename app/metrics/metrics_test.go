package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveTransaction(t *testing.T) {
	before := testutil.ToFloat64(ledgerTransactionsTotal.WithLabelValues("deposit", "completed"))
	ObserveTransaction("deposit", "completed", time.Now())
	after := testutil.ToFloat64(ledgerTransactionsTotal.WithLabelValues("deposit", "completed"))
	assert.Equal(t, before+1, after)
}

func TestObserveHoldTransition(t *testing.T) {
	before := testutil.ToFloat64(holdTransitionsTotal.WithLabelValues("expired"))
	ObserveHoldTransition("expired", 3)
	assert.Equal(t, before+3, testutil.ToFloat64(holdTransitionsTotal.WithLabelValues("expired")))
}
