package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	require.NoError(t, Init())

	RecordOrderReceived(false)
	RecordOrderReceived(false)
	RecordOrderReceived(true)
	assert.Equal(t, 2.0, testutil.ToFloat64(ordersReceivedTotal.WithLabelValues("structured")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ordersReceivedTotal.WithLabelValues("raw")))

	RecordMessage(RecipientOperator, KindOrder, errors.New("forbidden"))
	RecordMessage(RecipientCustomer, KindFallback, nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(messagesSentTotal.WithLabelValues("operator", "order", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(messagesSentTotal.WithLabelValues("customer", "fallback", "success")))

	RecordDuplicate("start")
	assert.Equal(t, 1.0, testutil.ToFloat64(duplicatesTotal.WithLabelValues("start")))

	RecordDispatch(true, 120*time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(dispatchDuration))
}

func TestHandler(t *testing.T) {
	require.NoError(t, Init())
	RecordDuplicate("welcome")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `duplicate_actions_suppressed_total{action="welcome"} 1`)
}
