package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestObserversDoNotPanicAndHandlerServes(t *testing.T) {
	Init()
	Init() // idempotent

	ObserveShipmentChecked("fedex")
	ObserveShipmentDelivered("fedex")
	ObserveTrackFailure("dhl")
	ObserveBrowserSession("ok")
	ObserveAlertSent()
	ObserveAlertFailed()
	ObserveAlertEscalation()
	ObserveCycleDuration("tracking", 2*time.Second)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "tracker_shipments_checked_total")
}
