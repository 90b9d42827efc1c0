package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordHelpers(t *testing.T) {
	// Helpers must accept any input without panicking; values are asserted
	// through the scrape endpoint below.
	RecordAPIRequest("POST", "/api/v1/orders", "201", 12.5)
	RecordOrderCreated("OPEN")
	RecordOrderTerminal("FULFILLED")
	RecordOffer("SELLER")
	RecordOfferRejected(RejectionStaleState)
	RecordAgentProposal(AgentOutcomeCounter)
	SlotsExpired.Inc()
	SweepsRun.Inc()
	SchedulingFailures.Inc()
	DispatcherFailures.Inc()
	ActiveSessions.Set(3)
	NegotiationRounds.Observe(4)
}

func TestScrapeExposesCollectors(t *testing.T) {
	RecordOrderCreated("SAVED")
	RecordOffer("AUTO_AGENT")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	promhttp.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, "commissions_orders_created_total"))
	assert.True(t, strings.Contains(text, "commissions_offers_total"))
	assert.True(t, strings.Contains(text, "commissions_active_sessions"))
}

func TestServerStartShutdown(t *testing.T) {
	srv := NewServer(0, zerolog.Nop())
	require.NoError(t, srv.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, srv.Shutdown(ctx))
}

func TestShutdownWithoutStart(t *testing.T) {
	srv := NewServer(0, zerolog.Nop())
	assert.NoError(t, srv.Shutdown(context.Background()))
}
