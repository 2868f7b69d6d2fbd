package shopifyhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BearBump/PackBox/internal/integrations/failure"
	"github.com/stretchr/testify/require"
)

func TestReport_OK(t *testing.T) {
	var gotPath, gotToken string
	var gotBody fulfillmentRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("X-Shopify-Access-Token")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"fulfillment":{"id":1}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", "2024-10")
	require.NoError(t, c.Report(context.Background(), "1001", "PB123"))

	require.Equal(t, "/admin/api/2024-10/orders/1001/fulfillments.json", gotPath)
	require.Equal(t, "tok", gotToken)
	require.Equal(t, "PB123", gotBody.Fulfillment.TrackingInfo.Number)
	require.Equal(t, "Bring", gotBody.Fulfillment.TrackingInfo.Company)
	require.True(t, gotBody.Fulfillment.NotifyCustomer)
}

func TestReport_RateLimitIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", "")
	err := c.Report(context.Background(), "1001", "PB123")
	require.Error(t, err)
	require.Equal(t, failure.KindTransient, failure.KindOf(err))
}

func TestReport_MissingScopeIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors":"missing write_fulfillments scope"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", "")
	err := c.Report(context.Background(), "1001", "PB123")
	require.Error(t, err)
	require.Equal(t, failure.KindPermanent, failure.KindOf(err))
}

func TestNew_NormalizesDomain(t *testing.T) {
	c := New("yourshop.myshopify.com/", "tok", "")
	require.Equal(t, "https://yourshop.myshopify.com/admin/api/2024-10", c.baseURL)
}
