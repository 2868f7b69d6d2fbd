package bringhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BearBump/PackBox/internal/integrations/failure"
	"github.com/BearBump/PackBox/internal/models"
	"github.com/stretchr/testify/require"
)

func testPayload() models.OrderPayload {
	return models.OrderPayload{
		OrderID:     "1001",
		OrderNumber: "#1001",
		Email:       "kari@example.com",
		Phone:       "+47 912 34 567",
		Recipient:   models.Recipient{FirstName: "Kari", LastName: "Nordmann"},
		Address: models.Address{
			Address1:    "Testveien 2",
			PostalCode:  "0150",
			City:        "Oslo",
			CountryCode: "no",
		},
		LineItems: []models.LineItem{{Quantity: 2, Grams: 400}},
	}
}

func TestBook_OK(t *testing.T) {
	var gotReq bookingRequest
	var gotHeaders http.Header

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_, _ = w.Write([]byte(`{
  "consignments": [{
    "confirmation": {
      "consignmentNumber": "70438101234567891",
      "links": {"labels": "https://api.bring.com/labels/1.pdf"}
    }
  }]
}`))
	}))
	defer srv.Close()

	c := New(Config{
		BookingURL:     srv.URL,
		APIUID:         "uid",
		APIKey:         "key",
		CustomerNumber: "5",
		ClientURL:      "http://localhost:8000",
		TestMode:       true,
		Sender:         Sender{Name: "PackBox", Address: "Testveien 2", PostalCode: "0150", City: "Oslo", Country: "NO"},
	})

	res, err := c.Book(context.Background(), testPayload())
	require.NoError(t, err)
	require.Equal(t, "70438101234567891", res.TrackingNumber)
	require.Equal(t, "https://api.bring.com/labels/1.pdf", res.LabelRef)

	require.Equal(t, "true", gotHeaders.Get("X-Bring-Test-Indicator"))
	require.Equal(t, "uid", gotHeaders.Get("X-Mybring-API-Uid"))

	require.Equal(t, 1, gotReq.SchemaVersion)
	require.Len(t, gotReq.Consignments, 1)
	cons := gotReq.Consignments[0]
	require.Equal(t, "Kari Nordmann", cons.Parties.Recipient.Name)
	require.Equal(t, "NO", cons.Parties.Recipient.CountryCode)
	require.Equal(t, "4791234567", cons.Parties.Recipient.MobileNumber)
	require.InDelta(t, 0.8, cons.Packages[0].WeightInKg, 0.001) // 2 x 400 г
	require.Equal(t, "SERVICEPAKKE", cons.Product.ID)
	require.Equal(t, "1001", cons.References.ConsignmentNumber)
}

func TestBook_RateLimitIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(Config{BookingURL: srv.URL, CustomerNumber: "5"})
	_, err := c.Book(context.Background(), testPayload())
	require.Error(t, err)
	require.Equal(t, failure.KindTransient, failure.KindOf(err))
}

func TestBook_BadRequestIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid postal code"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(Config{BookingURL: srv.URL, CustomerNumber: "5"})
	_, err := c.Book(context.Background(), testPayload())
	require.Error(t, err)
	require.Equal(t, failure.KindPermanent, failure.KindOf(err))
}

func TestBook_ConsignmentErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
  "consignments": [{
    "errors": [{"code": "BOOK-INPUT-014", "messages": [{"message": "Invalid recipient"}]}]
  }]
}`))
	}))
	defer srv.Close()

	c := New(Config{BookingURL: srv.URL, CustomerNumber: "5"})
	_, err := c.Book(context.Background(), testPayload())
	require.Error(t, err)
	require.Equal(t, failure.KindPermanent, failure.KindOf(err))
	require.Contains(t, err.Error(), "BOOK-INPUT-014")
}

func TestBook_MissingAddressIsPermanent(t *testing.T) {
	c := New(Config{CustomerNumber: "5"})
	p := testPayload()
	p.Address.PostalCode = ""

	_, err := c.Book(context.Background(), p)
	require.Error(t, err)
	require.Equal(t, failure.KindPermanent, failure.KindOf(err))
}

func TestBook_TransportErrorIsAmbiguous(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // соединение сразу падает

	c := New(Config{BookingURL: srv.URL, CustomerNumber: "5"})
	_, err := c.Book(context.Background(), testPayload())
	require.Error(t, err)
	require.Equal(t, failure.KindAmbiguous, failure.KindOf(err))
}
