package bringhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BearBump/PackBox/internal/integrations/booking"
	"github.com/BearBump/PackBox/internal/integrations/failure"
	"github.com/BearBump/PackBox/internal/models"
	"github.com/pkg/errors"
)

const defaultBookingURL = "https://api.bring.com/booking/api/create"

// Sender — реквизиты отправителя из конфига, подставляются в каждую бронь.
type Sender struct {
	Name       string
	Address    string
	PostalCode string
	City       string
	Country    string
}

type Config struct {
	BookingURL     string
	APIUID         string
	APIKey         string
	CustomerNumber string
	ClientURL      string
	Product        string
	TestMode       bool
	Sender         Sender
}

type Client struct {
	cfg   Config
	httpc *http.Client
}

func New(cfg Config) *Client {
	if cfg.BookingURL == "" {
		cfg.BookingURL = defaultBookingURL
	}
	if cfg.Product == "" {
		cfg.Product = "SERVICEPAKKE"
	}
	return &Client{
		cfg: cfg,
		httpc: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type party struct {
	Name         string `json:"name"`
	AddressLine  string `json:"addressLine"`
	PostalCode   string `json:"postalCode"`
	City         string `json:"city"`
	CountryCode  string `json:"countryCode"`
	EmailAddress string `json:"emailAddress,omitempty"`
	MobileNumber string `json:"mobileNumber,omitempty"`
	PhoneNumber  string `json:"phoneNumber,omitempty"`
}

type productRef struct {
	ID string `json:"id"`
}

type customerNumberRef struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type dimensions struct {
	LengthInCm int `json:"lengthInCm"`
	WidthInCm  int `json:"widthInCm"`
	HeightInCm int `json:"heightInCm"`
}

type packageSpec struct {
	WeightInKg float64    `json:"weightInKg"`
	Dimensions dimensions `json:"dimensions"`
}

type parties struct {
	Sender    party `json:"sender"`
	Recipient party `json:"recipient"`
}

type references struct {
	OrderNumber       string `json:"orderNumber"`
	ConsignmentNumber string `json:"consignmentNumber"`
}

type serviceRef struct {
	ID string `json:"id"`
}

type consignment struct {
	ShippingDateTime   string            `json:"shippingDateTime"`
	Product            productRef        `json:"product"`
	CustomerNumber     customerNumberRef `json:"customerNumber"`
	Packages           []packageSpec     `json:"packages"`
	Parties            parties           `json:"parties"`
	References         references        `json:"references"`
	AdditionalServices []serviceRef      `json:"additionalServices"`
}

type bookingRequest struct {
	SchemaVersion  int           `json:"schemaVersion"`
	Language       string        `json:"language"`
	ClientURL      string        `json:"clientUrl"`
	CustomerNumber string        `json:"customerNumber"`
	Consignments   []consignment `json:"consignments"`
}

type bookingResponse struct {
	Consignments []struct {
		Confirmation struct {
			ConsignmentNumber string `json:"consignmentNumber"`
			Links             struct {
				Tracking string `json:"tracking"`
				Labels   string `json:"labels"`
			} `json:"links"`
		} `json:"confirmation"`
		Errors []struct {
			Code     string `json:"code"`
			Messages []struct {
				Message string `json:"message"`
			} `json:"messages"`
		} `json:"errors"`
	} `json:"consignments"`
}

func (c *Client) Book(ctx context.Context, payload models.OrderPayload) (booking.Result, error) {
	req, err := c.buildRequest(payload)
	if err != nil {
		// Невалидный вход — ретраить бессмысленно.
		return booking.Result{}, failure.Permanent("bring book", err)
	}

	b, err := json.Marshal(req)
	if err != nil {
		return booking.Result{}, errors.Wrap(err, "marshal booking request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BookingURL, bytes.NewReader(b))
	if err != nil {
		return booking.Result{}, errors.Wrap(err, "new request")
	}
	httpReq.Header.Set("X-Mybring-API-Uid", c.cfg.APIUID)
	httpReq.Header.Set("X-Mybring-API-Key", c.cfg.APIKey)
	httpReq.Header.Set("X-Bring-Client-URL", c.cfg.ClientURL)
	httpReq.Header.Set("X-Mybring-Customer-Number", c.cfg.CustomerNumber)
	httpReq.Header.Set("X-Bring-Test-Indicator", fmt.Sprintf("%t", c.cfg.TestMode))
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		// POST ушёл, ответа нет: бронирование могло пройти на стороне Bring.
		return booking.Result{}, failure.FromTransport("bring book", err, true)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode/100 != 2 {
		return booking.Result{}, failure.FromStatus("bring book", resp.StatusCode, string(body))
	}

	var r bookingResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return booking.Result{}, errors.Wrap(err, "decode booking response")
	}
	if len(r.Consignments) == 0 {
		return booking.Result{}, failure.Permanent("bring book", errors.New("no consignments in response"))
	}

	c0 := r.Consignments[0]
	if len(c0.Errors) > 0 {
		msg := c0.Errors[0].Code
		if len(c0.Errors[0].Messages) > 0 {
			msg = fmt.Sprintf("%s: %s", msg, c0.Errors[0].Messages[0].Message)
		}
		return booking.Result{}, failure.Permanent("bring book", errors.New(msg))
	}
	if c0.Confirmation.ConsignmentNumber == "" {
		return booking.Result{}, failure.Permanent("bring book", errors.New("no consignment number in response"))
	}

	return booking.Result{
		TrackingNumber: c0.Confirmation.ConsignmentNumber,
		LabelRef:       c0.Confirmation.Links.Labels,
	}, nil
}

func (c *Client) buildRequest(p models.OrderPayload) (*bookingRequest, error) {
	if p.Address.Address1 == "" || p.Address.PostalCode == "" || p.Address.City == "" {
		return nil, errors.New("recipient address is incomplete")
	}
	name := strings.TrimSpace(p.Recipient.FirstName + " " + p.Recipient.LastName)
	if name == "" {
		return nil, errors.New("recipient name is required")
	}

	country := strings.ToUpper(p.Address.CountryCode)
	if country == "" {
		country = "NO"
	}

	// Вес из позиций заказа; если нет — 500 г по умолчанию.
	weightKg := float64(totalWeightGrams(p.LineItems)) / 1000.0
	if weightKg < 0.01 {
		weightKg = 0.5
	}

	phone := normalizePhone(p.Phone)

	cons := consignment{
		ShippingDateTime: time.Now().UTC().Add(time.Hour).Format("2006-01-02T15:04:05"),
		Product:          productRef{ID: c.cfg.Product},
		CustomerNumber:   customerNumberRef{ID: c.cfg.CustomerNumber, Type: "consignment"},
		Packages: []packageSpec{{
			WeightInKg: weightKg,
			Dimensions: dimensions{LengthInCm: 35, WidthInCm: 25, HeightInCm: 10},
		}},
		Parties: parties{
			Sender: party{
				Name:        c.cfg.Sender.Name,
				AddressLine: c.cfg.Sender.Address,
				PostalCode:  c.cfg.Sender.PostalCode,
				City:        c.cfg.Sender.City,
				CountryCode: c.cfg.Sender.Country,
			},
			Recipient: party{
				Name:         name,
				AddressLine:  strings.TrimSpace(p.Address.Address1 + " " + p.Address.Address2),
				PostalCode:   p.Address.PostalCode,
				City:         p.Address.City,
				CountryCode:  country,
				EmailAddress: p.Email,
				MobileNumber: phone,
				PhoneNumber:  phone,
			},
		},
		References: references{
			OrderNumber:       firstNonEmpty(p.OrderNumber, p.OrderID),
			ConsignmentNumber: p.OrderID,
		},
		AdditionalServices: []serviceRef{{ID: "EVARSLING"}},
	}

	return &bookingRequest{
		SchemaVersion:  1,
		Language:       "no",
		ClientURL:      c.cfg.ClientURL,
		CustomerNumber: c.cfg.CustomerNumber,
		Consignments:   []consignment{cons},
	}, nil
}

func totalWeightGrams(items []models.LineItem) int {
	total := 0
	for _, li := range items {
		qty := li.Quantity
		if qty < 1 {
			qty = 1
		}
		if li.Grams > 0 {
			total += li.Grams * qty
		}
	}
	return total
}

func normalizePhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() < 8 {
		return "00000000"
	}
	return b.String()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
