package shopifyhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BearBump/PackBox/internal/integrations/failure"
	"github.com/pkg/errors"
)

const defaultAPIVersion = "2024-10"

type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

func New(domain, token, apiVersion string) *Client {
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	domain = strings.TrimRight(domain, "/")
	if domain != "" && !strings.HasPrefix(domain, "http") {
		domain = "https://" + domain
	}
	return &Client{
		baseURL: fmt.Sprintf("%s/admin/api/%s", domain, apiVersion),
		token:   token,
		httpc: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

type fulfillmentRequest struct {
	Fulfillment struct {
		NotifyCustomer bool `json:"notify_customer"`
		TrackingInfo   struct {
			Number  string `json:"number"`
			Company string `json:"company"`
		} `json:"tracking_info"`
	} `json:"fulfillment"`
}

// Report создаёт fulfillment у заказа и прикрепляет трек-номер.
func (c *Client) Report(ctx context.Context, orderID, trackingNumber string) error {
	var req fulfillmentRequest
	req.Fulfillment.NotifyCustomer = true
	req.Fulfillment.TrackingInfo.Number = trackingNumber
	req.Fulfillment.TrackingInfo.Company = "Bring"

	b, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "marshal fulfillment request")
	}

	u := fmt.Sprintf("%s/orders/%s/fulfillments.json", c.baseURL, orderID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	httpReq.Header.Set("X-Shopify-Access-Token", c.token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		// Повторный fulfillment безопасен, поэтому просто transient.
		return failure.FromTransport("shopify report", err, false)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return failure.FromStatus("shopify report", resp.StatusCode, string(body))
	}
	return nil
}
