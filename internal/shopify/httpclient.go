package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

const defaultAPIVersion = "2024-10"

type HTTPClient struct {
	apiVersion  string
	httpc       *http.Client
	retryBase   time.Duration
	maxAttempts int
}

type Option func(*HTTPClient)

func WithHTTPClient(h *http.Client) Option {
	return func(c *HTTPClient) { c.httpc = h }
}

// WithRetryBase scales the whole retry schedule; tests shrink it to
// avoid real sleeps.
func WithRetryBase(d time.Duration) Option {
	return func(c *HTTPClient) { c.retryBase = d }
}

func NewHTTPClient(apiVersion string, opts ...Option) *HTTPClient {
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	c := &HTTPClient{
		apiVersion: apiVersion,
		httpc: &http.Client{
			Timeout: 15 * time.Second,
		},
		retryBase:   1 * time.Second,
		maxAttempts: 5,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type foLineItemJSON struct {
	ID                  int64 `json:"id"`
	LineItemID          int64 `json:"line_item_id"`
	FulfillableQuantity int32 `json:"fulfillable_quantity"`
}

type fulfillmentOrderJSON struct {
	ID        int64            `json:"id"`
	Status    string           `json:"status"`
	LineItems []foLineItemJSON `json:"line_items"`
}

func (c *HTTPClient) FetchFulfillmentOrders(ctx context.Context, shop, token string, orderID int64) ([]FulfillmentOrderSnapshot, error) {
	u := fmt.Sprintf("https://%s/admin/api/%s/orders/%d/fulfillment_orders.json", shop, c.apiVersion, orderID)

	var out struct {
		FulfillmentOrders []fulfillmentOrderJSON `json:"fulfillment_orders"`
	}
	if err := c.do(ctx, "fetch fulfillment orders", http.MethodGet, u, token, nil, &out); err != nil {
		return nil, err
	}

	snaps := make([]FulfillmentOrderSnapshot, 0, len(out.FulfillmentOrders))
	for _, fo := range out.FulfillmentOrders {
		snap := FulfillmentOrderSnapshot{ID: fo.ID, Status: fo.Status}
		for _, li := range fo.LineItems {
			snap.Lines = append(snap.Lines, FulfillmentOrderLine{
				LineItemID:                 li.LineItemID,
				FulfillmentOrderLineItemID: li.ID,
				RemainingQuantity:          li.FulfillableQuantity,
			})
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

type trackingInfoJSON struct {
	Number  string `json:"number"`
	Company string `json:"company,omitempty"`
	URL     string `json:"url,omitempty"`
}

func toTrackingInfoJSON(tr TrackingInfo) trackingInfoJSON {
	return trackingInfoJSON{
		Number:  tr.Number,
		Company: CarrierLabel(tr.Company),
		URL:     tr.URL,
	}
}

func (c *HTTPClient) CreateFulfillment(ctx context.Context, shop, token string, in CreateFulfillmentInput) (int64, error) {
	u := fmt.Sprintf("https://%s/admin/api/%s/fulfillments.json", shop, c.apiVersion)

	type foLineReq struct {
		ID       int64 `json:"id"`
		Quantity int32 `json:"quantity"`
	}
	type linesByFOReq struct {
		FulfillmentOrderID int64       `json:"fulfillment_order_id"`
		LineItems          []foLineReq `json:"fulfillment_order_line_items"`
	}
	var body struct {
		Fulfillment struct {
			NotifyCustomer bool             `json:"notify_customer"`
			TrackingInfo   trackingInfoJSON `json:"tracking_info"`
			LinesByFO      []linesByFOReq   `json:"line_items_by_fulfillment_order"`
		} `json:"fulfillment"`
	}
	body.Fulfillment.NotifyCustomer = in.NotifyCustomer
	body.Fulfillment.TrackingInfo = toTrackingInfoJSON(in.Tracking)
	byFO := linesByFOReq{FulfillmentOrderID: in.FulfillmentOrderID}
	for _, l := range in.Lines {
		byFO.LineItems = append(byFO.LineItems, foLineReq{ID: l.FulfillmentOrderLineItemID, Quantity: l.Quantity})
	}
	body.Fulfillment.LinesByFO = []linesByFOReq{byFO}

	var out struct {
		Fulfillment struct {
			ID int64 `json:"id"`
		} `json:"fulfillment"`
	}
	if err := c.do(ctx, "create fulfillment", http.MethodPost, u, token, body, &out); err != nil {
		return 0, err
	}
	if out.Fulfillment.ID == 0 {
		return 0, &APIError{Kind: KindPermanent, Op: "create fulfillment", Message: "response missing fulfillment id"}
	}
	return out.Fulfillment.ID, nil
}

func (c *HTTPClient) UpdateTracking(ctx context.Context, shop, token string, fulfillmentID int64, tr TrackingInfo) error {
	u := fmt.Sprintf("https://%s/admin/api/%s/fulfillments/%d/update_tracking.json", shop, c.apiVersion, fulfillmentID)

	var body struct {
		Fulfillment struct {
			NotifyCustomer bool             `json:"notify_customer"`
			TrackingInfo   trackingInfoJSON `json:"tracking_info"`
		} `json:"fulfillment"`
	}
	body.Fulfillment.TrackingInfo = toTrackingInfoJSON(tr)

	return c.do(ctx, "update tracking", http.MethodPost, u, token, body, nil)
}

func (c *HTTPClient) CancelFulfillment(ctx context.Context, shop, token string, fulfillmentID int64) error {
	u := fmt.Sprintf("https://%s/admin/api/%s/fulfillments/%d/cancel.json", shop, c.apiVersion, fulfillmentID)
	return c.do(ctx, "cancel fulfillment", http.MethodPost, u, token, nil, nil)
}

// do runs one request with up to maxAttempts tries. 429/5xx back off
// exponentially (base, x2, capped at 16x base); anything else fails at once.
func (c *HTTPClient) do(ctx context.Context, op, method, url, token string, body, out any) error {
	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "marshal request")
		}
	}

	operation := func() error {
		var rdr io.Reader
		if encoded != nil {
			rdr = bytes.NewReader(encoded)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, rdr)
		if err != nil {
			return backoff.Permanent(errors.Wrap(err, "new request"))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Shopify-Access-Token", token)

		resp, err := c.httpc.Do(req)
		if err != nil {
			return errors.Wrap(err, "do request")
		}
		defer resp.Body.Close()

		if resp.StatusCode/100 != 2 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			apiErr := &APIError{
				Kind:       kindForStatus(resp.StatusCode),
				StatusCode: resp.StatusCode,
				Op:         op,
				Message:    strings.TrimSpace(string(msg)),
			}
			if apiErr.Kind == KindPermanent {
				return backoff.Permanent(apiErr)
			}
			return apiErr
		}

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(&APIError{Kind: KindPermanent, Op: op, Message: "decode response: " + err.Error()})
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryBase
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = 16 * c.retryBase
	b.MaxElapsedTime = 0

	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxAttempts-1)), ctx))
}
