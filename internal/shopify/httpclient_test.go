package shopify

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *HTTPClient {
	t.Helper()
	c := NewHTTPClient("2024-10", WithRetryBase(time.Millisecond))
	httpmock.ActivateNonDefault(c.httpc)
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

const foURL = "https://demo.myshopify.com/admin/api/2024-10/orders/555/fulfillment_orders.json"

func TestFetchFulfillmentOrders_DecodesSnapshot(t *testing.T) {
	c := newTestClient(t)

	httpmock.RegisterResponder("GET", foURL,
		httpmock.NewStringResponder(200, `{
			"fulfillment_orders": [
				{
					"id": 9001,
					"status": "OPEN",
					"line_items": [
						{"id": 11, "line_item_id": 101, "fulfillable_quantity": 3},
						{"id": 12, "line_item_id": 102, "fulfillable_quantity": 0}
					]
				}
			]
		}`))

	snaps, err := c.FetchFulfillmentOrders(context.Background(), "demo.myshopify.com", "tok", 555)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.Equal(t, int64(9001), snaps[0].ID)
	require.Equal(t, "OPEN", snaps[0].Status)
	require.Len(t, snaps[0].Lines, 2)
	require.Equal(t, int64(101), snaps[0].Lines[0].LineItemID)
	require.Equal(t, int64(11), snaps[0].Lines[0].FulfillmentOrderLineItemID)
	require.Equal(t, int32(3), snaps[0].Lines[0].RemainingQuantity)
}

func TestFetchFulfillmentOrders_EmptyListIsNotAnError(t *testing.T) {
	c := newTestClient(t)

	httpmock.RegisterResponder("GET", foURL,
		httpmock.NewStringResponder(200, `{"fulfillment_orders": []}`))

	snaps, err := c.FetchFulfillmentOrders(context.Background(), "demo.myshopify.com", "tok", 555)
	require.NoError(t, err)
	require.Empty(t, snaps)
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	c := newTestClient(t)

	calls := 0
	httpmock.RegisterResponder("GET", foURL, func(req *http.Request) (*http.Response, error) {
		calls++
		if calls <= 3 {
			return httpmock.NewStringResponse(503, "unavailable"), nil
		}
		return httpmock.NewStringResponse(200, `{"fulfillment_orders":[{"id":1,"status":"open"}]}`), nil
	})

	snaps, err := c.FetchFulfillmentOrders(context.Background(), "demo.myshopify.com", "tok", 555)
	require.NoError(t, err)
	require.Equal(t, 4, calls)
	require.Len(t, snaps, 1)
}

func TestDo_GivesUpAfterFiveAttempts(t *testing.T) {
	c := newTestClient(t)

	calls := 0
	httpmock.RegisterResponder("GET", foURL, func(req *http.Request) (*http.Response, error) {
		calls++
		return httpmock.NewStringResponse(503, "unavailable"), nil
	})

	_, err := c.FetchFulfillmentOrders(context.Background(), "demo.myshopify.com", "tok", 555)
	require.Error(t, err)
	require.Equal(t, 5, calls)
	require.Equal(t, KindTransient, KindOf(err))
}

func TestDo_PermanentStatusFailsImmediately(t *testing.T) {
	c := newTestClient(t)

	calls := 0
	httpmock.RegisterResponder("GET", foURL, func(req *http.Request) (*http.Response, error) {
		calls++
		return httpmock.NewStringResponse(404, "not found"), nil
	})

	_, err := c.FetchFulfillmentOrders(context.Background(), "demo.myshopify.com", "tok", 555)
	require.Error(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, KindPermanent, KindOf(err))
}

func TestDo_RateLimitKind(t *testing.T) {
	c := newTestClient(t)

	httpmock.RegisterResponder("GET", foURL,
		httpmock.NewStringResponder(429, "slow down"))

	_, err := c.FetchFulfillmentOrders(context.Background(), "demo.myshopify.com", "tok", 555)
	require.Error(t, err)
	require.Equal(t, KindRateLimited, KindOf(err))
}

func TestCreateFulfillment_SetsTokenAndReturnsID(t *testing.T) {
	c := newTestClient(t)

	var gotToken string
	httpmock.RegisterResponder("POST", "https://demo.myshopify.com/admin/api/2024-10/fulfillments.json",
		func(req *http.Request) (*http.Response, error) {
			gotToken = req.Header.Get("X-Shopify-Access-Token")
			return httpmock.NewStringResponse(201, `{"fulfillment":{"id":777}}`), nil
		})

	id, err := c.CreateFulfillment(context.Background(), "demo.myshopify.com", "tok", CreateFulfillmentInput{
		FulfillmentOrderID: 9001,
		Lines:              []FulfillmentLine{{FulfillmentOrderLineItemID: 11, Quantity: 2}},
		Tracking:           TrackingInfo{Number: "TN-1", Company: "yamato"},
	})
	require.NoError(t, err)
	require.Equal(t, int64(777), id)
	require.Equal(t, "tok", gotToken)
}

func TestCreateFulfillment_MissingIDFails(t *testing.T) {
	c := newTestClient(t)

	httpmock.RegisterResponder("POST", "https://demo.myshopify.com/admin/api/2024-10/fulfillments.json",
		httpmock.NewStringResponder(201, `{"fulfillment":{}}`))

	_, err := c.CreateFulfillment(context.Background(), "demo.myshopify.com", "tok", CreateFulfillmentInput{FulfillmentOrderID: 1})
	require.Error(t, err)
	require.Equal(t, KindPermanent, KindOf(err))
}

func TestUpdateTrackingAndCancel(t *testing.T) {
	c := newTestClient(t)

	httpmock.RegisterResponder("POST", "https://demo.myshopify.com/admin/api/2024-10/fulfillments/777/update_tracking.json",
		httpmock.NewStringResponder(200, `{"fulfillment":{"id":777}}`))
	httpmock.RegisterResponder("POST", "https://demo.myshopify.com/admin/api/2024-10/fulfillments/777/cancel.json",
		httpmock.NewStringResponder(200, `{"fulfillment":{"id":777}}`))

	require.NoError(t, c.UpdateTracking(context.Background(), "demo.myshopify.com", "tok", 777, TrackingInfo{Number: "TN-1"}))
	require.NoError(t, c.CancelFulfillment(context.Background(), "demo.myshopify.com", "tok", 777))
}

func TestCarrierLabel(t *testing.T) {
	require.Equal(t, "Yamato Transport", CarrierLabel("yamato"))
	require.Equal(t, "Sagawa", CarrierLabel("sagawa"))
	require.Equal(t, "Japan Post", CarrierLabel("japanpost"))
	require.Equal(t, "DHL Express", CarrierLabel("dhl"))
	require.Equal(t, "FedEx", CarrierLabel("fedex"))
	require.Equal(t, "some-local-courier", CarrierLabel("some-local-courier"))
}
