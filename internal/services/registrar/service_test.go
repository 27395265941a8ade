package registrar

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bloomdesk/shipsync/internal/models"
	"github.com/bloomdesk/shipsync/internal/shopify"
)

type fakeStore struct {
	order *models.Order
	items map[uint64]*models.LineItem

	nextShipmentID uint64
	shipments      map[uint64]*models.Shipment
	pivots         map[uint64][]*models.ShipmentLineItem

	due []*models.Shipment

	syncedFID    map[uint64]int64
	pendingUntil map[uint64]time.Time
	pendingRetry map[uint64]int32
	syncErrors   map[uint64]string
	cancelled    map[uint64]bool
}

func newFakeStore(order *models.Order, items ...*models.LineItem) *fakeStore {
	st := &fakeStore{
		order:          order,
		items:          map[uint64]*models.LineItem{},
		nextShipmentID: 100,
		shipments:      map[uint64]*models.Shipment{},
		pivots:         map[uint64][]*models.ShipmentLineItem{},
		syncedFID:      map[uint64]int64{},
		pendingUntil:   map[uint64]time.Time{},
		pendingRetry:   map[uint64]int32{},
		syncErrors:     map[uint64]string{},
		cancelled:      map[uint64]bool{},
	}
	for _, li := range items {
		st.items[li.ID] = li
	}
	return st
}

func (f *fakeStore) GetOrder(ctx context.Context, orderID uint64) (*models.Order, error) {
	if f.order != nil && f.order.ID == orderID {
		return f.order, nil
	}
	return nil, nil
}

func (f *fakeStore) GetLineItemsByIDs(ctx context.Context, ids []uint64) ([]*models.LineItem, error) {
	var out []*models.LineItem
	for _, id := range ids {
		if li, ok := f.items[id]; ok {
			out = append(out, li)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateShipment(ctx context.Context, sh *models.Shipment) (*models.Shipment, error) {
	f.nextShipmentID++
	created := *sh
	created.ID = f.nextShipmentID
	created.Status = "shipped"
	created.SyncStatus = models.SyncStatusProcessing
	f.shipments[created.ID] = &created
	return &created, nil
}

func (f *fakeStore) GetShipment(ctx context.Context, shipmentID uint64) (*models.Shipment, error) {
	return f.shipments[shipmentID], nil
}

func (f *fakeStore) UpsertShipmentLineItem(ctx context.Context, shipmentID, lineItemID uint64, quantity int32, foLineItemID *int64) error {
	f.pivots[shipmentID] = append(f.pivots[shipmentID], &models.ShipmentLineItem{
		ShipmentID: shipmentID, LineItemID: lineItemID, Quantity: quantity, FulfillmentOrderLineItemID: foLineItemID,
	})
	return nil
}

func (f *fakeStore) ListShipmentLineItems(ctx context.Context, shipmentID uint64) ([]*models.ShipmentLineItem, error) {
	return f.pivots[shipmentID], nil
}

func (f *fakeStore) SetShipmentSynced(ctx context.Context, shipmentID uint64, fulfillmentID int64) error {
	f.syncedFID[shipmentID] = fulfillmentID
	return nil
}

func (f *fakeStore) SetShipmentSyncPending(ctx context.Context, shipmentID uint64, until time.Time, retryCount int32) error {
	f.pendingUntil[shipmentID] = until
	f.pendingRetry[shipmentID] = retryCount
	return nil
}

func (f *fakeStore) SetShipmentSyncError(ctx context.Context, shipmentID uint64, msg string) error {
	f.syncErrors[shipmentID] = msg
	return nil
}

func (f *fakeStore) SetShipmentCancelled(ctx context.Context, shipmentID uint64) error {
	f.cancelled[shipmentID] = true
	return nil
}

func (f *fakeStore) ClaimShipmentsDueForSync(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Shipment, error) {
	return f.due, nil
}

type staticTokens struct{ token string }

func (s staticTokens) AccessToken(ctx context.Context, shopDomain string) (string, error) {
	return s.token, nil
}

type fakeClient struct {
	shopify.Client

	snaps        []shopify.FulfillmentOrderSnapshot
	fetchErr     error
	createdFID   int64
	createErr    error
	createdWith  []shopify.CreateFulfillmentInput
	tracked      []int64
	cancelledFID []int64
}

func (f *fakeClient) FetchFulfillmentOrders(ctx context.Context, shop, token string, orderID int64) ([]shopify.FulfillmentOrderSnapshot, error) {
	return f.snaps, f.fetchErr
}

func (f *fakeClient) CreateFulfillment(ctx context.Context, shop, token string, in shopify.CreateFulfillmentInput) (int64, error) {
	f.createdWith = append(f.createdWith, in)
	return f.createdFID, f.createErr
}

func (f *fakeClient) UpdateTracking(ctx context.Context, shop, token string, fulfillmentID int64, tr shopify.TrackingInfo) error {
	f.tracked = append(f.tracked, fulfillmentID)
	return nil
}

func (f *fakeClient) CancelFulfillment(ctx context.Context, shop, token string, fulfillmentID int64) error {
	f.cancelledFID = append(f.cancelledFID, fulfillmentID)
	return nil
}

type fakeReconciler struct{ applied int }

func (f *fakeReconciler) ApplySnapshot(ctx context.Context, order *models.Order, snap shopify.FulfillmentOrderSnapshot, shipmentID *uint64) error {
	f.applied++
	return nil
}

type capturingProducer struct{ topics []string }

func (p *capturingProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	p.topics = append(p.topics, topic)
	return nil
}

func demoOrder() *models.Order {
	return &models.Order{ID: 10, ShopDomain: "demo.myshopify.com", ShopifyOrderID: 555}
}

func demoItems() []*models.LineItem {
	return []*models.LineItem{
		{ID: 1, OrderID: 10, VendorID: 7, ShopifyLineItemID: 101, Quantity: 5, FulfillableQuantity: 5},
		{ID: 2, OrderID: 10, VendorID: 7, ShopifyLineItemID: 102, Quantity: 2, FulfillableQuantity: 2},
	}
}

func newService(st *fakeStore, client *fakeClient, rec *fakeReconciler, prod Producer) *Service {
	svc := New(st, staticTokens{"tok"}, client, rec, nil, prod, Config{SyncedTopic: "shipments.synced"}, nil)
	svc.sleep = func(context.Context, time.Duration) {}
	return svc
}

func TestResolveQuantity(t *testing.T) {
	cases := []struct {
		name      string
		requested int32
		remaining int32
		cached    int32
		ordered   int32
		want      int32
	}{
		{"explicit within remaining", 2, 5, 5, 5, 2},
		{"explicit clipped to remaining", 9, 3, 5, 5, 3},
		{"no explicit uses remaining", 0, 4, 5, 5, 4},
		{"nothing remaining falls back to cached", 2, 0, 3, 5, 3},
		{"no cached falls back to ordered", 0, 0, 0, 5, 5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, resolveQuantity(tc.requested, tc.remaining, tc.cached, tc.ordered))
		})
	}
}

func TestPendingDelay(t *testing.T) {
	require.Equal(t, 5*time.Minute, pendingDelay(0))
	require.Equal(t, 10*time.Minute, pendingDelay(1))
	require.Equal(t, 40*time.Minute, pendingDelay(3))
	require.Equal(t, 60*time.Minute, pendingDelay(4))
	require.Equal(t, 60*time.Minute, pendingDelay(11))
}

func TestPrepareBatch_FiltersAndDedupes(t *testing.T) {
	st := newFakeStore(demoOrder(), demoItems()...)
	svc := newService(st, &fakeClient{}, &fakeReconciler{}, nil)

	plan, err := svc.PrepareBatch(context.Background(), 7, 10, []models.ImportSelection{
		{OrderID: 10, LineItemID: 1, Quantity: 2},
		{OrderID: 10, LineItemID: 1, Quantity: 4}, // duplicate, dropped
		{OrderID: 10, LineItemID: 99},             // unknown line item, dropped
		{OrderID: 10, LineItemID: 2},
	}, "TN-1", "yamato")
	require.NoError(t, err)
	require.NotNil(t, plan)
	require.Len(t, plan.Lines, 2)
	require.Equal(t, int32(2), plan.Lines[0].Requested)
}

func TestPrepareBatch_NothingResolvable(t *testing.T) {
	st := newFakeStore(demoOrder(), demoItems()...)
	svc := newService(st, &fakeClient{}, &fakeReconciler{}, nil)

	// Wrong vendor on every selection.
	plan, err := svc.PrepareBatch(context.Background(), 8, 10, []models.ImportSelection{
		{OrderID: 10, LineItemID: 1},
	}, "TN-1", "yamato")
	require.NoError(t, err)
	require.Nil(t, plan)

	// Unknown order.
	plan, err = svc.PrepareBatch(context.Background(), 7, 999, nil, "TN-1", "yamato")
	require.NoError(t, err)
	require.Nil(t, plan)
}

func mustPlan(t *testing.T, svc *Service, vendorID uint64) *Plan {
	t.Helper()
	plan, err := svc.PrepareBatch(context.Background(), vendorID, 10, []models.ImportSelection{
		{OrderID: 10, LineItemID: 1, Quantity: 2},
		{OrderID: 10, LineItemID: 2},
	}, "TN-1", "yamato")
	require.NoError(t, err)
	require.NotNil(t, plan)
	return plan
}

func readySnapshot() []shopify.FulfillmentOrderSnapshot {
	return []shopify.FulfillmentOrderSnapshot{{
		ID:     9001,
		Status: "open",
		Lines: []shopify.FulfillmentOrderLine{
			{LineItemID: 101, FulfillmentOrderLineItemID: 11, RemainingQuantity: 5},
			{LineItemID: 102, FulfillmentOrderLineItemID: 12, RemainingQuantity: 2},
		},
	}}
}

func TestRegister_CreatesFulfillment(t *testing.T) {
	st := newFakeStore(demoOrder(), demoItems()...)
	client := &fakeClient{snaps: readySnapshot(), createdFID: 777}
	rec := &fakeReconciler{}
	prod := &capturingProducer{}
	svc := newService(st, client, rec, prod)

	require.NoError(t, svc.Register(context.Background(), mustPlan(t, svc, 7)))

	require.Len(t, client.createdWith, 1)
	in := client.createdWith[0]
	require.Equal(t, int64(9001), in.FulfillmentOrderID)
	require.Equal(t, []shopify.FulfillmentLine{
		{FulfillmentOrderLineItemID: 11, Quantity: 2}, // explicit quantity kept
		{FulfillmentOrderLineItemID: 12, Quantity: 2}, // remaining used
	}, in.Lines)
	require.Equal(t, "TN-1", in.Tracking.Number)
	require.Equal(t, "Yamato Transport", in.Tracking.Company)

	require.Equal(t, 1, rec.applied)
	require.Equal(t, int64(777), st.syncedFID[101])
	require.Equal(t, []string{"shipments.synced"}, prod.topics)
}

func TestRegister_FulfillmentOrderNotReadyParks(t *testing.T) {
	st := newFakeStore(demoOrder(), demoItems()...)
	svc := newService(st, &fakeClient{}, &fakeReconciler{}, nil)

	// No snapshots: the shipment parks, the caller still sees success.
	require.NoError(t, svc.Register(context.Background(), mustPlan(t, svc, 7)))

	until, ok := st.pendingUntil[101]
	require.True(t, ok)
	require.True(t, until.After(time.Now().Add(4*time.Minute)))
	require.Equal(t, int32(0), st.pendingRetry[101])
	require.Empty(t, st.syncedFID)
}

func TestRegister_NothingToFulfill(t *testing.T) {
	st := newFakeStore(demoOrder(), demoItems()...)
	// Snapshot exists but covers none of the plan's line items.
	client := &fakeClient{snaps: []shopify.FulfillmentOrderSnapshot{{
		ID:    9001,
		Lines: []shopify.FulfillmentOrderLine{{LineItemID: 999, FulfillmentOrderLineItemID: 13, RemainingQuantity: 1}},
	}}}
	svc := newService(st, client, &fakeReconciler{}, nil)

	err := svc.Register(context.Background(), mustPlan(t, svc, 7))
	require.ErrorIs(t, err, ErrNothingToFulfill)
	require.Equal(t, "no fulfillable line items found", st.syncErrors[101])
}

func TestResyncDue_IncrementsRetryAndDoublesDelay(t *testing.T) {
	st := newFakeStore(demoOrder(), demoItems()...)
	sh := &models.Shipment{ID: 50, OrderID: 10, SyncStatus: models.SyncStatusPending, SyncRetryCount: 1}
	st.shipments[50] = sh
	st.due = []*models.Shipment{sh}
	svc := newService(st, &fakeClient{}, &fakeReconciler{}, nil)

	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	n, err := svc.ResyncDue(context.Background(), now, 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, int32(2), st.pendingRetry[50])
	require.Equal(t, now.Add(20*time.Minute), st.pendingUntil[50])
}

func TestResyncDue_GivesUpAfterRetryCeiling(t *testing.T) {
	st := newFakeStore(demoOrder(), demoItems()...)
	sh := &models.Shipment{ID: 50, OrderID: 10, SyncStatus: models.SyncStatusPending, SyncRetryCount: 11}
	st.shipments[50] = sh
	st.due = []*models.Shipment{sh}
	svc := newService(st, &fakeClient{}, &fakeReconciler{}, nil)

	_, err := svc.ResyncDue(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	require.Equal(t, "fulfillment order never became available", st.syncErrors[50])
	require.NotContains(t, st.pendingRetry, uint64(50))
}

func TestResyncDue_RegistersOnceFOAppears(t *testing.T) {
	st := newFakeStore(demoOrder(), demoItems()...)
	sh := &models.Shipment{ID: 50, OrderID: 10, TrackingNumber: "TN-1", Carrier: "yamato", SyncStatus: models.SyncStatusPending}
	st.shipments[50] = sh
	st.due = []*models.Shipment{sh}
	st.pivots[50] = []*models.ShipmentLineItem{
		{ShipmentID: 50, LineItemID: 1, Quantity: 2},
		{ShipmentID: 50, LineItemID: 2},
	}
	client := &fakeClient{snaps: readySnapshot(), createdFID: 888}
	prod := &capturingProducer{}
	svc := newService(st, client, &fakeReconciler{}, prod)

	_, err := svc.ResyncDue(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, client.createdWith, 1)
	require.Equal(t, int64(888), st.syncedFID[50])
	require.Equal(t, []string{"shipments.synced"}, prod.topics)
}

func TestResyncDue_RefreshesTrackingWhenFulfillmentExists(t *testing.T) {
	st := newFakeStore(demoOrder(), demoItems()...)
	fid := int64(777)
	sh := &models.Shipment{ID: 50, OrderID: 10, TrackingNumber: "TN-1", Carrier: "yamato", ShopifyFulfillmentID: &fid, SyncStatus: models.SyncStatusPending}
	st.shipments[50] = sh
	st.due = []*models.Shipment{sh}
	client := &fakeClient{snaps: readySnapshot()}
	svc := newService(st, client, &fakeReconciler{}, nil)

	_, err := svc.ResyncDue(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	require.Equal(t, []int64{777}, client.tracked)
	require.Empty(t, client.createdWith)
	require.Equal(t, fid, st.syncedFID[50])
}

func TestCancel(t *testing.T) {
	st := newFakeStore(demoOrder(), demoItems()...)
	fid := int64(777)
	st.shipments[50] = &models.Shipment{ID: 50, OrderID: 10, ShopifyFulfillmentID: &fid, SyncStatus: models.SyncStatusSynced}
	client := &fakeClient{}
	svc := newService(st, client, &fakeReconciler{}, nil)

	require.NoError(t, svc.Cancel(context.Background(), 50))
	require.Equal(t, []int64{777}, client.cancelledFID)
	require.True(t, st.cancelled[50])

	// Already cancelled is a no-op.
	st.shipments[50].SyncStatus = models.SyncStatusCancelled
	require.NoError(t, svc.Cancel(context.Background(), 50))
	require.Len(t, client.cancelledFID, 1)

	require.Error(t, svc.Cancel(context.Background(), 9999))
}
