package registrar

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/bloomdesk/shipsync/internal/broker/messages"
	"github.com/bloomdesk/shipsync/internal/models"
	"github.com/bloomdesk/shipsync/internal/shopify"
)

// ErrNothingToFulfill means every candidate line resolved to a zero quantity
// or had no fulfillment-order line to attach to.
var ErrNothingToFulfill = errors.New("no fulfillable line items found")

const (
	rateBudgetPause = 500 * time.Millisecond

	// Lease on a claimed pending shipment. If a resync attempt dies
	// mid-flight the shipment surfaces again after this long.
	resyncLease = 2 * time.Minute
)

type Store interface {
	GetOrder(ctx context.Context, orderID uint64) (*models.Order, error)
	GetLineItemsByIDs(ctx context.Context, ids []uint64) ([]*models.LineItem, error)

	CreateShipment(ctx context.Context, sh *models.Shipment) (*models.Shipment, error)
	GetShipment(ctx context.Context, shipmentID uint64) (*models.Shipment, error)
	UpsertShipmentLineItem(ctx context.Context, shipmentID, lineItemID uint64, quantity int32, foLineItemID *int64) error
	ListShipmentLineItems(ctx context.Context, shipmentID uint64) ([]*models.ShipmentLineItem, error)

	SetShipmentSynced(ctx context.Context, shipmentID uint64, fulfillmentID int64) error
	SetShipmentSyncPending(ctx context.Context, shipmentID uint64, until time.Time, retryCount int32) error
	SetShipmentSyncError(ctx context.Context, shipmentID uint64, msg string) error
	SetShipmentCancelled(ctx context.Context, shipmentID uint64) error
	ClaimShipmentsDueForSync(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Shipment, error)
}

type TokenSource interface {
	AccessToken(ctx context.Context, shopDomain string) (string, error)
}

// Reconciler mirrors an external fulfillment-order snapshot onto local state.
type Reconciler interface {
	ApplySnapshot(ctx context.Context, order *models.Order, snap shopify.FulfillmentOrderSnapshot, shipmentID *uint64) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Config struct {
	// Per-shop ceiling on outbound API calls per minute. Zero disables
	// the budget check.
	RateLimitPerMinute int64
	SyncedTopic        string
}

// PlanLine pairs a resolvable local line item with the explicitly requested
// quantity (zero when the caller left it to us).
type PlanLine struct {
	Item      *models.LineItem
	Requested int32
}

// Plan is one order's worth of a job slice, ready to register.
type Plan struct {
	Order          *models.Order
	VendorID       uint64
	TrackingNumber string
	Carrier        string
	Lines          []PlanLine
}

// Service turns prepared plans into external fulfillments and keeps
// shipments whose fulfillment order is late on a retry schedule.
type Service struct {
	store      Store
	tokens     TokenSource
	shopify    shopify.Client
	reconciler Reconciler
	limiter    RateLimiter
	producer   Producer
	cfg        Config
	log        *slog.Logger

	sleep func(ctx context.Context, d time.Duration)
}

func New(store Store, tokens TokenSource, client shopify.Client, rec Reconciler, limiter RateLimiter, producer Producer, cfg Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:      store,
		tokens:     tokens,
		shopify:    client,
		reconciler: rec,
		limiter:    limiter,
		producer:   producer,
		cfg:        cfg,
		log:        log,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// PrepareBatch resolves one order's selections against local state. A nil
// plan with a nil error means nothing on that order can be shipped.
func (s *Service) PrepareBatch(ctx context.Context, vendorID, orderID uint64, sels []models.ImportSelection, trackingNumber, carrier string) (*Plan, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "load order")
	}
	if order == nil {
		return nil, nil
	}

	ids := make([]uint64, 0, len(sels))
	for _, sel := range sels {
		ids = append(ids, sel.LineItemID)
	}
	items, err := s.store.GetLineItemsByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "load line items")
	}
	byID := make(map[uint64]*models.LineItem, len(items))
	for _, li := range items {
		byID[li.ID] = li
	}

	plan := &Plan{
		Order:          order,
		VendorID:       vendorID,
		TrackingNumber: trackingNumber,
		Carrier:        carrier,
	}
	seen := make(map[uint64]bool, len(sels))
	for _, sel := range sels {
		li, ok := byID[sel.LineItemID]
		if !ok || li.OrderID != orderID || li.VendorID != vendorID || seen[li.ID] {
			continue
		}
		seen[li.ID] = true
		plan.Lines = append(plan.Lines, PlanLine{Item: li, Requested: sel.Quantity})
	}
	if len(plan.Lines) == 0 {
		return nil, nil
	}
	return plan, nil
}

// Register creates the local shipment and pushes it to the external API.
// A missing fulfillment order is not a failure: the shipment is parked as
// sync_status=pending and ResyncDue finishes the job later.
func (s *Service) Register(ctx context.Context, plan *Plan) error {
	shop := plan.Order.ShopDomain
	token, err := s.tokens.AccessToken(ctx, shop)
	if err != nil {
		return errors.Wrap(err, "shop token")
	}
	s.waitForRateBudget(ctx, shop)

	sh, err := s.store.CreateShipment(ctx, &models.Shipment{
		OrderID:         plan.Order.ID,
		VendorID:        plan.VendorID,
		TrackingNumber:  plan.TrackingNumber,
		TrackingCompany: shopify.CarrierLabel(plan.Carrier),
		Carrier:         plan.Carrier,
	})
	if err != nil {
		return errors.Wrap(err, "create shipment")
	}
	for _, l := range plan.Lines {
		if err := s.store.UpsertShipmentLineItem(ctx, sh.ID, l.Item.ID, l.Requested, l.Item.FulfillmentOrderLineItemID); err != nil {
			return errors.Wrap(err, "attach shipment line")
		}
	}

	snaps, err := s.shopify.FetchFulfillmentOrders(ctx, shop, token, plan.Order.ShopifyOrderID)
	if err != nil {
		s.markError(ctx, sh.ID, err)
		return errors.Wrap(err, "fetch fulfillment orders")
	}
	if len(snaps) == 0 {
		// Normal right after order creation. Not the caller's problem.
		until := time.Now().UTC().Add(pendingDelay(0))
		s.log.Info("fulfillment order not ready, parking shipment",
			slog.Uint64("shipment_id", sh.ID), slog.Time("retry_at", until))
		return s.store.SetShipmentSyncPending(ctx, sh.ID, until, 0)
	}
	snap := snaps[0]

	if err := s.reconciler.ApplySnapshot(ctx, plan.Order, snap, &sh.ID); err != nil {
		return errors.Wrap(err, "apply snapshot")
	}

	lines := fulfillmentLines(plan.Lines, snap)
	if len(lines) == 0 {
		s.markError(ctx, sh.ID, ErrNothingToFulfill)
		return ErrNothingToFulfill
	}

	fid, err := s.shopify.CreateFulfillment(ctx, shop, token, shopify.CreateFulfillmentInput{
		FulfillmentOrderID: snap.ID,
		Lines:              lines,
		Tracking:           s.tracking(plan.TrackingNumber, plan.Carrier),
		NotifyCustomer:     true,
	})
	if err != nil {
		s.markError(ctx, sh.ID, err)
		return errors.Wrap(err, "create fulfillment")
	}

	if err := s.store.SetShipmentSynced(ctx, sh.ID, fid); err != nil {
		return errors.Wrap(err, "set shipment synced")
	}
	s.publishSynced(ctx, sh.ID, sh.OrderID, fid)
	return nil
}

// Cancel voids the external fulfillment (when one exists) and marks the
// shipment cancelled. Safe to call twice.
func (s *Service) Cancel(ctx context.Context, shipmentID uint64) error {
	sh, err := s.store.GetShipment(ctx, shipmentID)
	if err != nil {
		return errors.Wrap(err, "load shipment")
	}
	if sh == nil {
		return errors.Errorf("shipment %d not found", shipmentID)
	}
	if sh.SyncStatus == models.SyncStatusCancelled {
		return nil
	}

	if sh.ShopifyFulfillmentID != nil {
		order, err := s.store.GetOrder(ctx, sh.OrderID)
		if err != nil {
			return errors.Wrap(err, "load order")
		}
		if order == nil {
			return errors.Errorf("order %d not found for shipment %d", sh.OrderID, shipmentID)
		}
		token, err := s.tokens.AccessToken(ctx, order.ShopDomain)
		if err != nil {
			return errors.Wrap(err, "shop token")
		}
		if err := s.shopify.CancelFulfillment(ctx, order.ShopDomain, token, *sh.ShopifyFulfillmentID); err != nil {
			return errors.Wrap(err, "cancel fulfillment")
		}
	}
	return s.store.SetShipmentCancelled(ctx, shipmentID)
}

// ResyncDue drains shipments whose pending deadline elapsed. Returns how
// many were picked up.
func (s *Service) ResyncDue(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := s.store.ClaimShipmentsDueForSync(ctx, now, limit, resyncLease)
	if err != nil {
		return 0, errors.Wrap(err, "claim due shipments")
	}
	for _, sh := range due {
		if err := s.resync(ctx, sh, now); err != nil {
			// Lease already pushed the deadline forward; the shipment
			// comes back on the next sweep.
			s.log.Warn("shipment resync failed",
				slog.Uint64("shipment_id", sh.ID), slog.Any("error", err))
		}
	}
	return len(due), nil
}

func (s *Service) resync(ctx context.Context, sh *models.Shipment, now time.Time) error {
	order, err := s.store.GetOrder(ctx, sh.OrderID)
	if err != nil {
		return errors.Wrap(err, "load order")
	}
	if order == nil {
		return s.store.SetShipmentSyncError(ctx, sh.ID, "local order missing")
	}

	token, err := s.tokens.AccessToken(ctx, order.ShopDomain)
	if err != nil {
		return errors.Wrap(err, "shop token")
	}
	s.waitForRateBudget(ctx, order.ShopDomain)

	snaps, err := s.shopify.FetchFulfillmentOrders(ctx, order.ShopDomain, token, order.ShopifyOrderID)
	if err != nil {
		return errors.Wrap(err, "fetch fulfillment orders")
	}
	if len(snaps) == 0 {
		retry := sh.SyncRetryCount + 1
		if retry >= maxPendingRetries {
			return s.store.SetShipmentSyncError(ctx, sh.ID, "fulfillment order never became available")
		}
		return s.store.SetShipmentSyncPending(ctx, sh.ID, now.UTC().Add(pendingDelay(retry)), retry)
	}
	snap := snaps[0]

	if err := s.reconciler.ApplySnapshot(ctx, order, snap, &sh.ID); err != nil {
		return errors.Wrap(err, "apply snapshot")
	}

	// A fulfillment already exists when a previous attempt died between the
	// external create and the local status write. Just refresh tracking.
	if sh.ShopifyFulfillmentID != nil {
		if err := s.shopify.UpdateTracking(ctx, order.ShopDomain, token, *sh.ShopifyFulfillmentID, s.tracking(sh.TrackingNumber, sh.Carrier)); err != nil {
			return errors.Wrap(err, "update tracking")
		}
		return s.store.SetShipmentSynced(ctx, sh.ID, *sh.ShopifyFulfillmentID)
	}

	lines, err := s.resyncLines(ctx, sh, snap)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		return s.store.SetShipmentSyncError(ctx, sh.ID, ErrNothingToFulfill.Error())
	}

	fid, err := s.shopify.CreateFulfillment(ctx, order.ShopDomain, token, shopify.CreateFulfillmentInput{
		FulfillmentOrderID: snap.ID,
		Lines:              lines,
		Tracking:           s.tracking(sh.TrackingNumber, sh.Carrier),
		NotifyCustomer:     true,
	})
	if err != nil {
		s.markError(ctx, sh.ID, err)
		return errors.Wrap(err, "create fulfillment")
	}
	if err := s.store.SetShipmentSynced(ctx, sh.ID, fid); err != nil {
		return errors.Wrap(err, "set shipment synced")
	}
	s.publishSynced(ctx, sh.ID, sh.OrderID, fid)
	return nil
}

func (s *Service) resyncLines(ctx context.Context, sh *models.Shipment, snap shopify.FulfillmentOrderSnapshot) ([]shopify.FulfillmentLine, error) {
	pivots, err := s.store.ListShipmentLineItems(ctx, sh.ID)
	if err != nil {
		return nil, errors.Wrap(err, "load shipment lines")
	}
	ids := make([]uint64, 0, len(pivots))
	for _, p := range pivots {
		ids = append(ids, p.LineItemID)
	}
	items, err := s.store.GetLineItemsByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "load line items")
	}
	byID := make(map[uint64]*models.LineItem, len(items))
	for _, li := range items {
		byID[li.ID] = li
	}

	planLines := make([]PlanLine, 0, len(pivots))
	for _, p := range pivots {
		li, ok := byID[p.LineItemID]
		if !ok {
			continue
		}
		planLines = append(planLines, PlanLine{Item: li, Requested: p.Quantity})
	}
	return fulfillmentLines(planLines, snap), nil
}

// fulfillmentLines matches plan lines against the snapshot and resolves the
// quantity for each. Lines absent from the snapshot are dropped.
func fulfillmentLines(lines []PlanLine, snap shopify.FulfillmentOrderSnapshot) []shopify.FulfillmentLine {
	bySLI := make(map[int64]shopify.FulfillmentOrderLine, len(snap.Lines))
	for _, l := range snap.Lines {
		bySLI[l.LineItemID] = l
	}

	out := make([]shopify.FulfillmentLine, 0, len(lines))
	for _, pl := range lines {
		snapLine, ok := bySLI[pl.Item.ShopifyLineItemID]
		if !ok || snapLine.FulfillmentOrderLineItemID == 0 {
			continue
		}
		qty := resolveQuantity(pl.Requested, snapLine.RemainingQuantity, pl.Item.FulfillableQuantity, pl.Item.Quantity)
		if qty <= 0 {
			continue
		}
		out = append(out, shopify.FulfillmentLine{
			FulfillmentOrderLineItemID: snapLine.FulfillmentOrderLineItemID,
			Quantity:                   qty,
		})
	}
	return out
}

func (s *Service) tracking(number, carrier string) shopify.TrackingInfo {
	return shopify.TrackingInfo{Number: number, Company: shopify.CarrierLabel(carrier)}
}

// waitForRateBudget pauses briefly when the per-shop minute budget is spent.
// The budget is advisory; the HTTP client still backs off on 429s.
func (s *Service) waitForRateBudget(ctx context.Context, shop string) {
	if s.limiter == nil || s.cfg.RateLimitPerMinute <= 0 {
		return
	}
	key := "rl:shopify:" + shop + ":" + strconv.FormatInt(time.Now().Unix()/60, 10)
	allowed, n, err := s.limiter.Allow(ctx, key, s.cfg.RateLimitPerMinute, time.Minute)
	if err != nil {
		s.log.Warn("rate budget check failed", slog.Any("error", err))
		return
	}
	if !allowed {
		s.log.Info("shop rate budget exceeded, pausing",
			slog.String("shop", shop), slog.Int64("count", n))
		s.sleep(ctx, rateBudgetPause)
	}
}

func (s *Service) markError(ctx context.Context, shipmentID uint64, cause error) {
	if err := s.store.SetShipmentSyncError(ctx, shipmentID, models.NormalizeErrorMessage(cause.Error())); err != nil {
		s.log.Warn("set shipment sync error failed",
			slog.Uint64("shipment_id", shipmentID), slog.Any("error", err))
	}
}

func (s *Service) publishSynced(ctx context.Context, shipmentID, orderID uint64, fulfillmentID int64) {
	if s.producer == nil || s.cfg.SyncedTopic == "" {
		return
	}
	payload, err := json.Marshal(messages.ShipmentSynced{
		ShipmentID:    shipmentID,
		OrderID:       orderID,
		FulfillmentID: fulfillmentID,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		return
	}
	key := []byte(strconv.FormatUint(shipmentID, 10))
	if err := s.producer.Publish(ctx, s.cfg.SyncedTopic, key, payload); err != nil {
		s.log.Warn("publish shipment synced failed",
			slog.Uint64("shipment_id", shipmentID), slog.Any("error", err))
	}
}
