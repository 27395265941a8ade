package reconcile

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/bloomdesk/shipsync/internal/models"
	"github.com/bloomdesk/shipsync/internal/shopify"
)

// State reports how a sync attempt ended. StatePending means the external
// order has not produced a fulfillment order yet, which is normal in the
// first seconds-to-minutes after order creation.
type State string

const (
	StatePending State = "pending"
	StateSynced  State = "synced"
)

type Store interface {
	GetOrderByShopifyID(ctx context.Context, shopDomain string, shopifyOrderID int64) (*models.Order, error)
	SetOrderFulfillmentOrder(ctx context.Context, orderID uint64, foID int64, foStatus string) error
	UpdateLineItemFulfillmentOrder(ctx context.Context, orderID uint64, shopifyLineItemID int64, fulfillable int32, foLineItemID int64) error
	UpsertShipmentLineBySnapshot(ctx context.Context, shipmentID, orderID uint64, shopifyLineItemID int64, quantity int32, foLineItemID int64) error
}

type TokenSource interface {
	AccessToken(ctx context.Context, shopDomain string) (string, error)
}

// Service is the only writer of the order's external fulfillment-order
// metadata and the line items' fulfillable quantities. It must tolerate
// being called redundantly.
type Service struct {
	store   Store
	tokens  TokenSource
	shopify shopify.Client
}

func New(store Store, tokens TokenSource, client shopify.Client) *Service {
	return &Service{store: store, tokens: tokens, shopify: client}
}

// SyncFulfillmentOrderMetadata fetches the live snapshot and applies it.
// shipmentID, when set, additionally refreshes that shipment's pivot rows.
func (s *Service) SyncFulfillmentOrderMetadata(ctx context.Context, shopDomain string, shopifyOrderID int64, shipmentID *uint64) (State, error) {
	order, err := s.store.GetOrderByShopifyID(ctx, shopDomain, shopifyOrderID)
	if err != nil {
		return "", err
	}
	if order == nil {
		return "", errors.Errorf("no local order for shopify order %d", shopifyOrderID)
	}

	token, err := s.tokens.AccessToken(ctx, order.ShopDomain)
	if err != nil {
		return "", err
	}

	snaps, err := s.shopify.FetchFulfillmentOrders(ctx, order.ShopDomain, token, order.ShopifyOrderID)
	if err != nil {
		return "", err
	}
	if len(snaps) == 0 {
		return StatePending, nil
	}

	if err := s.ApplySnapshot(ctx, order, snaps[0], shipmentID); err != nil {
		return "", err
	}
	return StateSynced, nil
}

// ApplySnapshot overwrites local fulfillment metadata with the external
// snapshot. Applying the same snapshot twice is a no-op.
func (s *Service) ApplySnapshot(ctx context.Context, order *models.Order, snap shopify.FulfillmentOrderSnapshot, shipmentID *uint64) error {
	if err := s.store.SetOrderFulfillmentOrder(ctx, order.ID, snap.ID, strings.ToLower(snap.Status)); err != nil {
		return err
	}

	for _, line := range snap.Lines {
		if err := s.store.UpdateLineItemFulfillmentOrder(ctx, order.ID, line.LineItemID, line.RemainingQuantity, line.FulfillmentOrderLineItemID); err != nil {
			return err
		}
		if shipmentID != nil {
			if err := s.store.UpsertShipmentLineBySnapshot(ctx, *shipmentID, order.ID, line.LineItemID, line.RemainingQuantity, line.FulfillmentOrderLineItemID); err != nil {
				return err
			}
		}
	}
	return nil
}
