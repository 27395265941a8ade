package jobs_api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bloomdesk/shipsync/internal/models"
	"github.com/bloomdesk/shipsync/internal/services/jobs"
	"github.com/bloomdesk/shipsync/internal/services/reconcile"
)

type JobsService interface {
	Enqueue(ctx context.Context, in models.JobCreateInput) (*models.ShipmentImportJob, error)
	Summary(ctx context.Context, jobID uint64) (*jobs.Summary, error)
	Advance(ctx context.Context, jobID uint64, itemLimit int) (*jobs.Summary, error)
}

type ReconcileService interface {
	SyncFulfillmentOrderMetadata(ctx context.Context, shopDomain string, shopifyOrderID int64, shipmentID *uint64) (reconcile.State, error)
}

type ShipmentService interface {
	Cancel(ctx context.Context, shipmentID uint64) error
}

type JobsAPI struct {
	jobs      JobsService
	reconcile ReconcileService
	shipments ShipmentService
	log       *slog.Logger
}

func New(jobsSvc JobsService, rec ReconcileService, shipments ShipmentService, log *slog.Logger) *JobsAPI {
	if log == nil {
		log = slog.Default()
	}
	return &JobsAPI{jobs: jobsSvc, reconcile: rec, shipments: shipments, log: log}
}

func (a *JobsAPI) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		r.Post("/shipment-import-jobs", a.createJob)
		r.Get("/shipment-import-jobs/{jobID}", a.getJob)
		r.Post("/shipment-import-jobs/{jobID}/advance", a.advanceJob)
		r.Post("/orders/{shopifyOrderID}/fulfillment-order/sync", a.syncFulfillmentOrder)
		r.Post("/shipments/{shipmentID}/cancel", a.cancelShipment)
	})
	return r
}

type createJobItem struct {
	OrderID    uint64 `json:"orderId"`
	LineItemID uint64 `json:"lineItemId"`
	Quantity   int32  `json:"quantity"`
}

type createJobRequest struct {
	VendorID       uint64          `json:"vendorId"`
	TrackingNumber string          `json:"trackingNumber"`
	Carrier        string          `json:"carrier"`
	Items          []createJobItem `json:"items"`
}

type createJobResponse struct {
	JobID      uint64 `json:"jobId"`
	TotalCount int32  `json:"totalCount"`
}

func (a *JobsAPI) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	in := models.JobCreateInput{
		VendorID:       req.VendorID,
		TrackingNumber: req.TrackingNumber,
		Carrier:        req.Carrier,
	}
	for _, it := range req.Items {
		in.Selections = append(in.Selections, models.ImportSelection{
			OrderID: it.OrderID, LineItemID: it.LineItemID, Quantity: it.Quantity,
		})
	}

	job, err := a.jobs.Enqueue(r.Context(), in)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, createJobResponse{JobID: job.ID, TotalCount: job.TotalCount})
}

// getJob reports the job. With ?advance=1 it also runs one processing slice
// first, so a poll loop drives the job forward without a worker.
func (a *JobsAPI) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseID(w, chi.URLParam(r, "jobID"))
	if !ok {
		return
	}

	var (
		sum *jobs.Summary
		err error
	)
	if r.URL.Query().Get("advance") == "1" {
		itemLimit, _ := strconv.Atoi(r.URL.Query().Get("itemLimit"))
		sum, err = a.jobs.Advance(r.Context(), jobID, itemLimit)
	} else {
		sum, err = a.jobs.Summary(r.Context(), jobID)
	}
	if err != nil {
		a.log.Error("job summary failed", slog.Uint64("job_id", jobID), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if sum == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (a *JobsAPI) advanceJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseID(w, chi.URLParam(r, "jobID"))
	if !ok {
		return
	}
	itemLimit, _ := strconv.Atoi(r.URL.Query().Get("itemLimit"))

	sum, err := a.jobs.Advance(r.Context(), jobID, itemLimit)
	if err != nil {
		a.log.Error("job advance failed", slog.Uint64("job_id", jobID), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if sum == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

type syncFulfillmentOrderRequest struct {
	ShopDomain string `json:"shopDomain"`
}

func (a *JobsAPI) syncFulfillmentOrder(w http.ResponseWriter, r *http.Request) {
	shopifyOrderID, err := strconv.ParseInt(chi.URLParam(r, "shopifyOrderID"), 10, 64)
	if err != nil || shopifyOrderID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	var req syncFulfillmentOrderRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	state, err := a.reconcile.SyncFulfillmentOrderMetadata(r.Context(), req.ShopDomain, shopifyOrderID, nil)
	if err != nil {
		a.log.Error("fulfillment order sync failed",
			slog.Int64("shopify_order_id", shopifyOrderID), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(state)})
}

func (a *JobsAPI) cancelShipment(w http.ResponseWriter, r *http.Request) {
	shipmentID, ok := parseID(w, chi.URLParam(r, "shipmentID"))
	if !ok {
		return
	}
	if err := a.shipments.Cancel(r.Context(), shipmentID); err != nil {
		a.log.Error("shipment cancel failed",
			slog.Uint64("shipment_id", shipmentID), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

func parseID(w http.ResponseWriter, raw string) (uint64, bool) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
