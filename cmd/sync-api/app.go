package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	jobsapi "github.com/bloomdesk/shipsync/internal/api/jobs_api"
	"github.com/bloomdesk/shipsync/internal/broker/messages"
	"github.com/bloomdesk/shipsync/internal/services/reconcile"
)

type syncAPIOpts struct {
	httpAddr      string
	topic         string
	consumerGroup string

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

func runSyncAPI(ctx context.Context, opts syncAPIOpts, api *jobsapi.JobsAPI, consumer kafkaConsumer, rec *reconcile.Service) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8080"
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})
	r.Mount("/", api.Routes())

	if consumer != nil {
		go func() {
			slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
			_ = consumer.Consume(ctx, func(_ []byte, value []byte) error {
				var m messages.FulfillmentOrderReady
				if err := json.Unmarshal(value, &m); err != nil {
					slog.Warn("bad fulfillment-order-ready message", "error", err)
					return nil
				}
				// Best effort: a failed sync retries on the shipment
				// backoff schedule, not via the consumer.
				if _, err := rec.SyncFulfillmentOrderMetadata(ctx, m.ShopDomain, m.ShopifyOrderID, nil); err != nil {
					slog.Warn("reactive fulfillment-order sync failed",
						"shopify_order_id", m.ShopifyOrderID, "error", err)
				}
				return nil
			})
		}()
	}

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	return srv.Serve(lis)
}
