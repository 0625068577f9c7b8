package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mikey/txn-classifier/internal/core"
	"go.uber.org/zap"
)

// HttpFeed exposes the pipeline as an HTTP endpoint. A client POSTs a JSON
// array of messages and receives one decision per message in order.
type HttpFeed struct {
	pipeline   *core.Pipeline
	logger     *zap.Logger
	listenAddr string
	maxBatch   int
	server     *http.Server
}

// NewHttpFeed creates a new HTTP feed
func NewHttpFeed(pipeline *core.Pipeline, logger *zap.Logger, listenAddr string, maxBatch int) *HttpFeed {
	if maxBatch <= 0 {
		maxBatch = 1000
	}
	return &HttpFeed{
		pipeline:   pipeline,
		logger:     logger,
		listenAddr: listenAddr,
		maxBatch:   maxBatch,
	}
}

// Start starts the HTTP feed service
func (f *HttpFeed) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/classify", f.handleClassify)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	f.server = &http.Server{
		Addr:         f.listenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	f.logger.Info("HTTP feed starting", zap.String("address", f.listenAddr))

	go func() {
		if err := f.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			f.logger.Error("HTTP feed failed", zap.Error(err))
		}
	}()

	return nil
}

// Stop stops the HTTP feed service
func (f *HttpFeed) Stop() error {
	if f.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return f.server.Shutdown(ctx)
}

func (f *HttpFeed) handleClassify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var wires []feedMessage
	if err := json.NewDecoder(r.Body).Decode(&wires); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(wires) > f.maxBatch {
		http.Error(w, "batch too large", http.StatusRequestEntityTooLarge)
		return
	}

	msgs := make([]core.Message, 0, len(wires))
	for _, wire := range wires {
		if wire.ID == "" {
			wire.ID = uuid.NewString()
		}
		if wire.TimestampMs == 0 {
			wire.TimestampMs = time.Now().UnixMilli()
		}
		msgs = append(msgs, core.Message{
			ID:          wire.ID,
			RawText:     wire.Text,
			Sender:      wire.Sender,
			TimestampMs: wire.TimestampMs,
		})
	}

	startTime := time.Now()
	decisions := f.pipeline.Process(r.Context(), msgs)
	f.logger.Debug("Processed HTTP batch",
		zap.Int("message_count", len(msgs)),
		zap.Duration("elapsed", time.Since(startTime)))

	out := make([]feedDecision, 0, len(decisions))
	for _, d := range decisions {
		wire := feedDecision{
			MessageID:  d.MessageID,
			IsPayment:  d.IsPayment,
			Tier:       d.Tier,
			Confidence: d.Confidence,
		}
		if d.Result != nil {
			wire.Amount = d.Result.Amount
			wire.Store = d.Result.Store
			wire.Card = d.Result.Card
			wire.Category = d.Result.Category
			if !d.Result.DateTime.IsZero() {
				wire.DateTime = d.Result.DateTime.Format(time.RFC3339)
			}
		}
		out = append(out, wire)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		f.logger.Error("Failed to write response", zap.Error(err))
	}
}
