package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"scanner-bridge/domain"
	"scanner-bridge/logging"
)

const DefaultResolveTimeout = 5 * time.Second

type Handler struct {
	registry       domain.Broadcaster
	queue          domain.Enqueuer
	resolver       domain.Resolver
	resolveTimeout time.Duration
	now            func() time.Time
	tracer         trace.Tracer
}

type Option func(*Handler)

func WithResolveTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.resolveTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// NewHandler wires the router. resolver may be nil, in which case mapping
// requests are answered with an error frame.
func NewHandler(registry domain.Broadcaster, queue domain.Enqueuer, resolver domain.Resolver, opts ...Option) *Handler {
	h := &Handler{
		registry:       registry,
		queue:          queue,
		resolver:       resolver,
		resolveTimeout: DefaultResolveTimeout,
		now:            time.Now,
		tracer:         otel.Tracer("scanner-bridge/protocol"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Welcome sends the connect acknowledgement. It runs before conn is
// registered, so a connecting scanner counts itself.
func (h *Handler) Welcome(conn domain.Connection) {
	scannerConnected := h.registry.CountScanners() > 0 || conn.Role() == domain.RoleScanner
	h.reply(conn, domain.NewConnected(conn.ID(), scannerConnected))
}

func (h *Handler) Handle(ctx context.Context, conn domain.Connection, data []byte) {
	frame, err := domain.DecodeFrame(data)
	if err != nil {
		slog.Warn("invalid message", logging.ClientID(conn.ID()), logging.Err(err))
		return
	}

	switch f := frame.(type) {
	case domain.BarcodeFrame:
		h.handleBarcode(conn, f)
	case domain.MappingRequestFrame:
		h.handleMappingRequest(ctx, conn, f)
	case domain.PingFrame:
	case domain.UnknownFrame:
		slog.Debug("ignoring message", logging.ClientID(conn.ID()), "type", f.Type)
	}
}

func (h *Handler) handleBarcode(conn domain.Connection, f domain.BarcodeFrame) {
	event := domain.NewBarcodeEvent(f.Code, h.now().UnixMilli())
	data, err := json.Marshal(event)
	if err != nil {
		slog.Warn("marshal error", logging.ClientID(conn.ID()), logging.Err(err))
	} else {
		h.registry.Broadcast(domain.RoleWeb, data)
	}

	h.queue.Enqueue(f.Code)
	slog.Debug("barcode received", logging.ClientID(conn.ID()), logging.Code(f.Code))
}

func (h *Handler) handleMappingRequest(ctx context.Context, conn domain.Connection, f domain.MappingRequestFrame) {
	res, err := h.resolve(ctx, f.Barcode)
	if err != nil {
		slog.Warn("barcode resolution failed", logging.ClientID(conn.ID()), logging.Code(f.Barcode), logging.Err(err))
		h.reply(conn, domain.NewError(resolveErrorMessage(err)))
		return
	}
	h.reply(conn, domain.NewScanResult(f.Barcode, res))
}

func (h *Handler) resolve(ctx context.Context, code string) (domain.Resolution, error) {
	if h.resolver == nil {
		return domain.Resolution{}, domain.ErrResolverUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, h.resolveTimeout)
	defer cancel()

	ctx, span := h.tracer.Start(ctx, "resolve barcode", trace.WithAttributes(attribute.String("barcode", code)))
	defer span.End()

	res, err := h.resolver.Resolve(ctx, code)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve failed")
		return domain.Resolution{}, err
	}
	span.SetAttributes(attribute.Bool("barcode.found", res.Found))
	return res, nil
}

func (h *Handler) reply(conn domain.Connection, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("marshal error", logging.ClientID(conn.ID()), logging.Err(err))
		return
	}
	if err := conn.Send(data); err != nil {
		slog.Debug("reply dropped", logging.ClientID(conn.ID()), logging.Err(err))
	}
}

func resolveErrorMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrResolverUnavailable):
		return "barcode resolution unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "barcode resolution timed out"
	default:
		return "barcode resolution failed"
	}
}
