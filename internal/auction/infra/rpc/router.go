package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cristianortiz/auctioncoord/internal/auction/application"
	"github.com/cristianortiz/auctioncoord/internal/auction/domain"
	"github.com/cristianortiz/auctioncoord/internal/shared/logger"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

type handlerFunc func(ctx context.Context, payload json.RawMessage) Response

// Router decodes request envelopes, validates the method's request variant
// and dispatches to the auction service. It never panics on bad input:
// every failure becomes a {ok:false} response.
type Router struct {
	service  application.AuctionService
	validate *validator.Validate
	handlers map[Method]handlerFunc
}

// NewRouter creates a router over service.
func NewRouter(service application.AuctionService) *Router {
	r := &Router{
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	r.handlers = map[Method]handlerFunc{
		MethodPing:          r.ping,
		MethodCreateAuction: r.createAuction,
		MethodGetAuctions:   r.getAuctions,
		MethodMakeBid:       r.makeBid,
		MethodCloseAuction:  r.closeAuction,
	}
	return r
}

// Handle processes one raw request frame and returns its response.
func (r *Router) Handle(ctx context.Context, raw []byte) (resp Response) {
	var req Request
	defer func() {
		if p := recover(); p != nil {
			log.Error("RPC handler panicked", zap.String("method", string(req.Method)), zap.Any("panic", p))
			resp = failure("internal error", false)
		}
		resp.ID = req.ID
	}()

	if err := json.Unmarshal(raw, &req); err != nil {
		log.Debug("RPC request rejected: bad envelope", zap.Error(err))
		return failure("invalid request envelope", false)
	}
	h, ok := r.handlers[req.Method]
	if !ok {
		log.Debug("RPC request rejected: unknown method", zap.String("method", string(req.Method)))
		return failure(fmt.Sprintf("unknown method %q", req.Method), false)
	}
	return h(ctx, req.Payload)
}

func (r *Router) ping(_ context.Context, payload json.RawMessage) Response {
	var req PingRequest
	if err := r.decode(payload, &req); err != nil {
		return failure(err.Error(), false)
	}
	return success(PingResponse{Nonce: *req.Nonce + 1})
}

func (r *Router) createAuction(ctx context.Context, payload json.RawMessage) Response {
	var req CreateAuctionRequest
	if err := r.decode(payload, &req); err != nil {
		return failure(err.Error(), false)
	}
	id, err := r.service.CreateAuction(ctx, req.ClientID, req.Item, *req.StartingPrice)
	if err != nil {
		return fromError(err)
	}
	return success(CreateAuctionResponse{AuctionID: id})
}

func (r *Router) getAuctions(ctx context.Context, _ json.RawMessage) Response {
	snaps := r.service.ListActive(ctx)
	views := make([]AuctionView, 0, len(snaps))
	for _, s := range snaps {
		views = append(views, newAuctionView(s))
	}
	return success(views)
}

func (r *Router) makeBid(ctx context.Context, payload json.RawMessage) Response {
	var req MakeBidRequest
	if err := r.decode(payload, &req); err != nil {
		return withData(failure(err.Error(), false), SuccessResponse{})
	}
	accepted, err := r.service.PlaceBid(ctx, req.ClientID, req.AuctionID, *req.Amount)
	if err != nil {
		return withData(fromError(err), SuccessResponse{})
	}
	return success(SuccessResponse{Success: accepted})
}

func (r *Router) closeAuction(ctx context.Context, payload json.RawMessage) Response {
	var req CloseAuctionRequest
	if err := r.decode(payload, &req); err != nil {
		return withData(failure(err.Error(), false), SuccessResponse{})
	}
	highest, err := r.service.CloseAuction(ctx, req.AuctionID)
	if err != nil {
		return withData(fromError(err), SuccessResponse{})
	}
	return success(CloseAuctionResponse{HighestBid: BidView{BidderID: highest.BidderID, Amount: highest.Amount}})
}

// decode unmarshals payload into the request variant v and validates it.
func (r *Router) decode(payload json.RawMessage, v any) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		payload = []byte("{}")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrValidation, describeDecodeError(err))
	}
	if err := r.validate.Struct(v); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", lowerFirst(fe.Field()), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(msgs, ", "))
		}
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

func describeDecodeError(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return fmt.Sprintf("field %s must be %s", typeErr.Field, typeErr.Type)
	}
	return "payload is not a JSON object"
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// fromError maps service errors onto the response envelope.
func fromError(err error) Response {
	switch {
	case errors.Is(err, domain.ErrValidation):
		log.Debug("RPC request rejected", zap.Error(err))
		return failure(err.Error(), false)
	case errors.Is(err, domain.ErrNotFound):
		return failure(err.Error(), false)
	case errors.Is(err, domain.ErrDurability):
		log.Error("RPC request failed to persist", zap.Error(err))
		return failure("event could not be persisted, retry later", true)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		log.Warn("RPC request timed out", zap.Error(err))
		return failure("request timed out", true)
	default:
		log.Error("RPC request failed", zap.Error(err))
		return failure("internal error", false)
	}
}

func success(data any) Response {
	return withData(Response{OK: true}, data)
}

func failure(msg string, retryable bool) Response {
	return Response{OK: false, Error: msg, Retryable: retryable}
}

func withData(resp Response, data any) Response {
	raw, err := json.Marshal(data)
	if err != nil {
		log.Error("Failed to marshal RPC response data", zap.Error(err))
		return failure("internal error", false)
	}
	resp.Data = raw
	return resp
}
