package server

import (
	"errors"
	"net/http"
	"strconv"

	"TradeLedger/internal/query"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	jsoniter "github.com/json-iterator/go"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type route struct {
	pattern string
	handle  func(svc *query.Service, r *http.Request, params map[string]string) (any, error)
}

var routes = []route{
	{"/v1/status", func(svc *query.Service, r *http.Request, _ map[string]string) (any, error) {
		return svc.Status(r.Context()), nil
	}},
	{"/v1/addresses/{address}/balances", func(svc *query.Service, r *http.Request, p map[string]string) (any, error) {
		return svc.Balances(r.Context(), p["address"])
	}},
	{"/v1/addresses/{address}/balances/{token}", func(svc *query.Service, r *http.Request, p map[string]string) (any, error) {
		token, err := parseToken(p["token"])
		if err != nil {
			return nil, err
		}
		return svc.Balance(r.Context(), p["address"], token)
	}},
	{"/v1/addresses/{address}/trades", func(svc *query.Service, r *http.Request, p map[string]string) (any, error) {
		return svc.TradesForAddress(r.Context(), p["address"])
	}},
	{"/v1/addresses/{address}/positions", func(svc *query.Service, r *http.Request, p map[string]string) (any, error) {
		return svc.Positions(r.Context(), p["address"]), nil
	}},
	{"/v1/properties", func(svc *query.Service, r *http.Request, _ map[string]string) (any, error) {
		return svc.Properties(r.Context()), nil
	}},
	{"/v1/properties/{id}", func(svc *query.Service, r *http.Request, p map[string]string) (any, error) {
		id, err := parseToken(p["id"])
		if err != nil {
			return nil, err
		}
		return svc.Property(r.Context(), id)
	}},
	{"/v1/crowdsales", func(svc *query.Service, r *http.Request, _ map[string]string) (any, error) {
		return svc.Crowdsales(r.Context()), nil
	}},
	{"/v1/txs/{txid}", func(svc *query.Service, r *http.Request, p map[string]string) (any, error) {
		return svc.Tx(r.Context(), p["txid"])
	}},
	{"/v1/blocks/{height}/txs", func(svc *query.Service, r *http.Request, p map[string]string) (any, error) {
		h, err := parseHeight(p["height"])
		if err != nil {
			return nil, err
		}
		return svc.TxsAt(r.Context(), h)
	}},
	{"/v1/blocks/{height}/trades", func(svc *query.Service, r *http.Request, p map[string]string) (any, error) {
		h, err := parseHeight(p["height"])
		if err != nil {
			return nil, err
		}
		return svc.TradesAt(r.Context(), h)
	}},
	{"/v1/blocks/{height}/archived-trades", func(svc *query.Service, r *http.Request, p map[string]string) (any, error) {
		h, err := parseHeight(p["height"])
		if err != nil {
			return nil, err
		}
		return svc.ArchivedTrades(r.Context(), h)
	}},
	{"/v1/dex/offers", func(svc *query.Service, r *http.Request, _ map[string]string) (any, error) {
		var token uint32
		if s := r.URL.Query().Get("token"); s != "" {
			var err error
			if token, err = parseToken(s); err != nil {
				return nil, err
			}
		}
		return svc.Offers(r.Context(), token), nil
	}},
	{"/v1/metadex/{for_sale}/{desired}", func(svc *query.Service, r *http.Request, p map[string]string) (any, error) {
		forSale, err := parseToken(p["for_sale"])
		if err != nil {
			return nil, err
		}
		desired, err := parseToken(p["desired"])
		if err != nil {
			return nil, err
		}
		return svc.MetaDExBook(r.Context(), forSale, desired), nil
	}},
	{"/v1/contracts/{id}/book", func(svc *query.Service, r *http.Request, p map[string]string) (any, error) {
		id, err := parseToken(p["id"])
		if err != nil {
			return nil, err
		}
		return svc.ContractBook(r.Context(), id), nil
	}},
	{"/v1/positions", func(svc *query.Service, r *http.Request, _ map[string]string) (any, error) {
		return svc.Positions(r.Context(), ""), nil
	}},
	// market ids contain slashes, so the id travels as a query parameter
	{"/v1/markets", func(svc *query.Service, r *http.Request, _ map[string]string) (any, error) {
		if id := r.URL.Query().Get("id"); id != "" {
			return svc.Market(r.Context(), id)
		}
		return svc.Markets(r.Context()), nil
	}},
	{"/v1/admin/verify", func(svc *query.Service, r *http.Request, _ map[string]string) (any, error) {
		return svc.VerifyIntegrity(r.Context())
	}},
}

// newGateway registers every query route on a grpc-gateway mux. Errors are
// rendered through the gateway's status error handler.
func newGateway(svc *query.Service) (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()
	for _, rt := range routes {
		handle := rt.handle
		err := mux.HandlePath(http.MethodGet, rt.pattern, func(w http.ResponseWriter, r *http.Request, params map[string]string) {
			out, err := handle(svc, r, params)
			if err != nil {
				_, outbound := runtime.MarshalerForRequest(mux, r)
				runtime.HTTPError(r.Context(), mux, outbound, w, r, toStatus(err))
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(out)
		})
		if err != nil {
			return nil, err
		}
	}
	return mux, nil
}

var errBadParam = errors.New("invalid parameter")

func parseToken(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "%v: %q", errBadParam, s)
	}
	return uint32(v), nil
}

func parseHeight(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0, status.Errorf(codes.InvalidArgument, "%v: %q", errBadParam, s)
	}
	return v, nil
}

func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, query.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, query.ErrArchiveDisabled):
		return status.Error(codes.Unimplemented, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
