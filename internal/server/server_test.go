package server_test

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"TradeLedger/internal/activation"
	"TradeLedger/internal/core"
	"TradeLedger/internal/instruction"
	"TradeLedger/internal/kvstore"
	"TradeLedger/internal/observability"
	"TradeLedger/internal/query"
	"TradeLedger/internal/registry"
	"TradeLedger/internal/server"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// --- Test helpers ---

// newServer returns a server over an engine holding one block in which
// alice created 100 units of token 3.
func newServer(t *testing.T) (*server.Server, *observability.HealthChecker) {
	t.Helper()
	kv := kvstore.NewMemDB()
	t.Cleanup(func() { kv.Close() })

	cfg := core.DefaultConfig()
	cfg.Features = map[activation.Feature]int64{activation.FeatureFixed: 0}
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	e, err := core.NewEngine(kv, cfg, metrics, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, e.BeginBlock(core.BlockHeader{
		Height: 0,
		Hash:   strings.Repeat("ab", 32),
		Time:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}))
	res := e.Apply(&instruction.CreateFixed{
		Header:       instruction.Header{Sender: "alice", TxID: "create", Block: 0},
		PropertyInfo: instruction.PropertyInfo{Ecosystem: uint8(registry.EcosystemMain), Name: "Alpha"},
		Amount:       100,
	})
	require.True(t, res.Valid, res.Reason)
	_, err = e.EndBlock()
	require.NoError(t, err)

	checker := observability.NewHealthChecker()
	srv, err := server.New(server.DefaultConfig(), query.NewService(e, nil, nil, metrics), checker, reg, zerolog.Nop())
	require.NoError(t, err)
	return srv, checker
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

// ============================================================================
// Test: HTTP gateway
// ============================================================================

func TestGateway_Routes(t *testing.T) {
	srv, _ := newServer(t)
	h := srv.Handler()

	rec := get(t, h, "/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var status query.StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, int64(0), status.Height)
	require.Equal(t, strings.Repeat("ab", 32), status.BlockHash)

	rec = get(t, h, "/v1/addresses/alice/balances/3")
	require.Equal(t, http.StatusOK, rec.Code)
	var bal query.BalanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bal))
	require.Equal(t, "100", bal.Available)
	require.Equal(t, "Alpha", bal.Name)

	rec = get(t, h, "/v1/properties/3")
	require.Equal(t, http.StatusOK, rec.Code)
	var prop query.PropertyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &prop))
	require.Equal(t, "alice", prop.Issuer)

	rec = get(t, h, "/v1/txs/create")
	require.Equal(t, http.StatusOK, rec.Code)
	var tx query.TxResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tx))
	require.True(t, tx.Valid)
	require.Equal(t, "create_fixed", tx.Kind)
}

func TestGateway_Errors(t *testing.T) {
	srv, _ := newServer(t)
	h := srv.Handler()

	tests := []struct {
		name string
		path string
		code int
	}{
		{"unknown property", "/v1/properties/99", http.StatusNotFound},
		{"unknown tx", "/v1/txs/nope", http.StatusNotFound},
		{"bad token", "/v1/addresses/alice/balances/x", http.StatusBadRequest},
		{"negative height", "/v1/blocks/-1/txs", http.StatusBadRequest},
		{"archive disabled", "/v1/blocks/0/archived-trades", http.StatusNotImplemented},
		{"unknown market", "/v1/markets?id=cdex/9", http.StatusNotFound},
		{"unknown route", "/v1/nothing", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, h, tt.path)
			require.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
}

func TestGateway_HealthAndMetrics(t *testing.T) {
	srv, checker := newServer(t)
	h := srv.Handler()

	require.Equal(t, http.StatusOK, get(t, h, "/healthz").Code)
	require.Equal(t, http.StatusServiceUnavailable, get(t, h, "/readyz").Code)
	checker.SetReady(true)
	require.Equal(t, http.StatusOK, get(t, h, "/readyz").Code)

	get(t, h, "/v1/status")
	rec := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `tl_query_requests_total{endpoint="status",status="ok"} 1`)
}

// ============================================================================
// Test: gRPC health
// ============================================================================

func TestGRPC_HealthFollowsServing(t *testing.T) {
	srv, _ := newServer(t)
	lis := bufconn.Listen(1 << 20)
	go srv.ServeGRPC(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)

	srv.SetServing(true)
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}
