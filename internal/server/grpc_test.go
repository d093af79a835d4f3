package server

import (
	"context"
	"net"
	"testing"

	"UsdnLedger/internal/core"
	"UsdnLedger/internal/observability"
	"UsdnLedger/internal/query"
	"UsdnLedger/internal/testutil"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type grpcHarness struct {
	f       *testutil.Fixture
	srv     *GRPCServer
	conn    *grpc.ClientConn
	metrics *observability.Metrics
}

func newGRPCHarness(t *testing.T) *grpcHarness {
	t.Helper()
	f := testutil.NewFixture(t, testutil.Params(), testutil.Price(2_000))
	f.MustInitialize(testutil.Tokens(100), testutil.Tokens(50), testutil.Price(1_000))

	seq := core.NewSequencer(f.Engine, 8, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go seq.Run(ctx)

	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	srv := NewGRPCServer("bufnet", GRPCDeps{
		Query:   query.NewQueryService(seq, f.Bank, nil, nil, nil),
		Metrics: metrics,
		Logger:  zerolog.Nop(),
	})

	lis := bufconn.Listen(1 << 20)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &grpcHarness{f: f, srv: srv, conn: conn, metrics: metrics}
}

func TestGRPC_QueryService(t *testing.T) {
	h := newGRPCHarness(t)
	client := NewQueryClient(h.conn)
	ctx := context.Background()

	st, err := client.GetState(ctx)
	require.NoError(t, err)
	assert.True(t, st.Initialized)
	assert.Len(t, st.StateHash, 64)

	positions, err := client.GetPositions(ctx, testutil.Deployer.Hex())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, testutil.Deployer, positions[0].Owner)

	report, err := client.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, report.IsHealthy)

	method := "/" + QueryServiceName + "/GetState"
	assert.Equal(t, 1.0, promtest.ToFloat64(h.metrics.GRPCRequests.WithLabelValues(method, codes.OK.String())))
}

func TestGRPC_ErrorCodes(t *testing.T) {
	h := newGRPCHarness(t)
	client := NewQueryClient(h.conn)
	ctx := context.Background()

	_, err := client.GetPending(ctx, testutil.Alice.Hex())
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.GetPending(ctx, "nope")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	var reply EventLogInfoReply
	err = h.conn.Invoke(ctx, "/"+AdminServiceName+"/GetEventLogInfo", &Empty{}, &reply, grpc.CallContentSubtype(JSONCodecName))
	assert.Equal(t, codes.Unavailable, status.Code(err), "no event log wired")
}

func TestGRPC_Health(t *testing.T) {
	h := newGRPCHarness(t)
	hc := healthpb.NewHealthClient(h.conn)
	ctx := context.Background()

	resp, err := hc.Check(ctx, &healthpb.HealthCheckRequest{Service: QueryServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)

	h.srv.SetServing(true)
	resp, err = hc.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}
