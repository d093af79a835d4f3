package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"UsdnLedger/internal/event"
	"UsdnLedger/internal/observability"
	"UsdnLedger/internal/persistence"
	"UsdnLedger/internal/projection"
	"UsdnLedger/internal/query"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// JSONCodecName is the content subtype of the query and admin services.
// Clients select it with grpc.CallContentSubtype(JSONCodecName).
const JSONCodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return JSONCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

const (
	QueryServiceName = "usdn.query.v1.QueryService"
	AdminServiceName = "usdn.admin.v1.AdminService"
)

// --- messages ---

type Empty struct{}

type PositionsRequest struct {
	Owner string `json:"owner,omitempty"`
}

type PositionsReply struct {
	Positions []query.PositionResponse `json:"positions"`
}

type AddressRequest struct {
	Address string `json:"address"`
}

type HistoryRequest struct {
	Limit int     `json:"limit,omitempty"`
	Since *uint64 `json:"since,omitempty"`
}

type FundingHistoryReply struct {
	Entries []query.FundingHistoryResponse `json:"entries"`
}

type LiquidationHistoryReply struct {
	Entries []query.LiquidationResponse `json:"entries"`
}

type EventsRequest struct {
	From  uint64 `json:"from"`
	Limit int    `json:"limit,omitempty"`
}

type EventsReply struct {
	Events []event.EventEnvelope `json:"events"`
}

type SnapshotReply struct {
	Saved bool `json:"saved"`
}

type RebuildRequest struct {
	From uint64 `json:"from"`
}

type RebuildReply struct {
	Applied      int    `json:"applied"`
	LastSequence uint64 `json:"last_sequence"`
}

type EventLogInfoReply struct {
	LatestSequence     uint64 `json:"latest_sequence"`
	ProjectionSequence uint64 `json:"projection_sequence"`
}

// --- services ---

// QueryServer is the read side of the gRPC API.
type QueryServer interface {
	GetState(context.Context, *Empty) (*query.StateResponse, error)
	GetParams(context.Context, *Empty) (map[string]string, error)
	GetPositions(context.Context, *PositionsRequest) (*PositionsReply, error)
	GetPending(context.Context, *AddressRequest) (*query.PendingResponse, error)
	GetBalance(context.Context, *AddressRequest) (*query.BalanceResponse, error)
	GetFundingHistory(context.Context, *HistoryRequest) (*FundingHistoryReply, error)
	GetLiquidationHistory(context.Context, *HistoryRequest) (*LiquidationHistoryReply, error)
	GetEvents(context.Context, *EventsRequest) (*EventsReply, error)
	VerifyIntegrity(context.Context, *Empty) (*query.IntegrityReport, error)
}

// AdminServer holds operator actions.
type AdminServer interface {
	TakeSnapshot(context.Context, *Empty) (*SnapshotReply, error)
	RebuildProjections(context.Context, *RebuildRequest) (*RebuildReply, error)
	GetEventLogInfo(context.Context, *Empty) (*EventLogInfoReply, error)
}

// EventLog is the durable log behind the admin service.
type EventLog interface {
	projection.EventSource
	LatestSequence(ctx context.Context) (uint64, error)
}

type queryServiceImpl struct {
	qs *query.QueryService
}

func grpcAddress(raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, status.Errorf(codes.InvalidArgument, "invalid address %q", raw)
	}
	return common.HexToAddress(raw), nil
}

func (s *queryServiceImpl) GetState(ctx context.Context, _ *Empty) (*query.StateResponse, error) {
	resp, err := s.qs.GetState(ctx)
	return resp, grpcError(err)
}

func (s *queryServiceImpl) GetParams(ctx context.Context, _ *Empty) (map[string]string, error) {
	resp, err := s.qs.GetParams(ctx)
	return resp, grpcError(err)
}

func (s *queryServiceImpl) GetPositions(ctx context.Context, req *PositionsRequest) (*PositionsReply, error) {
	var owner *common.Address
	if req.Owner != "" {
		addr, err := grpcAddress(req.Owner)
		if err != nil {
			return nil, err
		}
		owner = &addr
	}
	positions, err := s.qs.GetPositions(ctx, owner)
	if err != nil {
		return nil, grpcError(err)
	}
	return &PositionsReply{Positions: positions}, nil
}

func (s *queryServiceImpl) GetPending(ctx context.Context, req *AddressRequest) (*query.PendingResponse, error) {
	addr, err := grpcAddress(req.Address)
	if err != nil {
		return nil, err
	}
	resp, err := s.qs.GetPending(ctx, addr)
	return resp, grpcError(err)
}

func (s *queryServiceImpl) GetBalance(ctx context.Context, req *AddressRequest) (*query.BalanceResponse, error) {
	addr, err := grpcAddress(req.Address)
	if err != nil {
		return nil, err
	}
	resp, err := s.qs.GetBalance(ctx, addr)
	return resp, grpcError(err)
}

func (s *queryServiceImpl) GetFundingHistory(_ context.Context, req *HistoryRequest) (*FundingHistoryReply, error) {
	return &FundingHistoryReply{Entries: s.qs.GetFundingHistory(req.Limit, req.Since)}, nil
}

func (s *queryServiceImpl) GetLiquidationHistory(_ context.Context, req *HistoryRequest) (*LiquidationHistoryReply, error) {
	return &LiquidationHistoryReply{Entries: s.qs.GetLiquidationHistory(req.Limit)}, nil
}

func (s *queryServiceImpl) GetEvents(ctx context.Context, req *EventsRequest) (*EventsReply, error) {
	events, err := s.qs.GetEvents(ctx, req.From, req.Limit)
	if err != nil {
		return nil, grpcError(err)
	}
	return &EventsReply{Events: events}, nil
}

func (s *queryServiceImpl) VerifyIntegrity(ctx context.Context, _ *Empty) (*query.IntegrityReport, error) {
	resp, err := s.qs.VerifyIntegrity(ctx)
	return resp, grpcError(err)
}

type adminServiceImpl struct {
	snapshotter *persistence.Snapshotter
	projections *projection.Worker
	log         EventLog
}

func (s *adminServiceImpl) TakeSnapshot(ctx context.Context, _ *Empty) (*SnapshotReply, error) {
	if s.snapshotter == nil {
		return nil, status.Error(codes.Unavailable, "snapshots are not configured")
	}
	saved, err := s.snapshotter.SnapshotNow(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "snapshot: %v", err)
	}
	return &SnapshotReply{Saved: saved}, nil
}

func (s *adminServiceImpl) RebuildProjections(ctx context.Context, req *RebuildRequest) (*RebuildReply, error) {
	if s.projections == nil || s.log == nil {
		return nil, status.Error(codes.Unavailable, "projections are not configured")
	}
	n, err := s.projections.Rebuild(ctx, s.log, req.From)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "rebuild: %v", err)
	}
	return &RebuildReply{Applied: n, LastSequence: s.projections.LastSequence()}, nil
}

func (s *adminServiceImpl) GetEventLogInfo(ctx context.Context, _ *Empty) (*EventLogInfoReply, error) {
	if s.log == nil {
		return nil, status.Error(codes.Unavailable, "event log is not configured")
	}
	latest, err := s.log.LatestSequence(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "event log: %v", err)
	}
	reply := &EventLogInfoReply{LatestSequence: latest}
	if s.projections != nil {
		reply.ProjectionSequence = s.projections.LastSequence()
	}
	return reply, nil
}

// unary builds the method descriptor of one JSON-coded unary RPC.
func unary[S any, Req any, Resp any](service, method string, call func(S, context.Context, *Req) (Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + service + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			impl := srv.(S)
			if interceptor == nil {
				return call(impl, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(impl, ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var queryServiceDesc = grpc.ServiceDesc{
	ServiceName: QueryServiceName,
	HandlerType: (*QueryServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(QueryServiceName, "GetState", QueryServer.GetState),
		unary(QueryServiceName, "GetParams", QueryServer.GetParams),
		unary(QueryServiceName, "GetPositions", QueryServer.GetPositions),
		unary(QueryServiceName, "GetPending", QueryServer.GetPending),
		unary(QueryServiceName, "GetBalance", QueryServer.GetBalance),
		unary(QueryServiceName, "GetFundingHistory", QueryServer.GetFundingHistory),
		unary(QueryServiceName, "GetLiquidationHistory", QueryServer.GetLiquidationHistory),
		unary(QueryServiceName, "GetEvents", QueryServer.GetEvents),
		unary(QueryServiceName, "VerifyIntegrity", QueryServer.VerifyIntegrity),
	},
	Metadata: "usdn/query/v1",
}

var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: AdminServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(AdminServiceName, "TakeSnapshot", AdminServer.TakeSnapshot),
		unary(AdminServiceName, "RebuildProjections", AdminServer.RebuildProjections),
		unary(AdminServiceName, "GetEventLogInfo", AdminServer.GetEventLogInfo),
	},
	Metadata: "usdn/admin/v1",
}

// --- client ---

// QueryClient calls the query service over the JSON codec.
type QueryClient struct {
	cc grpc.ClientConnInterface
}

func NewQueryClient(cc grpc.ClientConnInterface) *QueryClient {
	return &QueryClient{cc: cc}
}

func (c *QueryClient) invoke(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(JSONCodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+QueryServiceName+"/"+method, in, out, opts...)
}

func (c *QueryClient) GetState(ctx context.Context, opts ...grpc.CallOption) (*query.StateResponse, error) {
	out := new(query.StateResponse)
	if err := c.invoke(ctx, "GetState", &Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *QueryClient) GetPositions(ctx context.Context, owner string, opts ...grpc.CallOption) ([]query.PositionResponse, error) {
	out := new(PositionsReply)
	if err := c.invoke(ctx, "GetPositions", &PositionsRequest{Owner: owner}, out, opts...); err != nil {
		return nil, err
	}
	return out.Positions, nil
}

func (c *QueryClient) GetPending(ctx context.Context, address string, opts ...grpc.CallOption) (*query.PendingResponse, error) {
	out := new(query.PendingResponse)
	if err := c.invoke(ctx, "GetPending", &AddressRequest{Address: address}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *QueryClient) VerifyIntegrity(ctx context.Context, opts ...grpc.CallOption) (*query.IntegrityReport, error) {
	out := new(query.IntegrityReport)
	if err := c.invoke(ctx, "VerifyIntegrity", &Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// --- server ---

// GRPCDeps are the collaborators of the gRPC API. Only Query is required.
type GRPCDeps struct {
	Query       *query.QueryService
	Snapshotter *persistence.Snapshotter
	Projections *projection.Worker
	EventLog    EventLog
	Metrics     *observability.Metrics
	Logger      zerolog.Logger
}

// GRPCServer serves the query and admin services plus grpc.health.v1.
type GRPCServer struct {
	grpcServer *grpc.Server
	health     *health.Server
	addr       string
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

func NewGRPCServer(addr string, deps GRPCDeps) *GRPCServer {
	s := &GRPCServer{
		health:  health.NewServer(),
		addr:    addr,
		metrics: deps.Metrics,
		logger:  deps.Logger,
	}
	s.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(s.recoverPanics, s.instrument))

	s.grpcServer.RegisterService(&queryServiceDesc, &queryServiceImpl{qs: deps.Query})
	s.grpcServer.RegisterService(&adminServiceDesc, &adminServiceImpl{
		snapshotter: deps.Snapshotter,
		projections: deps.Projections,
		log:         deps.EventLog,
	})
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.SetServing(false)
	return s
}

// SetServing flips the health status of the server and both services.
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	for _, name := range []string{"", QueryServiceName, AdminServiceName} {
		s.health.SetServingStatus(name, st)
	}
}

func (s *GRPCServer) recoverPanics(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("method", info.FullMethod).Msg("grpc handler panicked")
			err = status.Error(codes.Internal, "internal error")
		}
	}()
	return handler(ctx, req)
}

func (s *GRPCServer) instrument(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	code := status.Code(err)
	if s.metrics != nil {
		s.metrics.GRPCRequests.WithLabelValues(info.FullMethod, code.String()).Inc()
	}
	s.logger.Debug().
		Str("method", info.FullMethod).
		Str("code", code.String()).
		Dur("elapsed", time.Since(start)).
		Msg("grpc request")
	return resp, err
}

// Serve accepts connections on lis until Stop.
func (s *GRPCServer) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

func (s *GRPCServer) Stop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}

// Start listens on the configured address until ctx is cancelled.
func (s *GRPCServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.Stop()
	}()

	s.logger.Info().Str("addr", s.addr).Msg("gRPC server listening")
	if err := s.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}
