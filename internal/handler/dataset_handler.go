package handler

import (
	"context"

	"github.com/devrev/groove/internal/errors"
	"github.com/devrev/groove/internal/service"
	"github.com/devrev/groove/internal/shard"
	"github.com/devrev/groove/internal/validation"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	ServiceName = "groove.v1.DatasetService"

	DescribeMethod = "/" + ServiceName + "/Describe"
	GetShardMethod = "/" + ServiceName + "/GetShard"
	DeclareMethod  = "/" + ServiceName + "/DeclareDataset"
	PutDataMethod  = "/" + ServiceName + "/PutData"
)

// DatasetServiceServer is the server API of groove.v1.DatasetService.
// Requests and responses use the well-known wrapper messages: Describe
// takes a dataset url and returns the schema blob, GetShard takes an
// encoded shard and returns an encoded page table. DeclareDataset and
// PutData take encoded requests; PutData answers with the encoded list of
// columns it skipped.
type DatasetServiceServer interface {
	Describe(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
	GetShard(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	DeclareDataset(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)
	PutData(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

var DatasetServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DatasetServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Describe", Handler: describeHandler},
		{MethodName: "GetShard", Handler: getShardHandler},
		{MethodName: "DeclareDataset", Handler: declareHandler},
		{MethodName: "PutData", Handler: putDataHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "groove/v1/dataset.proto",
}

func RegisterDatasetServiceServer(s grpc.ServiceRegistrar, srv DatasetServiceServer) {
	s.RegisterService(&DatasetServiceDesc, srv)
}

func describeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DatasetServiceServer).Describe(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: DescribeMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DatasetServiceServer).Describe(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func getShardHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DatasetServiceServer).GetShard(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetShardMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DatasetServiceServer).GetShard(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func declareHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DatasetServiceServer).DeclareDataset(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: DeclareMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DatasetServiceServer).DeclareDataset(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func putDataHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DatasetServiceServer).PutData(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PutDataMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DatasetServiceServer).PutData(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// DatasetHandler implements the gRPC dataset service over a catalog
type DatasetHandler struct {
	catalog *service.CatalogService
	logger  *zap.Logger
}

var _ DatasetServiceServer = (*DatasetHandler)(nil)

func NewDatasetHandler(catalog *service.CatalogService, logger *zap.Logger) *DatasetHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DatasetHandler{catalog: catalog, logger: logger}
}

// Describe handles schema requests
func (h *DatasetHandler) Describe(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	url := req.GetValue()
	if err := validation.Default().ValidateDatasetURL(url); err != nil {
		return nil, errors.ToGRPCError(err)
	}
	blob, err := h.catalog.Describe(ctx, url)
	if err != nil {
		h.logFailure("Describe failed", err, zap.String("dataset", url))
		return nil, errors.ToGRPCError(err)
	}
	return wrapperspb.Bytes(blob), nil
}

// GetShard handles shard requests
func (h *DatasetHandler) GetShard(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	sh, err := shard.Decode(req.GetValue())
	if err != nil {
		return nil, errors.ToGRPCError(errors.InvalidArgument("malformed shard request", err))
	}
	out, err := h.catalog.GetShard(ctx, sh)
	if err != nil {
		h.logFailure("GetShard failed", err, zap.String("shard", sh.String()))
		return nil, errors.ToGRPCError(err)
	}
	return wrapperspb.Bytes(out), nil
}

// DeclareDataset handles live dataset declarations
func (h *DatasetHandler) DeclareDataset(ctx context.Context, req *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	decl, err := shard.DecodeDeclareRequest(req.GetValue())
	if err != nil {
		return nil, errors.ToGRPCError(errors.InvalidArgument("malformed declare request", err))
	}
	if err := h.catalog.DeclareDataset(ctx, decl.DatasetURL, decl.Schema); err != nil {
		h.logFailure("DeclareDataset failed", err, zap.String("dataset", decl.DatasetURL))
		return nil, errors.ToGRPCError(err)
	}
	return &emptypb.Empty{}, nil
}

// PutData handles frame writes. Columns the model refuses come back in the
// response; they do not fail the call.
func (h *DatasetHandler) PutData(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	put, err := shard.DecodePutRequest(req.GetValue())
	if err != nil {
		return nil, errors.ToGRPCError(errors.InvalidArgument("malformed put request", err))
	}
	failed, err := h.catalog.PutData(ctx, put)
	if err != nil {
		h.logFailure("PutData failed", err,
			zap.String("dataset", put.DatasetURL),
			zap.String("model", put.ModelID))
		return nil, errors.ToGRPCError(err)
	}
	if len(failed) > 0 {
		h.logger.Warn("PutData skipped columns",
			zap.String("dataset", put.DatasetURL),
			zap.String("model", put.ModelID),
			zap.Strings("columns", failed))
	}
	return wrapperspb.Bytes(shard.EncodeColumnList(failed)), nil
}

// logFailure keeps not-found answers out of the error log
func (h *DatasetHandler) logFailure(msg string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	if errors.IsNotFound(err) {
		h.logger.Debug(msg, fields...)
		return
	}
	h.logger.Error(msg, fields...)
}
