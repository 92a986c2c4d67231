package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/devghori1264/agrox/internal/auth"
	"github.com/devghori1264/agrox/internal/ledger"
	"github.com/devghori1264/agrox/internal/models"
	"github.com/devghori1264/agrox/internal/storage"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name. Every method takes
// and returns a google.protobuf.Struct.
const ServiceName = "agrox.v1.Ledger"

// MethodPath returns the full RPC path for method, for use with
// grpc.ClientConn.Invoke.
func MethodPath(method string) string {
	return "/" + ServiceName + "/" + method
}

type rpcFunc func(s *Server, ctx context.Context, in *structpb.Struct) (any, error)

// rpcs maps method name to handler. Methods listed in public need no caller.
var (
	rpcs = map[string]rpcFunc{
		"Ping":            rpcPing,
		"Initialize":      rpcInitialize,
		"RegisterMachine": rpcRegisterMachine,
		"StartMachine":    rpcStartMachine,
		"StopMachine":     rpcStopMachine,
		"UploadData":      rpcUploadData,
		"UseData":         rpcUseData,
		"ClaimRewards":    rpcClaimRewards,
		"GetRegistry":     rpcGetRegistry,
		"GetMachine":      rpcGetMachine,
		"GetReading":      rpcGetReading,
		"ListReadings":    rpcListReadings,
	}
	public = map[string]bool{
		"Ping":         true,
		"GetRegistry":  true,
		"GetMachine":   true,
		"GetReading":   true,
		"ListReadings": true,
	}
)

func serviceDesc() *grpc.ServiceDesc {
	sd := &grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*any)(nil),
		Metadata:    "agrox/v1/ledger",
	}
	for name, fn := range rpcs {
		sd.Methods = append(sd.Methods, grpc.MethodDesc{MethodName: name, Handler: unaryHandler(name, fn)})
	}
	return sd
}

func unaryHandler(name string, fn rpcFunc) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		handler := func(ctx context.Context, req any) (any, error) {
			out, err := fn(srv.(*Server), ctx, req.(*structpb.Struct))
			if err != nil {
				return nil, grpcError(err)
			}
			return toStruct(out)
		}
		if interceptor == nil {
			return handler(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodPath(name)}
		return interceptor(ctx, in, info, handler)
	}
}

// RegisterGRPC registers the gRPC handlers.
func (s *Server) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(serviceDesc(), s)
}

// UnaryAuthInterceptor verifies the bearer token in the "authorization"
// metadata and stores the caller identity on the context. Read-only methods
// pass through without a token.
func UnaryAuthInterceptor(iss *auth.Issuer) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		method := info.FullMethod[strings.LastIndex(info.FullMethod, "/")+1:]
		var header string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get("authorization"); len(v) > 0 {
				header = v[0]
			}
		}
		if header == "" && public[method] {
			return handler(ctx, req)
		}
		tok, err := auth.BearerToken(header)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		id, err := iss.Verify(tok)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(auth.WithIdentity(ctx, id), req)
	}
}

func rpcPing(_ *Server, _ context.Context, _ *structpb.Struct) (any, error) {
	return map[string]string{"msg": "pong from agrox"}, nil
}

func rpcInitialize(s *Server, ctx context.Context, _ *structpb.Struct) (any, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	return s.Initialize(ctx, caller)
}

func rpcRegisterMachine(s *Server, ctx context.Context, in *structpb.Struct) (any, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	return s.RegisterMachine(ctx, caller, stringField(in, "machine_id"))
}

func rpcStartMachine(s *Server, ctx context.Context, in *structpb.Struct) (any, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	return s.StartMachine(ctx, caller, stringField(in, "machine_id"))
}

func rpcStopMachine(s *Server, ctx context.Context, in *structpb.Struct) (any, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	return s.StopMachine(ctx, caller, stringField(in, "machine_id"))
}

func rpcUploadData(s *Server, ctx context.Context, in *structpb.Struct) (any, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	temperature, err := numberField(in, "temperature")
	if err != nil {
		return nil, err
	}
	humidity, err := numberField(in, "humidity")
	if err != nil {
		return nil, err
	}
	var imageURL *string
	if v, ok := in.GetFields()["image_url"]; ok {
		switch k := v.GetKind().(type) {
		case *structpb.Value_NullValue:
		case *structpb.Value_StringValue:
			u := k.StringValue
			imageURL = &u
		default:
			return nil, status.Error(codes.InvalidArgument, "image_url must be a string or null")
		}
	}
	return s.UploadData(ctx, caller, stringField(in, "machine_id"), temperature, humidity, imageURL)
}

func rpcUseData(s *Server, ctx context.Context, in *structpb.Struct) (any, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	return s.UseData(ctx, caller, stringField(in, "reading"))
}

func rpcClaimRewards(s *Server, ctx context.Context, in *structpb.Struct) (any, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	amount, err := s.ClaimRewards(ctx, caller, stringField(in, "machine_id"))
	if err != nil {
		return nil, err
	}
	return map[string]uint64{"claimed": amount}, nil
}

func rpcGetRegistry(s *Server, ctx context.Context, _ *structpb.Struct) (any, error) {
	return s.Registry(ctx)
}

func rpcGetMachine(s *Server, ctx context.Context, in *structpb.Struct) (any, error) {
	if id := stringField(in, "id"); id != "" {
		return s.MachineRecord(ctx, id)
	}
	return s.Machine(ctx, stringField(in, "machine_id"))
}

func rpcGetReading(s *Server, ctx context.Context, in *structpb.Struct) (any, error) {
	return s.Reading(ctx, stringField(in, "reading"))
}

func rpcListReadings(s *Server, ctx context.Context, in *structpb.Struct) (any, error) {
	readings, err := s.Readings(ctx, stringField(in, "machine_id"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"readings": readings}, nil
}

func callerFrom(ctx context.Context) (models.Identity, error) {
	id, ok := auth.IdentityFrom(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, auth.ErrMissingToken.Error())
	}
	return id, nil
}

func stringField(in *structpb.Struct, key string) string {
	return in.GetFields()[key].GetStringValue()
}

func numberField(in *structpb.Struct, key string) (float64, error) {
	v, ok := in.GetFields()[key]
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "%s required", key)
	}
	if _, isNum := v.GetKind().(*structpb.Value_NumberValue); !isNum {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be a number", key)
	}
	return v.GetNumberValue(), nil
}

// toStruct converts a JSON-tagged value into a protobuf Struct.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// grpcError maps ledger and storage errors onto gRPC status codes.
func grpcError(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(grpcCode(err), err.Error())
}

func grpcCode(err error) codes.Code {
	switch {
	case errors.Is(err, ledger.ErrUnauthorized):
		return codes.PermissionDenied
	case errors.Is(err, storage.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, ledger.ErrMachineIDAlreadyExists), errors.Is(err, storage.ErrAlreadyInitialized):
		return codes.AlreadyExists
	case errors.Is(err, ledger.ErrMachineNotActive), errors.Is(err, ledger.ErrNoRewardsAvailable),
		errors.Is(err, storage.ErrNotInitialized), errors.Is(err, ledger.ErrRewardOverflow):
		return codes.FailedPrecondition
	case ledger.IsValidation(err):
		return codes.InvalidArgument
	case errors.Is(err, ledger.ErrTransferFailed):
		return codes.Unavailable
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}
