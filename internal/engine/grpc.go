package engine

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/detection"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/preprocess"
)

const (
	serviceName  = "persondetect.inference.v1.Engine"
	inferMethod  = "/" + serviceName + "/Infer"
	inferTimeout = 5 * time.Second
)

// GRPCEngine calls a remote inference server. Requests carry the input as
// little-endian float32 bytes; responses are a Struct with an "outputs" list.
type GRPCEngine struct {
	endpoint string
	conn     *grpc.ClientConn
	health   healthpb.HealthClient
}

// DialGRPC connects to endpoint and verifies the server reports SERVING.
func DialGRPC(ctx context.Context, endpoint string) (*GRPCEngine, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	kacp := keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}

	conn, err := grpc.DialContext(dialCtx, endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to dial inference engine at %s: %w", endpoint, err)
	}

	e := &GRPCEngine{endpoint: endpoint, conn: conn, health: healthpb.NewHealthClient(conn)}
	if err := e.Check(dialCtx); err != nil {
		conn.Close()
		return nil, err
	}

	slog.Info("inference engine connected", "component", "engine", "endpoint", endpoint)
	return e, nil
}

// Check runs the standard gRPC health check for the engine service.
func (e *GRPCEngine) Check(ctx context.Context) error {
	resp, err := e.health.Check(ctx, &healthpb.HealthCheckRequest{Service: serviceName})
	if err != nil {
		return fmt.Errorf("failed to check engine health: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("engine at %s is %s", e.endpoint, resp.GetStatus())
	}
	return nil
}

// Infer sends one tensor and decodes the reply.
func (e *GRPCEngine) Infer(ctx context.Context, in *preprocess.Tensor) ([]detection.RawTensor, error) {
	ctx, cancel := context.WithTimeout(ctx, inferTimeout)
	defer cancel()

	req := wrapperspb.Bytes(EncodeTensor(in.Data))
	resp := new(structpb.Struct)
	if err := e.conn.Invoke(ctx, inferMethod, req, resp); err != nil {
		return nil, fmt.Errorf("inference call failed: %w", err)
	}
	return DecodeOutputs(resp)
}

func (e *GRPCEngine) Close() error {
	return e.conn.Close()
}

// EncodeTensor packs values as little-endian float32.
func EncodeTensor(values []float32) []byte {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeTensor is the inverse of EncodeTensor.
func DecodeTensor(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("tensor payload length %d is not a multiple of 4", len(buf))
	}
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out, nil
}

// DecodeOutputs reads {"outputs": [{height,width,channels,data}]}.
func DecodeOutputs(s *structpb.Struct) ([]detection.RawTensor, error) {
	list := s.GetFields()["outputs"].GetListValue()
	if list == nil {
		return nil, ErrNoOutputs
	}

	outs := make([]wireTensor, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		fields := v.GetStructValue().GetFields()
		if fields == nil {
			return nil, fmt.Errorf("output %d is not an object", i)
		}
		w := wireTensor{
			Height:   int(fields["height"].GetNumberValue()),
			Width:    int(fields["width"].GetNumberValue()),
			Channels: int(fields["channels"].GetNumberValue()),
		}
		data := fields["data"].GetListValue().GetValues()
		w.Data = make([]float32, len(data))
		for j, d := range data {
			w.Data[j] = float32(d.GetNumberValue())
		}
		outs = append(outs, w)
	}
	return toRaw(outs)
}

// EncodeOutputs builds the response Struct for raw outputs.
func EncodeOutputs(raws []detection.RawTensor) (*structpb.Struct, error) {
	list := make([]any, 0, len(raws))
	for _, r := range raws {
		data := make([]any, len(r.Data))
		for i, v := range r.Data {
			data[i] = float64(v)
		}
		list = append(list, map[string]any{
			"height":   r.Height,
			"width":    r.Width,
			"channels": r.Channels,
			"data":     data,
		})
	}
	return structpb.NewStruct(map[string]any{"outputs": list})
}

// InferServer is implemented by inference servers written in Go.
type InferServer interface {
	Infer(ctx context.Context, in *wrapperspb.BytesValue) (*structpb.Struct, error)
}

// RegisterInferServer exposes srv under the engine service name.
func RegisterInferServer(s *grpc.Server, srv InferServer) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*InferServer)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "Infer",
			Handler:    inferHandler,
		}},
		Streams: []grpc.StreamDesc{},
	}, srv)
}

func inferHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InferServer).Infer(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: inferMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(InferServer).Infer(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}
