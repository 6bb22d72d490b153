package visualiser

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/compact.report/internal/lidar"
	"github.com/banshee-data/compact.report/internal/lidar/l2frames"
	"github.com/banshee-data/compact.report/internal/monitoring"
)

// Messages on the wire are google.protobuf.Struct so the service needs no
// generated code. Request fields: include_points (bool), max_points
// (number). Each response is one scan, see ScanToStruct.
const (
	ScanStreamServiceName = "compact.visualiser.v1.ScanStream"
	streamScansMethod     = "/" + ScanStreamServiceName + "/StreamScans"
)

// ScanStreamServer is the server API for the ScanStream service.
type ScanStreamServer interface {
	StreamScans(req *structpb.Struct, stream grpc.ServerStream) error
}

var scanStreamServiceDesc = grpc.ServiceDesc{
	ServiceName: ScanStreamServiceName,
	HandlerType: (*ScanStreamServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{{
		StreamName:    "StreamScans",
		Handler:       streamScansHandler,
		ServerStreams: true,
	}},
	Metadata: "compact/visualiser.proto",
}

func streamScansHandler(srv any, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(ScanStreamServer).StreamScans(req, stream)
}

// RegisterScanStreamServer registers srv on s.
func RegisterScanStreamServer(s grpc.ServiceRegistrar, srv ScanStreamServer) {
	s.RegisterService(&scanStreamServiceDesc, srv)
}

// Server implements ScanStreamServer on top of a Publisher.
type Server struct {
	publisher *Publisher
}

// NewServer creates a new gRPC server.
func NewServer(publisher *Publisher) *Server {
	return &Server{publisher: publisher}
}

// StreamScans sends every published scan until the client goes away or
// the publisher stops.
func (s *Server) StreamScans(req *structpb.Struct, stream grpc.ServerStream) error {
	opts := streamOptionsFrom(req)
	scans, cancel, err := s.publisher.Subscribe("grpc")
	if err != nil {
		return status.Error(codes.ResourceExhausted, err.Error())
	}
	defer cancel()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case scan, ok := <-scans:
			if !ok {
				return status.Error(codes.Unavailable, "publisher stopped")
			}
			msg, err := ScanToStruct(scan, opts.includePoints, opts.maxPoints)
			if err != nil {
				return status.Error(codes.Internal, err.Error())
			}
			if err := stream.SendMsg(msg); err != nil {
				monitoring.Logf("[gRPC] Send error: %v", err)
				return err
			}
		}
	}
}

type streamOptions struct {
	includePoints bool
	maxPoints     int
}

func streamOptionsFrom(req *structpb.Struct) streamOptions {
	opts := streamOptions{includePoints: true}
	if req == nil {
		return opts
	}
	f := req.GetFields()
	if v, ok := f["include_points"]; ok {
		opts.includePoints = v.GetBoolValue()
	}
	if v, ok := f["max_points"]; ok && v.GetNumberValue() > 0 {
		opts.maxPoints = int(v.GetNumberValue())
	}
	return opts
}

// ScanToStruct encodes a scan summary and, optionally, its points. When
// maxPoints is positive the points are decimated by a fixed stride.
func ScanToStruct(scan *l2frames.Scan, includePoints bool, maxPoints int) (*structpb.Struct, error) {
	fields := map[string]any{
		"scan_id":                scan.ScanID,
		"sensor_id":              scan.SensorID,
		"aggregation_key":        scan.Key.String(),
		"key_value":              scan.KeyValue,
		"first_telegram_counter": scan.FirstTelegramCounter,
		"last_telegram_counter":  scan.LastTelegramCounter,
		"telegram_count":         scan.TelegramCount,
		"point_count":            scan.PointCount,
		"end_unix_nanos":         scan.EndWallTime.UnixNano(),
	}
	if includePoints {
		sampled, stride := Decimate(scan.Points, maxPoints)
		points := make([]any, len(sampled))
		for i, p := range sampled {
			points[i] = map[string]any{
				"x":       p.X,
				"y":       p.Y,
				"z":       p.Z,
				"rssi":    int(p.RSSI),
				"layer":   p.Layer,
				"beamIdx": p.Beam,
				"channel": p.Echo,
				"theta":   p.Theta,
			}
		}
		fields["points"] = points
		fields["decimation_stride"] = stride
	}
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode scan %s: %w", scan.ScanID, err)
	}
	return msg, nil
}

// Decimate keeps every stride-th point so that at most maxPoints remain.
// maxPoints <= 0 keeps everything.
func Decimate(points []lidar.Point, maxPoints int) ([]lidar.Point, int) {
	if maxPoints <= 0 || len(points) <= maxPoints {
		return points, 1
	}
	stride := (len(points) + maxPoints - 1) / maxPoints
	out := make([]lidar.Point, 0, len(points)/stride+1)
	for i := 0; i < len(points); i += stride {
		out = append(out, points[i])
	}
	return out, stride
}

// ScanStreamClient receives scans from a ScanStream server.
type ScanStreamClient struct {
	cc grpc.ClientConnInterface
}

// NewScanStreamClient wraps a client connection.
func NewScanStreamClient(cc grpc.ClientConnInterface) *ScanStreamClient {
	return &ScanStreamClient{cc: cc}
}

// ScanStream yields scan messages from StreamScans.
type ScanStream struct {
	grpc.ClientStream
}

// Recv blocks for the next scan.
func (s *ScanStream) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := s.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// StreamScans opens a scan stream.
func (c *ScanStreamClient) StreamScans(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*ScanStream, error) {
	if req == nil {
		req = &structpb.Struct{}
	}
	stream, err := c.cc.NewStream(ctx, &scanStreamServiceDesc.Streams[0], streamScansMethod, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &ScanStream{ClientStream: stream}, nil
}
