package location

import "google.golang.org/grpc"

// MechanicLocation represents one streamed position update.
type MechanicLocation struct {
	MechanicId string
	Lat        float64
	Lng        float64
	Heading    float64
	Accuracy   float64
	Ts         int64
}

// Ack is returned when the stream closes.
type Ack struct {
	Accepted int64
}

// LocationServer defines the gRPC contract.
type LocationServer interface {
	StreamLocation(Location_StreamLocationServer) error
}

// RegisterLocationServer registers the service implementation.
func RegisterLocationServer(s *grpc.Server, srv LocationServer) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: "roadassist.Location",
		HandlerType: (*LocationServer)(nil),
		Streams: []grpc.StreamDesc{{
			StreamName:    "StreamLocation",
			Handler:       _Location_StreamLocation_Handler,
			ServerStreams: true,
			ClientStreams: true,
		}},
	}, srv)
}

// Location_StreamLocationServer defines the bidi stream interface.
type Location_StreamLocationServer interface {
	grpc.ServerStream
	SendAndClose(*Ack) error
	Recv() (*MechanicLocation, error)
}

func _Location_StreamLocation_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(LocationServer).StreamLocation(&locationStreamServer{ServerStream: stream})
}

type locationStreamServer struct {
	grpc.ServerStream
}

func (s *locationStreamServer) SendAndClose(ack *Ack) error {
	return s.ServerStream.SendMsg(ack)
}

func (s *locationStreamServer) Recv() (*MechanicLocation, error) {
	msg := new(MechanicLocation)
	if err := s.ServerStream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg, nil
}
