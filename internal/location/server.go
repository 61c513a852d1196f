package location

import (
	"context"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vishnandaman/road-assist/internal/roadside/domain"
)

// Updater applies one position update to the user store and geo index.
type Updater interface {
	UpdateUserLocation(ctx context.Context, userID uuid.UUID, point domain.GeoPoint) (domain.User, error)
}

// Server ingests streamed mechanic locations.
type Server struct {
	updater Updater
	logger  *zap.Logger
}

// NewServer constructs a server.
func NewServer(updater Updater, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{updater: updater, logger: logger}
}

// StreamLocation consumes position updates until the client closes the
// stream, then acknowledges how many were applied. Malformed updates are
// skipped so one bad client message does not kill the stream.
func (s *Server) StreamLocation(stream Location_StreamLocationServer) error {
	var accepted int64
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			return stream.SendAndClose(&Ack{Accepted: accepted})
		}
		if err != nil {
			return err
		}
		mechanicID, err := uuid.Parse(msg.MechanicId)
		if err != nil {
			s.logger.Debug("skipping update with bad mechanic id", zap.String("mechanic_id", msg.MechanicId))
			continue
		}
		point := domain.GeoPoint{Lat: msg.Lat, Lng: msg.Lng}
		if _, err := s.updater.UpdateUserLocation(stream.Context(), mechanicID, point); err != nil {
			s.logger.Warn("location update failed",
				zap.Error(err), zap.String("mechanic_id", mechanicID.String()))
			continue
		}
		accepted++
	}
}
