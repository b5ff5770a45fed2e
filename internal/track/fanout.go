package track

import (
	"errors"

	"go.uber.org/zap"

	"github.com/rahal-transit/bustrack/internal/metrics"
	"github.com/rahal-transit/bustrack/internal/protocol"
)

// fanOut delivers one sample to every currently interested connection.
// Each delivery is independent and non-blocking: a slow connection
// loses that one frame, a closed connection is unregistered (close
// notifications race with sends, so this is normal, not an error), and
// neither outcome touches the other connections.
func (in *Ingestor) fanOut(s PositionSample) {
	frame, err := protocol.EncodeLocationUpdate(s.BusID, s.Latitude, s.Longitude, s.Timestamp)
	if err != nil {
		in.log.Error("encode location update", zap.String("bus_id", s.BusID), zap.Error(err))
		return
	}

	conns := in.reg.InterestedIn(s.BusID)
	for _, c := range conns {
		switch err := c.DeliverUpdate(s.BusID, s.Timestamp, frame); {
		case err == nil:
			metrics.UpdatesDelivered.Inc()
		case errors.Is(err, ErrStale):
			// The connection already queued this sample or a newer one
			// (a subscribe-time snapshot racing the live stream).
		case errors.Is(err, ErrConnClosed):
			in.reg.Unregister(c.ID)
			metrics.UpdatesDropped.WithLabelValues("closed").Inc()
		case errors.Is(err, ErrBackpressure):
			metrics.UpdatesDropped.WithLabelValues("backpressure").Inc()
			in.log.Warn("observer too slow, update dropped",
				zap.String("conn_id", c.ID),
				zap.String("bus_id", s.BusID),
			)
		}
	}
}
