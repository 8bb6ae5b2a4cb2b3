package publisher

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/mini-subway-board/poller/internal/position"
)

// SubjectPrefix is the first token of every subject the poller publishes on
const SubjectPrefix = "arrivals"

type NATSPublisher struct {
	nc          *nats.Conn
	conn        conn
	logSubjects bool
	metrics     PublisherMetrics
	now         func() time.Time
}

// conn is the part of *nats.Conn the publisher uses
type conn interface {
	Publish(subj string, data []byte) error
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url string, logSubjects bool, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("subway-board-poller"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Warn().Err(err).Msg("NATS: disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS: reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Info().Msg("NATS: connection closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{nc: nc, conn: nc, logSubjects: logSubjects, metrics: m, now: time.Now}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

// PositionsMessage is published on arrivals.<station>.positions every fast tick
type PositionsMessage struct {
	StationKey string            `json:"stationKey"`
	Timestamp  time.Time         `json:"timestamp"`
	Trains     []position.Update `json:"trains"`
}

// ArrivedMessage is published on arrivals.<station>.arrived once per train
type ArrivedMessage struct {
	StationKey string          `json:"stationKey"`
	Timestamp  time.Time       `json:"timestamp"`
	Train      position.Update `json:"train"`
}

func (p *NATSPublisher) PublishPositions(stationKey string, updates []position.Update) error {
	if updates == nil {
		updates = []position.Update{}
	}
	return p.publish(PositionsSubject(stationKey), PositionsMessage{
		StationKey: stationKey,
		Timestamp:  p.now().UTC(),
		Trains:     updates,
	})
}

func (p *NATSPublisher) PublishArrived(stationKey string, update position.Update) error {
	return p.publish(ArrivedSubject(stationKey), ArrivedMessage{
		StationKey: stationKey,
		Timestamp:  p.now().UTC(),
		Train:      update,
	})
}

func (p *NATSPublisher) publish(subject string, msg interface{}) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if p.logSubjects {
		log.Debug().Str("subject", subject).Int("bytes", len(b)).Msg("NATS: publish")
	}
	err = p.conn.Publish(subject, b)
	if p.metrics != nil {
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

// PositionsSubject is the subject carrying a station's position batches
func PositionsSubject(stationKey string) string {
	return SubjectPrefix + "." + subjectToken(stationKey) + ".positions"
}

// ArrivedSubject is the subject carrying a station's arrived events
func ArrivedSubject(stationKey string) string {
	return SubjectPrefix + "." + subjectToken(stationKey) + ".arrived"
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
