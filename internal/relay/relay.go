// Package relay forwards player movement between members of a room without
// decoding it.
//
// Movement is by far the most frequent message in a session. The relay pulls
// the frames out of the client envelope, stamps them with the sender's
// authenticated user id and hands the same buffer to every other peer. Every
// other message type is left to the caller.
package relay

import (
	"bytes"
	"fmt"
	"io"

	"github.com/blukai/noitarelay/internal/framecodec"
	"github.com/blukai/noitarelay/internal/protocol"
	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/go-multierror"
	"github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Peer is a connected, authenticated room member.
type Peer interface {
	UserID() []byte
	Send(msg []byte) error
}

type Room interface {
	Peers() []Peer
}

const (
	dropMalformed = "malformed"
	dropForged    = "forged"

	validationOK      = "ok"
	validationInvalid = "invalid"
)

type metrics struct {
	forwarded prometheus.Counter
	dropped   *prometheus.CounterVec
	validated *prometheus.CounterVec
}

func newMetrics(registry prometheus.Registerer) *metrics {
	// nil registry => metrics are collected but not registered anywhere
	factory := promauto.With(registry)

	return &metrics{
		forwarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "noitarelay",
			Name:      "moves_forwarded_total",
			Help:      "Player moves broadcast to a room.",
		}),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "noitarelay",
			Name:      "moves_dropped_total",
			Help:      "Player moves that were not broadcast.",
		}, []string{"reason"}),
		validated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "noitarelay",
			Name:      "moves_validated_total",
			Help:      "Sampled player moves that were fully decoded.",
		}, []string{"result"}),
	}
}

type Option func(*Relay)

// WithCodec sets the codec used to decode sampled moves. Defaults to
// framecodec.Default().
func WithCodec(codec *framecodec.Codec) Option {
	return func(r *Relay) {
		r.codec = codec
	}
}

// WithValidateEvery makes the relay fully decode roughly one in n moves and
// count the ones that fail. 0 disables validation.
func WithValidateEvery(n uint64) Option {
	return func(r *Relay) {
		r.validateEvery = n
	}
}

func WithRegistry(registry prometheus.Registerer) Option {
	return func(r *Relay) {
		r.registry = registry
	}
}

type Relay struct {
	logger *log.Logger

	codec         *framecodec.Codec
	validateEvery uint64
	registry      prometheus.Registerer

	metrics *metrics
}

func New(logger *log.Logger, opts ...Option) *Relay {
	// if logger is nil (which might be true in tests) => use default, but
	// silenced logger
	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}

	r := &Relay{
		logger: logger,
		codec:  framecodec.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.metrics = newMetrics(r.registry)

	return r
}

// HandleMessage relays msg if it is a player move. handled is false when msg
// is something else and must go through the regular decode path.
//
// A move that claims a non-empty user id of its own is dropped. Send failures do not
// stop the broadcast; they are returned together once every peer was tried.
func (r *Relay) HandleMessage(room Room, sender Peer, msg []byte) (handled bool, err error) {
	frames, err := protocol.MaybePlayerMove(msg)
	if err != nil {
		r.metrics.dropped.WithLabelValues(dropMalformed).Inc()
		return false, err
	}
	if len(frames) == 0 {
		return false, nil
	}

	senderID := sender.UserID()

	tagged, ok, err := protocol.TagPlayerMove(frames, senderID)
	if err != nil {
		r.metrics.dropped.WithLabelValues(dropMalformed).Inc()
		return true, err
	}
	if !ok {
		r.metrics.dropped.WithLabelValues(dropForged).Inc()
		r.logger.Debug().
			Str("sender", string(senderID)).
			Msg("dropped player move with forged user id")
		return true, nil
	}

	r.maybeValidate(frames, senderID)

	return true, r.broadcast(room, senderID, tagged)
}

func (r *Relay) maybeValidate(frames, senderID []byte) {
	if r.validateEvery == 0 || xxhash.Sum64(frames)%r.validateEvery != 0 {
		return
	}

	if _, err := r.codec.DecodeFrames(frames); err != nil {
		r.metrics.validated.WithLabelValues(validationInvalid).Inc()
		r.logger.Warn().
			Str("sender", string(senderID)).
			Msgf("invalid player move: %v", err)
		return
	}
	r.metrics.validated.WithLabelValues(validationOK).Inc()
}

// broadcast sends msg to everyone in room but the sender.
func (r *Relay) broadcast(room Room, senderID, msg []byte) error {
	var errs error
	for _, peer := range room.Peers() {
		peerID := peer.UserID()
		if bytes.Equal(peerID, senderID) {
			continue
		}

		if err := peer.Send(msg); err != nil {
			r.logger.Error().
				Msgf("could not send player move to %s: %v", peerID, err)

			errs = multierror.Append(errs, fmt.Errorf("could not send to %s: %w", peerID, err))
		}
	}
	r.metrics.forwarded.Inc()

	return errs
}
