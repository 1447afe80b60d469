package livestream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/elonfeng/streamrank/internal/logging"
	"github.com/elonfeng/streamrank/internal/metrics"
	"github.com/elonfeng/streamrank/pkg/alert"
	"github.com/elonfeng/streamrank/pkg/provider"
)

var (
	// ErrNoProvider is returned when no provider can host a new stream.
	ErrNoProvider = errors.New("no available provider found")
	// ErrStreamNotFound is returned for an unknown stream id.
	ErrStreamNotFound = errors.New("stream not found")
	// ErrStreamEnded is returned when ending a stream twice.
	ErrStreamEnded = errors.New("stream already ended")
	// ErrInvalidRequest is returned for a start request without a host.
	ErrInvalidRequest = errors.New("invalid stream request")
)

// Repository is the persistence the service needs.
type Repository interface {
	ListProviders(ctx context.Context) ([]provider.Provider, error)
	GetProvider(ctx context.Context, name string) (*provider.Provider, error)
	ReserveCapacity(ctx context.Context, name string) (bool, error)
	ReleaseCapacity(ctx context.Context, name string, minutes int64) error
	CreateStream(ctx context.Context, s *Stream) error
	GetStream(ctx context.Context, id string) (*Stream, error)
	// EndStream marks a live stream ended and releases its slot and minutes
	// atomically. It reports false if the stream was not live.
	EndStream(ctx context.Context, s *Stream, endedAt time.Time, minutes int64) (bool, error)
}

// StartRequest describes a stream to start.
type StartRequest struct {
	HostID   string   `json:"hostId" validate:"required,max=128"`
	Title    string   `json:"title" validate:"max=200"`
	Features []string `json:"features" validate:"max=16,dive,required"`
}

// Service starts and ends livestreams on the best available provider.
type Service struct {
	repo     Repository
	notifier provider.Notifier
	now      func() time.Time
	log      zerolog.Logger
}

// NewService creates a livestream service. notifier may be nil.
func NewService(repo Repository, notifier provider.Notifier) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
		log:      logging.Component("livestream"),
	}
}

// Start selects a provider, reserves a stream slot on it and records the
// stream. A provider whose reservation fails is dropped and selection runs
// again on the rest.
func (s *Service) Start(ctx context.Context, req StartRequest) (*Stream, error) {
	if strings.TrimSpace(req.HostID) == "" {
		return nil, fmt.Errorf("%w: hostId is required", ErrInvalidRequest)
	}

	providers, err := s.repo.ListProviders(ctx)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}

	candidates := make([]provider.Provider, 0, len(providers))
	for _, p := range providers {
		if p.ServerURL == "" {
			s.log.Warn().Str("provider", p.Name).Msg("provider has no server url, skipped")
			continue
		}
		candidates = append(candidates, p)
	}

	for {
		best, fallback := provider.SelectBest(candidates, provider.Requirements{Features: req.Features})
		if best == nil {
			metrics.RecordSelection("", false)
			s.log.Warn().Str("host_id", req.HostID).Strs("features", req.Features).Msg("no provider available")
			return nil, ErrNoProvider
		}
		chosen := *best

		ok, err := s.repo.ReserveCapacity(ctx, chosen.Name)
		if err != nil {
			return nil, err
		}
		if !ok {
			metrics.CapacityRejections.WithLabelValues(chosen.Name).Inc()
			s.log.Info().Str("provider", chosen.Name).Msg("capacity reservation lost, reselecting")
			candidates = without(candidates, chosen.Name)
			continue
		}

		metrics.RecordSelection(chosen.Name, fallback)
		s.refreshActiveStreams(ctx, chosen.Name)

		stream, err := s.create(ctx, req, &chosen, fallback)
		if err != nil {
			if rerr := s.repo.ReleaseCapacity(ctx, chosen.Name, 0); rerr != nil {
				s.log.Error().Err(rerr).Str("provider", chosen.Name).Msg("release after failed start")
			}
			return nil, err
		}

		if fallback {
			s.reportFallback(ctx, &chosen, stream)
		}
		s.log.Info().
			Str("stream_id", stream.ID).
			Str("provider", chosen.Name).
			Bool("degraded", fallback).
			Msg("stream started")
		return stream, nil
	}
}

func (s *Service) create(ctx context.Context, req StartRequest, p *provider.Provider, degraded bool) (*Stream, error) {
	key := strings.ReplaceAll(uuid.NewString(), "-", "")
	ep := BuildEndpoints(p.ServerURL, key)

	stream := &Stream{
		ID:          uuid.NewString(),
		HostID:      req.HostID,
		Title:       req.Title,
		Provider:    p.Name,
		StreamKey:   key,
		RTMPURL:     ep.RTMP,
		HLSURL:      ep.HLS,
		PlaybackURL: ep.Playback,
		Degraded:    degraded,
		Status:      StatusLive,
		StartedAt:   s.now(),
	}
	if err := s.repo.CreateStream(ctx, stream); err != nil {
		return nil, fmt.Errorf("create stream: %w", err)
	}
	return stream, nil
}

// End marks a stream ended and returns its slot and minutes to the provider.
func (s *Service) End(ctx context.Context, id string) (*Stream, error) {
	stream, err := s.repo.GetStream(ctx, id)
	if err != nil {
		return nil, err
	}
	if stream.Status != StatusLive {
		return nil, fmt.Errorf("end stream %s: %w", id, ErrStreamEnded)
	}

	endedAt := s.now()
	minutes := billedMinutes(endedAt.Sub(stream.StartedAt))

	ok, err := s.repo.EndStream(ctx, stream, endedAt, minutes)
	if err != nil {
		return nil, fmt.Errorf("end stream %s: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("end stream %s: %w", id, ErrStreamEnded)
	}
	s.refreshActiveStreams(ctx, stream.Provider)

	stream.Status = StatusEnded
	stream.EndedAt = &endedAt
	stream.DurationMinutes = minutes
	s.log.Info().Str("stream_id", id).Str("provider", stream.Provider).Int64("minutes", minutes).Msg("stream ended")
	return stream, nil
}

// refreshActiveStreams sets the active-streams gauge from the stored counter.
func (s *Service) refreshActiveStreams(ctx context.Context, name string) {
	p, err := s.repo.GetProvider(ctx, name)
	if err != nil {
		s.log.Warn().Err(err).Str("provider", name).Msg("refresh active streams")
		return
	}
	metrics.SetActiveStreams(name, p.Capacity.ActiveStreams)
}

func (s *Service) reportFallback(ctx context.Context, p *provider.Provider, stream *Stream) {
	s.log.Warn().Str("provider", p.Name).Str("stream_id", stream.ID).Msg("stream placed on fallback provider")
	if s.notifier == nil {
		return
	}

	n := &alert.Notification{
		Title:    "Stream started on fallback provider",
		Body:     fmt.Sprintf("No healthy provider had capacity; stream %s was placed on %s.", stream.ID, p.Name),
		Severity: alert.SeverityWarning,
		Subject:  p.Name,
		Fields: map[string]string{
			"status": string(p.Status),
			"uptime": fmt.Sprintf("%.1f%%", p.Health.UptimePercent),
			"host":   stream.HostID,
		},
	}
	if err := s.notifier.Broadcast(ctx, n); err != nil {
		s.log.Error().Err(err).Msg("fallback alert failed")
	}
}

func without(providers []provider.Provider, name string) []provider.Provider {
	out := make([]provider.Provider, 0, len(providers))
	for _, p := range providers {
		if p.Name != name {
			out = append(out, p)
		}
	}
	return out
}
