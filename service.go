package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// randomSampleSize is how many confessions the random listing returns at most.
const randomSampleSize = 5

// Service implements the confession operations on top of a Store.
type Service struct {
	store   Store
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates a Service. metrics may be nil.
func NewService(store Store, metrics *Metrics, logger *slog.Logger) *Service {
	return &Service{store: store, metrics: metrics, logger: logger, now: time.Now}
}

// Create validates the request and persists a new confession with zeroed
// reactions. It returns the new confession's ID.
func (s *Service) Create(ctx context.Context, req CreateConfessionRequest) (string, error) {
	title := strings.TrimSpace(req.Title)
	body := strings.TrimSpace(req.Body)
	if title == "" || body == "" {
		return "", fmt.Errorf("%w: title and body are required", ErrValidation)
	}

	c := &Confession{
		ID:        uuid.NewString(),
		Title:     title,
		Body:      body,
		Tags:      cleanTags(req.Tags),
		CreatedAt: s.now().UTC(),
	}
	c.normalize()
	if err := s.store.CreateConfession(ctx, c); err != nil {
		return "", s.storageError("create confession", err)
	}
	s.metrics.confessionCreated()
	s.logger.Debug("confession created", "id", c.ID, "tags", len(c.Tags))
	return c.ID, nil
}

// Get returns a single confession.
func (s *Service) Get(ctx context.Context, id string) (*Confession, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	c, err := s.store.GetConfession(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, s.storageError("get confession", err)
	}
	return c, nil
}

// React applies a reaction of kind reactionType by userID to confession id.
// Checks run in order: blank user, missing confession, unknown reaction
// type, repeated user. Only the last step mutates the store and it does so
// atomically.
func (s *Service) React(ctx context.Context, id, reactionType, userID string) (*Confession, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrValidation)
	}
	if !validID(id) {
		s.metrics.reaction(reactionType, outcomeNotFound)
		return nil, ErrNotFound
	}

	kind, kindErr := ParseReactionKind(reactionType)
	if kindErr != nil {
		// a missing confession still reports as not found
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		s.metrics.reaction(reactionType, outcomeInvalid)
		return nil, kindErr
	}

	c, err := s.store.AddReaction(ctx, id, kind, userID)
	switch {
	case err == nil:
		s.metrics.reaction(kind.String(), outcomeApplied)
		return c, nil
	case errors.Is(err, ErrNotFound):
		s.metrics.reaction(kind.String(), outcomeNotFound)
		return nil, ErrNotFound
	case errors.Is(err, ErrDuplicateReaction):
		s.metrics.reaction(kind.String(), outcomeDuplicate)
		return nil, ErrDuplicateReaction
	default:
		s.metrics.reaction(kind.String(), outcomeError)
		return nil, s.storageError("add reaction", err)
	}
}

// Random returns up to randomSampleSize confessions in no particular order.
func (s *Service) Random(ctx context.Context) ([]*Confession, error) {
	out, err := s.store.SampleConfessions(ctx, randomSampleSize)
	if err != nil {
		return nil, s.storageError("sample confessions", err)
	}
	return out, nil
}

// ByTag returns the projection of every confession carrying tag.
func (s *Service) ByTag(ctx context.Context, tag string) ([]ConfessionSummary, error) {
	found, err := s.store.ConfessionsByTag(ctx, tag)
	if err != nil {
		return nil, s.storageError("confessions by tag", err)
	}
	out := make([]ConfessionSummary, 0, len(found))
	for _, c := range found {
		out = append(out, summarize(c))
	}
	return out, nil
}

// Ping checks that the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// storageError logs a backend failure and wraps it for the handlers.
func (s *Service) storageError(op string, err error) error {
	s.logger.Error("storage failure", "op", op, "err", err)
	return &StorageError{Op: op, Err: err}
}

// validID reports whether id can name a stored confession. IDs are always
// issued by Create, so anything that is not a UUID never reaches the store.
func validID(id string) bool {
	return uuid.Validate(id) == nil
}

// cleanTags trims tags and drops blanks, keeping the caller's order.
func cleanTags(in []string) []string {
	out := make([]string, 0, len(in))
	for _, t := range in {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
