// Package interestvector maintains each user's EMA-blended interest vector:
// initialized from their declared interest tokens, then nudged toward every
// article they view, rate, or chat about.
package interestvector

import (
	"context"
	"fmt"
	"strings"

	"mynewslens/internal/domain"
)

// Weight is the interaction weight that scales the EMA learning rate
// alpha = 0.1 * weight.
type Weight float64

const (
	WeightView Weight = 1.0
	WeightRate Weight = 2.0
	WeightChat Weight = 2.0
)

// vectorStore is the subset of store.Store the updater depends on.
type vectorStore interface {
	GetUserVector(ctx context.Context, userID int64) ([]float32, error)
	SaveUserVector(ctx context.Context, userID int64, vector []float32) error
}

// embedder is the subset of embedder.Embedder the updater depends on.
type embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Updater owns the interest-vector read-modify-write cycle.
type Updater struct {
	store    vectorStore
	embedder embedder
}

func New(store vectorStore, embedder embedder) *Updater {
	return &Updater{store: store, embedder: embedder}
}

// EnsureInitialized embeds a user's concatenated interest tokens and stores
// the result, if the user has no vector yet and has at least one token.
func (u *Updater) EnsureInitialized(ctx context.Context, userID int64, interests []string) error {
	existing, err := u.store.GetUserVector(ctx, userID)
	if err != nil {
		return fmt.Errorf("check existing user vector: %w", err)
	}
	if existing != nil || len(interests) == 0 {
		return nil
	}

	vec, err := u.embedder.Embed(ctx, strings.Join(interests, ", "))
	if err != nil {
		return fmt.Errorf("embed interest tokens: %w", err)
	}
	return u.store.SaveUserVector(ctx, userID, vec)
}

// UpdateOnInteraction blends the user's vector toward an article's vector:
// U_new = (1-alpha)*U + alpha*A, alpha = 0.1*weight. If the user has no
// vector yet, U_new = A.
func (u *Updater) UpdateOnInteraction(ctx context.Context, userID int64, articleVector []float32, weight Weight) error {
	if len(articleVector) == 0 {
		return fmt.Errorf("%w: article vector is empty", domain.ErrInvalidInput)
	}

	current, err := u.store.GetUserVector(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user vector: %w", err)
	}

	if current == nil || len(current) != len(articleVector) {
		return u.store.SaveUserVector(ctx, userID, articleVector)
	}

	alpha := 0.1 * float64(weight)
	updated := make([]float32, len(current))
	for i := range current {
		updated[i] = float32((1-alpha)*float64(current[i]) + alpha*float64(articleVector[i]))
	}
	return u.store.SaveUserVector(ctx, userID, updated)
}
