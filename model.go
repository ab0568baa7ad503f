package main

import (
	"fmt"
	"time"
)

// ReactionKind is one of the closed set of reactions a user can leave.
type ReactionKind int

const (
	Love ReactionKind = iota + 1
	Sad
	Laugh
)

// reactionKinds lists every valid kind in display order.
var reactionKinds = []ReactionKind{Love, Sad, Laugh}

// String returns the wire name of the kind.
func (k ReactionKind) String() string {
	switch k {
	case Love:
		return "love"
	case Sad:
		return "sad"
	case Laugh:
		return "laugh"
	}
	return fmt.Sprintf("ReactionKind(%d)", int(k))
}

// ParseReactionKind maps a wire name onto a ReactionKind.
func ParseReactionKind(s string) (ReactionKind, error) {
	for _, k := range reactionKinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidReaction, s)
}

// Reactions holds the per-kind counters and the users that already reacted.
type Reactions struct {
	Love          int      `json:"love"`
	Sad           int      `json:"sad"`
	Laugh         int      `json:"laugh"`
	UserReactions []string `json:"userReactions"`
}

// Count returns the counter for k.
func (r Reactions) Count(k ReactionKind) int {
	switch k {
	case Love:
		return r.Love
	case Sad:
		return r.Sad
	case Laugh:
		return r.Laugh
	}
	return 0
}

// Set overwrites the counter for k.
func (r *Reactions) Set(k ReactionKind, n int) {
	switch k {
	case Love:
		r.Love = n
	case Sad:
		r.Sad = n
	case Laugh:
		r.Laugh = n
	}
}

// Confession is a stored post with its reactions.
type Confession struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Tags      []string  `json:"tags"`
	Reactions Reactions `json:"reactions"`
	CreatedAt time.Time `json:"createdAt"`
}

// normalize replaces nil slices so they encode as empty arrays.
func (c *Confession) normalize() {
	if c.Tags == nil {
		c.Tags = []string{}
	}
	if c.Reactions.UserReactions == nil {
		c.Reactions.UserReactions = []string{}
	}
}

// CreateConfessionRequest is the payload for creating a new confession.
type CreateConfessionRequest struct {
	Title string   `json:"title"`
	Body  string   `json:"body"`
	Tags  []string `json:"tags"`
}

// CreateConfessionResponse is returned after a successful create.
type CreateConfessionResponse struct {
	Message      string `json:"message"`
	ConfessionID string `json:"confessionId"`
}

// ReactionRequest is the payload for reacting to a confession.
type ReactionRequest struct {
	ReactionType string `json:"reactionType"`
	UserID       string `json:"userId"`
}

// ConfessionSummary is the projection returned by the tag listing.
type ConfessionSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Tags      []string  `json:"tags"`
	Reactions Reactions `json:"reactions"`
}

// summarize projects c onto the fields the tag listing exposes.
func summarize(c *Confession) ConfessionSummary {
	return ConfessionSummary{
		ID:        c.ID,
		Title:     c.Title,
		Body:      c.Body,
		Tags:      c.Tags,
		Reactions: c.Reactions,
	}
}

// RandomConfessionsResponse wraps the random sample.
type RandomConfessionsResponse struct {
	Confessions []*Confession `json:"confessions"`
}
