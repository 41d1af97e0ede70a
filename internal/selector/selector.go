// Package selector picks the next song to play from a shared playlist,
// balancing fairness across the users who contributed songs.
package selector

import (
	"errors"
	"fmt"
	"math/rand"
	"slices"

	"session-service/internal/store"
)

// MaxPlays is the replay cap: a song at or above it is not a candidate until
// its play count is reset.
const MaxPlays = 3

// ErrQueueExhausted reports that no candidate song remains.
var ErrQueueExhausted = errors.New("queue exhausted")

// ErrUnknownStrategy reports a strategy name outside the enumeration.
var ErrUnknownStrategy = errors.New("unknown strategy")

// Strategy names a selection algorithm.
type Strategy string

const (
	// Random picks uniformly among all candidates.
	Random Strategy = "random"
	// Classic picks a contributor uniformly, then one of their candidates.
	Classic Strategy = "classic"
	// Modern favors users whose songs have been played less overall.
	Modern Strategy = "modern"
	// WeightedSong weights each candidate inversely by its own play count.
	WeightedSong Strategy = "weighted-song"
)

// Default is the strategy used when a session names none.
const Default = Modern

// Parse maps a settings value to a Strategy, falling back to Default for
// empty input.
func Parse(s string) (Strategy, error) {
	switch Strategy(s) {
	case Random, Classic, Modern, WeightedSong:
		return Strategy(s), nil
	case "":
		return Default, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownStrategy, s)
}

// SelectNext chooses the next song to play. Songs at or above MaxPlays are
// excluded from candidacy; if nothing remains, ErrQueueExhausted is returned
// and the caller is expected to reset the playlist. The input is never
// mutated and play counts are not touched here.
func SelectNext(songs []store.Song, contributors []string, strategy Strategy) (store.Song, error) {
	candidates := make([]store.Song, 0, len(songs))
	for _, s := range songs {
		if s.PlayCount < MaxPlays {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return store.Song{}, ErrQueueExhausted
	}

	switch strategy {
	case Random:
		return candidates[rand.Intn(len(candidates))], nil
	case Classic:
		return selectClassic(candidates, contributors), nil
	case WeightedSong:
		return selectWeightedSong(candidates), nil
	case Modern, "":
		return selectModern(songs, candidates), nil
	}
	return store.Song{}, fmt.Errorf("%w %q", ErrUnknownStrategy, strategy)
}

// selectClassic walks a shuffled copy of the deduplicated contributor list
// until it finds a user with at least one candidate, then picks uniformly
// among that user's candidates. Terminates because candidates is non-empty.
func selectClassic(candidates []store.Song, contributors []string) store.Song {
	users := dedup(contributors)
	rand.Shuffle(len(users), func(i, j int) {
		users[i], users[j] = users[j], users[i]
	})
	for _, u := range users {
		own := songsBy(candidates, u)
		if len(own) > 0 {
			return own[rand.Intn(len(own))]
		}
	}
	// Contributor list out of sync with the songs (possible under concurrent
	// removal); fall back to a uniform pick.
	return candidates[rand.Intn(len(candidates))]
}

// selectModern samples a user with probability proportional to
// 1/(1+totalPlays), where totalPlays counts every play of the user's songs,
// capped ones included, then picks uniformly among that user's candidates.
func selectModern(all, candidates []store.Song) store.Song {
	totals := make(map[string]int)
	for _, s := range all {
		totals[s.AddedByUserID] += s.PlayCount
	}

	var users []string
	for _, s := range candidates {
		if !slices.Contains(users, s.AddedByUserID) {
			users = append(users, s.AddedByUserID)
		}
	}
	weights := make([]float64, len(users))
	for i, u := range users {
		weights[i] = 1 / float64(1+totals[u])
	}
	user := users[sample(weights)]

	own := songsBy(candidates, user)
	return own[rand.Intn(len(own))]
}

func selectWeightedSong(candidates []store.Song) store.Song {
	weights := make([]float64, len(candidates))
	for i, s := range candidates {
		weights[i] = 1 / float64(1+s.PlayCount)
	}
	return candidates[sample(weights)]
}

// sample draws an index with probability proportional to its weight.
// Weights are strictly positive.
func sample(weights []float64) int {
	var total float64
	for _, w := range weights {
		total += w
	}
	r := rand.Float64() * total
	for i, w := range weights {
		r -= w
		if r < 0 {
			return i
		}
	}
	return len(weights) - 1
}

func songsBy(songs []store.Song, userID string) []store.Song {
	var own []store.Song
	for _, s := range songs {
		if s.AddedByUserID == userID {
			own = append(own, s)
		}
	}
	return own
}

func dedup(users []string) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		if !slices.Contains(out, u) {
			out = append(out, u)
		}
	}
	return out
}
