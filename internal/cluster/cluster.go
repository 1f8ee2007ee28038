// Package cluster groups entry embeddings by cosine similarity. The
// algorithm is single-pass greedy threshold clustering: cheap, local, and
// order dependent, which is acceptable for human-reviewed pattern discovery.
package cluster

import (
	"errors"
	"fmt"
	"math"
)

// DefaultThreshold is the similarity cutoff used when callers pass none.
const DefaultThreshold = 0.75

// ErrDimensionMismatch indicates embeddings of differing lengths in one run.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Item is one clustering input: an entry id, its embedding, and optional
// profile tags carried through for downstream pattern naming.
type Item struct {
	ID        string
	Vector    []float32
	Theme     string
	Archetype string
}

// Cluster is an ephemeral grouping produced by one clustering run.
type Cluster struct {
	// ID is stable within a run only.
	ID string

	// Members in absorption order; the first member is the seed.
	Members []Item

	// Centroid is the running arithmetic mean of member vectors.
	Centroid []float32
}

// Size returns the member count.
func (c *Cluster) Size() int {
	return len(c.Members)
}

// EntryIDs returns member ids in absorption order.
func (c *Cluster) EntryIDs() []string {
	ids := make([]string, len(c.Members))
	for i, m := range c.Members {
		ids[i] = m.ID
	}
	return ids
}

// DominantTheme returns the most frequent member theme, earliest seen
// winning ties. Empty when no member carries a theme.
func (c *Cluster) DominantTheme() string {
	counts := make(map[string]int)
	var order []string
	for _, m := range c.Members {
		if m.Theme == "" {
			continue
		}
		if counts[m.Theme] == 0 {
			order = append(order, m.Theme)
		}
		counts[m.Theme]++
	}
	best := ""
	for _, theme := range order {
		if best == "" || counts[theme] > counts[best] {
			best = theme
		}
	}
	return best
}

// Archetypes returns the distinct member archetypes in first-seen order.
func (c *Cluster) Archetypes() []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range c.Members {
		if m.Archetype == "" || seen[m.Archetype] {
			continue
		}
		seen[m.Archetype] = true
		out = append(out, m.Archetype)
	}
	return out
}

// CosineSimilarity returns dot(a,b) / (|a|*|b|) in [-1, 1]. Zero-norm or
// length-mismatched inputs yield 0 rather than an error so callers can use
// it as a plain score.
func CosineSimilarity(vec1, vec2 []float32) float64 {
	if len(vec1) == 0 || len(vec2) == 0 {
		return 0.0
	}
	if len(vec1) != len(vec2) {
		return 0.0
	}

	var dotProduct float64
	var magnitude1 float64
	var magnitude2 float64

	for i := 0; i < len(vec1); i++ {
		v1 := float64(vec1[i])
		v2 := float64(vec2[i])
		dotProduct += v1 * v2
		magnitude1 += v1 * v1
		magnitude2 += v2 * v2
	}

	if magnitude1 == 0.0 || magnitude2 == 0.0 {
		return 0.0
	}

	return dotProduct / (math.Sqrt(magnitude1) * math.Sqrt(magnitude2))
}

// Partition groups items into clusters. Iterating in input order, each
// unassigned item seeds a new cluster; every later unassigned item whose
// similarity to the cluster's current centroid meets the threshold is
// absorbed, and the centroid is updated as the incremental mean after each
// absorption. Every item lands in exactly one cluster. Input order decides
// which items seed, so different orderings can give different partitions.
//
// All vectors must share one dimension; mixed dimensions are rejected.
func Partition(items []Item, threshold float64) ([]*Cluster, error) {
	if len(items) == 0 {
		return []*Cluster{}, nil
	}

	dim := len(items[0].Vector)
	for _, item := range items {
		if len(item.Vector) != dim {
			return nil, fmt.Errorf("%w: item %s has %d dimensions, expected %d",
				ErrDimensionMismatch, item.ID, len(item.Vector), dim)
		}
	}

	assigned := make(map[string]bool, len(items))
	var clusters []*Cluster

	for i, seed := range items {
		if assigned[seed.ID] {
			continue
		}
		assigned[seed.ID] = true

		c := &Cluster{
			ID:       fmt.Sprintf("cluster-%d", len(clusters)+1),
			Members:  []Item{seed},
			Centroid: append([]float32(nil), seed.Vector...),
		}

		for _, candidate := range items[i+1:] {
			if assigned[candidate.ID] {
				continue
			}
			if CosineSimilarity(candidate.Vector, c.Centroid) >= threshold {
				assigned[candidate.ID] = true
				c.absorb(candidate)
			}
		}
		clusters = append(clusters, c)
	}

	return clusters, nil
}

// absorb adds a member and updates the centroid online:
// centroid += (v - centroid) / n.
func (c *Cluster) absorb(item Item) {
	c.Members = append(c.Members, item)
	n := float32(len(c.Members))
	for i := range c.Centroid {
		c.Centroid[i] += (item.Vector[i] - c.Centroid[i]) / n
	}
}
