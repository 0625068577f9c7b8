package core

import (
	"context"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// Cluster groups near-duplicate unresolved messages so one generative call
// can be amortized across the whole family. Seed and Members are indexes
// into the input slice; the seed is always the first member.
type Cluster struct {
	Seed    int
	Members []int
}

// Clusterer partitions unresolved messages by normalized sender and runs a
// greedy pairwise-similarity pass inside each partition.
type Clusterer struct {
	minSimilarity   float64
	mergeSimilarity float64
	smallClusterMax int
	yieldEvery      int
	logger          *zap.Logger
}

// NewClusterer creates a clusterer with the given thresholds. minSimilarity
// is the greedy absorption boundary, mergeSimilarity the seed-to-seed
// boundary for folding small clusters into the partition's largest.
func NewClusterer(minSimilarity, mergeSimilarity float64, smallClusterMax int, logger *zap.Logger) *Clusterer {
	if smallClusterMax <= 0 {
		smallClusterMax = 5
	}
	return &Clusterer{
		minSimilarity:   minSimilarity,
		mergeSimilarity: mergeSimilarity,
		smallClusterMax: smallClusterMax,
		yieldEvery:      256,
		logger:          logger,
	}
}

// NormalizeSender canonicalizes a sender address: punctuation and whitespace
// stripped, the +82 country-code prefix folded back to the domestic 0 form.
func NormalizeSender(sender string) string {
	var sb strings.Builder
	for _, r := range sender {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			sb.WriteRune(r)
		case r == '+':
			sb.WriteRune(r)
		}
	}
	s := sb.String()
	if strings.HasPrefix(s, "+82") {
		s = "0" + s[3:]
	}
	return strings.ToLower(s)
}

// Cluster groups msgs (with vecs parallel to msgs) into clusters. Messages
// whose vector is missing become singleton clusters: they can still get a
// per-message generative extraction, they just cannot amortize it.
// The O(n²) scan yields cooperatively every fixed number of comparisons and
// honors ctx cancellation between partitions.
func (c *Clusterer) Cluster(ctx context.Context, msgs []Message, vecs []Vector) []Cluster {
	partitions := make(map[string][]int)
	order := make([]string, 0)
	for i, m := range msgs {
		key := NormalizeSender(m.Sender)
		if _, seen := partitions[key]; !seen {
			order = append(order, key)
		}
		partitions[key] = append(partitions[key], i)
	}

	var clusters []Cluster
	comparisons := 0
	for _, key := range order {
		if ctx.Err() != nil {
			break
		}
		members := partitions[key]
		clusters = append(clusters, c.clusterPartition(members, vecs, &comparisons)...)
	}
	return clusters
}

// clusterPartition runs the greedy pass: the first unassigned message seeds
// a cluster and absorbs every later unassigned message above threshold,
// repeatedly, then small clusters merge into the partition's largest when
// their seeds agree loosely. Keeping genuinely different formats from one
// sender apart is the point of the seed-to-seed check.
func (c *Clusterer) clusterPartition(members []int, vecs []Vector, comparisons *int) []Cluster {
	assigned := make(map[int]bool, len(members))
	var clusters []Cluster

	for _, seed := range members {
		if assigned[seed] {
			continue
		}
		assigned[seed] = true
		cluster := Cluster{Seed: seed, Members: []int{seed}}

		if len(vecs[seed]) > 0 {
			for _, other := range members {
				if assigned[other] {
					continue
				}
				*comparisons++
				if *comparisons%c.yieldEvery == 0 {
					runtime.Gosched()
				}
				if CosineSimilarity(vecs[seed], vecs[other]) >= c.minSimilarity {
					assigned[other] = true
					cluster.Members = append(cluster.Members, other)
				}
			}
		}
		clusters = append(clusters, cluster)
	}

	if len(clusters) < 2 {
		return clusters
	}

	largest := 0
	for i, cl := range clusters {
		if len(cl.Members) > len(clusters[largest].Members) {
			largest = i
		}
	}

	absorbed := make(map[int]bool)
	for i, cl := range clusters {
		if i == largest || len(cl.Members) > c.smallClusterMax {
			continue
		}
		sim := CosineSimilarity(vecs[clusters[largest].Seed], vecs[cl.Seed])
		if sim >= c.mergeSimilarity {
			clusters[largest].Members = append(clusters[largest].Members, cl.Members...)
			absorbed[i] = true
			c.logger.Debug("Merged small cluster into partition's largest",
				zap.Int("size", len(cl.Members)),
				zap.Float64("seed_similarity", sim))
		}
	}

	merged := make([]Cluster, 0, len(clusters))
	for i, cl := range clusters {
		if !absorbed[i] {
			merged = append(merged, cl)
		}
	}
	return merged
}
