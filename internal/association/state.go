package association

import (
	"maps"
	"slices"
	"time"

	"github.com/nidhogg/nuka-mind/internal/memory"
)

// ConnectionType classifies a materialized connection.
type ConnectionType string

const (
	Associative ConnectionType = "associative"
	Emotional   ConnectionType = "emotional"
)

// Connection is an undirected weighted edge between two memories.
// Source always sorts before Target.
type Connection struct {
	Source       string         `json:"source"`
	Target       string         `json:"target"`
	Strength     float64        `json:"strength"`
	Type         ConnectionType `json:"type"`
	SharedTraits []string       `json:"shared_traits,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Other returns the endpoint opposite id.
func (c Connection) Other(id string) string {
	if c.Source == id {
		return c.Target
	}
	return c.Source
}

// Member is a cluster entry; EmotionalWeight is captured at insertion.
type Member struct {
	ID              string  `json:"id"`
	EmotionalWeight float64 `json:"emotional_weight"`
}

// Cluster groups memories of similar emotional weight.
type Cluster struct {
	ID      string   `json:"id"`
	Members []Member `json:"members"`
}

// Representative is the first member of the cluster.
func (c *Cluster) Representative() Member { return c.Members[0] }

// ClusterSummary describes a cluster against the live memories.
type ClusterSummary struct {
	ID               string             `json:"id"`
	Size             int                `json:"size"`
	EmotionalTheme   float64            `json:"emotional_theme"`
	TraitFrequencies map[string]float64 `json:"trait_frequencies,omitempty"`
	CommonTags       []string           `json:"common_tags,omitempty"`
}

// State is the association graph of a persona. Single writer, no locking.
type State struct {
	Connections map[string]*Connection `json:"connections"`
	Clusters    []*Cluster             `json:"clusters"`
	clusterOf   map[string]*Cluster
}

// NewState creates an empty association graph.
func NewState() *State {
	return &State{
		Connections: make(map[string]*Connection),
		clusterOf:   make(map[string]*Cluster),
	}
}

func pairKey(a, b string) (key, lo, hi string) {
	if b < a {
		a, b = b, a
	}
	return a + "\x1f" + b, a, b
}

// Connection returns the connection between a and b if materialized.
func (s *State) Connection(a, b string) (Connection, bool) {
	key, _, _ := pairKey(a, b)
	c, ok := s.Connections[key]
	if !ok {
		return Connection{}, false
	}
	return *c, true
}

// All returns every connection ordered by endpoint pair.
func (s *State) All() []Connection {
	keys := slices.Sorted(maps.Keys(s.Connections))
	out := make([]Connection, 0, len(keys))
	for _, k := range keys {
		out = append(out, *s.Connections[k])
	}
	return out
}

// ConnectionsOf returns the connections touching id.
func (s *State) ConnectionsOf(id string) []Connection {
	var out []Connection
	for _, c := range s.All() {
		if c.Source == id || c.Target == id {
			out = append(out, c)
		}
	}
	return out
}

// Strong returns the connections whose strength exceeds threshold.
func (s *State) Strong(threshold float64) []Connection {
	var out []Connection
	for _, c := range s.All() {
		if c.Strength > threshold {
			out = append(out, c)
		}
	}
	return out
}

// ClusterOf returns the cluster holding id.
func (s *State) ClusterOf(id string) (*Cluster, bool) {
	s.ensureIndex()
	c, ok := s.clusterOf[id]
	return c, ok
}

// Forget removes id from every connection and cluster. A cluster whose
// representative is forgotten is represented by its next member.
func (s *State) Forget(id string) {
	for key, c := range s.Connections {
		if c.Source == id || c.Target == id {
			delete(s.Connections, key)
		}
	}
	s.ensureIndex()
	cl, ok := s.clusterOf[id]
	if !ok {
		return
	}
	delete(s.clusterOf, id)
	cl.Members = slices.DeleteFunc(cl.Members, func(m Member) bool { return m.ID == id })
	if len(cl.Members) == 0 {
		s.Clusters = slices.DeleteFunc(s.Clusters, func(c *Cluster) bool { return c == cl })
	}
}

// ensureIndex rebuilds the member index after a JSON restore.
func (s *State) ensureIndex() {
	if s.clusterOf != nil && (len(s.clusterOf) > 0 || len(s.Clusters) == 0) {
		return
	}
	s.clusterOf = make(map[string]*Cluster)
	for _, cl := range s.Clusters {
		for _, m := range cl.Members {
			s.clusterOf[m.ID] = cl
		}
	}
}

// Summaries describes every cluster using the current memory contents.
func (s *State) Summaries(byID map[string]*memory.Event) []ClusterSummary {
	out := make([]ClusterSummary, 0, len(s.Clusters))
	for _, cl := range s.Clusters {
		sum := ClusterSummary{ID: cl.ID, Size: len(cl.Members), TraitFrequencies: make(map[string]float64)}
		var weights float64
		var live int
		tagCounts := make(map[string]int)
		for _, m := range cl.Members {
			ev, ok := byID[m.ID]
			if !ok {
				continue
			}
			live++
			weights += ev.EmotionalWeight
			for t := range ev.TraitInfluences {
				sum.TraitFrequencies[t]++
			}
			for _, tag := range ev.Tags {
				tagCounts[tag]++
			}
		}
		if live > 0 {
			sum.EmotionalTheme = weights / float64(live)
			for t := range sum.TraitFrequencies {
				sum.TraitFrequencies[t] /= float64(live)
			}
			for _, tag := range slices.Sorted(maps.Keys(tagCounts)) {
				if tagCounts[tag] == live {
					sum.CommonTags = append(sum.CommonTags, tag)
				}
			}
		}
		out = append(out, sum)
	}
	return out
}
