// Package sequence generates ordered event sequences for operations.
//
// A SequenceGraph is immutable data decoded from CUE at startup: the
// mandatory prologue and epilogue, weighted optional middle codes,
// pairing constraints, follow-up constraints, and the special CANCEL
// and REWORK codes. The generation engine is a pure function of
// (graph, state, rng), which makes seeded runs reproducible.
package sequence

// Weighted is an optional middle event code with its inclusion weight.
type Weighted struct {
	Code   string  `json:"code"`
	Weight float64 `json:"weight"`
}

// Pair is a both-or-neither constraint: Lead precedes Trail.
type Pair struct {
	Lead  string `json:"lead"`
	Trail string `json:"trail"`
}

// Graph is the sequencing graph of one process type.
type Graph struct {
	Prologue  []string          `json:"prologue"`
	Epilogue  []string          `json:"epilogue"`
	Middle    []Weighted        `json:"middle"`
	Pairs     []Pair            `json:"pairs"`
	FollowUps map[string]string `json:"followUps"`
	Cancel    string            `json:"cancel"`
	Rework    string            `json:"rework"`
}

// GraphSet maps stage name to its graph.
type GraphSet map[string]Graph

// trailOf returns the trailing partner of a leading code, if any.
func (g *Graph) trailOf(code string) (string, bool) {
	for _, p := range g.Pairs {
		if p.Lead == code {
			return p.Trail, true
		}
	}
	return "", false
}

// followUpOf returns the dependent code triggered by code, if any.
func (g *Graph) followUpOf(code string) (string, bool) {
	dep, ok := g.FollowUps[code]
	return dep, ok
}

// fixedLen is the number of mandatory events in a full sequence.
func (g *Graph) fixedLen() int {
	return len(g.Prologue) + len(g.Epilogue)
}
