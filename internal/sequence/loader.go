package sequence

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

//go:embed graphs.cue
var defaultGraphsCUE []byte

// ValidationError reports a sequence-graph misconfiguration. Any such
// error is fatal at startup: the generator refuses to run rather than
// produce invalid sequences.
type ValidationError struct {
	Stage   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("sequence graph %s: %s", e.Stage, e.Message)
	}
	return fmt.Sprintf("sequence graphs: %s", e.Message)
}

// LoadGraphs compiles the graph definitions and validates them against
// the event catalog. An empty path loads the embedded defaults.
//
// CUE enforces the schema (non-empty prologue/epilogue, weights in
// [0,1]); the Go pass checks cross-references the schema cannot see:
// every code must exist in the stage catalog, paired codes must be
// distinct, and follow-up dependents must not double as independent
// middle codes.
func LoadGraphs(path string) (GraphSet, error) {
	src := defaultGraphsCUE
	filename := "graphs.cue (embedded)"
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read graph definitions %s: %w", path, err)
		}
		src = data
		filename = path
	}

	ctx := cuecontext.New()
	val := ctx.CompileBytes(src, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("compile graph definitions: %w", err)
	}

	graphsVal := val.LookupPath(cue.ParsePath("graphs"))
	if err := graphsVal.Err(); err != nil {
		return nil, fmt.Errorf("graph definitions missing \"graphs\": %w", err)
	}
	if err := graphsVal.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("validate graph definitions: %w", err)
	}

	var set GraphSet
	if err := graphsVal.Decode(&set); err != nil {
		return nil, fmt.Errorf("decode graph definitions: %w", err)
	}

	for stage, g := range set {
		if err := validateGraph(stage, &g); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// validateGraph cross-checks one graph against the event catalog.
func validateGraph(stage string, g *Graph) error {
	defs := Catalog(stage)
	if defs == nil {
		return &ValidationError{Stage: stage, Message: "no event catalog for stage"}
	}

	known := func(code string) bool {
		_, ok := lookupDef(stage, code)
		return ok
	}
	requireKnown := func(role, code string) error {
		if !known(code) {
			return &ValidationError{Stage: stage, Message: fmt.Sprintf("%s references undefined code %s", role, code)}
		}
		return nil
	}

	if len(g.Prologue) == 0 {
		return &ValidationError{Stage: stage, Message: "prologue is empty"}
	}
	if len(g.Epilogue) == 0 {
		return &ValidationError{Stage: stage, Message: "epilogue is empty"}
	}

	for _, code := range g.Prologue {
		if err := requireKnown("prologue", code); err != nil {
			return err
		}
	}
	for _, code := range g.Epilogue {
		if err := requireKnown("epilogue", code); err != nil {
			return err
		}
	}

	middle := make(map[string]bool, len(g.Middle))
	for _, w := range g.Middle {
		if err := requireKnown("middle", w.Code); err != nil {
			return err
		}
		if middle[w.Code] {
			return &ValidationError{Stage: stage, Message: fmt.Sprintf("duplicate middle code %s", w.Code)}
		}
		middle[w.Code] = true
	}

	for _, p := range g.Pairs {
		if err := requireKnown("pair lead", p.Lead); err != nil {
			return err
		}
		if err := requireKnown("pair trail", p.Trail); err != nil {
			return err
		}
		if p.Lead == p.Trail {
			return &ValidationError{Stage: stage, Message: fmt.Sprintf("pair %s has identical lead and trail", p.Lead)}
		}
		if !middle[p.Lead] {
			return &ValidationError{Stage: stage, Message: fmt.Sprintf("pair lead %s is not a middle code", p.Lead)}
		}
		if middle[p.Trail] {
			return &ValidationError{Stage: stage, Message: fmt.Sprintf("pair trail %s must not double as a middle code", p.Trail)}
		}
	}

	for trigger, dep := range g.FollowUps {
		if err := requireKnown("follow-up trigger", trigger); err != nil {
			return err
		}
		if err := requireKnown("follow-up dependent", dep); err != nil {
			return err
		}
		if !middle[trigger] {
			if _, chained := g.FollowUps[findTrigger(g, trigger)]; !chained && findTrigger(g, trigger) == "" {
				return &ValidationError{Stage: stage, Message: fmt.Sprintf("follow-up trigger %s is neither a middle code nor a dependent", trigger)}
			}
		}
		if middle[dep] {
			return &ValidationError{Stage: stage, Message: fmt.Sprintf("follow-up dependent %s must not double as a middle code", dep)}
		}
	}

	if g.Cancel != "" {
		if err := requireKnown("cancel", g.Cancel); err != nil {
			return err
		}
	}
	if g.Rework != "" {
		if err := requireKnown("rework", g.Rework); err != nil {
			return err
		}
	}
	return nil
}

// findTrigger returns the code whose follow-up dependent is dep, or "".
func findTrigger(g *Graph, dep string) string {
	for trigger, d := range g.FollowUps {
		if d == dep {
			return trigger
		}
	}
	return ""
}
