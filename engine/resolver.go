package engine

// Resolver turns a flat, declaration-ordered list of Steps into a valid
// execution order and a layering of parallel Groups. It is stateless: all
// three operations are pure functions of the step list.
//
// The algorithm is Kahn's topological sort over the graph with an edge
// from each dependency to its dependent. Ties are broken by declaration
// order, which keeps Resolve deterministic and makes tests reproducible
// regardless of map iteration order.
type Resolver struct{}

// NewResolver returns a ready-to-use Resolver. It carries no state.
func NewResolver() *Resolver { return &Resolver{} }

// Validate checks a step list for structural problems without computing an
// order: duplicate ids, self-dependencies, and dependencies referencing
// unknown step ids. It returns all problems found, not just the first.
func (r *Resolver) Validate(steps []Step) []error {
	var errs []error

	seen := make(map[string]bool, len(steps))
	ids := make(map[string]bool, len(steps))
	for _, s := range steps {
		ids[s.ID] = true
	}

	for _, s := range steps {
		if seen[s.ID] {
			errs = append(errs, &ValidationError{Kind: KindValidation, StepIDs: []string{s.ID}, Err: ErrDuplicateStepID})
		}
		seen[s.ID] = true

		for _, dep := range s.DependsOn {
			if dep == s.ID {
				errs = append(errs, &ValidationError{Kind: KindValidation, StepIDs: []string{s.ID}, Err: ErrSelfDependency})
				continue
			}
			if !ids[dep] {
				errs = append(errs, &ValidationError{Kind: KindValidation, StepIDs: []string{s.ID, dep}, Err: ErrUnknownDependency})
			}
		}
	}
	return errs
}

// Resolve computes a topological execution order over steps. Ties are
// broken by the steps' position in the input slice, so two independently
// runnable steps always appear in the same relative order as they were
// declared.
//
// If the graph contains a cycle, the number of nodes Kahn's algorithm can
// emit is strictly less than len(steps); Resolve detects this and returns
// a ValidationError naming every step that was never emitted (the residual
// graph), which is exactly the set of steps participating in one or more
// cycles.
func (r *Resolver) Resolve(steps []Step) ([]Step, error) {
	if errs := r.Validate(steps); len(errs) > 0 {
		return nil, errs[0]
	}

	index := make(map[string]int, len(steps))
	for i, s := range steps {
		index[s.ID] = i
	}

	inDegree := make([]int, len(steps))
	dependents := make([][]int, len(steps)) // dependency -> dependents
	for i, s := range steps {
		inDegree[i] = len(s.DependsOn)
		for _, dep := range s.DependsOn {
			di := index[dep]
			dependents[di] = append(dependents[di], i)
		}
	}

	// ready holds indices with zero remaining in-degree, always kept sorted
	// by declaration order so dequeue order is deterministic.
	ready := make([]int, 0, len(steps))
	for i, d := range inDegree {
		if d == 0 {
			ready = append(ready, i)
		}
	}

	ordered := make([]Step, 0, len(steps))
	for len(ready) > 0 {
		// Pop the smallest index (earliest declared) among ready nodes.
		minPos := 0
		for i := 1; i < len(ready); i++ {
			if ready[i] < ready[minPos] {
				minPos = i
			}
		}
		idx := ready[minPos]
		ready = append(ready[:minPos], ready[minPos+1:]...)

		ordered = append(ordered, steps[idx])
		for _, dep := range dependents[idx] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(ordered) != len(steps) {
		var residual []string
		emitted := make(map[string]bool, len(ordered))
		for _, s := range ordered {
			emitted[s.ID] = true
		}
		for _, s := range steps {
			if !emitted[s.ID] {
				residual = append(residual, s.ID)
			}
		}
		return nil, &ValidationError{Kind: KindValidation, StepIDs: residual, Err: ErrCyclicDependency}
	}

	return ordered, nil
}

// ParallelGroups computes each step's dependency level (1 + max(level of
// its deps), or 0 if it has none) and groups steps sharing the same level.
// Groups are returned in ascending level order.
//
// For each group, MaxConcurrency is min(defaultMaxConcurrency, the minimum
// of any step-declared maxConcurrency in the group, and the group's size).
// Resource is set only when every step in the group names the same,
// non-empty resource; otherwise it is left empty, meaning "no shared quota
// applies at the group level" (individual steps may still acquire their
// own resource semaphore -- see scheduler.go).
func (r *Resolver) ParallelGroups(steps []Step, defaultMaxConcurrency int) ([]Group, error) {
	ordered, err := r.Resolve(steps)
	if err != nil {
		return nil, err
	}

	level := make(map[string]int, len(ordered))
	byID := make(map[string]Step, len(ordered))
	for _, s := range ordered {
		byID[s.ID] = s
		maxDepLevel := -1
		for _, dep := range s.DependsOn {
			if level[dep] > maxDepLevel {
				maxDepLevel = level[dep]
			}
		}
		level[s.ID] = maxDepLevel + 1
	}

	maxLevel := -1
	for _, l := range level {
		if l > maxLevel {
			maxLevel = l
		}
	}

	groups := make([]Group, maxLevel+1)
	for i := range groups {
		groups[i].Index = i
	}
	for _, s := range ordered {
		l := level[s.ID]
		groups[l].Steps = append(groups[l].Steps, s)
	}

	if defaultMaxConcurrency <= 0 {
		defaultMaxConcurrency = len(ordered)
		if defaultMaxConcurrency == 0 {
			defaultMaxConcurrency = 1
		}
	}

	for i := range groups {
		g := &groups[i]
		cap := defaultMaxConcurrency
		resource := ""
		uniform := true
		for j, s := range g.Steps {
			if s.Parallel != nil && s.Parallel.MaxConcurrency > 0 && s.Parallel.MaxConcurrency < cap {
				cap = s.Parallel.MaxConcurrency
			}
			stepResource := ""
			if s.Parallel != nil {
				stepResource = s.Parallel.Resource
			}
			if j == 0 {
				resource = stepResource
			} else if stepResource != resource {
				uniform = false
			}
		}
		if len(g.Steps) < cap {
			cap = len(g.Steps)
		}
		if cap < 1 {
			cap = 1
		}
		g.MaxConcurrency = cap
		if uniform {
			g.Resource = resource
		}
	}

	return groups, nil
}
