package calculator

// maxPeriods caps every schedule-generation loop at 100 years of months.
// Hitting the cap is not an error; callers detect it by comparing
// ActualTenure with the requested tenure.
const maxPeriods = 1200

// periodGuard is a counted-loop guard. Every generation loop in this package
// advances through one so the iteration bound is explicit at the call site.
type periodGuard struct {
	count int
	limit int
}

func newPeriodGuard(limit int) *periodGuard {
	return &periodGuard{limit: limit}
}

// Next consumes one iteration. It returns false once the limit is reached.
func (g *periodGuard) Next() bool {
	if g.count >= g.limit {
		return false
	}
	g.count++
	return true
}

// Count returns the number of iterations consumed so far.
func (g *periodGuard) Count() int { return g.count }

// Exhausted reports whether the guard stopped the loop.
func (g *periodGuard) Exhausted() bool { return g.count >= g.limit }
