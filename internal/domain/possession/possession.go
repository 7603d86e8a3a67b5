// Package possession draws simulated possession outcomes from a team's
// probabilistic possession model.
package possession

import (
	"math/rand"
	"sort"

	"github.com/okian/hoopcal/internal/domain/model"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// table is a cumulative-weight view of a distribution. Labels are sorted so
// the draw depends only on the random stream.
type table struct {
	labels []string
	cum    []float64
}

func newTable(d model.Distribution) *table {
	labels := d.Labels()
	weights := make([]float64, len(labels))
	for i, label := range labels {
		weights[i] = d[label]
	}
	if len(weights) == 0 || floats.Sum(weights) <= 0 {
		return nil
	}
	return &table{labels: labels, cum: floats.CumSum(make([]float64, len(weights)), weights)}
}

func (t *table) draw(rng *rand.Rand) string {
	total := t.cum[len(t.cum)-1]
	u := rng.Float64() * total
	i := sort.Search(len(t.cum), func(i int) bool { return t.cum[i] > u })
	if i == len(t.cum) {
		i = len(t.cum) - 1
	}
	return t.labels[i]
}

// Profile is a read-only sampling view of one team at one location. The
// underlying model must not be mutated while a profile built from it is in use.
type Profile struct {
	team     string
	location model.Location
	starts   *table
	outcomes map[string]*table
	startErr error
}

// Compile builds the sampling view for a team at loc. Jump-ball starts are
// removed. Missing or empty rows are kept as nil and fail when sampled.
func Compile(team *model.TeamModel, loc model.Location) *Profile {
	p := &Profile{
		team:     team.Name,
		location: loc,
		outcomes: make(map[string]*table),
	}
	starts, err := team.StartTypes(loc)
	if err != nil {
		p.startErr = err
		return p
	}
	p.starts = newTable(starts)
	for start, row := range team.Transitions[loc] {
		p.outcomes[start] = newTable(row)
	}
	return p
}

// Team returns the team name the profile was built from.
func (p *Profile) Team() string { return p.team }

// Location returns the profile location.
func (p *Profile) Location() model.Location { return p.location }

// Simulate draws one possession and returns its point value.
func (p *Profile) Simulate(rng *rand.Rand) (int, error) {
	outcome, err := p.Outcome(rng)
	if err != nil {
		return 0, err
	}
	return model.PointValue(outcome), nil
}

// Outcome draws one possession and returns the end-outcome label.
func (p *Profile) Outcome(rng *rand.Rand) (string, error) {
	if p.startErr != nil {
		return "", p.startErr
	}
	start := p.starts.draw(rng)
	row := p.outcomes[start]
	if row == nil {
		return "", &model.ModelIncompleteError{
			Team:      p.team,
			Location:  p.location,
			StartType: start,
			Reason:    "transition row is missing or sums to zero",
		}
	}
	return row.draw(rng), nil
}

// MeanPoints runs n possessions and returns the mean points per possession.
// A zero count yields zero.
func (p *Profile) MeanPoints(rng *rand.Rand, n int) (float64, error) {
	if n <= 0 {
		return 0, nil
	}
	points := make([]float64, n)
	for i := range points {
		v, err := p.Simulate(rng)
		if err != nil {
			return 0, err
		}
		points[i] = float64(v)
	}
	return stat.Mean(points, nil), nil
}

// SimulatePossession draws a single possession for team at loc.
func SimulatePossession(rng *rand.Rand, loc model.Location, team *model.TeamModel) (int, error) {
	return Compile(team, loc).Simulate(rng)
}
