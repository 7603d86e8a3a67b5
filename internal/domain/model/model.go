// Package model contains the probabilistic possession model shared by the
// simulator, the game estimator and the calibration loop.
//
// A team is described per location by a start-type distribution (how its
// possessions begin) and a transition table (how a possession that began with
// a given start type ends). Only the calibration loop mutates these values.
package model

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Location is the side of the court a team plays on in a given game.
type Location string

// Known locations.
const (
	Home Location = "Home"
	Away Location = "Away"
)

// Locations lists every location in a stable order.
var Locations = []Location{Home, Away} //nolint:gochecknoglobals // fixed enum

// Start-event labels.
const (
	StartDefensiveRebound = "Defensive Rebound"
	StartSteal            = "Steal"
	StartInbound          = "Inbound"
	StartTurnover         = "Turnover"

	// jumpBallMarker identifies start labels that never begin a regular possession.
	jumpBallMarker = "Jump Ball"
)

// End-outcome labels.
const (
	Outcome2PTMade    = "2PT Made"
	Outcome3PTMade    = "3PT Made"
	OutcomeFreeThrow  = "Free Throw"
	OutcomeTurnover   = "Turnover"
	Outcome2PTMissed  = "2PT Missed"
	Outcome3PTMissed  = "3PT Missed"
	Outcome2PTBlocked = "2PT Blocked"
)

// FunnelStartTypes are the only start types whose rows are adjusted during calibration.
var FunnelStartTypes = []string{StartDefensiveRebound, StartSteal, StartInbound} //nolint:gochecknoglobals // fixed enum

// PositiveOutcomes are scoring outcomes.
var PositiveOutcomes = []string{Outcome2PTMade, Outcome3PTMade, OutcomeFreeThrow} //nolint:gochecknoglobals // fixed enum

// NegativeOutcomes are non-scoring outcomes.
var NegativeOutcomes = []string{OutcomeTurnover, Outcome2PTMissed, Outcome3PTMissed} //nolint:gochecknoglobals // fixed enum

// IsJumpBall reports whether a start label is a jump-ball variant.
func IsJumpBall(label string) bool {
	return strings.Contains(label, jumpBallMarker)
}

// PointValue maps an end-outcome label to the points it is worth.
func PointValue(outcome string) int {
	switch outcome {
	case Outcome2PTMade:
		return 2
	case Outcome3PTMade:
		return 3
	case OutcomeFreeThrow:
		return 1
	default:
		return 0
	}
}

// Distribution maps labels to probabilities (or raw weights before normalization).
type Distribution map[string]float64

// Clone returns an independent copy.
func (d Distribution) Clone() Distribution {
	if d == nil {
		return nil
	}
	out := make(Distribution, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Labels returns the keys in lexical order.
func (d Distribution) Labels() []string {
	labels := make([]string, 0, len(d))
	for k := range d {
		labels = append(labels, k)
	}
	sort.Strings(labels)
	return labels
}

// Sum returns the total weight.
func (d Distribution) Sum() float64 {
	total := 0.0
	for _, v := range d {
		total += v
	}
	return total
}

// Normalize rescales the weights so they sum to one. A row whose total is not
// positive is left untouched and false is returned.
func (d Distribution) Normalize() bool {
	total := d.Sum()
	if total <= 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return false
	}
	for k, v := range d {
		d[k] = v / total
	}
	return true
}

// TransitionTable maps a start label to the distribution over end outcomes.
type TransitionTable map[string]Distribution

// Clone returns a deep copy.
func (t TransitionTable) Clone() TransitionTable {
	if t == nil {
		return nil
	}
	out := make(TransitionTable, len(t))
	for start, row := range t {
		out[start] = row.Clone()
	}
	return out
}

// NormalizeRows renormalizes every row; all-zero rows are skipped.
func (t TransitionTable) NormalizeRows() {
	for _, row := range t {
		row.Normalize()
	}
}

// LocationMeta is the per-location possession metadata of a team.
type LocationMeta struct {
	AvgPossessionsPerGame float64      `json:"avg_possessions_per_game"`
	StartTypeProbs        Distribution `json:"start_type_probs"`
}

// Clone returns a deep copy.
func (m LocationMeta) Clone() LocationMeta {
	return LocationMeta{
		AvgPossessionsPerGame: m.AvgPossessionsPerGame,
		StartTypeProbs:        m.StartTypeProbs.Clone(),
	}
}

// TeamModel bundles a team's transition tables and metadata for both locations.
type TeamModel struct {
	Name        string
	Transitions map[Location]TransitionTable
	Meta        map[Location]LocationMeta
}

// NewTeamModel returns an empty model for the named team.
func NewTeamModel(name string) *TeamModel {
	return &TeamModel{
		Name:        name,
		Transitions: make(map[Location]TransitionTable, len(Locations)),
		Meta:        make(map[Location]LocationMeta, len(Locations)),
	}
}

// Clone returns a deep copy.
func (m *TeamModel) Clone() *TeamModel {
	out := NewTeamModel(m.Name)
	for loc, table := range m.Transitions {
		out.Transitions[loc] = table.Clone()
	}
	for loc, meta := range m.Meta {
		out.Meta[loc] = meta.Clone()
	}
	return out
}

// StartTypes returns the normalized start-type distribution for loc with every
// jump-ball label removed.
func (m *TeamModel) StartTypes(loc Location) (Distribution, error) {
	meta, ok := m.Meta[loc]
	if !ok {
		return nil, &ModelIncompleteError{Team: m.Name, Location: loc, Reason: "no metadata for location"}
	}
	out := make(Distribution, len(meta.StartTypeProbs))
	for label, p := range meta.StartTypeProbs {
		if IsJumpBall(label) {
			continue
		}
		out[label] = p
	}
	if !out.Normalize() {
		return nil, &ModelIncompleteError{Team: m.Name, Location: loc, Reason: "start-type distribution is empty"}
	}
	return out, nil
}

// Outcomes returns the normalized end-outcome distribution for a start label.
func (m *TeamModel) Outcomes(loc Location, start string) (Distribution, error) {
	row, ok := m.Transitions[loc][start]
	if !ok || len(row) == 0 {
		return nil, &ModelIncompleteError{Team: m.Name, Location: loc, StartType: start, Reason: "no recorded transitions"}
	}
	out := row.Clone()
	if !out.Normalize() {
		return nil, &ModelIncompleteError{Team: m.Name, Location: loc, StartType: start, Reason: "transition row sums to zero"}
	}
	return out, nil
}

// AvgPossessions returns the average possessions per game at loc.
func (m *TeamModel) AvgPossessions(loc Location) float64 {
	return m.Meta[loc].AvgPossessionsPerGame
}

// AdjustPossessions adds delta to the average possessions of every location.
func (m *TeamModel) AdjustPossessions(delta float64) {
	for loc, meta := range m.Meta {
		meta.AvgPossessionsPerGame += delta
		m.Meta[loc] = meta
	}
}

// Set holds the models of every team keyed by team name.
type Set map[string]*TeamModel

// Clone returns a deep copy of every team model.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for name, team := range s {
		out[name] = team.Clone()
	}
	return out
}

// Team looks up a team model.
func (s Set) Team(name string) (*TeamModel, error) {
	team, ok := s[name]
	if !ok || team == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTeam, name)
	}
	return team, nil
}

// Names returns the team names in lexical order.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that every named team is present with both locations and
// that every stored weight is finite and non-negative. Failures wrap ErrModelStore.
func (s Set) Validate(teams []string) error {
	for _, name := range teams {
		if _, ok := s[name]; !ok {
			return fmt.Errorf("%w: %w: %s", ErrModelStore, ErrUnknownTeam, name)
		}
	}
	for _, name := range s.Names() {
		team := s[name]
		for _, loc := range Locations {
			meta, ok := team.Meta[loc]
			if !ok {
				return fmt.Errorf("%w: %s has no %s metadata", ErrModelStore, name, loc)
			}
			if math.IsNaN(meta.AvgPossessionsPerGame) || math.IsInf(meta.AvgPossessionsPerGame, 0) {
				return fmt.Errorf("%w: %s %s avg possessions is not finite", ErrModelStore, name, loc)
			}
			if err := checkWeights(meta.StartTypeProbs); err != nil {
				return fmt.Errorf("%w: %s %s start types: %w", ErrModelStore, name, loc, err)
			}
			table, ok := team.Transitions[loc]
			if !ok {
				return fmt.Errorf("%w: %s has no %s transitions", ErrModelStore, name, loc)
			}
			for start, row := range table {
				if err := checkWeights(row); err != nil {
					return fmt.Errorf("%w: %s %s %q: %w", ErrModelStore, name, loc, start, err)
				}
			}
		}
	}
	return nil
}

func checkWeights(d Distribution) error {
	for label, p := range d {
		if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
			return fmt.Errorf("%w: %q=%v", ErrMalformedDistribution, label, p)
		}
	}
	return nil
}

// Game is one scheduled matchup.
type Game struct {
	ID   string `json:"game_id"`
	Home string `json:"home_team"`
	Away string `json:"away_team"`
}

// Schedule is the ordered list of games replayed in a calibration round.
type Schedule []Game

// Teams returns every team named in the schedule, sorted.
func (s Schedule) Teams() []string {
	seen := make(map[string]struct{})
	for _, g := range s {
		seen[g.Home] = struct{}{}
		seen[g.Away] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Wins maps a team to its observed win total.
type Wins map[string]int

// Teams returns the team names in lexical order.
func (w Wins) Teams() []string {
	out := make([]string, 0, len(w))
	for name := range w {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
