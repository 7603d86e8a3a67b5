package model_test

import (
	"errors"
	"math"
	"testing"

	model "github.com/okian/hoopcal/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func newTeam(name string) *model.TeamModel {
	team := model.NewTeamModel(name)
	for _, loc := range model.Locations {
		team.Meta[loc] = model.LocationMeta{
			AvgPossessionsPerGame: 100,
			StartTypeProbs: model.Distribution{
				model.StartInbound:          0.5,
				model.StartDefensiveRebound: 0.3,
				model.StartSteal:            0.1,
				"Home Won Jump Ball":        0.1,
			},
		}
		team.Transitions[loc] = model.TransitionTable{
			model.StartInbound:          {model.Outcome2PTMade: 2, model.OutcomeTurnover: 2},
			model.StartDefensiveRebound: {model.Outcome3PTMade: 1},
			model.StartSteal:            {model.Outcome2PTMade: 0, model.Outcome2PTMissed: 0},
		}
	}
	return team
}

func TestDistribution(t *testing.T) {
	convey.Convey("Given a distribution of raw weights", t, func() {
		d := model.Distribution{"a": 1, "b": 3}

		convey.Convey("When normalizing", func() {
			ok := d.Normalize()

			convey.Convey("Then the weights sum to one", func() {
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(d.Sum(), convey.ShouldAlmostEqual, 1.0, 1e-12)
				convey.So(d["b"], convey.ShouldAlmostEqual, 0.75, 1e-12)
			})
		})

		convey.Convey("When the row is all zero", func() {
			zero := model.Distribution{"a": 0, "b": 0}
			ok := zero.Normalize()

			convey.Convey("Then it is left untouched without NaN", func() {
				convey.So(ok, convey.ShouldBeFalse)
				convey.So(zero["a"], convey.ShouldEqual, 0)
				convey.So(math.IsNaN(zero["b"]), convey.ShouldBeFalse)
			})
		})

		convey.Convey("When listing labels", func() {
			convey.So(d.Labels(), convey.ShouldResemble, []string{"a", "b"})
		})
	})
}

func TestTeamModel_StartTypes(t *testing.T) {
	convey.Convey("Given a team whose start types include a jump ball", t, func() {
		team := newTeam("BOS")

		convey.Convey("When reading the home start types", func() {
			starts, err := team.StartTypes(model.Home)

			convey.Convey("Then jump balls are stripped and the rest renormalized", func() {
				convey.So(err, convey.ShouldBeNil)
				for label := range starts {
					convey.So(model.IsJumpBall(label), convey.ShouldBeFalse)
				}
				convey.So(starts.Sum(), convey.ShouldAlmostEqual, 1.0, 1e-9)
				convey.So(starts[model.StartInbound], convey.ShouldAlmostEqual, 0.5/0.9, 1e-12)
			})

			convey.Convey("And the stored distribution is not modified", func() {
				convey.So(team.Meta[model.Home].StartTypeProbs, convey.ShouldContainKey, "Home Won Jump Ball")
			})
		})

		convey.Convey("When only jump balls remain", func() {
			meta := team.Meta[model.Away]
			meta.StartTypeProbs = model.Distribution{"Away Won Jump Ball": 1}
			team.Meta[model.Away] = meta
			_, err := team.StartTypes(model.Away)

			convey.Convey("Then the model is reported incomplete", func() {
				convey.So(errors.Is(err, model.ErrModelIncomplete), convey.ShouldBeTrue)
			})
		})
	})
}

func TestTeamModel_Outcomes(t *testing.T) {
	convey.Convey("Given a team transition table", t, func() {
		team := newTeam("BOS")

		convey.Convey("When the row exists", func() {
			row, err := team.Outcomes(model.Home, model.StartInbound)
			convey.So(err, convey.ShouldBeNil)
			convey.So(row[model.Outcome2PTMade], convey.ShouldAlmostEqual, 0.5, 1e-12)
		})

		convey.Convey("When the start type has no row", func() {
			_, err := team.Outcomes(model.Home, "Offensive Rebound")

			convey.Convey("Then a ModelIncompleteError names the team, location and start", func() {
				var incomplete *model.ModelIncompleteError
				convey.So(errors.As(err, &incomplete), convey.ShouldBeTrue)
				convey.So(incomplete.Team, convey.ShouldEqual, "BOS")
				convey.So(incomplete.Location, convey.ShouldEqual, model.Home)
				convey.So(incomplete.StartType, convey.ShouldEqual, "Offensive Rebound")
			})
		})

		convey.Convey("When the row sums to zero", func() {
			_, err := team.Outcomes(model.Away, model.StartSteal)
			convey.So(errors.Is(err, model.ErrModelIncomplete), convey.ShouldBeTrue)
		})
	})
}

func TestSet_CloneAndValidate(t *testing.T) {
	convey.Convey("Given a model set", t, func() {
		set := model.Set{"BOS": newTeam("BOS"), "NYK": newTeam("NYK")}

		convey.Convey("When cloning and mutating the clone", func() {
			clone := set.Clone()
			clone["BOS"].Transitions[model.Home][model.StartInbound][model.Outcome2PTMade] = 99
			clone["BOS"].AdjustPossessions(-10)

			convey.Convey("Then the original is untouched", func() {
				convey.So(set["BOS"].Transitions[model.Home][model.StartInbound][model.Outcome2PTMade], convey.ShouldEqual, 2)
				convey.So(set["BOS"].AvgPossessions(model.Home), convey.ShouldEqual, 100)
				convey.So(clone["BOS"].AvgPossessions(model.Away), convey.ShouldEqual, 90)
			})
		})

		convey.Convey("When validating known teams", func() {
			convey.So(set.Validate([]string{"BOS", "NYK"}), convey.ShouldBeNil)
		})

		convey.Convey("When a referenced team is missing", func() {
			err := set.Validate([]string{"BOS", "LAL"})
			convey.So(errors.Is(err, model.ErrModelStore), convey.ShouldBeTrue)
			convey.So(errors.Is(err, model.ErrUnknownTeam), convey.ShouldBeTrue)
		})

		convey.Convey("When a weight is negative", func() {
			set["NYK"].Transitions[model.Away][model.StartInbound][model.OutcomeTurnover] = -1
			err := set.Validate(nil)
			convey.So(errors.Is(err, model.ErrMalformedDistribution), convey.ShouldBeTrue)
		})

		convey.Convey("When a location is missing", func() {
			delete(set["NYK"].Meta, model.Away)
			convey.So(errors.Is(set.Validate(nil), model.ErrModelStore), convey.ShouldBeTrue)
		})
	})
}

func TestPointValue(t *testing.T) {
	cases := map[string]int{
		model.Outcome2PTMade:    2,
		model.Outcome3PTMade:    3,
		model.OutcomeFreeThrow:  1,
		model.OutcomeTurnover:   0,
		model.Outcome2PTBlocked: 0,
		"anything":              0,
	}
	for outcome, want := range cases {
		if got := model.PointValue(outcome); got != want {
			t.Errorf("PointValue(%q) = %d, want %d", outcome, got, want)
		}
	}
}

func TestSchedule_Teams(t *testing.T) {
	s := model.Schedule{{ID: "1", Home: "NYK", Away: "BOS"}, {ID: "2", Home: "BOS", Away: "ATL"}}
	got := s.Teams()
	want := []string{"ATL", "BOS", "NYK"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
