package calibration_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/okian/hoopcal/internal/domain/calibration"
	"github.com/okian/hoopcal/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func teamWithRow(name string, pace float64, row model.Distribution) *model.TeamModel {
	t := model.NewTeamModel(name)
	for _, loc := range model.Locations {
		t.Meta[loc] = model.LocationMeta{
			AvgPossessionsPerGame: pace,
			StartTypeProbs: model.Distribution{
				model.StartInbound:          0.5,
				model.StartDefensiveRebound: 0.3,
				model.StartSteal:            0.15,
				"Home Won Jump Ball":        0.05,
			},
		}
		t.Transitions[loc] = model.TransitionTable{
			model.StartInbound:          row.Clone(),
			model.StartDefensiveRebound: row.Clone(),
			model.StartSteal:            row.Clone(),
		}
	}
	return t
}

func mixedRow(made2, made3, ft float64) model.Distribution {
	rest := 1 - made2 - made3 - ft
	return model.Distribution{
		model.Outcome2PTMade:    made2,
		model.Outcome3PTMade:    made3,
		model.OutcomeFreeThrow:  ft,
		model.Outcome2PTMissed:  rest * 0.4,
		model.Outcome3PTMissed:  rest * 0.3,
		model.OutcomeTurnover:   rest * 0.2,
		model.Outcome2PTBlocked: rest * 0.1,
	}
}

// roundRobin schedules every ordered pair of teams the given number of times.
func roundRobin(teams []string, times int) model.Schedule {
	var s model.Schedule
	id := 0
	for n := 0; n < times; n++ {
		for _, home := range teams {
			for _, away := range teams {
				if home == away {
					continue
				}
				id++
				s = append(s, model.Game{ID: fmt.Sprintf("g%04d", id), Home: home, Away: away})
			}
		}
	}
	return s
}

func league() (model.Set, model.Schedule, model.Wins) {
	set := model.Set{
		"ATL": teamWithRow("ATL", 99, mixedRow(0.30, 0.12, 0.08)),
		"BOS": teamWithRow("BOS", 98, mixedRow(0.34, 0.14, 0.08)),
		"CHA": teamWithRow("CHA", 101, mixedRow(0.27, 0.10, 0.07)),
		"DEN": teamWithRow("DEN", 97, mixedRow(0.33, 0.11, 0.09)),
	}
	schedule := roundRobin(set.Names(), 7)
	wins := model.Wins{"ATL": 25, "BOS": 20, "CHA": 22, "DEN": 17}
	return set, schedule, wins
}

func TestThresholdAndLearnRate(t *testing.T) {
	p := calibration.DefaultParams()

	cases := []struct {
		prev float64
		want float64
	}{
		{15, 20},
		{2, 8},
		{10, 15},
		{0, 8},
	}
	for _, tc := range cases {
		if got := calibration.Threshold(tc.prev, p); math.Abs(got-tc.want) > 1e-12 {
			t.Errorf("Threshold(%v) = %v, want %v", tc.prev, got, tc.want)
		}
	}

	if got := calibration.LearnRate(0, p); got != 1.0 {
		t.Errorf("LearnRate(0) = %v, want 1", got)
	}
	if got, want := calibration.LearnRate(1, p), 1/math.Pow(2, 1.25); math.Abs(got-want) > 1e-12 {
		t.Errorf("LearnRate(1) = %v, want %v", got, want)
	}
	for i := 0; i < 100; i++ {
		if !(calibration.LearnRate(i+1, p) < calibration.LearnRate(i, p)) {
			t.Fatalf("learn rate not decreasing at round %d", i)
		}
	}
}

func TestRMSE(t *testing.T) {
	if got := calibration.RMSE([]float64{1, 2, 3}, []float64{1, 2, 3}); got != 0 {
		t.Errorf("RMSE of equal vectors = %v", got)
	}
	if got := calibration.RMSE([]float64{3, 0}, []float64{0, 4}); math.Abs(got-math.Sqrt(12.5)) > 1e-12 {
		t.Errorf("RMSE = %v, want %v", got, math.Sqrt(12.5))
	}
	if got := calibration.RMSE(nil, nil); got != 0 {
		t.Errorf("RMSE of empty = %v", got)
	}
}

func TestParamsValidate(t *testing.T) {
	convey.Convey("Given default params", t, func() {
		p := calibration.DefaultParams()
		convey.So(p.Validate(), convey.ShouldBeNil)

		convey.Convey("When iterations is zero", func() {
			p.Iterations = 0
			convey.So(errors.Is(p.Validate(), calibration.ErrInvalidParams), convey.ShouldBeTrue)
		})

		convey.Convey("When the learning rate is not positive", func() {
			p.LearnRate = 0
			convey.So(errors.Is(p.Validate(), calibration.ErrInvalidParams), convey.ShouldBeTrue)
			p.LearnRate = math.NaN()
			convey.So(errors.Is(p.Validate(), calibration.ErrInvalidParams), convey.ShouldBeTrue)
		})

		convey.Convey("When the learning rate is at or below the round-1 rate", func() {
			convey.So(p.MinLearnRate(), convey.ShouldAlmostEqual, 1/math.Pow(2, 1.25), 1e-12)
			p.LearnRate = 0.3
			convey.So(errors.Is(p.Validate(), calibration.ErrInvalidParams), convey.ShouldBeTrue)
			p.LearnRate = p.MinLearnRate()
			convey.So(errors.Is(p.Validate(), calibration.ErrInvalidParams), convey.ShouldBeTrue)
		})

		convey.Convey("When any accepted learning rate is used the schedule strictly decreases", func() {
			for _, lr := range []float64{0.43, 0.5, 1, 3} {
				p.LearnRate = lr
				convey.So(p.Validate(), convey.ShouldBeNil)
				for round := 0; round < 50; round++ {
					convey.So(calibration.LearnRate(round+1, p), convey.ShouldBeLessThan, calibration.LearnRate(round, p))
				}
			}
		})

		convey.Convey("When the threshold clamps are inverted", func() {
			p.ThresholdMin, p.ThresholdMax = 30, 10
			convey.So(errors.Is(p.Validate(), calibration.ErrInvalidParams), convey.ShouldBeTrue)
		})

		convey.Convey("When the game cap is not positive", func() {
			p.GameCap = 0
			convey.So(errors.Is(p.Validate(), calibration.ErrInvalidParams), convey.ShouldBeTrue)
		})
	})
}

func TestUpdateTeam(t *testing.T) {
	convey.Convey("Given a team that won too many games", t, func() {
		team := teamWithRow("BOS", 100, mixedRow(0.35, 0.15, 0.1))
		before := team.Clone()
		p := calibration.DefaultParams()

		convey.Convey("When the update rule runs with error 25", func() {
			calibration.UpdateTeam(team, 25, 1.0, p)

			convey.Convey("Then every row stays normalized", func() {
				for _, loc := range model.Locations {
					for start, row := range team.Transitions[loc] {
						convey.So(row.Sum(), convey.ShouldAlmostEqual, 1.0, 1e-9)
						convey.So(row[model.Outcome2PTMade], convey.ShouldBeLessThan, before.Transitions[loc][start][model.Outcome2PTMade])
						convey.So(row[model.OutcomeTurnover], convey.ShouldBeGreaterThan, before.Transitions[loc][start][model.OutcomeTurnover])
					}
				}
			})

			convey.Convey("And possessions drop by error times learning rate", func() {
				convey.So(team.AvgPossessions(model.Home), convey.ShouldAlmostEqual, 75, 1e-9)
				convey.So(team.AvgPossessions(model.Away), convey.ShouldAlmostEqual, 75, 1e-9)
			})
		})

		convey.Convey("When the error is large enough to flip the factor sign", func() {
			calibration.UpdateTeam(team, 250, 1.0, p)

			convey.Convey("Then scoring weights clamp at zero and rows stay normalized", func() {
				row := team.Transitions[model.Home][model.StartInbound]
				convey.So(row[model.Outcome2PTMade], convey.ShouldEqual, 0)
				convey.So(row[model.Outcome3PTMade], convey.ShouldEqual, 0)
				convey.So(row.Sum(), convey.ShouldAlmostEqual, 1.0, 1e-9)
				for _, v := range row {
					convey.So(v, convey.ShouldBeGreaterThanOrEqualTo, 0)
				}
			})
		})

		convey.Convey("When a row is all zero", func() {
			team.Transitions[model.Away][model.StartSteal] = model.Distribution{model.Outcome2PTMade: 0, model.OutcomeTurnover: 0}
			calibration.UpdateTeam(team, -30, 1.0, p)

			convey.Convey("Then it is left as zeros", func() {
				row := team.Transitions[model.Away][model.StartSteal]
				convey.So(row[model.Outcome2PTMade], convey.ShouldEqual, 0)
				convey.So(row[model.OutcomeTurnover], convey.ShouldEqual, 0)
				convey.So(math.IsNaN(row.Sum()), convey.ShouldBeFalse)
			})
		})
	})
}

func TestCalibrate_ErrorGating(t *testing.T) {
	convey.Convey("Given a scorer that always beats a team that never scores", t, func() {
		hot := teamWithRow("HOT", 100, model.Distribution{model.Outcome3PTMade: 0.9, model.OutcomeTurnover: 0.1})
		cold := teamWithRow("COLD", 100, model.Distribution{model.OutcomeTurnover: 1})
		set := model.Set{"HOT": hot, "COLD": cold}
		schedule := make(model.Schedule, 0, 30)
		for i := 0; i < 30; i++ {
			schedule = append(schedule, model.Game{ID: fmt.Sprintf("g%d", i), Home: "HOT", Away: "COLD"})
		}
		// HOT is predicted 30 wins (error 25), COLD 0 wins (error -5).
		wins := model.Wins{"HOT": 5, "COLD": 5}
		p := calibration.DefaultParams()
		p.Iterations = 1

		convey.Convey("When calibrating a single round", func() {
			res, err := calibration.New(calibration.WithParams(p)).Calibrate(context.Background(), calibration.Input{
				Models: set, Schedule: schedule, ActualWins: wins,
			})

			convey.Convey("Then only the egregiously mis-predicted team is updated", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(res.Teams, convey.ShouldResemble, []string{"COLD", "HOT"})
				convey.So(res.Predicted, convey.ShouldResemble, []int{0, 30})
				convey.So(res.Actual, convey.ShouldResemble, []int{5, 5})
				convey.So(res.Rounds[0].Threshold, convey.ShouldEqual, 20)
				convey.So(res.Rounds[0].UpdatedTeams, convey.ShouldResemble, []string{"HOT"})

				convey.So(res.Final["COLD"].AvgPossessions(model.Home), convey.ShouldEqual, 100)
				convey.So(res.Final["COLD"].Transitions[model.Home], convey.ShouldResemble, cold.Transitions[model.Home])

				convey.So(res.Final["HOT"].AvgPossessions(model.Home), convey.ShouldAlmostEqual, 75, 1e-9)
				row := res.Final["HOT"].Transitions[model.Home][model.StartInbound]
				convey.So(row.Sum(), convey.ShouldAlmostEqual, 1.0, 1e-9)
				convey.So(row[model.Outcome3PTMade], convey.ShouldAlmostEqual, 0.675/0.8, 1e-9)
			})

			convey.Convey("And the best snapshot is the model that produced the round", func() {
				convey.So(res.BestRound, convey.ShouldEqual, 0)
				convey.So(res.Best["HOT"].AvgPossessions(model.Home), convey.ShouldEqual, 100)
			})

			convey.Convey("And the caller's models are untouched", func() {
				convey.So(hot.AvgPossessions(model.Home), convey.ShouldEqual, 100)
				convey.So(hot.Transitions[model.Home][model.StartInbound][model.Outcome3PTMade], convey.ShouldEqual, 0.9)
			})
		})
	})
}

func TestCalibrate_GameCap(t *testing.T) {
	convey.Convey("Given two teams scheduled to meet 100 times", t, func() {
		set := model.Set{
			"NYK": teamWithRow("NYK", 96, mixedRow(0.3, 0.12, 0.08)),
			"BKN": teamWithRow("BKN", 96, mixedRow(0.3, 0.12, 0.08)),
		}
		schedule := make(model.Schedule, 0, 100)
		for i := 0; i < 100; i++ {
			home, away := "NYK", "BKN"
			if i%2 == 1 {
				home, away = away, home
			}
			schedule = append(schedule, model.Game{ID: fmt.Sprintf("g%d", i), Home: home, Away: away})
		}
		p := calibration.DefaultParams()
		p.Iterations = 2

		convey.Convey("When calibrating", func() {
			res, err := calibration.New(calibration.WithParams(p)).Calibrate(context.Background(), calibration.Input{
				Models: set, Schedule: schedule, ActualWins: model.Wins{"NYK": 41, "BKN": 41},
			})

			convey.Convey("Then no team plays more than 82 games", func() {
				convey.So(err, convey.ShouldBeNil)
				for _, r := range res.Rounds {
					convey.So(r.GamesPlayed, convey.ShouldEqual, 82)
					convey.So(r.GamesSkipped, convey.ShouldEqual, 18)
					convey.So(r.GamesFailed, convey.ShouldEqual, 0)
				}
				convey.So(res.Predicted[0]+res.Predicted[1], convey.ShouldEqual, 82)
			})
		})
	})
}

func TestCalibrate_BestSnapshot(t *testing.T) {
	convey.Convey("Given a small league", t, func() {
		set, schedule, wins := league()
		p := calibration.DefaultParams()
		p.Iterations = 6
		p.Seed = 2024

		convey.Convey("When calibrating", func() {
			res, err := calibration.New(calibration.WithParams(p)).Calibrate(context.Background(), calibration.Input{
				Models: set, Schedule: schedule, ActualWins: wins,
			})

			convey.Convey("Then the best RMSE dominates every round", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(res.RMSEs, convey.ShouldHaveLength, 6)
				convey.So(res.Rounds, convey.ShouldHaveLength, 6)
				for _, rmse := range res.RMSEs {
					convey.So(res.BestRMSE, convey.ShouldBeLessThanOrEqualTo, rmse)
				}
				convey.So(res.RMSEs[res.BestRound], convey.ShouldEqual, res.BestRMSE)
				convey.So(res.Rounds[res.BestRound].Best, convey.ShouldBeTrue)
				convey.So(res.Best.Names(), convey.ShouldResemble, set.Names())
			})

			convey.Convey("And the learning rate decays every round", func() {
				for i := 1; i < len(res.Rounds); i++ {
					convey.So(res.Rounds[i].LearnRate, convey.ShouldBeLessThan, res.Rounds[i-1].LearnRate)
				}
			})

			convey.Convey("And every updated row stays normalized", func() {
				for _, team := range res.Final {
					for _, loc := range model.Locations {
						for _, row := range team.Transitions[loc] {
							convey.So(row.Sum(), convey.ShouldAlmostEqual, 1.0, 1e-9)
						}
					}
				}
			})
		})
	})
}

func TestCalibrate_Reproducible(t *testing.T) {
	convey.Convey("Given the same seed", t, func() {
		set, schedule, wins := league()
		p := calibration.DefaultParams()
		p.Iterations = 3
		p.Seed = 77
		in := calibration.Input{Models: set, Schedule: schedule, ActualWins: wins}

		convey.Convey("When running sequentially and with parallel replay", func() {
			seq, err := calibration.New(calibration.WithParams(p)).Calibrate(context.Background(), in)
			convey.So(err, convey.ShouldBeNil)
			again, err := calibration.New(calibration.WithParams(p)).Calibrate(context.Background(), in)
			convey.So(err, convey.ShouldBeNil)
			p.ReplayWorkers = 4
			par, err := calibration.New(calibration.WithParams(p)).Calibrate(context.Background(), in)
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then every run produces the same trajectory", func() {
				convey.So(again.RMSEs, convey.ShouldResemble, seq.RMSEs)
				convey.So(par.RMSEs, convey.ShouldResemble, seq.RMSEs)
				convey.So(par.Predicted, convey.ShouldResemble, seq.Predicted)
				convey.So(par.BestRound, convey.ShouldEqual, seq.BestRound)
			})
		})
	})
}

func TestCalibrate_Failures(t *testing.T) {
	convey.Convey("Given a league", t, func() {
		set, schedule, wins := league()
		p := calibration.DefaultParams()
		p.Iterations = 2
		cal := calibration.New(calibration.WithParams(p))

		convey.Convey("When a scheduled team has no model", func() {
			delete(set, "DEN")
			_, err := cal.Calibrate(context.Background(), calibration.Input{Models: set, Schedule: schedule, ActualWins: wins})

			convey.Convey("Then the run aborts with a model store error", func() {
				convey.So(errors.Is(err, model.ErrModelStore), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When a scheduled team has no actual win total", func() {
			delete(wins, "ATL")
			_, err := cal.Calibrate(context.Background(), calibration.Input{Models: set, Schedule: schedule, ActualWins: wins})
			convey.So(errors.Is(err, calibration.ErrInvalidInput), convey.ShouldBeTrue)
			convey.So(errors.Is(err, model.ErrUnknownTeam), convey.ShouldBeTrue)
		})

		convey.Convey("When there are no actual wins at all", func() {
			_, err := cal.Calibrate(context.Background(), calibration.Input{Models: set, Schedule: schedule})
			convey.So(errors.Is(err, calibration.ErrInvalidInput), convey.ShouldBeTrue)
		})

		convey.Convey("When one team's pace has diverged", func() {
			set["CHA"].AdjustPossessions(-500)
			res, err := cal.Calibrate(context.Background(), calibration.Input{Models: set, Schedule: schedule, ActualWins: wins})

			convey.Convey("Then its games fail without aborting the run", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(res.Rounds[0].GamesFailed, convey.ShouldBeGreaterThan, 0)
				convey.So(res.RMSEs, convey.ShouldHaveLength, 2)
			})
		})

		convey.Convey("When params are invalid", func() {
			p.Iterations = -1
			_, err := calibration.New(calibration.WithParams(p)).Calibrate(context.Background(), calibration.Input{Models: set, Schedule: schedule, ActualWins: wins})
			convey.So(errors.Is(err, calibration.ErrInvalidParams), convey.ShouldBeTrue)
		})
	})
}
