package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/okian/hoopcal/internal/adapters/repository"
	"github.com/okian/hoopcal/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	logger.SetOutput(io.Discard)
}

const transitions = `{
  "AAA": {"home": {"3PT Made": {"Steal": 0.4}, "2PT Missed": {"Steal": 0.6}},
          "away": {"3PT Made": {"Steal": 0.4}, "2PT Missed": {"Steal": 0.6}}},
  "BBB": {"home": {"3PT Made": {"Steal": 0.3}, "2PT Missed": {"Steal": 0.7}},
          "away": {"3PT Made": {"Steal": 0.3}, "2PT Missed": {"Steal": 0.7}}}
}`

const metadata = `{
  "AAA": {"home": {"avg_possessions_per_game": 80, "start_type_probs": {"Steal": 1, "Home Won Jump Ball": 0.1}},
          "away": {"avg_possessions_per_game": 80, "start_type_probs": {"Steal": 1}}},
  "BBB": {"home": {"avg_possessions_per_game": 80, "start_type_probs": {"Steal": 1}},
          "away": {"avg_possessions_per_game": 80, "start_type_probs": {"Steal": 1}}}
}`

func TestRun(t *testing.T) {
	convey.Convey("Given data files and an output directory", t, func() {
		dir := t.TempDir()
		write := func(name, content string) string {
			path := filepath.Join(dir, name)
			convey.So(os.WriteFile(path, []byte(content), 0o600), convey.ShouldBeNil)
			return path
		}
		out := filepath.Join(dir, "out")
		args := []string{
			"-out", out,
			"-iterations", "3",
			"-replay-workers", "2",
			"-transitions", write("t.json", transitions),
			"-metadata", write("m.json", metadata),
			"-schedule", write("s.csv", "gameid,homeTeam,awayTeam\n1,AAA,BBB\n2,BBB,AAA\n"),
			"-actual-wins", write("w.yaml", "AAA: 2\nBBB: 0\n"),
		}

		convey.Convey("When the command runs", func() {
			var stdout bytes.Buffer
			err := run(context.Background(), args, &stdout)
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then the best models are readable as inputs", func() {
				tables, err := repository.LoadTransitions(filepath.Join(out, transitionsFile))
				convey.So(err, convey.ShouldBeNil)
				meta, err := repository.LoadMetadata(filepath.Join(out, metadataFile))
				convey.So(err, convey.ShouldBeNil)
				set, err := repository.MergeModels(tables, meta)
				convey.So(err, convey.ShouldBeNil)
				convey.So(set.Names(), convey.ShouldResemble, []string{"AAA", "BBB"})
			})

			convey.Convey("And the report carries one RMSE per round", func() {
				data, err := os.ReadFile(filepath.Join(out, reportFile))
				convey.So(err, convey.ShouldBeNil)
				var rep struct {
					Params struct {
						Iterations int `json:"iterations"`
					} `json:"params"`
					RMSEs     []float64 `json:"rmses"`
					Standings []struct {
						Team string `json:"team"`
					} `json:"standings"`
				}
				convey.So(json.Unmarshal(data, &rep), convey.ShouldBeNil)
				convey.So(rep.Params.Iterations, convey.ShouldEqual, 3)
				convey.So(rep.RMSEs, convey.ShouldHaveLength, 3)
				convey.So(rep.Standings, convey.ShouldHaveLength, 2)
			})

			convey.Convey("And a one-line summary is printed", func() {
				convey.So(stdout.String(), convey.ShouldContainSubstring, "best rmse")
			})
		})

		convey.Convey("When an input is missing", func() {
			args[len(args)-1] = filepath.Join(dir, "missing.yaml")
			err := run(context.Background(), args, io.Discard)
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("When iterations is invalid", func() {
			args[3] = "0"
			err := run(context.Background(), args, io.Discard)
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("When stray arguments are passed", func() {
			err := run(context.Background(), append(args, "extra"), io.Discard)
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}
