package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	dedupe "github.com/okian/hoopcal/internal/domain/dedupe"
	"github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	convey.Convey("Given a new InMemoryDeduper", t, func() {
		ctx := context.Background()
		d := dedupe.NewInMemoryDeduper()

		convey.Convey("Then it starts empty", func() {
			convey.So(d.Size(), convey.ShouldEqual, 0)
		})

		convey.Convey("When a request id is claimed for the first time", func() {
			runID, seen := d.Claim(ctx, "req-1", "run-1")

			convey.Convey("Then it is recorded against the new run", func() {
				convey.So(seen, convey.ShouldBeFalse)
				convey.So(runID, convey.ShouldEqual, "run-1")
				convey.So(d.Size(), convey.ShouldEqual, 1)
			})

			convey.Convey("And a retry returns the original run", func() {
				runID, seen := d.Claim(ctx, "req-1", "run-2")
				convey.So(seen, convey.ShouldBeTrue)
				convey.So(runID, convey.ShouldEqual, "run-1")
				convey.So(d.Size(), convey.ShouldEqual, 1)
			})

			convey.Convey("And it can be looked up", func() {
				runID, ok := d.Lookup(ctx, "req-1")
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(runID, convey.ShouldEqual, "run-1")
			})
		})

		convey.Convey("When a claim is released", func() {
			d.Claim(ctx, "req-1", "run-1")
			d.Release(ctx, "req-1")
			d.Release(ctx, "unknown")

			convey.Convey("Then the request id can be claimed again", func() {
				convey.So(d.Size(), convey.ShouldEqual, 0)
				runID, seen := d.Claim(ctx, "req-1", "run-9")
				convey.So(seen, convey.ShouldBeFalse)
				convey.So(runID, convey.ShouldEqual, "run-9")
			})
		})
	})

	convey.Convey("Given a bounded deduper", t, func() {
		ctx := context.Background()
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))

		convey.Convey("When more ids are claimed than it holds", func() {
			for i := 1; i <= 4; i++ {
				d.Claim(ctx, fmt.Sprintf("req-%d", i), fmt.Sprintf("run-%d", i))
			}

			convey.Convey("Then the oldest claim is evicted", func() {
				convey.So(d.Size(), convey.ShouldEqual, 3)
				_, ok := d.Lookup(ctx, "req-1")
				convey.So(ok, convey.ShouldBeFalse)
				runID, ok := d.Lookup(ctx, "req-4")
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(runID, convey.ShouldEqual, "run-4")
			})
		})
	})

	convey.Convey("Given an unbounded deduper", t, func() {
		ctx := context.Background()
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
		for i := 0; i < 20_000; i++ {
			d.Claim(ctx, fmt.Sprintf("req-%d", i), "run")
		}
		convey.So(d.Size(), convey.ShouldEqual, 20_000)
	})
}

func TestDedupeConcurrency(t *testing.T) {
	convey.Convey("Given many goroutines claiming the same request id", t, func() {
		ctx := context.Background()
		d := dedupe.NewInMemoryDeduper()

		var (
			wg     sync.WaitGroup
			mu     sync.Mutex
			fresh  int
			winner string
		)
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				runID, seen := d.Claim(ctx, "shared", fmt.Sprintf("run-%d", i))
				mu.Lock()
				defer mu.Unlock()
				if !seen {
					fresh++
					winner = runID
				}
			}(i)
		}
		wg.Wait()

		convey.Convey("Then exactly one claim wins", func() {
			convey.So(fresh, convey.ShouldEqual, 1)
			runID, _ := d.Lookup(ctx, "shared")
			convey.So(runID, convey.ShouldEqual, winner)
		})
	})
}
