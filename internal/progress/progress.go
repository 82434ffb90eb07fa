// Package progress computes completion ratios bottom-up from the cached
// tree. It is recomputed on demand after any mutation that can affect
// completion counts rather than maintained incrementally, so partial updates
// can never leave the aggregates drifting.
package progress

import (
	"math"

	"studytrail/internal/domain"
)

// GoalProgress returns the goal's completion percentage over its
// non-archived tasks. A goal with no tasks is 0, not an error.
func GoalProgress(g domain.Goal) int {
	done, total := GoalStats(g)
	return ratio(done, total)
}

// TopicProgress returns the topic's completion percentage over all
// non-archived tasks of its non-archived goals.
func TopicProgress(t domain.Topic) int {
	done, total := TopicStats(t)
	return ratio(done, total)
}

// GoalStats returns (done, total) over the goal's non-archived tasks.
func GoalStats(g domain.Goal) (int, int) {
	var done, total int
	for _, task := range g.Tasks {
		if domain.Archived(task.Status) {
			continue
		}
		total++
		if task.Status == "done" {
			done++
		}
	}
	return done, total
}

// TopicStats returns (done, total) over the topic's non-archived tasks.
func TopicStats(t domain.Topic) (int, int) {
	var done, total int
	for _, g := range t.Goals {
		if domain.Archived(g.Status) {
			continue
		}
		d, n := GoalStats(g)
		done += d
		total += n
	}
	return done, total
}

func ratio(done, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(done) / float64(total)))
}
