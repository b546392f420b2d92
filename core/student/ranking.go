package student

import (
	"math"
	"sort"
	"time"
)

const (
	MaxLeaderboardLimit = 100
)

type RankEntry struct {
	Rank        int                `json:"rank"`
	StudentID   string             `json:"student_id"`
	RollNo      string             `json:"roll_no"`
	Name        string             `json:"name"`
	Score       float64            `json:"score"`
	Percentage  float64            `json:"percentage"`
	Marks       map[string]float64 `json:"marks"`
	SubmittedAt *time.Time         `json:"submitted_at"`
}

type TestRanking struct {
	TestID        string      `json:"test_id"`
	TestName      string      `json:"test_name"`
	Year          int         `json:"year"`
	QuestionCount int         `json:"question_count"`
	Entries       []RankEntry `json:"entries"`
}

// StudentRank is a student's standing among the counted attempts of a test.
type StudentRank struct {
	TestID       string  `json:"test_id"`
	Rank         int     `json:"rank"`
	Participants int     `json:"participants"`
	Score        float64 `json:"score"`
	Percentage   float64 `json:"percentage"`
}

type LeaderboardEntry struct {
	Rank           int     `json:"rank"`
	StudentID      string  `json:"student_id"`
	RollNo         string  `json:"roll_no"`
	Name           string  `json:"name"`
	Branch         string  `json:"branch"`
	Section        string  `json:"section"`
	Year           int     `json:"year"`
	TotalScore     float64 `json:"total_score"`
	TestsCompleted int     `json:"tests_completed"`
}

type Leaderboard struct {
	Entries     []LeaderboardEntry `json:"entries"`
	GeneratedAt time.Time          `json:"generated_at"`
}

func percentage(score float64, questionCount int) float64 {
	if questionCount <= 0 {
		return score
	}
	return math.Round(score/float64(questionCount)*100*100) / 100
}

// RankEntries sets percentages and assigns ranks 1..N by descending score.
// Equal scores keep their input order and still get distinct ranks.
func RankEntries(entries []RankEntry, questionCount int) []RankEntry {
	ranked := append([]RankEntry(nil), entries...)
	for i := range ranked {
		ranked[i].Percentage = percentage(ranked[i].Score, questionCount)
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}

// RankLeaderboard keeps students with a positive total and at least one completed attempt,
// orders them by descending total, truncates to limit (0 keeps everyone) and assigns ranks.
func RankLeaderboard(candidates []LeaderboardEntry, limit int) []LeaderboardEntry {
	ranked := make([]LeaderboardEntry, 0, len(candidates))
	for _, c := range candidates {
		if c.TotalScore > 0 && c.TestsCompleted > 0 {
			ranked = append(ranked, c)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].TotalScore > ranked[j].TotalScore })
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}
