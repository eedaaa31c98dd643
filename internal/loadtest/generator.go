package loadtest

import (
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"

	"github.com/okian/ascend/internal/domain/scoring"
)

// Constants for random number generation.
const (
	randomFloatDivisor = 1000000
	maxBaseScore       = 200
	maxHints           = 4
	maxTimeSeconds     = 600
)

var difficulties = []scoring.Difficulty{
	scoring.DifficultyEasy,
	scoring.DifficultyMedium,
	scoring.DifficultyHard,
}

// getRandomFloat returns a random float64 between 0.0 and 1.0 using crypto/rand.
func getRandomFloat() float64 {
	n, _ := rand.Int(rand.Reader, big.NewInt(randomFloatDivisor))
	return float64(n.Int64()) / float64(randomFloatDivisor)
}

// randomInt returns a random int in [0, n).
func randomInt(n int) int {
	if n <= 0 {
		return 0
	}
	v, _ := rand.Int(rand.Reader, big.NewInt(int64(n)))
	return int(v.Int64())
}

// generateUsers returns n fresh user ids.
func generateUsers(n int) []string {
	users := make([]string, n)
	for i := range users {
		users[i] = "user-" + uuid.NewString()
	}
	return users
}

// generateSubmissions builds perUser distinct submissions for every user
// followed by dupPerUser re-sends of ids picked from that user's own set.
// The result is shuffled so one user's requests race each other.
func generateSubmissions(users []string, perUser, dupPerUser int) (distinct, all []Submission) {
	distinct = make([]Submission, 0, len(users)*perUser)
	all = make([]Submission, 0, len(users)*(perUser+dupPerUser))

	for _, u := range users {
		own := make([]Submission, perUser)
		for i := range own {
			own[i] = Submission{UserID: u, SubmissionID: uuid.NewString(), Metrics: generateMetrics()}
		}
		distinct = append(distinct, own...)
		all = append(all, own...)
		if perUser == 0 {
			continue
		}
		for i := 0; i < dupPerUser; i++ {
			all = append(all, own[randomInt(perUser)])
		}
	}

	for i := len(all) - 1; i > 0; i-- {
		j := randomInt(i + 1)
		all[i], all[j] = all[j], all[i]
	}
	return distinct, all
}

// generateMetrics creates a valid submission with a varied score.
func generateMetrics() scoring.Metrics {
	maxTime := float64(maxTimeSeconds)
	return scoring.Metrics{
		BaseScore:      int64(randomInt(maxBaseScore + 1)),
		Difficulty:     difficulties[randomInt(len(difficulties))],
		TimeSpent:      getRandomFloat() * maxTime,
		MaxTime:        maxTime,
		HintsUsed:      randomInt(maxHints + 1),
		Accuracy:       getRandomFloat(),
		IsPerfect:      randomInt(10) == 0,
		IsFirstAttempt: randomInt(2) == 0,
	}
}
