package trust

import (
	sharcerr "github.com/sharcdb/sharc/core/errors"
	"github.com/sharcdb/sharc/core/sharc"
)

// ScoresTable is the optional reputation table maintained by the
// evaluator collaborator; the core only reads it as advisory input.
const ScoresTable = "_sharc_scores"

const scoresSQL = `CREATE TABLE _sharc_scores (
	AgentId TEXT NOT NULL,
	Score REAL NOT NULL,
	Confidence REAL NOT NULL,
	LastUpdated INTEGER NOT NULL,
	LastRatingCount INTEGER NOT NULL
)`

// Score is one reputation row.
type Score struct {
	AgentID         string
	Score           float64
	Confidence      float64
	LastUpdated     int64 // epoch ms
	LastRatingCount int64
}

// EnsureScoresTable creates the reputation table when missing.
func EnsureScoresTable(db *sharc.Database) error {
	if db.HasTable(ScoresTable) {
		return nil
	}
	return db.CreateTable(ScoresTable, scoresSQL)
}

// ReadScores returns every reputation row, keyed by agent id. A missing
// table reads as empty: the scores are optional input.
func ReadScores(db *sharc.Database) (map[string]Score, error) {
	if !db.HasTable(ScoresTable) {
		return map[string]Score{}, nil
	}

	rd, err := db.CreateReader(ScoresTable, nil)
	if err != nil {
		return nil, err
	}
	defer rd.Close()

	scores := make(map[string]Score)
	for {
		ok, err := rd.Read()
		if err != nil {
			return nil, err
		}
		if !ok {
			return scores, nil
		}

		var s Score
		if s.AgentID, err = rd.GetString(0); err != nil {
			return nil, err
		}
		if s.Score, err = rd.GetDouble(1); err != nil {
			return nil, err
		}
		if s.Confidence, err = rd.GetDouble(2); err != nil {
			return nil, err
		}
		if s.LastUpdated, err = rd.GetInt64(3); err != nil {
			return nil, err
		}
		if s.LastRatingCount, err = rd.GetInt64(4); err != nil {
			return nil, err
		}
		if s.AgentID == "" {
			return nil, sharcerr.NewCorrupt(0, "score row with empty agent id")
		}
		scores[s.AgentID] = s
	}
}
