package domain

import "time"

// GameResult is a finished playthrough of the PLC puzzle game.
type GameResult struct {
	ResultID      string    `json:"result_id"`
	VisitorID     string    `json:"-"`
	DisplayName   string    `json:"display_name"`
	Score         int       `json:"score"`
	LevelsCleared int       `json:"levels_cleared"`
	Attempts      int       `json:"attempts"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at"`
}

// Duration is the wall time from first placement to the final verdict.
func (r *GameResult) Duration() time.Duration {
	if r.CompletedAt.Before(r.StartedAt) {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}
