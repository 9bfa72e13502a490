package models

// Tally is derived from the vote rows of one game and never stored.
type Tally struct {
	A     int64 `json:"vote_count_a"`
	B     int64 `json:"vote_count_b"`
	Total int64 `json:"total_votes"`
}

// Add counts n votes for choice c.
func (t *Tally) Add(c Choice, n int64) {
	switch c {
	case ChoiceA:
		t.A += n
	case ChoiceB:
		t.B += n
	default:
		return
	}
	t.Total += n
}

// Percent returns the display percentages of both sides, rounded half up.
// Both are zero when there are no votes.
func (t Tally) Percent() (int, int) {
	if t.Total <= 0 {
		return 0, 0
	}
	return percent(t.A, t.Total), percent(t.B, t.Total)
}

func percent(n, total int64) int {
	return int((n*200 + total) / (2 * total))
}
