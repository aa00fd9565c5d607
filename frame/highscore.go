package frame

import (
	"sort"
	"strconv"
	"strings"
)

// HighscoreSize is the fixed number of rows in a highscore table.
const HighscoreSize = 5

// Highscore is one row of the table.
type Highscore struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// HighscoreTable always holds HighscoreSize rows. Absent rows are the zero
// Highscore. Rows are kept ascending by score; index 0 is the lowest and
// renderers walk it backwards.
type HighscoreTable [HighscoreSize]Highscore

// ParseHighscores reads name/score pairs from fields at indices 2i+1 and
// 2i+2. Field 0 is the command tag. Scores that fail to parse become 0 and
// missing pairs leave the zero row.
func ParseHighscores(fields []string) HighscoreTable {
	var t HighscoreTable
	for i := 0; i < HighscoreSize; i++ {
		ni, si := 2*i+1, 2*i+2
		if ni < len(fields) {
			t[i].Name = fields[ni]
		}
		if si < len(fields) {
			score, err := strconv.Atoi(strings.TrimSpace(fields[si]))
			if err == nil {
				t[i].Score = score
			}
		}
	}
	return t
}

// DefaultHighscores is the table the directory host seeds when it has none.
func DefaultHighscores() HighscoreTable {
	t := HighscoreTable{
		{Name: "Darren", Score: 5},
		{Name: "Dawn", Score: 4},
		{Name: "David", Score: 3},
		{Name: "Steven", Score: 2},
		{Name: "Susan", Score: 1},
	}
	t.Sort()
	return t
}

// Sort orders rows ascending by score. Equal scores keep their order.
func (t *HighscoreTable) Sort() {
	sort.SliceStable(t[:], func(i, j int) bool {
		return t[i].Score < t[j].Score
	})
}

// Fields flattens the table into name, score, name, score, ...
func (t HighscoreTable) Fields() []string {
	out := make([]string, 0, 2*HighscoreSize)
	for _, h := range t {
		out = append(out, h.Name, strconv.Itoa(h.Score))
	}
	return out
}

// Lowest returns the smallest score in an ascending table.
func (t HighscoreTable) Lowest() int {
	return t[0].Score
}

// Qualifies reports whether score would enter the table.
func (t HighscoreTable) Qualifies(score int) bool {
	return score > t.Lowest()
}

// Insert places (name, score) into an ascending table, dropping the lowest
// row. It reports false and leaves the table untouched when score does not
// qualify.
func (t *HighscoreTable) Insert(name string, score int) bool {
	if !t.Qualifies(score) {
		return false
	}
	// Position of the first row with a score >= the new one.
	pos := sort.Search(HighscoreSize, func(i int) bool { return t[i].Score >= score })
	copy(t[0:pos-1], t[1:pos])
	t[pos-1] = Highscore{Name: name, Score: score}
	return true
}
