package mapping

import (
	"math"
	"strings"
)

// EditCosts are the operation costs of a weighted Damerau-Levenshtein
// distance. 2*Transpose must be >= Insert+Delete.
type EditCosts struct {
	Substitute int
	Insert     int
	Delete     int
	Transpose  int
}

// DefaultCosts make dropping characters from the source dearer than adding
// them, so the distance is not symmetric.
var DefaultCosts = EditCosts{Substitute: 1, Insert: 1, Delete: 2, Transpose: 2}

// Distance is the case insensitive cost of editing source into target.
func (c EditCosts) Distance(source, target string) int {
	s := []rune(strings.ToLower(source))
	t := []rune(strings.ToLower(target))
	if len(s) == 0 {
		return len(t) * c.Insert
	}
	if len(t) == 0 {
		return len(s) * c.Delete
	}

	table := make([][]int, len(s))
	for i := range table {
		table[i] = make([]int, len(t))
	}
	lastSeen := make(map[rune]int, len(s))

	if s[0] != t[0] {
		table[0][0] = min(c.Substitute, c.Delete+c.Insert)
	}
	lastSeen[s[0]] = 0

	for i := 1; i < len(s); i++ {
		match := i * c.Delete
		if s[i] != t[0] {
			match += c.Substitute
		}
		table[i][0] = min(table[i-1][0]+c.Delete, (i+1)*c.Delete+c.Insert, match)
	}
	for j := 1; j < len(t); j++ {
		match := j * c.Insert
		if s[0] != t[j] {
			match += c.Substitute
		}
		table[0][j] = min((j+1)*c.Insert+c.Delete, table[0][j-1]+c.Insert, match)
	}

	for i := 1; i < len(s); i++ {
		lastMatchCol := -1
		if s[i] == t[0] {
			lastMatchCol = 0
		}
		for j := 1; j < len(t); j++ {
			swapRow, seen := lastSeen[t[j]]
			swapCol := lastMatchCol

			del := table[i-1][j] + c.Delete
			ins := table[i][j-1] + c.Insert
			match := table[i-1][j-1]
			if s[i] != t[j] {
				match += c.Substitute
			} else {
				lastMatchCol = j
			}

			swap := math.MaxInt
			if seen && swapCol != -1 {
				pre := 0
				if swapRow != 0 || swapCol != 0 {
					pre = table[max(0, swapRow-1)][max(0, swapCol-1)]
				}
				swap = pre + (i-swapRow-1)*c.Delete + (j-swapCol-1)*c.Insert + c.Transpose
			}

			table[i][j] = min(del, ins, match, swap)
		}
		lastSeen[s[i]] = i
	}

	return table[len(s)-1][len(t)-1]
}

// Distance uses DefaultCosts.
func Distance(source, target string) int {
	return DefaultCosts.Distance(source, target)
}
