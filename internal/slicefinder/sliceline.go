package slicefinder

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// Params tune the lattice search.
type Params struct {
	Alpha      float64
	MaxLevel   int
	MinSupport int
	TopK       int
}

// Found is one slice returned by SliceLine. Items index the basic
// (feature, code) pairs in ascending order.
type Found struct {
	Items  []Item
	Size   int
	ErrSum float64
	Score  float64
	Rows   []int
}

// Item is one feature = code constraint.
type Item struct {
	Feature int
	Code    int
}

type candidate struct {
	ids    []int
	rows   []int
	size   int
	errSum float64
	errMax float64
	score  float64
}

func (c *candidate) key() string {
	parts := make([]string, len(c.ids))
	for i, id := range c.ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

// SliceLine enumerates conjunctions of feature = code constraints level
// by level and returns the TopK slices with the highest positive score.
// x[i][j] is the code of feature j in row i, codes start at 0; errs are
// the non-negative per-row errors being explained.
func SliceLine(x [][]int, errs []float64, p Params) []Found {
	n := len(errs)
	if n == 0 || len(x) != n {
		return nil
	}
	total := 0.0
	for _, e := range errs {
		total += e
	}
	avg := total / float64(n)
	if avg <= 0 {
		return nil
	}
	if p.MinSupport < 1 {
		p.MinSupport = 1
	}
	if p.MaxLevel < 1 {
		p.MaxLevel = 1
	}

	s := &search{n: n, avg: avg, p: p}

	// level 1: one candidate per observed (feature, code)
	var items []Item
	index := map[Item]int{}
	var basic []*candidate
	for i, row := range x {
		for j, code := range row {
			if code < 0 {
				continue
			}
			it := Item{Feature: j, Code: code}
			id, ok := index[it]
			if !ok {
				id = len(items)
				index[it] = id
				items = append(items, it)
				basic = append(basic, &candidate{ids: []int{id}})
			}
			c := basic[id]
			c.rows = append(c.rows, i)
			c.size++
			c.errSum += errs[i]
			c.errMax = math.Max(c.errMax, errs[i])
		}
	}
	for _, c := range basic {
		s.evaluate(c)
	}

	level := s.expandable(basic)
	basicByID := make(map[int]*candidate, len(level))
	for _, c := range level {
		basicByID[c.ids[0]] = c
	}

	for l := 2; l <= p.MaxLevel && len(level) > 0; l++ {
		parents := make(map[string]*candidate, len(level))
		for _, c := range level {
			parents[c.key()] = c
		}

		var next []*candidate
		for _, parent := range level {
			last := parent.ids[len(parent.ids)-1]
			used := make(map[int]bool, len(parent.ids))
			for _, id := range parent.ids {
				used[items[id].Feature] = true
			}
			for id := last + 1; id < len(items); id++ {
				b, ok := basicByID[id]
				if !ok || used[items[id].Feature] {
					continue
				}
				ids := append(append([]int(nil), parent.ids...), id)
				ssUB, seUB, smUB, ok := parentBounds(ids, parents)
				if !ok || ssUB < p.MinSupport || s.upperBound(ssUB, seUB, smUB) <= s.threshold() {
					continue
				}

				c := &candidate{ids: ids, rows: intersect(parent.rows, b.rows)}
				for _, r := range c.rows {
					c.size++
					c.errSum += errs[r]
					c.errMax = math.Max(c.errMax, errs[r])
				}
				s.evaluate(c)
				next = append(next, c)
			}
		}
		level = s.expandable(next)
	}

	out := make([]Found, len(s.top))
	for i, c := range s.top {
		f := Found{Size: c.size, ErrSum: c.errSum, Score: c.score, Rows: c.rows}
		for _, id := range c.ids {
			f.Items = append(f.Items, items[id])
		}
		out[i] = f
	}
	return out
}

type search struct {
	n   int
	avg float64
	p   Params
	top []*candidate
}

func (s *search) score(size int, errSum float64) float64 {
	ss := float64(size)
	return s.p.Alpha*((errSum/ss)/s.avg-1) - (1-s.p.Alpha)*(float64(s.n)/ss-1)
}

// upperBound bounds the score of any slice contained in one with the
// given size, error sum and max error.
func (s *search) upperBound(ssUB int, seUB, smUB float64) float64 {
	if ssUB <= 0 || smUB <= 0 {
		return math.Inf(-1)
	}
	minSup := float64(s.p.MinSupport)
	best := math.Inf(-1)
	for _, sz := range []float64{minSup, math.Max(seUB/smUB, minSup), float64(ssUB)} {
		if sz <= 0 || sz > float64(ssUB) {
			continue
		}
		v := (s.p.Alpha*(math.Min(sz*smUB, seUB)/s.avg-sz) - (1-s.p.Alpha)*(float64(s.n)-sz)) / sz
		best = math.Max(best, v)
	}
	return best
}

// threshold is the score a new slice must beat to enter the top list.
func (s *search) threshold() float64 {
	if len(s.top) < s.p.TopK {
		return 0
	}
	return s.top[len(s.top)-1].score
}

func (s *search) evaluate(c *candidate) {
	if c.size == 0 {
		return
	}
	c.score = s.score(c.size, c.errSum)
	if c.size < s.p.MinSupport || c.errSum <= 0 || c.score <= 0 {
		return
	}
	if len(s.top) >= s.p.TopK && !better(c, s.top[len(s.top)-1]) {
		return
	}
	s.top = append(s.top, c)
	sort.SliceStable(s.top, func(i, j int) bool { return better(s.top[i], s.top[j]) })
	if len(s.top) > s.p.TopK {
		s.top = s.top[:s.p.TopK]
	}
}

func (s *search) expandable(cs []*candidate) []*candidate {
	var out []*candidate
	for _, c := range cs {
		if c.size >= s.p.MinSupport && c.errSum > 0 && s.upperBound(c.size, c.errSum, c.errMax) > s.threshold() {
			out = append(out, c)
		}
	}
	return out
}

func better(a, b *candidate) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if a.size != b.size {
		return a.size > b.size
	}
	return a.key() < b.key()
}

// parentBounds takes the minimum size, error sum and max error over the
// parents of ids, all of which must have survived the previous level.
func parentBounds(ids []int, parents map[string]*candidate) (int, float64, float64, bool) {
	ssUB, seUB, smUB := math.MaxInt, math.Inf(1), math.Inf(1)
	sub := make([]int, 0, len(ids)-1)
	for skip := range ids {
		sub = sub[:0]
		for i, id := range ids {
			if i != skip {
				sub = append(sub, id)
			}
		}
		p, ok := parents[(&candidate{ids: sub}).key()]
		if !ok {
			return 0, 0, 0, false
		}
		ssUB = min(ssUB, p.size)
		seUB = math.Min(seUB, p.errSum)
		smUB = math.Min(smUB, p.errMax)
	}
	return ssUB, seUB, smUB, true
}

func intersect(a, b []int) []int {
	var out []int
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return out
}
