package models

import (
	"encoding/json"
	"strings"
)

// Operation is a comparison operator of a filter predicate
type Operation string

const (
	OpEqual        Operation = "=="
	OpNotEqual     Operation = "!="
	OpGreater      Operation = ">"
	OpLess         Operation = "<"
	OpGreaterEqual Operation = ">="
	OpLessEqual    Operation = "<="
	OpLike         Operation = "LIKE"
	OpILike        Operation = "ILIKE"
	OpRegex        Operation = "REGEX"
)

// Join says how a node combines with its left sibling.
type Join string

const (
	JoinNone Join = ""
	JoinAnd  Join = "AND"
	JoinOr   Join = "OR"
)

// Normalize maps the accepted spellings of a join onto the constants.
func (j Join) Normalize() Join {
	switch strings.ToUpper(strings.TrimSpace(string(j))) {
	case "AND", "&":
		return JoinAnd
	case "OR", "|":
		return JoinOr
	default:
		return JoinNone
	}
}

// FilterNode is either a FilterPredicate or a *FilterPredicateGroup.
type FilterNode interface {
	NodeJoin() Join
}

// FilterPredicate is a single column comparison. Predicates are plain
// values: two predicates with equal fields are interchangeable.
type FilterPredicate struct {
	Column    Column    `json:"column"`
	Operation Operation `json:"operation"`
	Value     any       `json:"value"`
	Join      Join      `json:"join"`
}

func (p FilterPredicate) NodeJoin() Join { return p.Join }

// FilterPredicateGroup is an ordered list of predicates and nested groups,
// evaluated as a strict left-to-right fold.
type FilterPredicateGroup struct {
	Predicates []FilterNode `json:"predicates"`
	Join       Join         `json:"join"`
}

func (g *FilterPredicateGroup) NodeJoin() Join {
	if g == nil {
		return JoinNone
	}
	return g.Join
}

// Empty reports whether the group contains no predicate at any depth.
func (g *FilterPredicateGroup) Empty() bool {
	if g == nil {
		return true
	}
	for _, node := range g.Predicates {
		switch n := node.(type) {
		case FilterPredicate, *FilterPredicate:
			return false
		case *FilterPredicateGroup:
			if !n.Empty() {
				return false
			}
		}
	}
	return true
}

// UnmarshalJSON decodes the recursive predicate list. An element carrying
// a "predicates" key is a group, anything else is a predicate.
func (g *FilterPredicateGroup) UnmarshalJSON(data []byte) error {
	var raw struct {
		Predicates []json.RawMessage `json:"predicates"`
		Join       Join              `json:"join"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	g.Join = raw.Join
	g.Predicates = make([]FilterNode, 0, len(raw.Predicates))
	for _, item := range raw.Predicates {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(item, &probe); err != nil {
			return err
		}
		if _, ok := probe["predicates"]; ok {
			sub := &FilterPredicateGroup{}
			if err := sub.UnmarshalJSON(item); err != nil {
				return err
			}
			g.Predicates = append(g.Predicates, sub)
			continue
		}

		var pred FilterPredicate
		if err := json.Unmarshal(item, &pred); err != nil {
			return err
		}
		g.Predicates = append(g.Predicates, pred)
	}
	return nil
}

// And combines groups with AND, skipping nil and empty ones. It returns nil
// when nothing is left.
func And(groups ...*FilterPredicateGroup) *FilterPredicateGroup {
	out := &FilterPredicateGroup{}
	for _, g := range groups {
		if g.Empty() {
			continue
		}
		join := JoinAnd
		if len(out.Predicates) == 0 {
			join = JoinNone
		}
		out.Predicates = append(out.Predicates, &FilterPredicateGroup{Predicates: g.Predicates, Join: join})
	}
	if len(out.Predicates) == 0 {
		return nil
	}
	return out
}
