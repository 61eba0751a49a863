package service

import (
	"sort"

	"senseflow/internal/model"
	"senseflow/pkg/apperr"
)

// Select applies the selection mode to the compatible matches.
//
//	named: the match called name, ErrModelNotFound if it is not compatible
//	best:  the match with the lowest priority value, ties broken by name
//	all:   every match, in resolver order
func Select(matches []model.Match, mode model.SelectionMode, name string) ([]model.Match, error) {
	if len(matches) == 0 {
		return nil, apperr.NoCompatibleModel("no compatible model for the available data")
	}

	switch mode {
	case model.SelectionNamed:
		for _, m := range matches {
			if m.ModelName == name {
				return []model.Match{m}, nil
			}
		}
		return nil, apperr.ModelNotFound("model %q is not compatible with the available data", name)

	case model.SelectionBest:
		sorted := append([]model.Match(nil), matches...)
		sort.SliceStable(sorted, func(i, j int) bool {
			if sorted[i].Priority != sorted[j].Priority {
				return sorted[i].Priority < sorted[j].Priority
			}
			return sorted[i].ModelName < sorted[j].ModelName
		})
		return sorted[:1], nil

	case model.SelectionAll, "":
		return matches, nil

	default:
		return nil, apperr.MalformedInput("unknown selection_mode %q", mode)
	}
}
