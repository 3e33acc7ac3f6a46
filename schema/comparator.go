package schema

import "github.com/cockroachdb/errors"

// ============================================================================
// LEVEL COMPARATOR
// ============================================================================

// MoreDetailed returns the finer of two levels. Ties go to a; a nil argument
// yields the other.
func MoreDetailed(a, b Level) Level {
	switch {
	case isNil(a):
		return b
	case isNil(b):
		return a
	case b.Ordinal() > a.Ordinal():
		return b
	}
	return a
}

// FindCommonDenominator returns the first of level's self-and-descendants
// that supported binds, walking from level toward finer levels. A cube that
// only materializes a finer level can still answer a coarser one; ancestors
// are never searched. Nil means the cube cannot answer level at all.
//
// Passing anything but a *LevelDefinition, or a nil supported set, is a
// caller defect.
func FindCommonDenominator(level Level, supported []*LevelAssociation) (*LevelAssociation, error) {
	def, ok := level.(*LevelDefinition)
	if !ok || def == nil {
		return nil, errors.AssertionFailedf("common denominator of %T: want *LevelDefinition", level)
	}
	if supported == nil {
		return nil, errors.AssertionFailedf("common denominator of %s: no supported associations", def.ID())
	}
	byID := make(map[string]*LevelAssociation, len(supported))
	for _, a := range supported {
		byID[a.ID()] = a
	}
	for _, l := range def.SelfAndDescendants() {
		if a := byID[l.ID()]; a != nil {
			return a, nil
		}
	}
	return nil, nil
}

func isNil(l Level) bool {
	switch v := l.(type) {
	case nil:
		return true
	case *LevelDefinition:
		return v == nil
	case *LevelAssociation:
		return v == nil
	}
	return false
}
