package detector

// Level is the ordinal detection strength.
type Level int

const (
	LevelNone Level = iota
	LevelSuspected
	LevelConfirmed
	LevelConfirmedBoth
)

// ClassifierParams configures Classify.
type ClassifierParams struct {
	LowLevel  float64
	HighLevel float64

	EdgesEnabled     bool
	ConfirmerEnabled bool
	ConfirmThreshold float64
}

// DefaultClassifierParams returns the level bounds used without a confirmer.
func DefaultClassifierParams() ClassifierParams {
	return ClassifierParams{
		LowLevel:         3,
		HighLevel:        5.5,
		EdgesEnabled:     true,
		ConfirmThreshold: 45,
	}
}

// Classify maps an activation and a confirmation score to a level. The
// score is ignored unless the confirmer is enabled. With a confirmer the
// edge detector alone never reaches LevelConfirmed.
func Classify(activation, score float64, p ClassifierParams) Level {
	level := LevelNone
	if p.EdgesEnabled {
		switch {
		case !p.ConfirmerEnabled && activation > p.HighLevel:
			level = LevelConfirmed
		case activation > p.LowLevel:
			level = LevelSuspected
		}
	}

	if p.ConfirmerEnabled && score > p.ConfirmThreshold {
		if p.EdgesEnabled {
			level++
		} else {
			level = LevelConfirmed
		}
	}
	return level
}
