package scheduler

import (
	"time"

	fsrs "github.com/open-spaced-repetition/go-fsrs/v3"

	"github.com/Jmemon/contextual-clarity-sub001/internal/model"
)

// Config tunes the FSRS engine. Zero values keep the library defaults.
type Config struct {
	DesiredRetention float64 `yaml:"desired_retention"`
	MaximumInterval  float64 `yaml:"maximum_interval"`
	ShortTerm        *bool   `yaml:"short_term"`
}

// FSRS is an Algorithm backed by go-fsrs with fuzzing disabled, so the same
// input always yields the same due date.
type FSRS struct {
	engine *fsrs.FSRS
}

// Compile-time interface check.
var _ Algorithm = (*FSRS)(nil)

// NewFSRS creates an FSRS algorithm from cfg.
func NewFSRS(cfg Config) *FSRS {
	params := fsrs.DefaultParam()
	if cfg.DesiredRetention > 0 && cfg.DesiredRetention < 1 {
		params.RequestRetention = cfg.DesiredRetention
	}
	if cfg.MaximumInterval > 0 {
		params.MaximumInterval = cfg.MaximumInterval
	}
	if cfg.ShortTerm != nil {
		params.EnableShortTerm = *cfg.ShortTerm
	}
	params.EnableFuzz = false
	return &FSRS{engine: fsrs.NewFSRS(params)}
}

// Next implements Algorithm.
func (f *FSRS) Next(state model.MemoryState, rating model.Rating, now time.Time) model.MemoryState {
	info := f.engine.Next(toCard(state), now, toGrade(rating))
	return fromCard(info.Card)
}

// Retrievability implements Algorithm.
func (f *FSRS) Retrievability(state model.MemoryState, now time.Time) float64 {
	return f.engine.GetRetrievability(toCard(state), now)
}

func toCard(s model.MemoryState) fsrs.Card {
	card := fsrs.Card{
		Due:        s.Due,
		Stability:  s.Stability,
		Difficulty: s.Difficulty,
		Reps:       uint64(max(s.Reps, 0)),
		Lapses:     uint64(max(s.Lapses, 0)),
		State:      toCardState(s.Phase),
	}
	if s.LastReview != nil {
		card.LastReview = *s.LastReview
	}
	return card
}

func fromCard(c fsrs.Card) model.MemoryState {
	out := model.MemoryState{
		Stability:  c.Stability,
		Difficulty: c.Difficulty,
		Due:        c.Due,
		Reps:       int(c.Reps),
		Lapses:     int(c.Lapses),
		Phase:      fromCardState(c.State),
	}
	if !c.LastReview.IsZero() {
		lr := c.LastReview
		out.LastReview = &lr
	}
	return out
}

func toCardState(p model.Phase) fsrs.State {
	switch p {
	case model.PhaseLearning:
		return fsrs.Learning
	case model.PhaseReview:
		return fsrs.Review
	case model.PhaseRelearning:
		return fsrs.Relearning
	default:
		return fsrs.New
	}
}

func fromCardState(s fsrs.State) model.Phase {
	switch s {
	case fsrs.Learning:
		return model.PhaseLearning
	case fsrs.Review:
		return model.PhaseReview
	case fsrs.Relearning:
		return model.PhaseRelearning
	default:
		return model.PhaseNew
	}
}

func toGrade(r model.Rating) fsrs.Rating {
	switch r {
	case model.RatingEasy:
		return fsrs.Easy
	case model.RatingGood:
		return fsrs.Good
	case model.RatingHard:
		return fsrs.Hard
	default:
		return fsrs.Again
	}
}
