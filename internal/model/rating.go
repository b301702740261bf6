package model

import (
	"encoding"
	"encoding/json"
	"fmt"
)

// Rating is the qualitative recall-quality signal fed to the scheduler.
type Rating int

const (
	RatingForgot Rating = iota + 1 // Not recalled.
	RatingHard                     // Recalled with significant difficulty.
	RatingGood                     // Recalled with some effort.
	RatingEasy                     // Recalled effortlessly.
)

var (
	ratingNames  = [...]string{RatingForgot: "forgot", RatingHard: "hard", RatingGood: "good", RatingEasy: "easy"}
	ratingByName = map[string]Rating{
		"forgot": RatingForgot,
		"hard":   RatingHard,
		"good":   RatingGood,
		"easy":   RatingEasy,
	}
)

var (
	_ fmt.Stringer             = Rating(0)
	_ json.Marshaler           = Rating(0)
	_ json.Unmarshaler         = (*Rating)(nil)
	_ encoding.TextMarshaler   = Rating(0)
	_ encoding.TextUnmarshaler = (*Rating)(nil)
)

// String returns the rating name. Invalid values render as "Rating(n)".
func (r Rating) String() string {
	if r.IsValid() {
		return ratingNames[r]
	}
	return fmt.Sprintf("Rating(%d)", int(r))
}

// IsValid reports whether r is one of the four ratings.
func (r Rating) IsValid() bool {
	return r >= RatingForgot && r <= RatingEasy
}

// ParseRating returns the rating with the given name.
func ParseRating(s string) (Rating, error) {
	r, ok := ratingByName[s]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRating, s)
	}
	return r, nil
}

// MarshalText implements encoding.TextMarshaler.
func (r Rating) MarshalText() ([]byte, error) {
	if !r.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRating, int(r))
	}
	return []byte(ratingNames[r]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Rating) UnmarshalText(text []byte) error {
	v, err := ParseRating(string(text))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// MarshalJSON implements json.Marshaler. Rating serializes as a JSON string.
func (r Rating) MarshalJSON() ([]byte, error) {
	text, err := r.MarshalText()
	if err != nil {
		return nil, err
	}
	return json.Marshal(string(text))
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Rating) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRating, data)
	}
	return r.UnmarshalText([]byte(s))
}
