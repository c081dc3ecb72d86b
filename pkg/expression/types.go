// Package expression holds the two-eye expression state of the character.
//
// A State keeps the current (left, right) pair, arms the timed revert to
// neutral after agent-driven changes, and runs the background blink cycle.
// Scripted animations such as the wake-up sequence run on a Sequencer.
//
// All timing goes through a Clock so tests can drive it deterministically.
package expression

import (
	"fmt"
	"strings"
)

// Expression is one eye's visual state tag.
type Expression string

// The fixed expression enumeration.
const (
	Neutral   Expression = "neutral"
	Happy     Expression = "happy"
	Angry     Expression = "angry"
	Sad       Expression = "sad"
	Joyful    Expression = "joyful"
	Surprised Expression = "surprised"
	Slit      Expression = "slit"
	Wide      Expression = "wide"
	Smile     Expression = "smile"
	Tiny      Expression = "tiny"
	Love      Expression = "love"
	Thinking  Expression = "thinking"
	Blink     Expression = "blink"
)

// All lists every expression in declaration order. The update_eyes tool
// schema uses it as the enum for both parameters.
var All = []Expression{
	Neutral, Happy, Angry, Sad, Joyful, Surprised,
	Slit, Wide, Smile, Tiny, Love, Thinking, Blink,
}

// Names returns All as plain strings.
func Names() []string {
	out := make([]string, len(All))
	for i, e := range All {
		out[i] = string(e)
	}
	return out
}

// Valid reports whether e is part of the enumeration.
func (e Expression) Valid() bool {
	for _, known := range All {
		if e == known {
			return true
		}
	}
	return false
}

func (e Expression) String() string { return string(e) }

// Parse converts s to an Expression, case-insensitively.
func Parse(s string) (Expression, bool) {
	e := Expression(strings.ToLower(strings.TrimSpace(s)))
	return e, e.Valid()
}

// Pair is the (left, right) expression shown at one moment.
type Pair struct {
	Left  Expression `json:"left"`
	Right Expression `json:"right"`
}

// Both returns a pair with the same expression on each side.
func Both(e Expression) Pair { return Pair{Left: e, Right: e} }

// IsNeutral reports whether both sides are neutral.
func (p Pair) IsNeutral() bool { return p.Left == Neutral && p.Right == Neutral }

// HasBlink reports whether either side is blinking.
func (p Pair) HasBlink() bool { return p.Left == Blink || p.Right == Blink }

func (p Pair) String() string { return fmt.Sprintf("%s/%s", p.Left, p.Right) }
