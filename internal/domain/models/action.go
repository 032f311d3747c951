package models

import "strings"

// Action is a trading direction.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Actions lists every action in priority order. Ties in fusion and in the
// Q-table are resolved by position in this slice.
var Actions = [...]Action{ActionBuy, ActionSell, ActionHold}

// ParseAction normalises s into an Action. The boolean is false when s is
// not one of BUY, SELL or HOLD.
func ParseAction(s string) (Action, bool) {
	a := Action(strings.ToUpper(strings.TrimSpace(s)))
	return a, a.Valid()
}

func (a Action) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionHold:
		return true
	default:
		return false
	}
}

// Opposite returns the closing side for a held direction. HOLD has none.
func (a Action) Opposite() Action {
	switch a {
	case ActionBuy:
		return ActionSell
	case ActionSell:
		return ActionBuy
	default:
		return ActionHold
	}
}

// Encode maps the action onto the regression scale BUY=1, SELL=-1, anything else 0.
func (a Action) Encode() float64 {
	switch a {
	case ActionBuy:
		return 1
	case ActionSell:
		return -1
	default:
		return 0
	}
}

func (a Action) String() string { return string(a) }
