package schemas

import (
	"fmt"
	"strings"
)

// ScreenType is the kind of game screen currently displayed.
type ScreenType string

const (
	ScreenMenu ScreenType = "Menu"
	ScreenShop ScreenType = "Shop"
	ScreenPlay ScreenType = "Play"
)

// RunParameters are the counters of the current run.
type RunParameters struct {
	Hands          int    `json:"hands"`
	Discards       int    `json:"discards"`
	Money          int    `json:"money"`
	Ante           int    `json:"ante"`
	Round          int    `json:"round"`
	Blind          string `json:"blind"`
	CurrentScore   int    `json:"current_score"`
	ObjectiveScore int    `json:"objective_score"`
}

// Joker is a joker card currently in play.
type Joker struct {
	Name string `json:"name"`
}

// ShopItem is an item offered in the shop. ItemType is one of
// "Joker", "Booster Pack", "Voucher" or "Other".
type ShopItem struct {
	Name     string `json:"name"`
	Price    int    `json:"price"`
	ItemType string `json:"item_type"`
}

// GamepadButton is an on-screen button together with the pad key that triggers it.
type GamepadButton struct {
	Name       string `json:"name"`
	GamepadKey string `json:"gamepad_key"`
}

// HighlightedElement is the single element under the cursor's focus.
type HighlightedElement struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// PickedHand describes the cards selected for play and their evaluation.
type PickedHand struct {
	PickedCards        []string `json:"picked_cards,omitempty"`
	CorrectPickedCards bool     `json:"correct_picked_cards"`
	HandType           string   `json:"hand_type"`
	Level              int      `json:"level"`
	Chips              int      `json:"chips"`
	Bonus              int      `json:"bonus"`
}

// PlayArea holds the player's hand and the current pick.
type PlayArea struct {
	Hand       []string    `json:"hand"`
	PickedHand *PickedHand `json:"picked_hand,omitempty"`
}

// GameState is the structured reading of a single screenshot produced by the
// screen analyzer in the hierarchical agent.
type GameState struct {
	Summary              string             `json:"summary"`
	Screen               ScreenType         `json:"screen"`
	RunParameters        RunParameters      `json:"run_parameters"`
	Jokers               []Joker            `json:"jokers"`
	ShopItems            []ShopItem         `json:"shop_items,omitempty"`
	GamepadButtons       []GamepadButton    `json:"gamepad_buttons"`
	HighlightedElement   HighlightedElement `json:"highlighted_element"`
	PlayArea             PlayArea           `json:"play_area"`
	ExecutionProgression string             `json:"execution_progression,omitempty"`
}

// Describe renders the state as the compact text the planner and the duplicate
// detector consume.
func (g GameState) Describe() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Screen: %s. %s", g.Screen, strings.TrimSpace(g.Summary))
	rp := g.RunParameters
	fmt.Fprintf(&sb, "\nRun: ante %d, round %d, blind %q, hands %d, discards %d, money $%d, score %d/%d.",
		rp.Ante, rp.Round, rp.Blind, rp.Hands, rp.Discards, rp.Money, rp.CurrentScore, rp.ObjectiveScore)
	if len(g.Jokers) > 0 {
		names := make([]string, 0, len(g.Jokers))
		for _, j := range g.Jokers {
			names = append(names, j.Name)
		}
		fmt.Fprintf(&sb, "\nJokers: %s.", strings.Join(names, ", "))
	}
	if len(g.ShopItems) > 0 {
		items := make([]string, 0, len(g.ShopItems))
		for _, it := range g.ShopItems {
			items = append(items, fmt.Sprintf("%s (%s, $%d)", it.Name, it.ItemType, it.Price))
		}
		fmt.Fprintf(&sb, "\nShop: %s.", strings.Join(items, ", "))
	}
	if len(g.GamepadButtons) > 0 {
		buttons := make([]string, 0, len(g.GamepadButtons))
		for _, b := range g.GamepadButtons {
			buttons = append(buttons, fmt.Sprintf("%s=%s", b.GamepadKey, b.Name))
		}
		fmt.Fprintf(&sb, "\nButtons: %s.", strings.Join(buttons, ", "))
	}
	if h := g.HighlightedElement; h.Name != "" {
		fmt.Fprintf(&sb, "\nHighlighted: %s %q", h.Type, h.Name)
		if h.Description != "" {
			fmt.Fprintf(&sb, " (%s)", h.Description)
		}
		sb.WriteString(".")
	}
	if len(g.PlayArea.Hand) > 0 {
		fmt.Fprintf(&sb, "\nHand: %s.", strings.Join(g.PlayArea.Hand, ", "))
	}
	if ph := g.PlayArea.PickedHand; ph != nil {
		fmt.Fprintf(&sb, "\nPicked: [%s] %s lvl.%d, %d chips x %d.",
			strings.Join(ph.PickedCards, ", "), ph.HandType, ph.Level, ph.Chips, ph.Bonus)
	}
	if g.ExecutionProgression != "" {
		fmt.Fprintf(&sb, "\nProgress: %s", g.ExecutionProgression)
	}
	return sb.String()
}
