package game

import (
	"encoding/json"
	"fmt"

	"github.com/qninhdt/wyvern-ai/internal/db"
)

// SpellSlots are the remaining slots per spell level
type SpellSlots struct {
	Level1 *int `json:"level1,omitempty" validate:"omitempty,min=0"`
	Level2 *int `json:"level2,omitempty" validate:"omitempty,min=0"`
	Level3 *int `json:"level3,omitempty" validate:"omitempty,min=0"`
	Level4 *int `json:"level4,omitempty" validate:"omitempty,min=0"`
	Level5 *int `json:"level5,omitempty" validate:"omitempty,min=0"`
	Level6 *int `json:"level6,omitempty" validate:"omitempty,min=0"`
	Level7 *int `json:"level7,omitempty" validate:"omitempty,min=0"`
	Level8 *int `json:"level8,omitempty" validate:"omitempty,min=0"`
	Level9 *int `json:"level9,omitempty" validate:"omitempty,min=0"`
}

// ClassRecord is one class of a character or monster
type ClassRecord struct {
	ClassName    string `json:"className" jsonschema:"required,description=Class name such as Wizard or Fighter" validate:"required"`
	SubclassName string `json:"subclassName,omitempty" jsonschema:"description=Subclass or archetype"`
	Level        int    `json:"level,omitempty" jsonschema:"description=Levels taken in this class" validate:"omitempty,min=1,max=20"`
	PrimaryClass bool   `json:"primaryClass,omitempty" jsonschema:"description=Whether this is the starting class"`
}

// PlayerRecord is the shape a player sheet must have before it is written
type PlayerRecord struct {
	HP         *float64      `json:"hp" jsonschema:"required,description=Current hit points" validate:"required"`
	Name       string        `json:"name,omitempty" jsonschema:"description=Character name"`
	Status     string        `json:"status,omitempty" jsonschema:"description=Conditions such as poisoned or unconscious"`
	Class      []ClassRecord `json:"class,omitempty" jsonschema:"description=Character classes" validate:"omitempty,dive"`
	Level      int           `json:"level,omitempty" jsonschema:"description=Character level" validate:"omitempty,min=1,max=20"`
	Species    string        `json:"species,omitempty" jsonschema:"description=Species or race"`
	Spells     []string      `json:"spells,omitempty" jsonschema:"description=Known or prepared spells"`
	Inventory  []string      `json:"inventory,omitempty" jsonschema:"description=Carried items"`
	SpellSlots *SpellSlots   `json:"spellSlots,omitempty" jsonschema:"description=Remaining spell slots per level"`
	Background string        `json:"background,omitempty"`
	Alignment  string        `json:"alignment,omitempty"`
	Feats      []string      `json:"feats,omitempty"`
}

// MonsterRecord is the shape a monster must have before it is written
type MonsterRecord struct {
	HP     *float64     `json:"hp" jsonschema:"required,description=Current hit points" validate:"required"`
	Type   string       `json:"type" jsonschema:"required,description=Monster type such as goblin or dragon" validate:"required"`
	Status string       `json:"status,omitempty" jsonschema:"description=Conditions such as frightened or dead"`
	Class  *ClassRecord `json:"class,omitempty" jsonschema:"description=Monster class if it has one"`
}

// fields converts a record into the document fields it sets. Omitted optional
// fields are absent so existing values survive the merge.
func fields(record any) (db.Document, error) {
	body, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	var doc db.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// RenderState serializes the game state for the system prompt
func RenderState(state *db.GameState) string {
	if state == nil {
		state = db.NewGameState()
	}
	body, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"players": {}, "monsters": {}, "error": %q}`, err.Error())
	}
	return string(body)
}
