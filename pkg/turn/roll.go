package turn

import (
	"fmt"

	"github.com/KirkDiggler/rpg-toolkit/dice"
)

// Roll throws the requested die for a player who would rather not pick a
// number. The result is always in [1, UpperBound].
func (d DiceRequest) Roll() (int, error) {
	sides := d.UpperBound
	if sides <= 0 {
		sides = DefaultDieSides
	}
	roll, err := dice.NewRoll(1, sides)
	if err != nil {
		return 0, fmt.Errorf("failed to roll %s: %w", DieType(sides), err)
	}
	return roll.GetValue(), nil
}
