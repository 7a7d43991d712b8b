package model

import (
	"fmt"
	"math/rand"
)

var tagAdjectives = []string{
	"Brave", "Mighty", "Swift", "Noble", "Epic",
	"Legendary", "Divine", "Mystic", "Shadow", "Fire",
}

var tagNouns = []string{
	"Warrior", "Mage", "Archer", "Knight", "Hero",
	"Champion", "Hunter", "Guardian", "Master", "Legend",
}

// NewUniqueTag builds a human-friendly identifier like "BraveWarrior1234".
// It is display-only; collisions are tolerable because the real key is the
// profile id.
func NewUniqueTag() string {
	adj := tagAdjectives[rand.Intn(len(tagAdjectives))]
	noun := tagNouns[rand.Intn(len(tagNouns))]
	return fmt.Sprintf("%s%s%04d", adj, noun, rand.Intn(10000))
}

// ReputationLevel buckets a reputation score into a display tier.
func ReputationLevel(rep int) string {
	switch {
	case rep >= 180:
		return "Legendary"
	case rep >= 150:
		return "Excellent"
	case rep >= 120:
		return "Good"
	case rep >= 80:
		return "Average"
	case rep >= 50:
		return "Poor"
	default:
		return "Bad"
	}
}
