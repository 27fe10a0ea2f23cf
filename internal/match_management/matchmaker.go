package match_management

import (
	"strings"

	"peerprep/matching/internal/models"
	"peerprep/matching/internal/topics"
)

// NormalizeDifficulty canonicalizes difficulty labels to title case so
// matching is case-insensitive; unknown labels pass through trimmed.
func NormalizeDifficulty(difficulty string) string {
	switch strings.ToLower(strings.TrimSpace(difficulty)) {
	case "easy":
		return models.DifficultyEasy
	case "medium":
		return models.DifficultyMedium
	case "hard":
		return models.DifficultyHard
	default:
		return strings.TrimSpace(difficulty)
	}
}

// FindBestMatch selects a compatible waiting user for the candidate.
// Difficulty equality is mandatory; an exact difficulty+topic match is
// strictly preferred over a difficulty-only match regardless of
// arrival time; within each tier the earliest arrival (queue order)
// wins. Entries already marked matched, and the candidate itself, are
// skipped.
func FindBestMatch(entries []models.WaitingEntry, candidate models.WaitingEntry) (models.WaitingEntry, bool) {
	candidateDifficulty := NormalizeDifficulty(candidate.Difficulty)
	candidateTopic := topics.Normalize(candidate.Topic)

	var difficultyOnly *models.WaitingEntry
	for i := range entries {
		entry := entries[i]
		if entry.Matched || entry.UserID == candidate.UserID {
			continue
		}
		if NormalizeDifficulty(entry.Difficulty) != candidateDifficulty {
			continue
		}
		if topics.Normalize(entry.Topic) == candidateTopic {
			return entry, true
		}
		if difficultyOnly == nil {
			difficultyOnly = &entries[i]
		}
	}

	if difficultyOnly != nil {
		return *difficultyOnly, true
	}
	return models.WaitingEntry{}, false
}
