// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package wordle

import (
	"regexp"
	"strings"
)

// InvalidFeedback is the feedback for a guess with no 5-letter word in it.
const InvalidFeedback = "Invalid guess or target"

const (
	tileGreen  = "🟩"
	tileYellow = "🟨"
	tileBlack  = "⬛"
)

var (
	guessToken = regexp.MustCompile(`\b([A-Za-z]{5})\b`)
	upperToken = regexp.MustCompile(`\b([A-Z]{5})\b`)
)

// extractGuess returns the first standalone 5-letter token of s, lowercased.
func extractGuess(s string) (string, bool) {
	m := guessToken.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return strings.ToLower(m[1]), true
}

// Feedback scores guess against target, one tile per position.
//
// Greens are assigned first and consume their letter; yellows are then
// handed out left to right while the target still has unclaimed copies of
// the letter.
func Feedback(guess, target string) string {
	g, ok := extractGuess(guess)
	target = strings.ToLower(strings.TrimSpace(target))
	if !ok || len(target) != 5 {
		return InvalidFeedback
	}

	tiles := [5]string{tileBlack, tileBlack, tileBlack, tileBlack, tileBlack}
	remaining := make(map[byte]int, 5)
	for i := 0; i < 5; i++ {
		remaining[target[i]]++
	}
	for i := 0; i < 5; i++ {
		if g[i] == target[i] {
			tiles[i] = tileGreen
			remaining[g[i]]--
		}
	}
	for i := 0; i < 5; i++ {
		if tiles[i] != tileGreen && remaining[g[i]] > 0 {
			tiles[i] = tileYellow
			remaining[g[i]]--
		}
	}
	return strings.Join(tiles[:], "")
}

// History renders guesses and their feedback as two newline-joined blocks.
func History(guesses []string, target string) (string, string) {
	fb := make([]string, len(guesses))
	for i, g := range guesses {
		fb[i] = Feedback(g, target)
	}
	return strings.Join(guesses, "\n"), strings.Join(fb, "\n")
}
