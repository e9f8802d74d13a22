// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package wordle is the Wordle task: the model guesses a hidden 5-letter
// word in up to six steps, seeing tile feedback for every earlier guess.
//
// The word list is both the instance list, indexed for Input, and the set
// of valid guesses.
package wordle

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianToT/services/tot/search"
	"github.com/AleutianAI/AleutianToT/services/tot/verdict"
)

// Name is the registry name of the task.
const Name = "wordle"

const (
	// MaxGuesses is the number of steps in a game.
	MaxGuesses = 6

	// Oracle bonus added to a value score when the candidate is the target.
	oracleBonus = 10.0

	invalidWordFactor = 0.1
	repeatFactor      = 0.2
	minValue          = 0.01
)

var ratingWeights = map[verdict.Level]float64{
	verdict.LevelPoor:      0.2,
	verdict.LevelGood:      1.0,
	verdict.LevelExcellent: 5.0,
}

// proposalLine matches "1. CRANE - reason", "2) [slate]" and similar.
var proposalLine = regexp.MustCompile(`^\s*\d+\s*[.)]\s*\[?([A-Za-z]{5})\]?(?:[^A-Za-z]|$)`)

// Task implements search.Task for Wordle.
//
// Thread Safety: Safe for concurrent use after construction.
type Task struct {
	words        []string
	valid        map[string]struct{}
	oracleAssist bool
	logger       *slog.Logger
}

var _ search.Task = (*Task)(nil)

// Option configures a Task.
type Option func(*Task)

// WithOracleAssist toggles the value bonus for a candidate equal to the
// target. It is on by default.
func WithOracleAssist(on bool) Option {
	return func(t *Task) { t.oracleAssist = on }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Task) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// New builds a task over the embedded word list.
func New(opts ...Option) *Task {
	t, err := NewFromWords(DefaultWords(), opts...)
	if err != nil {
		panic(err)
	}
	return t
}

// Load builds a task over the word list at path.
func Load(path string, opts ...Option) (*Task, error) {
	words, err := ReadWordsFile(path)
	if err != nil {
		return nil, err
	}
	t, err := NewFromWords(words, opts...)
	if err != nil {
		return nil, err
	}
	t.logger.Info("wordle word list loaded",
		slog.String("path", path),
		slog.Int("words", len(words)))
	return t, nil
}

// NewFromWords builds a task over words, which are lowercased.
func NewFromWords(words []string, opts ...Option) (*Task, error) {
	t := &Task{
		valid:        make(map[string]struct{}, len(words)),
		oracleAssist: true,
		logger:       slog.Default(),
	}
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			t.words = append(t.words, w)
			t.valid[w] = struct{}{}
		}
	}
	if len(t.words) == 0 {
		return nil, ErrEmptyWordList
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// OracleAssist reports whether the target bonus is applied.
func (t *Task) OracleAssist() bool { return t.oracleAssist }

// IsValid reports whether word, case-insensitively, is in the word list.
func (t *Task) IsValid(word string) bool {
	_, ok := t.valid[strings.ToLower(strings.TrimSpace(word))]
	return ok
}

func (t *Task) Name() string { return Name }
func (t *Task) Len() int { return len(t.words) }
func (t *Task) Steps() int { return MaxGuesses }

func (t *Task) Stops() []string {
	stops := make([]string, MaxGuesses)
	for i := range stops {
		stops[i] = "\n"
	}
	return stops
}

// Input returns the target word of instance idx.
func (t *Task) Input(idx int) (string, error) {
	if idx < 0 || idx >= len(t.words) {
		return "", fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, idx, len(t.words))
	}
	return t.words[idx], nil
}

// =============================================================================
// PROMPTS
// =============================================================================

func (t *Task) StandardPrompt(_ string, _ search.State) (string, error) {
	return render(standardTmpl, map[string]string{"input": hiddenTarget})
}

func (t *Task) CoTPrompt(x string, y search.State) (string, error) {
	guesses, feedback := History(y.Steps(), x)
	return render(cotTmpl, map[string]string{
		"input":    hiddenTarget,
		"guesses":  guesses,
		"feedback": feedback,
	})
}

func (t *Task) ProposePrompt(x string, y search.State) (string, error) {
	guesses, feedback := History(y.Steps(), x)
	return render(proposeTmpl, map[string]string{
		"guesses":  guesses,
		"feedback": feedback,
	})
}

// ValuePrompt rates y's last step given the steps before it.
func (t *Task) ValuePrompt(x string, y search.State) (string, error) {
	guesses, feedback := History(y.Prefix().Steps(), x)
	return render(valueTmpl, map[string]string{
		"guesses":    guesses,
		"feedback":   feedback,
		"next_guess": y.Last(),
	})
}

// VotePrompt compares the last steps of candidates sharing a history. The
// history is taken from the first candidate.
func (t *Task) VotePrompt(x string, candidates []search.State) (string, error) {
	if len(candidates) == 0 {
		return NoCandidatesPrompt, nil
	}
	guesses, feedback := History(candidates[0].Prefix().Steps(), x)
	lines := make([]string, len(candidates))
	for i, c := range candidates {
		lines[i] = strconv.Itoa(i+1) + ". " + c.Last()
	}
	return render(voteTmpl, map[string]string{
		"guesses":      guesses,
		"feedback":     feedback,
		"candidates":   strings.Join(lines, "\n"),
		"n_candidates": strconv.Itoa(len(candidates)),
	})
}

// =============================================================================
// PARSING
// =============================================================================

// ParseProposals returns the lowercased word of every numbered line.
func (t *Task) ParseProposals(_ string, _ search.State, completion string) []string {
	var out []string
	for _, line := range strings.Split(completion, "\n") {
		if m := proposalLine.FindStringSubmatch(line); m != nil {
			out = append(out, strings.ToLower(m[1]))
		}
	}
	return out
}

// ParseSample pulls one guess out of a free-form completion. An uppercase
// word wins, then a bare 5-letter answer, then the last 5-letter word.
func (t *Task) ParseSample(_ string, _ search.State, completion string) (string, bool) {
	if m := upperToken.FindStringSubmatch(completion); m != nil {
		return strings.ToLower(m[1]), true
	}
	trimmed := strings.TrimSpace(completion)
	if len(trimmed) == 5 && guessToken.MatchString(trimmed) {
		return strings.ToLower(trimmed), true
	}
	all := guessToken.FindAllStringSubmatch(completion, -1)
	if len(all) == 0 {
		return "", false
	}
	return strings.ToLower(all[len(all)-1][1]), true
}

// =============================================================================
// SCORING
// =============================================================================

// ValueUnwrap turns value completions into a score.
//
// Each completion's last line contributes the weight of its first rating
// keyword. The sum is then cut to a tenth for a word outside the list, to a
// fifth for a repeated guess, and raised by the oracle bonus for the target
// when oracle assist is on. The result is never below 0.01.
func (t *Task) ValueUnwrap(x string, y search.State, outputs []string) float64 {
	var value float64
	for _, out := range outputs {
		r := verdict.ClassifyRating(verdict.LastLine(out))
		if r.Kind == verdict.Rating {
			value += ratingWeights[r.Level]
		}
	}

	guess := strings.ToLower(strings.TrimSpace(y.Last()))
	if len(guess) != 5 || !t.IsValid(guess) {
		value *= invalidWordFactor
	}
	for _, prev := range y.Prefix().Steps() {
		if strings.ToLower(strings.TrimSpace(prev)) == guess {
			value *= repeatFactor
			break
		}
	}
	if t.oracleAssist && guess == strings.ToLower(x) {
		value += oracleBonus
	}
	return max(minValue, value)
}

// VoteUnwrap tallies votes over n candidates. Every line naming candidate i
// (0-based) gives it n-i points; a line counts for the lowest candidate it
// names.
func (t *Task) VoteUnwrap(outputs []string, n int) []int {
	tally := make([]int, n)
	for _, out := range outputs {
		for _, line := range verdict.Lines(out) {
			r := verdict.ClassifyVote(line, n)
			if r.Kind == verdict.VoteMarker {
				tally[r.Rank] += n - r.Rank
			}
		}
	}
	return tally
}

// =============================================================================
// EVALUATION
// =============================================================================

// TestOutput scores a finished game against instance idx.
//
// A solved game earns 1.0 less 0.15 per extra guess, floored at 0.1. An
// unsolved game whose last guess has five letters earns 0.1 per letter in
// place plus 0.02 per distinct letter found in the target.
func (t *Task) TestOutput(idx int, y search.State) (search.Reward, error) {
	target, err := t.Input(idx)
	if err != nil {
		return search.Reward{}, err
	}

	var guesses []string
	for _, s := range y.Steps() {
		if s = strings.TrimSpace(s); s != "" {
			guesses = append(guesses, strings.ToLower(s))
		}
	}
	if len(guesses) == 0 {
		return search.Reward{}, nil
	}

	last := guesses[len(guesses)-1]
	if last == target {
		r := max(0.1, 1.0-float64(len(guesses)-1)*0.15)
		return search.Reward{R: r, Solved: true, Details: map[string]int{"guesses": len(guesses)}}, nil
	}
	if len(last) != 5 {
		return search.Reward{}, nil
	}

	positions := 0
	for i := 0; i < 5 && i < len(target); i++ {
		if last[i] == target[i] {
			positions++
		}
	}
	letters := 0
	seen := make(map[rune]bool, 5)
	for _, c := range last {
		if seen[c] {
			continue
		}
		seen[c] = true
		if strings.ContainsRune(target, c) {
			letters++
		}
	}
	return search.Reward{
		R: float64(positions)*0.1 + float64(letters)*0.02,
		Details: map[string]int{
			"correct_positions": positions,
			"correct_letters":   letters,
		},
	}, nil
}

// IsComplete reports whether the last guess is the target.
func (t *Task) IsComplete(x string, y search.State) bool {
	return strings.EqualFold(strings.TrimSpace(y.Last()), x)
}
