// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package verdict classifies free-text judgements returned by a language
// model: qualitative ratings of a single candidate and rank markers in a
// vote over several candidates.
//
// Patterns live in ordered tables. The first table entry found in a line
// wins, so table order is part of the contract.
package verdict

import (
	"strconv"
	"strings"
)

// Kind tags a classification result.
type Kind int

const (
	// Unrecognized means no pattern matched.
	Unrecognized Kind = iota
	// Rating means the line carried a rating keyword.
	Rating
	// VoteMarker means the line referenced a candidate by rank.
	VoteMarker
)

func (k Kind) String() string {
	switch k {
	case Rating:
		return "rating"
	case VoteMarker:
		return "vote_marker"
	default:
		return "unrecognized"
	}
}

// Level is a qualitative rating.
type Level int

const (
	LevelPoor Level = iota + 1
	LevelGood
	LevelExcellent
)

func (l Level) String() string {
	switch l {
	case LevelPoor:
		return "Poor"
	case LevelGood:
		return "Good"
	case LevelExcellent:
		return "Excellent"
	default:
		return "Unknown"
	}
}

// Result is a tagged classification.
//
// Level is set when Kind is Rating. Rank is set when Kind is VoteMarker and
// is 0-based: the first candidate has Rank 0.
type Result struct {
	Kind  Kind
	Level Level
	Rank  int
}

// Recognized reports whether a pattern matched.
func (r Result) Recognized() bool { return r.Kind != Unrecognized }

type ratingPattern struct {
	keyword string
	level   Level
}

// ratingTable is scanned in order; keywords match case-sensitively.
var ratingTable = []ratingPattern{
	{keyword: "Poor", level: LevelPoor},
	{keyword: "Good", level: LevelGood},
	{keyword: "Excellent", level: LevelExcellent},
}

// markerTable holds rank marker templates. %d is replaced by the 1-based
// candidate number.
var markerTable = []string{
	"%d.",
	"Rank %d:",
	"%d -",
	"#%d",
	"(%d)",
	"%dst",
	"%dnd",
	"%drd",
	"%dth",
}

// ClassifyRating returns a Rating result for the first rating keyword found
// in line, or an Unrecognized result.
func ClassifyRating(line string) Result {
	for _, p := range ratingTable {
		if strings.Contains(line, p.keyword) {
			return Result{Kind: Rating, Level: p.level}
		}
	}
	return Result{Kind: Unrecognized}
}

// ClassifyVote returns a VoteMarker result for the lowest-numbered candidate
// among n whose marker appears in line, or an Unrecognized result.
func ClassifyVote(line string, n int) Result {
	for rank := 0; rank < n; rank++ {
		if containsMarker(line, rank+1) {
			return Result{Kind: VoteMarker, Rank: rank}
		}
	}
	return Result{Kind: Unrecognized}
}

// Markers returns the concrete marker strings for 1-based candidate number.
func Markers(number int) []string {
	num := strconv.Itoa(number)
	out := make([]string, len(markerTable))
	for i, tmpl := range markerTable {
		out[i] = strings.Replace(tmpl, "%d", num, 1)
	}
	return out
}

func containsMarker(line string, number int) bool {
	for _, m := range Markers(number) {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}

// LastLine returns the last line of s after trimming surrounding whitespace.
func LastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Lines splits s into lines after trimming surrounding whitespace.
func Lines(s string) []string {
	return strings.Split(strings.TrimSpace(s), "\n")
}
