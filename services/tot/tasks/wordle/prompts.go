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
	"fmt"
	"strings"
	"text/template"
)

// hiddenTarget stands in for the target word in prompts shown to the model.
const hiddenTarget = "[hidden]"

const standardText = `You're playing Wordle. Your goal is to guess a 5-letter word in one shot.

Target word: {{.input}}

Provide your guess (a valid 5-letter word):
`

const cotText = `You're playing Wordle. Your goal is to guess a 5-letter word within 6 tries.
After each guess, you'll be shown:
🟩 = correct letter in correct position
🟨 = correct letter in wrong position
⬛ = letter not in the word

Target word: {{.input}}
Your guesses:
{{.guesses}}
Our feedback:
{{.feedback}}

Let's think step by step to figure out the best guess.
First, let's analyze what we know from previous guesses.
Then, let's identify potential candidates that match our constraints.
Finally, let's choose the best guess that will narrow down possibilities.

Reasoning:
`

const proposeText = `Based on the Wordle guesses so far:
{{.guesses}}

And the feedback:
{{.feedback}}

Let's brainstorm possible 5-letter words that could match. Suggest 5 different words as possible guesses, ranking them from most likely to least likely. For each one, explain briefly why it's a good guess. 

If there is no feedback or guesses so far, you must choose random 5-letter words to get started. Do not under any situation respond with anything outside of the following format.

Format:
1. [WORD] - explanation
2. [WORD] - explanation
3. [WORD] - explanation
4. [WORD] - explanation
5. [WORD] - explanation
`

const valueText = `In Wordle, we need to evaluate how good a guess is.

Current state:
Guesses so far: 
{{.guesses}}

Feedback so far:
{{.feedback}}

Next guess: {{.next_guess}}

How good is this guess? Consider:
1. Does it use information from previous guesses effectively?
2. Does it test new letters that haven't been tested?
3. Is it a common English word?
4. Will it help narrow down possibilities significantly?

Rate this guess as either:
- "Excellent" - Uses all available information and tests new possibilities optimally
- "Good" - Reasonable guess that uses most available information
- "Poor" - Ignores some known information or is an unlikely word

Rating:
`

const voteText = `In Wordle, we need to choose the best next guess.

Guesses so far:
{{.guesses}}

Feedback so far:
{{.feedback}}

Candidate next guesses:
{{.candidates}}

Compare the {{.n_candidates}} candidates. Prefer the one that uses the feedback best and tests the most useful new letters.
End with a single line naming the number of the best candidate, in the form "Best: N."
`

// NoCandidatesPrompt is the vote prompt for an empty candidate list.
const NoCandidatesPrompt = "No candidates to evaluate."

var (
	standardTmpl = newTemplate("standard", standardText)
	cotTmpl      = newTemplate("cot", cotText)
	proposeTmpl  = newTemplate("propose", proposeText)
	valueTmpl    = newTemplate("value", valueText)
	voteTmpl     = newTemplate("vote", voteText)
)

func newTemplate(name, text string) *template.Template {
	return template.Must(template.New(name).Option("missingkey=error").Parse(text))
}

func render(t *template.Template, data map[string]string) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", t.Name(), err)
	}
	return b.String(), nil
}
