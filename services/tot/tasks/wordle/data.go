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
	"bufio"
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"
)

//go:embed data/wordle.txt
var embeddedWords []byte

// DefaultWords returns the embedded word list.
func DefaultWords() []string {
	words, err := ReadWords(bytes.NewReader(embeddedWords))
	if err != nil {
		panic(fmt.Sprintf("wordle: embedded word list: %v", err))
	}
	return words
}

// ReadWords reads one word per line. Lines are trimmed and lowercased;
// blank lines are skipped. Order is kept, duplicates included, because the
// list doubles as the instance index.
func ReadWords(r io.Reader) ([]string, error) {
	var words []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		w := strings.ToLower(strings.TrimSpace(sc.Text()))
		if w == "" {
			continue
		}
		words = append(words, w)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read word list: %w", err)
	}
	if len(words) == 0 {
		return nil, ErrEmptyWordList
	}
	return words, nil
}

// ReadWordsFile reads a word list from path.
func ReadWordsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open word list: %w", err)
	}
	defer f.Close()
	return ReadWords(f)
}
