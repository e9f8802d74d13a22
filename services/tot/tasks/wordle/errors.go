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

import "errors"

var (
	// ErrIndexOutOfRange is returned when an instance index is outside the
	// word list.
	ErrIndexOutOfRange = errors.New("wordle: index out of range")

	// ErrEmptyWordList is returned when a word list has no usable entries.
	ErrEmptyWordList = errors.New("wordle: word list is empty")
)
