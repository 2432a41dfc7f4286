// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_lead

import (
	"regexp"
	"strings"
)

var emailPattern = regexp.MustCompile(`[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)

// interestKeywords are substrings that suggest purchase intent. A heuristic,
// not a guarantee; false positives and negatives are acceptable.
var interestKeywords = []string{"interest", "buy", "learn more"}

// Flags is the outcome of transcript qualification.
type Flags struct {
	HasEmail    bool
	HasInterest bool
}

// Qualified reports whether the call warrants a lead record at all.
func (f Flags) Qualified() bool {
	return f.HasEmail || f.HasInterest
}

// Score maps the flags to a lead score: 80 when both signals are present,
// 50 for a single signal, 0 otherwise.
func (f Flags) Score() int {
	switch {
	case f.HasEmail && f.HasInterest:
		return 80
	case f.HasEmail || f.HasInterest:
		return 50
	default:
		return 0
	}
}

// Qualify scans the concatenated transcript text for an email address and
// interest keywords.
func Qualify(transcript string) Flags {
	text := strings.ToLower(transcript)

	flags := Flags{
		HasEmail: emailPattern.MatchString(text),
	}
	for _, keyword := range interestKeywords {
		if strings.Contains(text, keyword) {
			flags.HasInterest = true
			break
		}
	}
	return flags
}
