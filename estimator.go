package bigcontext

import "math"

// asciiCharsPerToken and nonASCIICharsPerToken are the two-class token
// density heuristic: Latin-script text tokenizes at roughly 4
// chars/token, non-Latin scripts 2-3x denser.
const (
	asciiCharsPerToken    = 4.0
	nonASCIICharsPerToken = 1.5
)

// EstimateTokens returns a script-aware token count for s. Code points ≤
// 127 count as ASCII at asciiCharsPerToken chars/token; code points > 127
// count at nonASCIICharsPerToken chars/token. The result is the ceiling of
// the sum of the two classes, never an exact provider tokenization.
func EstimateTokens(s string) int {
	var ascii, nonASCII int
	for _, r := range s {
		if r <= 127 {
			ascii++
		} else {
			nonASCII++
		}
	}
	return int(math.Ceil(float64(ascii)/asciiCharsPerToken + float64(nonASCII)/nonASCIICharsPerToken))
}
