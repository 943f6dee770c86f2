package requirements

import "unicode/utf8"

// TruncationSuffix marks a message that was cut to fit the character budget
const TruncationSuffix = "\n\n[Message truncated for processing...]"

// GenerationRequest is the raw request text of one pipeline run
type GenerationRequest struct {
	RawText   string `json:"raw_text"`
	MaxLength int    `json:"max_length"`
}

// Truncation reports what Normalize did to the request
type Truncation struct {
	OriginalLength  int  `json:"original_length"`
	TruncatedLength int  `json:"truncated_length"`
	Truncated       bool `json:"truncated"`
}

// Normalize returns the text to process. Text longer than MaxLength
// characters is cut at the budget and suffixed with TruncationSuffix.
// A non-positive MaxLength disables truncation.
func (r GenerationRequest) Normalize() (string, Truncation) {
	n := utf8.RuneCountInString(r.RawText)
	info := Truncation{OriginalLength: n, TruncatedLength: n}
	if r.MaxLength <= 0 || n <= r.MaxLength {
		return r.RawText, info
	}

	runes := []rune(r.RawText)
	out := string(runes[:r.MaxLength]) + TruncationSuffix
	info.Truncated = true
	info.TruncatedLength = utf8.RuneCountInString(out)
	return out, info
}
