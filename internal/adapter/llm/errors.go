package llm

import "errors"

// errUnusableDraft marks a writer response that produced no draft text even
// after fallback extraction.
var errUnusableDraft = errors.New("llm: writer returned no usable draft")

// IsUnusableDraft reports whether an error came from an empty writer result.
func IsUnusableDraft(err error) bool {
	return errors.Is(err, errUnusableDraft)
}
