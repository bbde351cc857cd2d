package llm

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/agentia/replyflow/internal/domain/model"
)

// ParseOutcome records how a structured model response was recovered. The
// pipeline logs fallbacks but treats FallbackUsed values as usable.
type ParseOutcome int

const (
	ParseOK ParseOutcome = iota
	ParseFallbackUsed
	ParseUnusable
)

var (
	jsonObjectRe  = regexp.MustCompile(`(?s)\{.*\}`)
	quotedItemRe  = regexp.MustCompile(`[-\d]+\.?\s*["'“]([^"'”]+)["'”]`)
	emailFieldRe  = regexp.MustCompile(`(?s)\{\s*"email"\s*:\s*"((?:[^"\\]|\\.)*)"\s*\}`)
	sendFieldRe   = regexp.MustCompile(`"send"\s*:\s*(true|false)`)
	feedbackRe    = regexp.MustCompile(`"feedback"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	categoryWords = []struct {
		needles  []string
		category model.Category
	}{
		{[]string{"unrelated", "无关"}, model.CategoryUnrelated},
		{[]string{"complaint", "投诉"}, model.CategoryCustomerComplaint},
		{[]string{"feedback", "反馈"}, model.CategoryCustomerFeedback},
		{[]string{"enquiry", "inquiry", "咨询"}, model.CategoryProductEnquiry},
	}
)

// extractJSON pulls the first JSON object out of a response that may be
// wrapped in prose or a markdown fence.
func extractJSON(raw string) (string, bool) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	m := jsonObjectRe.FindString(cleaned)
	if m == "" {
		return "", false
	}
	return m, true
}

// parseCategory decodes the classifier output, falling back to a keyword scan
// and finally to the product_enquiry default.
func parseCategory(raw string) (model.Category, ParseOutcome) {
	if obj, ok := extractJSON(raw); ok {
		var out struct {
			Category string `json:"category"`
		}
		if json.Unmarshal([]byte(obj), &out) == nil {
			switch model.Category(strings.TrimSpace(out.Category)) {
			case model.CategoryProductEnquiry, model.CategoryCustomerComplaint,
				model.CategoryCustomerFeedback, model.CategoryUnrelated:
				return model.Category(strings.TrimSpace(out.Category)), ParseOK
			}
		}
	}
	lower := strings.ToLower(raw)
	for _, cw := range categoryWords {
		for _, n := range cw.needles {
			if strings.Contains(lower, n) {
				return cw.category, ParseFallbackUsed
			}
		}
	}
	return model.CategoryProductEnquiry, ParseUnusable
}

// parseQueries decodes the query-synthesis output. Malformed responses fall
// back to quoted bullet/numbered items; the caller applies the
// first-100-chars default when nothing survives.
func parseQueries(raw string) ([]string, ParseOutcome) {
	if obj, ok := extractJSON(raw); ok {
		var out struct {
			Queries []string `json:"queries"`
		}
		if json.Unmarshal([]byte(obj), &out) == nil && len(out.Queries) > 0 {
			return trimAll(out.Queries), ParseOK
		}
	}
	if items := quotedItemRe.FindAllStringSubmatch(raw, -1); len(items) > 0 {
		queries := make([]string, 0, len(items))
		for _, it := range items {
			queries = append(queries, strings.TrimSpace(it[1]))
		}
		return queries, ParseFallbackUsed
	}
	return nil, ParseUnusable
}

// parseDraft decodes the writer output. Unescaped control characters break
// strict JSON decoding, so the email field is regex-extracted as a fallback;
// as a last resort the whole text is the draft.
func parseDraft(raw string) (string, ParseOutcome) {
	if obj, ok := extractJSON(raw); ok {
		var out struct {
			Email string `json:"email"`
		}
		if json.Unmarshal([]byte(obj), &out) == nil && strings.TrimSpace(out.Email) != "" {
			return out.Email, ParseOK
		}
	}
	if m := emailFieldRe.FindStringSubmatch(raw); m != nil {
		return unescapeJSONString(m[1]), ParseFallbackUsed
	}
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", ParseUnusable
	}
	return text, ParseFallbackUsed
}

// parseProofread decodes the proofreader verdict, with field-level regex
// recovery. An unusable verdict is treated by the caller as not sendable.
func parseProofread(raw string) (send bool, feedback string, outcome ParseOutcome) {
	if obj, ok := extractJSON(raw); ok {
		var out struct {
			Send     bool   `json:"send"`
			Feedback string `json:"feedback"`
		}
		if json.Unmarshal([]byte(obj), &out) == nil {
			return out.Send, out.Feedback, ParseOK
		}
	}
	sm := sendFieldRe.FindStringSubmatch(raw)
	if sm == nil {
		return false, "", ParseUnusable
	}
	send = sm[1] == "true"
	if fm := feedbackRe.FindStringSubmatch(raw); fm != nil {
		feedback = unescapeJSONString(fm[1])
	}
	return send, feedback, ParseFallbackUsed
}

func unescapeJSONString(s string) string {
	r := strings.NewReplacer(
		`\n`, "\n",
		`\r`, "\r",
		`\t`, "\t",
		`\"`, `"`,
		`\\`, `\`,
	)
	return r.Replace(s)
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}
