// Package urgency classifies how quickly a message needs attention based on
// keyword tables over subject and body.
package urgency

import (
	"regexp"
	"strings"

	"github.com/agentia/replyflow/internal/domain/model"
)

var urgentPatterns = compileAll(
	"urgent", "asap", "immediately", "emergency", "critical",
	"crisis", "outage", "down", "not working", "broken",
	"fail", "failure", "error", "panic", "help",
	"紧急", "立即", "马上", "立刻", "十万火急",
	"急件", "急事", "催促", "尽快", "非常重要",
	"系统宕机", "服务中断", "无法访问", "出问题了",
	"非常着急", "尽快处理", "刻不容缓",
	"生死攸关", "迫在眉睫", "火烧眉毛",
)

var highPatterns = compileAll(
	"important", "priority", "as soon as possible",
	"need response", "waiting for", "follow up",
	"time sensitive", "deadline", "due today",
	"重要", "重要事项", "重要通知", "重要客户",
	"尽快回复", "尽快完成", "重要提醒",
	"请尽快", "麻烦尽快", "提醒", "注意事项", "需要尽快",
	"请马上", "请立即", "请立刻", "麻烦您",
	"尽快安排", "尽快解决",
)

var mediumPatterns = compileAll(
	"request", "please", "would you", "could you",
	"when possible", "at your convenience",
	"请", "请问", "希望", "期望", "建议",
	"能否", "是否可以", "方便的话", "谢谢配合",
	"麻烦", "感谢", "请帮忙", "请协助",
	"希望您", "请您", "如有可能", "如果方便",
)

// loweringPatterns force the level down to low regardless of other matches.
var loweringPatterns = compileAll(
	"不急", "慢慢来", "有空再说", "随你", "没关系",
	"不必着急", "不用急", "慢慢处理", "不着急",
	"有时间再说", "以后再说", "延后处理", "低优先级",
	"no rush", "take your time", "whenever", "not urgent",
)

func compileAll(words ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(words))
	for _, w := range words {
		out = append(out, regexp.MustCompile("(?i)"+regexp.QuoteMeta(w)))
	}
	return out
}

// Analyze returns the urgency level and the keywords that triggered it.
func Analyze(subject, body string) (model.Urgency, []string) {
	text := strings.ToLower(subject + " " + body)

	for _, p := range loweringPatterns {
		if p.MatchString(text) {
			return model.UrgencyLow, nil
		}
	}

	levels := []struct {
		level    model.Urgency
		patterns []*regexp.Regexp
	}{
		{model.UrgencyUrgent, urgentPatterns},
		{model.UrgencyHigh, highPatterns},
		{model.UrgencyMedium, mediumPatterns},
	}
	for _, lv := range levels {
		var matched []string
		for _, p := range lv.patterns {
			if loc := p.FindString(text); loc != "" {
				matched = append(matched, loc)
			}
		}
		if len(matched) > 0 {
			return lv.level, matched
		}
	}
	return model.UrgencyLow, nil
}

// Score maps a level onto a 0-100 scale for UI display.
func Score(level model.Urgency) int {
	switch level {
	case model.UrgencyUrgent:
		return 100
	case model.UrgencyHigh:
		return 75
	case model.UrgencyMedium:
		return 50
	default:
		return 25
	}
}
