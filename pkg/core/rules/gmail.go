package rules

import (
	"regexp"
	"strings"

	"github.com/vango-go/vai-voice/pkg/core/types"
)

// MessageIDPlaceholder marks an argument that must be bound from the result
// of an earlier call before execution.
const MessageIDPlaceholder = "メールID"

// DefaultReplyBody is used when no reply text can be extracted.
const DefaultReplyBody = "了解しました。"

var (
	replyKeywords = []string{"返信", "返事", "reply"}
	readKeywords  = []string{"未読", "読", "内容", "確認", "開いて", "チェック"}

	replyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(.+?)って返信`),
		regexp.MustCompile(`(.+?)と返信`),
		regexp.MustCompile(`(.+?)て返信`),
		regexp.MustCompile(`(.+?)って返事`),
		regexp.MustCompile(`(.+?)と返事`),
		regexp.MustCompile(`(.+?)て返事`),
	}
	replySplit   = regexp.MustCompile(`(って|と|て)?(返信|返事)`)
	replyPrefix  = regexp.MustCompile(`^(メールに|最新のメールに)`)
	notReplyText = map[string]struct{}{"届いてる": {}, "わかった": {}, "了解": {}}
)

// SuggestGmailCalls maps a mail-related utterance to gmail tool calls.
// A reply request becomes a list of the latest message followed by a reply
// whose message_id is bound from that list. Keywords match case-insensitively;
// the reply body keeps the caller's casing.
func SuggestGmailCalls(utterance string) []types.ToolCall {
	input := strings.ToLower(utterance)
	if containsAny(input, replyKeywords) {
		return []types.ToolCall{
			{Name: "gmail", Input: map[string]any{"action": "list", "max_results": 1}},
			{Name: "gmail", Input: map[string]any{
				"action":     "reply",
				"message_id": MessageIDPlaceholder,
				"body":       ExtractReplyText(utterance),
			}},
		}
	}
	if containsAny(input, readKeywords) {
		return []types.ToolCall{
			{Name: "gmail", Input: map[string]any{"action": "list", "query": "is:unread", "max_results": 5}},
		}
	}
	return []types.ToolCall{
		{Name: "gmail", Input: map[string]any{"action": "list", "max_results": 5}},
	}
}

// ExtractReplyText returns the reply body embedded in an utterance such as
// 「了解です」って返信して.
func ExtractReplyText(utterance string) string {
	input := strings.TrimSpace(utterance)
	for _, re := range replyPatterns {
		m := re.FindStringSubmatch(input)
		if m == nil {
			continue
		}
		if text := stripReplyPrefix(m[1]); text != "" {
			return text
		}
	}

	if strings.Contains(input, "返信") || strings.Contains(input, "返事") {
		head := strings.TrimSpace(replySplit.Split(input, 2)[0])
		if text := stripReplyPrefix(head); text != "" {
			if _, skip := notReplyText[text]; !skip {
				return text
			}
		}
	}
	return DefaultReplyBody
}

func stripReplyPrefix(s string) string {
	return replyPrefix.ReplaceAllString(strings.TrimSpace(s), "")
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
