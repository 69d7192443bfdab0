package dispatch

import (
	"context"
	"errors"
	"strings"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/credentials"
	"github.com/vango-go/vai-voice/pkg/core/tools"
)

// Apology is returned when no provider produces an answer.
const Apology = "申し訳ありませんが、処理中にエラーが発生しました。"

const (
	msgNotConnected  = "service not connected, please authorize first"
	msgUnresolved    = "対象のメールを特定できませんでした。先にメール一覧を確認してください。"
	msgUnknownTool   = "その操作には対応していません。"
	msgInvalidArgs   = "指示の内容を理解できませんでした。もう一度お願いします。"
	msgToolTimeout   = "外部サービスの応答がありませんでした。しばらくしてからもう一度お試しください。"
	msgToolRateLimit = "外部サービスが混み合っています。しばらくしてからもう一度お試しください。"
	msgToolFailed    = "操作を完了できませんでした。"
)

const summarySystemPrompt = `以下のツール実行結果を基に、ユーザーに分かりやすい応答を生成してください。
【重要ルール】
• 必ず1〜2文以内で簡潔に答える
• 応答構造: 結論を先に → 必要なら簡潔な補足
• ツールが返した結果をそのまま伝える（余計な解釈や説明を加えない）
• 技術的な詳細は省略し、自然な日本語で
• 「〜ですね」「〜ですよ」など柔らかい語尾を使う`

// UserMessage converts an error into text that is safe to show the user.
// Raw upstream text is never passed through; only UserError messages are.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var ue *tools.UserError
	var ce *core.Error
	switch {
	case errors.As(err, &ue):
		return ue.Message
	case errors.Is(err, credentials.ErrNotConnected), errors.Is(err, credentials.ErrRefreshFailed):
		return msgNotConnected
	case errors.Is(err, ErrUnresolvedPlaceholder):
		return msgUnresolved
	case errors.Is(err, tools.ErrUnknownTool):
		return msgUnknownTool
	case errors.Is(err, tools.ErrInvalidArguments):
		return msgInvalidArgs
	case errors.Is(err, context.DeadlineExceeded):
		return msgToolTimeout
	case errors.As(err, &ce):
		switch ce.Type {
		case core.ErrAuthentication:
			return msgNotConnected
		case core.ErrTimeout:
			return msgToolTimeout
		case core.ErrRateLimit:
			return msgToolRateLimit
		}
	}
	return msgToolFailed
}

// formatOutcomes joins tool outcomes into a single reply.
func formatOutcomes(outcomes []ToolOutcome) string {
	parts := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		if text := strings.TrimSpace(o.Message); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}

func summaryPrompt(utterance string, outcomes []ToolOutcome) string {
	lines := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		lines = append(lines, o.Name+": "+strings.TrimSpace(o.Message))
	}
	return "元のリクエスト: " + utterance +
		"\n\nツール実行結果:\n" + strings.Join(lines, "\n") +
		"\n\n上記の結果を1〜2文以内で簡潔に伝えてください。"
}
