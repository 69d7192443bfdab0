package dispatch

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/vango-go/vai-voice/pkg/core/types"
)

// ErrUnresolvedPlaceholder is returned for a call whose placeholder argument
// could not be bound from an earlier result. The call is never executed.
var ErrUnresolvedPlaceholder = errors.New("dispatch: unresolved placeholder")

// BindLatestEmailID is the result metadata key message-id placeholders bind from.
const BindLatestEmailID = "latest_email_id"

var messageIDPlaceholders = map[string]struct{}{
	"メールID":                  {},
	"メッセージID":                {},
	"email_id":               {},
	"message_id_placeholder": {},
}

// IsPlaceholder reports whether v is a recognized message-id placeholder.
func IsPlaceholder(v string) bool {
	_, ok := messageIDPlaceholders[strings.TrimSpace(v)]
	return ok
}

// binder carries values bound by earlier calls of one utterance.
type binder struct {
	values map[string]string
}

func newBinder() *binder {
	return &binder{values: map[string]string{}}
}

// learn records the bindable fields of a call result.
func (b *binder) learn(metadata map[string]any) {
	if v, ok := metadata[BindLatestEmailID].(string); ok && strings.TrimSpace(v) != "" {
		b.values[BindLatestEmailID] = v
	}
}

// resolve returns call with every placeholder argument bound. A gmail reply
// with an empty message_id is bound as if it carried a placeholder.
func (b *binder) resolve(call types.ToolCall) (types.ToolCall, error) {
	out := call.Clone()
	if out.Input == nil {
		out.Input = map[string]any{}
	}

	pending := map[string]struct{}{}
	for k, v := range out.Input {
		if s, ok := v.(string); ok && IsPlaceholder(s) {
			pending[k] = struct{}{}
		}
	}
	if out.Name == "gmail" && out.Input["action"] == "reply" {
		if s, _ := out.Input["message_id"].(string); strings.TrimSpace(s) == "" {
			pending["message_id"] = struct{}{}
		}
	}
	if len(pending) == 0 {
		return out, nil
	}

	id, ok := b.values[BindLatestEmailID]
	if !ok {
		return call, fmt.Errorf("%w: %s needs %s", ErrUnresolvedPlaceholder, call.Name, strings.Join(slices.Sorted(maps.Keys(pending)), ", "))
	}
	for k := range pending {
		out.Input[k] = id
	}
	return out, nil
}
