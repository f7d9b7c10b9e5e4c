package conversation

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/nstogner/expertchat/pkg/domain"
	"github.com/nstogner/expertchat/pkg/model"
	"github.com/nstogner/expertchat/pkg/persona"
)

// Failure notices shown in place of, or after, the reply.
const (
	NoticeUnreachable = "백엔드 서버에 연결하지 못했네. 잠시 후 다시 물어봐 주게."
	NoticeInterrupted = "답변을 전하는 도중에 연결이 끊겼네. 다시 물어봐 주게."
	NoticeUnsupported = "이 전문가는 아직 답변할 준비가 되지 않았네."
	NoticeUnknown     = "찾을 수 없는 전문가일세."
	NoticeGeneric     = "에러가 발생했네: "
)

// Turn is one user message and the assistant reply streaming into its
// placeholder. The placeholder is addressed by ID, so messages added
// elsewhere cannot redirect the reply.
type Turn struct {
	c        *Conversation
	userID   string
	replyID  string
	received int
	done     bool
}

// ReplyID returns the ID of the assistant placeholder.
func (t *Turn) ReplyID() string { return t.replyID }

// History returns the messages to send for this turn: everything up to and
// including the user message.
func (t *Turn) History() []domain.Message {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	i := t.c.index(t.userID)
	if i < 0 {
		return nil
	}
	return slices.Clone(t.c.messages[:i+1])
}

// Apply appends fragment to the placeholder. The first fragment moves the
// turn to streaming. Fragments after the turn ended are ignored.
func (t *Turn) Apply(ctx context.Context, fragment string) {
	t.c.mu.Lock()
	if t.done {
		t.c.mu.Unlock()
		return
	}
	if t.received == 0 {
		t.c.fire(ctx, eventFragment)
	}
	t.received++
	if i := t.c.index(t.replyID); i >= 0 {
		t.c.messages[i].Content += fragment
	}
	t.c.mu.Unlock()

	t.c.render()
}

// Settle ends the turn normally. The reply is frozen and the conversation
// is persisted.
func (t *Turn) Settle(ctx context.Context) error {
	if !t.finish(ctx, eventComplete, nil) {
		return nil
	}
	t.c.render()
	return t.c.persist(context.WithoutCancel(ctx))
}

// Fail ends the turn with err. If nothing was received the placeholder
// becomes the failure notice; otherwise the partial reply is kept and a
// notice is appended after it. The conversation is persisted.
func (t *Turn) Fail(ctx context.Context, err error) error {
	if !t.finish(ctx, eventFail, err) {
		return nil
	}
	t.c.render()
	return t.c.persist(context.WithoutCancel(ctx))
}

func (t *Turn) finish(ctx context.Context, event string, cause error) bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	t.c.fire(ctx, event)

	if cause == nil {
		return true
	}
	notice := noticeFor(cause)
	i := t.c.index(t.replyID)
	switch {
	case i >= 0 && t.received == 0:
		t.c.messages[i].Content = notice
		t.c.messages[i].Error = true
	default:
		// Keep the partial reply; the notice follows it.
		at := len(t.c.messages)
		if i >= 0 {
			at = i + 1
		}
		t.c.messages = slices.Insert(t.c.messages, at, domain.Message{
			ID:        uuid.NewString(),
			Role:      domain.RoleAssistant,
			Content:   notice,
			Error:     true,
			CreatedAt: time.Now().UTC(),
		})
	}
	return true
}

func noticeFor(err error) string {
	switch {
	case errors.Is(err, model.ErrUpstreamStream):
		return NoticeInterrupted
	case errors.Is(err, model.ErrUpstreamUnreachable):
		return NoticeUnreachable
	case errors.Is(err, persona.ErrUnsupportedPersona):
		return NoticeUnsupported
	case errors.Is(err, persona.ErrUnknownPersona):
		return NoticeUnknown
	case errors.Is(err, context.Canceled):
		return NoticeInterrupted
	default:
		return NoticeGeneric + err.Error()
	}
}
