package views

import (
	"fmt"

	"github.com/rivo/tview"

	"github.com/flintchat/flint/internal/model"
)

// MessageView displays the messages of the active chat.
type MessageView struct {
	*tview.TextView
	selfID string
	names  map[string]string
}

// NewMessageView creates a new message view.
func NewMessageView() *MessageView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Messages ")

	return &MessageView{TextView: tv, names: make(map[string]string)}
}

// SetSelfID sets the current user id used to label own messages.
func (mv *MessageView) SetSelfID(id string) {
	mv.selfID = id
}

// SetChatName updates the title with the chat name.
func (mv *MessageView) SetChatName(name string) {
	mv.SetTitle(fmt.Sprintf(" %s ", name))
}

// SetMembers refreshes the sender-id to username mapping.
func (mv *MessageView) SetMembers(members []model.User) {
	mv.names = make(map[string]string, len(members))
	for _, m := range members {
		mv.names[m.Key()] = m.Username
	}
}

// Update refreshes the message view with new messages.
func (mv *MessageView) Update(msgs []model.Message) {
	mv.Clear()

	for _, m := range msgs {
		sender := mv.names[m.SenderID]
		if sender == "" {
			sender = m.SenderID
		}
		mine := model.SameKey(m.SenderID, mv.selfID)
		if mine {
			sender = "You"
		}

		ts := formatTimestamp(int64(m.CreatedAt))
		marker := ""
		if mine {
			marker = " " + deliveryMarker(m, mv.selfID)
		}
		body := tview.Escape(sanitizeForTerminal(m.Content))
		line := fmt.Sprintf("[::b]%s[-:-:-] [::d]%s%s[-:-:-]\n%s\n\n", sender, ts, marker, body)
		_, _ = fmt.Fprint(mv, line)
	}

	mv.ScrollToEnd()
}

// deliveryMarker renders an own message's aggregate delivery state:
// a pending dot while optimistic, one check once sent, two once every
// recipient has it, colored once everyone has seen it.
func deliveryMarker(m model.Message, selfID string) string {
	if m.Optimistic {
		return "[::d]…[-:-:-]"
	}

	allDelivered, allSeen := true, true
	recipients := 0
	for userID, s := range m.Status {
		if model.SameKey(userID, selfID) {
			continue
		}
		recipients++
		if s != model.StatusDelivered && s != model.StatusSeen {
			allDelivered = false
		}
		if s != model.StatusSeen {
			allSeen = false
		}
	}
	switch {
	case recipients == 0:
		return "✓"
	case allSeen:
		return "[blue]✓✓[-]"
	case allDelivered:
		return "✓✓"
	default:
		return "✓"
	}
}
