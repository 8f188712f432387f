package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"

	"github.com/flintchat/flint/internal/model"
)

// ChatList is the sidebar chat table.
type ChatList struct {
	*tview.Table
	chats      []model.Chat
	selfID     string
	selectedFn func() (int, int)
}

// NewChatList creates a new chat list table.
func NewChatList() *ChatList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	table.SetBorder(true).SetTitle(" Chats ")

	cl := &ChatList{Table: table}
	cl.selectedFn = table.GetSelection
	return cl
}

// SetSelfID sets the current user id used to resolve direct-chat names.
func (cl *ChatList) SetSelfID(id string) {
	cl.selfID = id
}

// Update refreshes the chat list with new data.
func (cl *ChatList) Update(chats []model.Chat) {
	cl.chats = chats
	cl.Clear()

	cl.SetCell(0, 0, tview.NewTableCell(" Name").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 1, tview.NewTableCell(" Last Message").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 2, tview.NewTableCell(" Time").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))

	for i, chat := range chats {
		row := i + 1
		name := chat.DisplayName(cl.selfID)
		if name == "" {
			name = chat.Key()
		}
		if other, ok := chat.Counterpart(cl.selfID); ok && other.IsOnline {
			name = "• " + name
		}
		if chat.Unread > 0 {
			name = fmt.Sprintf("[::b]%s (%d)[-:-:-]", name, chat.Unread)
		}

		preview := ""
		ts := ""
		if chat.Typing {
			preview = "[green]typing...[-]"
		} else if chat.LastMessage != nil {
			preview = tview.Escape(sanitizeForTerminal(chat.LastMessage.Content))
			ts = formatTimestamp(int64(chat.LastMessage.CreatedAt))
		}

		cl.SetCell(row, 0, tview.NewTableCell(" "+name).SetMaxWidth(30).SetExpansion(1))
		cl.SetCell(row, 1, tview.NewTableCell(" "+preview).SetMaxWidth(40).SetExpansion(2))
		cl.SetCell(row, 2, tview.NewTableCell(" "+ts).SetMaxWidth(12))
	}
}

// SelectedChat returns the id of the currently selected chat.
func (cl *ChatList) SelectedChat() string {
	row, _ := cl.selectedFn()
	idx := row - 1 // account for header
	if idx >= 0 && idx < len(cl.chats) {
		return cl.chats[idx].Key()
	}
	return ""
}

func formatTimestamp(ms int64) string {
	if ms == 0 {
		return ""
	}
	t := time.UnixMilli(ms)
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
