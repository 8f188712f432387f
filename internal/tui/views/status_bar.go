package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"

	"github.com/flintchat/flint/internal/status"
)

// StatusBar displays the session name and connection state.
type StatusBar struct {
	*tview.TextView
	session string
	conn    status.State
	flash   string
}

// NewStatusBar creates a new status bar.
func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv, conn: status.Disconnected}
}

// SetSession updates the session name display.
func (sb *StatusBar) SetSession(name string) {
	sb.session = name
	sb.render()
}

// SetConnState updates the connection state display.
func (sb *StatusBar) SetConnState(s status.State) {
	sb.conn = s
	sb.render()
}

// SetFlash sets a temporary message.
func (sb *StatusBar) SetFlash(msg string) {
	sb.flash = msg
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()

	conn := string(sb.conn)
	switch sb.conn {
	case status.Connected:
		conn = "[green]" + conn + "[-]"
	case status.Connecting, status.Reconnecting:
		conn = "[yellow]" + conn + "[-]"
	case status.Disconnected, status.ReconnectFailed:
		conn = "[red]" + conn + "[-]"
	}

	clock := time.Now().Format("15:04")

	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s | %s", sb.session, conn, clock)
	if sb.flash != "" {
		line += fmt.Sprintf(" | [yellow]%s[-]", tview.Escape(sb.flash))
	}

	_, _ = fmt.Fprint(sb, line)
}
