package views

import (
	"github.com/rivo/tview"
)

// AuthView is the login/register form shown when no saved identity
// exists or the server rejected the token.
type AuthView struct {
	*tview.Flex
	form       *tview.Form
	message    *tview.TextView
	onLogin    func(username, password string)
	onRegister func(username, password string)
}

// NewAuthView creates a new auth view.
func NewAuthView() *AuthView {
	av := &AuthView{}

	av.form = tview.NewForm().
		AddInputField("Username", "", 32, nil, nil).
		AddPasswordField("Password", "", 32, '*', nil).
		AddButton("Login", func() {
			if av.onLogin != nil {
				u, p := av.credentials()
				av.onLogin(u, p)
			}
		}).
		AddButton("Register", func() {
			if av.onRegister != nil {
				u, p := av.credentials()
				av.onRegister(u, p)
			}
		})
	av.form.SetBorder(true).SetTitle(" Sign in ")

	av.message = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)

	av.Flex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(av.form, 0, 1, true).
		AddItem(av.message, 1, 0, false)

	return av
}

func (av *AuthView) credentials() (string, string) {
	u := av.form.GetFormItemByLabel("Username").(*tview.InputField).GetText()
	p := av.form.GetFormItemByLabel("Password").(*tview.InputField).GetText()
	return u, p
}

// SetOnLogin sets the callback for the login button.
func (av *AuthView) SetOnLogin(fn func(username, password string)) {
	av.onLogin = fn
}

// SetOnRegister sets the callback for the register button.
func (av *AuthView) SetOnRegister(fn func(username, password string)) {
	av.onRegister = fn
}

// ShowMessage displays a status line under the form.
func (av *AuthView) ShowMessage(msg string) {
	av.message.Clear()
	_, _ = av.message.Write([]byte("[yellow]" + tview.Escape(msg) + "[-]"))
}

// Form returns the form for focus handling.
func (av *AuthView) Form() *tview.Form {
	return av.form
}
