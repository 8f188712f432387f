package views

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/flintchat/flint/internal/model"
)

// SearchView finds users to start a new chat with.
type SearchView struct {
	*tview.Flex
	input   *tview.InputField
	results *tview.Table
	onQuery func(query string)
	data    []model.User
}

// NewSearchView creates a new user search view.
func NewSearchView() *SearchView {
	input := tview.NewInputField().
		SetLabel(" Find user: ").
		SetFieldWidth(0)

	results := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	results.SetBorder(true).SetTitle(" Results ")

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(input, 1, 0, true).
		AddItem(results, 0, 1, false)

	return &SearchView{
		Flex:    flex,
		input:   input,
		results: results,
	}
}

// SetOnQuery sets the callback when a search query is submitted.
func (sv *SearchView) SetOnQuery(fn func(query string)) {
	sv.onQuery = fn
	sv.input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && sv.onQuery != nil {
			sv.onQuery(sv.input.GetText())
		}
	})
}

// Update refreshes the result table.
func (sv *SearchView) Update(users []model.User) {
	sv.data = users
	sv.results.Clear()

	sv.results.SetCell(0, 0, tview.NewTableCell(" USER").
		SetSelectable(false).
		SetTextColor(tview.Styles.SecondaryTextColor).
		SetAttributes(tcell.AttrBold))
	sv.results.SetCell(0, 1, tview.NewTableCell(" STATUS").
		SetSelectable(false).
		SetTextColor(tview.Styles.SecondaryTextColor).
		SetAttributes(tcell.AttrBold))

	for i, u := range users {
		row := i + 1
		presence := "offline"
		if u.IsOnline {
			presence = "[green]online[-]"
		} else if u.LastSeen != 0 {
			presence = "seen " + formatTimestamp(int64(u.LastSeen))
		}
		sv.results.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(u.Username)).SetExpansion(1))
		sv.results.SetCell(row, 1, tview.NewTableCell(" "+presence).SetMaxWidth(20))
	}
}

// SelectedUser returns the id of the selected user.
func (sv *SearchView) SelectedUser() string {
	row, _ := sv.results.GetSelection()
	idx := row - 1
	if idx >= 0 && idx < len(sv.data) {
		return sv.data[idx].Key()
	}
	return ""
}

// Input returns the search input field.
func (sv *SearchView) Input() *tview.InputField {
	return sv.input
}

// Results returns the results table.
func (sv *SearchView) Results() *tview.Table {
	return sv.results
}
