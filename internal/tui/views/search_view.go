package views

import (
	"github.com/gdamore/tcell/v2"
	"github.com/pokulabs/poku/internal/store"
	"github.com/rivo/tview"
)

// SearchView provides full-text message search.
type SearchView struct {
	*tview.Flex
	theme   *Theme
	input   *tview.InputField
	results *tview.Table
	data    []store.SearchResult
	onQuery func(query string)
	onOpen  func(r store.SearchResult)
}

// NewSearchView creates a new search view.
func NewSearchView(theme *Theme) *SearchView {
	input := tview.NewInputField().
		SetLabel(" Search: ").
		SetFieldWidth(0)
	input.SetBackgroundColor(theme.BgColor)
	input.SetFieldBackgroundColor(theme.BgColor)
	input.SetFieldTextColor(theme.FgColor)
	input.SetLabelColor(theme.MenuKeyColor)

	results := tview.NewTable()
	theme.styleTable(results, " Results ")

	sv := &SearchView{
		Flex: tview.NewFlex().
			SetDirection(tview.FlexRow).
			AddItem(input, 1, 0, true).
			AddItem(results, 0, 1, false),
		theme:   theme,
		input:   input,
		results: results,
	}

	input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && sv.onQuery != nil {
			sv.onQuery(sv.input.GetText())
		}
	})
	results.SetSelectedFunc(func(row, _ int) {
		idx := row - 1
		if idx >= 0 && idx < len(sv.data) && sv.onOpen != nil {
			sv.onOpen(sv.data[idx])
		}
	})
	return sv
}

// SetOnQuery sets the callback when a search query is submitted.
func (sv *SearchView) SetOnQuery(fn func(query string)) {
	sv.onQuery = fn
}

// SetOnOpen sets the callback when a result is chosen.
func (sv *SearchView) SetOnOpen(fn func(r store.SearchResult)) {
	sv.onOpen = fn
}

// Update refreshes search results.
func (sv *SearchView) Update(results []store.SearchResult) {
	sv.data = results
	sv.results.Clear()
	sv.theme.header(sv.results, " FROM", " TO", " SNIPPET", " TIME")

	for i, r := range results {
		row := i + 1
		sv.results.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(r.Message.From)).SetMaxWidth(18).SetTextColor(sv.theme.FgColor))
		sv.results.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(r.Message.To)).SetMaxWidth(18).SetTextColor(sv.theme.FgColor))
		sv.results.SetCell(row, 2, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(r.Snippet))).SetExpansion(1).SetTextColor(sv.theme.FgColor))
		sv.results.SetCell(row, 3, tview.NewTableCell(" "+formatTime(r.Message.DateSent)).SetMaxWidth(12).SetTextColor(sv.theme.DimColor))
	}
}

// Input returns the search input field.
func (sv *SearchView) Input() *tview.InputField {
	return sv.input
}

// Results returns the results table.
func (sv *SearchView) Results() *tview.Table {
	return sv.results
}
