package views

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Theme holds color constants for the TUI.
type Theme struct {
	BgColor       tcell.Color
	FgColor       tcell.Color
	DimColor      tcell.Color
	BorderColor   tcell.Color
	TitleColor    tcell.Color
	TableHeaderFg tcell.Color
	TableCursorFg tcell.Color
	TableCursorBg tcell.Color
	UnreadColor   tcell.Color
	FlaggedColor  tcell.Color
	MenuKeyColor  tcell.Color
}

// DefaultTheme returns a k9s-inspired dark theme.
func DefaultTheme() *Theme {
	return &Theme{
		BgColor:       tcell.ColorBlack,
		FgColor:       tcell.ColorCadetBlue,
		DimColor:      tcell.ColorGray,
		BorderColor:   tcell.ColorDodgerBlue,
		TitleColor:    tcell.ColorFuchsia,
		TableHeaderFg: tcell.ColorWhite,
		TableCursorFg: tcell.ColorBlack,
		TableCursorBg: tcell.ColorAqua,
		UnreadColor:   tcell.ColorLime,
		FlaggedColor:  tcell.ColorOrangeRed,
		MenuKeyColor:  tcell.ColorDodgerBlue,
	}
}

// styleTable applies the theme to a bordered, row-selectable table.
func (t *Theme) styleTable(table *tview.Table, title string) {
	table.SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true).
		SetBorderColor(t.BorderColor).
		SetTitle(title).
		SetTitleColor(t.TitleColor)
	table.SetBackgroundColor(t.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(t.TableCursorFg).
		Background(t.TableCursorBg))
}

func (t *Theme) header(table *tview.Table, cols ...string) {
	for col, h := range cols {
		table.SetCell(0, col, tview.NewTableCell(h).
			SetSelectable(false).
			SetTextColor(t.TableHeaderFg).
			SetAttributes(tcell.AttrBold))
	}
}
