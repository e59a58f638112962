package tui

import (
	"context"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/pokulabs/poku/internal/api"
	"github.com/pokulabs/poku/internal/chats"
	"github.com/pokulabs/poku/internal/store"
	"github.com/pokulabs/poku/internal/tui/client"
	"github.com/pokulabs/poku/internal/tui/keys"
	"github.com/pokulabs/poku/internal/tui/model"
	"github.com/pokulabs/poku/internal/tui/views"
	"github.com/rivo/tview"
)

const (
	pageChats  = "chats"
	pageChat   = "chat"
	pageSearch = "search"
)

// App is the main TUI application shell.
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	vm        *model.ViewModel
	grpc      *client.Client
	registry  *keys.Registry
	profile   string
	statusBar *views.StatusBar
	chatList  *views.ChatList
	msgView   *views.MessageView
	composer  *views.Composer
	searchV   *views.SearchView
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(c *client.Client, profile string) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := views.DefaultTheme()

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		vm:        model.NewViewModel(c),
		grpc:      c,
		registry:  keys.NewRegistry(),
		profile:   profile,
		statusBar: views.NewStatusBar(),
		chatList:  views.NewChatList(theme),
		msgView:   views.NewMessageView(theme),
		composer:  views.NewComposer(theme),
		searchV:   views.NewSearchView(theme),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetProfile(profile, "")
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal(&keys.Action{
		Name: "quit", Key: tcell.KeyRune, Rune: 'q',
		Description: "q:quit", Visible: true,
		Handler: func() { a.Stop() },
	})
	a.registry.AddGlobal(&keys.Action{
		Name: "search", Key: tcell.KeyRune, Rune: '/',
		Description: "/:search", Visible: true,
		Handler: a.showSearch,
	})
	a.registry.AddView(pageChats, &keys.Action{
		Name: "more", Key: tcell.KeyRune, Rune: 'm',
		Description: "m:more", Visible: true,
		Handler: a.loadMore,
	})
	a.registry.AddView(pageChats, &keys.Action{
		Name: "refresh", Key: tcell.KeyRune, Rune: 'r',
		Description: "r:refresh", Visible: true,
		Handler: a.reload,
	})
	a.registry.AddView(pageChat, &keys.Action{
		Name: "reply", Key: tcell.KeyRune, Rune: 'i',
		Description: "i:reply", Visible: true,
		Handler: func() { a.app.SetFocus(a.composer.InputField) },
	})
}

func (a *App) setupCallbacks() {
	a.chatList.SetOnOpen(a.openChat)
	a.chatList.SetOnLoadMore(a.loadMore)

	a.composer.SetOnSend(func(text string) {
		go func() {
			if err := a.vm.SendText(a.ctx, text); err != nil {
				a.vm.Flash.Fail("Send", err)
			}
			a.redraw()
		}()
	})

	a.searchV.SetOnQuery(func(query string) {
		go func() {
			results, err := a.vm.Search(a.ctx, query)
			if err != nil {
				a.vm.Flash.Fail("Search", err)
				a.redraw()
				return
			}
			a.app.QueueUpdateDraw(func() {
				a.searchV.Update(results)
				a.app.SetFocus(a.searchV.Results())
			})
		}()
	})
	a.searchV.SetOnOpen(func(r store.SearchResult) {
		cp := chats.Counterparty(a.vm.ActiveNumber(), r.Message)
		a.openChat(chats.ChatInfo{
			ChatID:        chats.ChatID(a.vm.ActiveNumber(), cp),
			ContactNumber: cp,
		})
	})
}

func (a *App) setupLayout() {
	chatFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.msgView, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	a.pages.AddPage(pageChats, a.chatList, true, true)
	a.pages.AddPage(pageChat, chatFlex, true, false)
	a.pages.AddPage(pageSearch, a.searchV, true, false)
	a.statusBar.SetHints(a.registry.Hints(pageChats))

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		current, _ := a.pages.GetFrontPage()

		if event.Key() == tcell.KeyEscape && current != pageChats {
			a.vm.CloseChat()
			a.switchTo(pageChats)
			a.app.SetFocus(a.chatList)
			return nil
		}

		// Text inputs get every other key.
		if _, ok := a.app.GetFocus().(*tview.InputField); ok {
			return event
		}

		if a.registry.HandleEvent(current, event) {
			return nil
		}
		return event
	})
}

func (a *App) switchTo(page string) {
	a.pages.SwitchToPage(page)
	a.statusBar.SetHints(a.registry.Hints(page))
}

func (a *App) openChat(c chats.ChatInfo) {
	go func() {
		if err := a.vm.OpenChat(a.ctx, c); err != nil {
			a.vm.Flash.Fail("Load", err)
			a.redraw()
			return
		}
		name := c.ContactNumber
		if c.EnrichedData != nil && c.EnrichedData.DisplayName != "" {
			name = c.EnrichedData.DisplayName
		}
		a.app.QueueUpdateDraw(func() {
			a.msgView.SetChatName(name)
			a.msgView.Update(a.vm.ActiveNumber(), a.vm.Thread())
			a.switchTo(pageChat)
			a.app.SetFocus(a.msgView)
		})
	}()
}

func (a *App) loadMore() {
	go func() {
		if err := a.vm.LoadMore(a.ctx); err != nil {
			a.vm.Flash.Fail("Load more", err)
		}
		a.redraw()
	}()
}

func (a *App) reload() {
	go func() {
		if err := a.vm.LoadChats(a.ctx); err != nil {
			a.vm.Flash.Fail("Load", err)
		}
		a.redraw()
	}()
}

func (a *App) showSearch() {
	a.switchTo(pageSearch)
	a.app.SetFocus(a.searchV.Input())
}

// redraw copies view model state into the views.
func (a *App) redraw() {
	a.app.QueueUpdateDraw(func() {
		list, more := a.vm.Chats()
		a.chatList.Update(list, more)
		a.statusBar.SetChatCount(len(list))

		if current, _ := a.pages.GetFrontPage(); current == pageChat {
			a.msgView.Update(a.vm.ActiveNumber(), a.vm.Thread())
		}
		if st := a.vm.Status(); st != nil {
			a.statusBar.SetProfile(a.profile, a.vm.ActiveNumber())
			a.statusBar.SetStatus(st.Status)
		}
		text, severity := a.vm.Flash.Current()
		a.statusBar.SetFlash(text, severity == model.Failure)
	})
}

// Run starts the TUI application.
func (a *App) Run() error {
	go func() {
		if err := a.vm.LoadStatus(a.ctx); err != nil {
			a.vm.Flash.Fail("Status", err)
		}
		if err := a.vm.LoadChats(a.ctx); err != nil {
			a.vm.Flash.Fail("Load", err)
		}
		a.redraw()
		go a.watch()
		a.refreshLoop()
	}()

	return a.app.Run()
}

// watch applies live daemon events until the app stops, reconnecting after
// stream errors.
func (a *App) watch() {
	for a.ctx.Err() == nil {
		err := a.grpc.WatchEvents(a.ctx, &api.WatchEventsRequest{ActiveNumber: a.vm.ActiveNumber()},
			func(env *api.EventEnvelope) error {
				a.vm.ApplyEvent(env)
				return nil
			})
		if err != nil && a.ctx.Err() == nil {
			a.vm.Flash.Notify("Event stream lost, retrying")
			a.redraw()
		}
		select {
		case <-a.ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

// refreshLoop redraws on view model changes and keeps the clock and flash
// current.
func (a *App) refreshLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-a.vm.RefreshCh():
			a.redraw()
		case <-ticker.C:
			_ = a.vm.LoadStatus(a.ctx)
			a.redraw()
		case <-a.ctx.Done():
			return
		}
	}
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
