package model

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/pokulabs/poku/internal/api"
	"github.com/pokulabs/poku/internal/bus"
	"github.com/pokulabs/poku/internal/chats"
	"github.com/pokulabs/poku/internal/store"
	"github.com/pokulabs/poku/internal/stream"
)

// Daemon is the part of the daemon client the view model uses.
type Daemon interface {
	GetStatus(ctx context.Context) (*api.GetStatusResponse, error)
	LoadChats(ctx context.Context, req *api.LoadChatsRequest) (*api.ChatsResponse, error)
	LoadMoreChats(ctx context.Context, req *api.LoadMoreChatsRequest) (*api.ChatsResponse, error)
	ListThread(ctx context.Context, req *api.ListThreadRequest) (*api.ListThreadResponse, error)
	MarkRead(ctx context.Context, req *api.MarkReadRequest) (*api.Ack, error)
	SearchMessages(ctx context.Context, req *api.SearchMessagesRequest) (*api.SearchMessagesResponse, error)
	SendText(ctx context.Context, req *api.SendTextRequest) (*api.SendTextResponse, error)
}

// ViewModel caches daemon state for the views and signals UI refreshes.
type ViewModel struct {
	mu sync.RWMutex

	daemon       Daemon
	status       *api.GetStatusResponse
	activeNumber string
	session      string
	chats        []chats.ChatInfo
	hasMore      bool
	thread       []stream.Message
	openChat     *chats.ChatInfo
	Flash        Flash

	refreshCh chan struct{}
}

// NewViewModel creates a new view model backed by d.
func NewViewModel(d Daemon) *ViewModel {
	return &ViewModel{
		daemon:    d,
		refreshCh: make(chan struct{}, 1),
	}
}

// RefreshCh returns the channel that signals UI refresh.
func (vm *ViewModel) RefreshCh() <-chan struct{} {
	return vm.refreshCh
}

func (vm *ViewModel) signalRefresh() {
	select {
	case vm.refreshCh <- struct{}{}:
	default:
	}
}

// LoadStatus fetches the daemon status.
func (vm *ViewModel) LoadStatus(ctx context.Context) error {
	resp, err := vm.daemon.GetStatus(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.status = resp
	if vm.activeNumber == "" {
		vm.activeNumber = resp.ActiveNumber
	}
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// LoadChats starts a fresh chat listing, dropping any previous one.
func (vm *ViewModel) LoadChats(ctx context.Context) error {
	vm.mu.RLock()
	active := vm.activeNumber
	vm.mu.RUnlock()

	resp, err := vm.daemon.LoadChats(ctx, &api.LoadChatsRequest{ActiveNumber: active})
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.session = resp.SessionToken
	vm.activeNumber = resp.ActiveNumber
	vm.chats = resp.Chats
	vm.hasMore = resp.HasMore
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// LoadMore appends the next page of chats to the listing.
func (vm *ViewModel) LoadMore(ctx context.Context) error {
	vm.mu.RLock()
	session := vm.session
	existing := make([]string, len(vm.chats))
	for i, c := range vm.chats {
		existing[i] = c.ChatID
	}
	vm.mu.RUnlock()
	if session == "" {
		return fmt.Errorf("no chat listing loaded")
	}

	resp, err := vm.daemon.LoadMoreChats(ctx, &api.LoadMoreChatsRequest{
		SessionToken:    session,
		ExistingChatIDs: existing,
	})
	if err != nil {
		return err
	}

	vm.mu.Lock()
	for _, c := range resp.Chats {
		if vm.indexOf(c.ChatID) < 0 {
			vm.chats = append(vm.chats, c)
		}
	}
	vm.hasMore = resp.HasMore
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// OpenChat loads the thread of c and marks its newest message as read.
func (vm *ViewModel) OpenChat(ctx context.Context, c chats.ChatInfo) error {
	vm.mu.RLock()
	active := vm.activeNumber
	vm.mu.RUnlock()

	resp, err := vm.daemon.ListThread(ctx, &api.ListThreadRequest{
		ActiveNumber: active,
		Counterparty: c.ContactNumber,
		Limit:        100,
	})
	if err != nil {
		return err
	}

	vm.mu.Lock()
	vm.thread = resp.Messages
	vm.openChat = &c
	vm.mu.Unlock()

	if len(resp.Messages) > 0 && c.HasUnread {
		latest := resp.Messages[0].SID
		if _, err := vm.daemon.MarkRead(ctx, &api.MarkReadRequest{ChatID: c.ChatID, MsgID: latest}); err != nil {
			vm.Flash.Fail("Mark read", err)
		} else {
			vm.setUnread(c.ChatID, false)
		}
	}
	vm.signalRefresh()
	return nil
}

// CloseChat forgets the open thread.
func (vm *ViewModel) CloseChat() {
	vm.mu.Lock()
	vm.openChat = nil
	vm.thread = nil
	vm.mu.Unlock()
}

// SendText queues text to the open chat's counterparty.
func (vm *ViewModel) SendText(ctx context.Context, text string) error {
	vm.mu.RLock()
	open := vm.openChat
	active := vm.activeNumber
	vm.mu.RUnlock()
	if open == nil {
		return fmt.Errorf("no chat open")
	}

	resp, err := vm.daemon.SendText(ctx, &api.SendTextRequest{
		ClientMsgID: uuid.NewString(),
		From:        active,
		To:          open.ContactNumber,
		Text:        text,
	})
	if err != nil {
		return err
	}
	if resp.Accepted {
		vm.Flash.Notify("Message queued")
	}
	vm.signalRefresh()
	return nil
}

// Search runs a full-text query scoped to the active number.
func (vm *ViewModel) Search(ctx context.Context, query string) ([]store.SearchResult, error) {
	vm.mu.RLock()
	active := vm.activeNumber
	vm.mu.RUnlock()

	resp, err := vm.daemon.SearchMessages(ctx, &api.SearchMessagesRequest{Query: query, Number: active, Limit: 50})
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// ApplyEvent folds a live daemon event into the cached state. It reports
// whether anything visible changed.
func (vm *ViewModel) ApplyEvent(env *api.EventEnvelope) bool {
	switch env.Kind {
	case bus.KindMessageReceived, bus.KindMessageSent:
		var p bus.MessageEvent
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return false
		}
		vm.applyMessage(p.Message, env.Kind == bus.KindMessageReceived)
	case bus.KindChatRead:
		var p bus.ChatEvent
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return false
		}
		if !vm.setUnread(p.ChatID, false) {
			return false
		}
	case bus.KindChatFlagged:
		var p bus.ChatEvent
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return false
		}
		if !vm.update(p.ChatID, func(c *chats.ChatInfo) {
			c.IsFlagged = p.Flagged
			c.FlaggedReason = p.Reason
		}) {
			return false
		}
	case bus.KindChatClaimed:
		var p bus.ChatEvent
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return false
		}
		if !vm.update(p.ChatID, func(c *chats.ChatInfo) { c.ClaimedBy = p.ClaimedBy }) {
			return false
		}
	case bus.KindDaemonStatus:
		var p bus.StatusEvent
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return false
		}
		vm.mu.Lock()
		if vm.status == nil {
			vm.status = &api.GetStatusResponse{}
		}
		vm.status.Status = p.To
		vm.status.StatusMessage = p.Reason
		vm.mu.Unlock()
	default:
		return false
	}
	vm.signalRefresh()
	return true
}

// applyMessage moves the chat of m to the top of the list and appends m
// to the open thread when it belongs there.
func (vm *ViewModel) applyMessage(m stream.Message, inbound bool) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.activeNumber == "" || (m.From != vm.activeNumber && m.To != vm.activeNumber) {
		return
	}
	cp := chats.Counterparty(vm.activeNumber, m)
	id := chats.ChatID(vm.activeNumber, cp)

	c := chats.ChatInfo{ChatID: id, ContactNumber: cp}
	if i := vm.indexOf(id); i >= 0 {
		c = vm.chats[i]
		vm.chats = slices.Delete(vm.chats, i, i+1)
	}
	c.RecentMsgID = m.SID
	c.RecentMsgDate = m.DateSent
	c.RecentMsgContent = m.Body

	open := vm.openChat != nil && vm.openChat.ChatID == id
	c.HasUnread = inbound && !open
	vm.chats = slices.Insert(vm.chats, 0, c)

	if open && !slices.ContainsFunc(vm.thread, func(t stream.Message) bool { return t.SID == m.SID }) {
		vm.thread = slices.Insert(vm.thread, 0, m)
	}
}

func (vm *ViewModel) setUnread(chatID string, unread bool) bool {
	return vm.update(chatID, func(c *chats.ChatInfo) { c.HasUnread = unread })
}

func (vm *ViewModel) update(chatID string, fn func(c *chats.ChatInfo)) bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	i := vm.indexOf(chatID)
	if i < 0 {
		return false
	}
	fn(&vm.chats[i])
	return true
}

// indexOf must be called with mu held.
func (vm *ViewModel) indexOf(chatID string) int {
	return slices.IndexFunc(vm.chats, func(c chats.ChatInfo) bool { return c.ChatID == chatID })
}

// Chats returns a snapshot of the chat list and whether more can be loaded.
func (vm *ViewModel) Chats() ([]chats.ChatInfo, bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return slices.Clone(vm.chats), vm.hasMore
}

// Thread returns a snapshot of the open thread, newest first.
func (vm *ViewModel) Thread() []stream.Message {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return slices.Clone(vm.thread)
}

// Status returns the last known daemon status.
func (vm *ViewModel) Status() *api.GetStatusResponse {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.status
}

// ActiveNumber returns the number whose chats are listed.
func (vm *ViewModel) ActiveNumber() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.activeNumber
}
