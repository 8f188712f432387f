// Package tui is the terminal user interface. It renders the caches
// owned by the reconciler and never mutates them directly: user actions
// go through the reconciler and the REST client, and redraws are driven
// by change events on the bus.
package tui

import (
	"context"
	"errors"
	stdsync "sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/flintchat/flint/internal/api"
	"github.com/flintchat/flint/internal/bus"
	"github.com/flintchat/flint/internal/config"
	"github.com/flintchat/flint/internal/crypto"
	"github.com/flintchat/flint/internal/model"
	"github.com/flintchat/flint/internal/realtime"
	"github.com/flintchat/flint/internal/session"
	"github.com/flintchat/flint/internal/status"
	chatsync "github.com/flintchat/flint/internal/sync"
	"github.com/flintchat/flint/internal/tui/keys"
	uimodel "github.com/flintchat/flint/internal/tui/model"
	"github.com/flintchat/flint/internal/tui/views"
)

const flashDuration = 5 * time.Second

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	pages    *tview.Pages
	cfg      *config.Config
	api      *api.Client
	bus      *bus.Bus
	machine  *status.Machine
	cipher   *crypto.Cipher
	chats    *chatsync.ChatList
	thread   *chatsync.Thread
	logger   *zap.Logger
	registry *keys.Registry
	flash    *uimodel.Flash

	sessionName string

	statusBar *views.StatusBar
	chatList  *views.ChatList
	msgView   *views.MessageView
	composer  *views.Composer
	searchV   *views.SearchView
	authView  *views.AuthView

	ctx    context.Context
	cancel context.CancelFunc

	// Session-scoped parts, rebuilt on login and torn down on logout.
	mu    stdsync.Mutex
	ident *session.Identity
	ch    *realtime.Channel
	rec   *chatsync.Reconciler
}

// NewApp creates the TUI application. ident may be nil, in which case
// the auth page is shown until the user signs in.
func NewApp(cfg *config.Config, client *api.Client, b *bus.Bus, m *status.Machine, cipher *crypto.Cipher, chats *chatsync.ChatList, thread *chatsync.Thread, ident *session.Identity, sessionName string, logger *zap.Logger) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:         tview.NewApplication(),
		pages:       tview.NewPages(),
		cfg:         cfg,
		api:         client,
		bus:         b,
		machine:     m,
		cipher:      cipher,
		chats:       chats,
		thread:      thread,
		logger:      logger,
		registry:    keys.NewRegistry(),
		flash:       &uimodel.Flash{},
		sessionName: sessionName,
		statusBar:   views.NewStatusBar(),
		chatList:    views.NewChatList(),
		msgView:     views.NewMessageView(),
		composer:    views.NewComposer(),
		searchV:     views.NewSearchView(),
		authView:    views.NewAuthView(),
		ctx:         ctx,
		cancel:      cancel,
		ident:       ident,
	}

	a.statusBar.SetSession(sessionName)
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal("quit", &keys.Action{
		Rune: 'q', Key: tcell.KeyRune,
		Description: "q:quit", Visible: true,
		Handler: func() { a.app.Stop() },
	})
	a.registry.AddGlobal("search", &keys.Action{
		Rune: 's', Key: tcell.KeyRune,
		Description: "s:new chat", Visible: true,
		Handler: func() { a.showSearch() },
	})
	a.registry.AddPage("chats", "logout", &keys.Action{
		Rune: 'L', Key: tcell.KeyRune,
		Description: "L:logout", Visible: true,
		Handler: func() { a.logout() },
	})
}

func (a *App) setupCallbacks() {
	a.chatList.SetSelectedFunc(func(row, col int) {
		if id := a.chatList.SelectedChat(); id != "" {
			a.openChat(id)
		}
	})

	a.composer.SetOnSend(func(text string) {
		rec := a.reconciler()
		if rec == nil {
			return
		}
		go func() {
			if err := rec.SendOptimistic(a.ctx, text); err != nil {
				a.flash.Set("Send failed: "+err.Error(), flashDuration)
				a.app.QueueUpdateDraw(func() {
					a.statusBar.SetFlash(a.flash.Get())
				})
			}
		}()
	})

	a.composer.SetOnTyping(func(typing bool) {
		a.mu.Lock()
		ch := a.ch
		a.mu.Unlock()
		if ch == nil {
			return
		}
		if chatID := a.chats.ActiveID(); chatID != "" {
			ch.Typing(chatID, typing)
		}
	})

	a.searchV.SetOnQuery(func(query string) {
		go func() {
			users, err := a.api.SearchUsers(a.ctx, query)
			if err != nil {
				a.flash.Set("Search failed: "+err.Error(), flashDuration)
				return
			}
			a.app.QueueUpdateDraw(func() {
				a.searchV.Update(users)
				a.app.SetFocus(a.searchV.Results())
			})
		}()
	})

	a.searchV.Results().SetSelectedFunc(func(row, col int) {
		if userID := a.searchV.SelectedUser(); userID != "" {
			a.startChat(userID)
		}
	})

	a.authView.SetOnLogin(func(username, password string) {
		a.authenticate(username, password, false)
	})
	a.authView.SetOnRegister(func(username, password string) {
		a.authenticate(username, password, true)
	})
}

func (a *App) setupLayout() {
	chatFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.msgView, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	a.pages.AddPage("chats", a.chatList, true, true)
	a.pages.AddPage("chat", chatFlex, true, false)
	a.pages.AddPage("search", a.searchV, true, false)
	a.pages.AddPage("auth", a.authView, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		if event.Key() == tcell.KeyEscape {
			switch currentPage {
			case "chat", "search":
				a.pages.SwitchToPage("chats")
				a.app.SetFocus(a.chatList)
				return nil
			}
		}

		// The auth form owns its input entirely.
		if currentPage == "auth" {
			return event
		}

		// Let text input widgets handle all keys normally.
		focused := a.app.GetFocus()
		if _, ok := focused.(*tview.InputField); ok {
			return event
		}

		// 'i' focuses the composer (only when not already in an input field).
		if currentPage == "chat" && event.Key() == tcell.KeyRune && event.Rune() == 'i' {
			a.app.SetFocus(a.composer.InputField)
			return nil
		}

		if a.registry.HandleEvent(currentPage, event) {
			return nil
		}

		return event
	})
}

// Run starts the TUI application.
func (a *App) Run() error {
	go a.eventLoop()

	a.mu.Lock()
	ident := a.ident
	a.mu.Unlock()

	if ident == nil {
		a.pages.SwitchToPage("auth")
		a.app.SetFocus(a.authView.Form())
	} else if err := a.startSession(ident); err != nil {
		a.logger.Error("session start failed", zap.Error(err))
		a.flash.Set(err.Error(), flashDuration)
		a.statusBar.SetFlash(a.flash.Get())
	}

	return a.app.Run()
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.teardownSession()
	a.app.Stop()
}

// startSession wires the authenticated half of the client: push channel,
// reconciler, and the initial chat load. Caches always start empty; the
// only thing that survives a restart is the token.
func (a *App) startSession(ident *session.Identity) error {
	a.api.SetToken(ident.Token)

	ch := realtime.NewChannel(a.cfg.ServerURL, ident.Token, a.machine, a.bus, a.cipher, a.logger)
	if err := ch.Connect(); err != nil {
		return err
	}
	rec := chatsync.NewReconciler(a.chats, a.thread, a.api, ch, a.bus, ident.UserID(), a.logger)
	rec.Start(a.ctx)

	a.mu.Lock()
	a.ident = ident
	a.ch = ch
	a.rec = rec
	a.mu.Unlock()

	a.chatList.SetSelfID(ident.UserID())
	a.msgView.SetSelfID(ident.UserID())

	go func() {
		if err := rec.LoadInitialChats(a.ctx); err != nil {
			a.logger.Error("initial chat load failed", zap.Error(err))
			a.flash.Set("Load failed: "+err.Error(), flashDuration)
			a.app.QueueUpdateDraw(func() {
				a.statusBar.SetFlash(a.flash.Get())
			})
		}
	}()
	return nil
}

func (a *App) teardownSession() {
	a.mu.Lock()
	ch, rec := a.ch, a.rec
	a.ch, a.rec, a.ident = nil, nil, nil
	a.mu.Unlock()

	if rec != nil {
		rec.Stop()
	}
	if ch != nil {
		ch.Close()
	}
}

func (a *App) reconciler() *chatsync.Reconciler {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rec
}

func (a *App) authenticate(username, password string, register bool) {
	go func() {
		var (
			res *api.LoginResult
			err error
		)
		if register {
			res, err = a.api.Register(a.ctx, username, password)
		} else {
			res, err = a.api.Login(a.ctx, username, password)
		}
		if err != nil {
			a.app.QueueUpdateDraw(func() {
				a.authView.ShowMessage(err.Error())
			})
			return
		}

		ident := &session.Identity{Token: res.Token, User: res.User}
		if err := session.SaveIdentity(a.sessionName, ident); err != nil {
			a.logger.Warn("persist identity failed", zap.Error(err))
		}
		if err := a.startSession(ident); err != nil {
			a.app.QueueUpdateDraw(func() {
				a.authView.ShowMessage(err.Error())
			})
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.pages.SwitchToPage("chats")
			a.app.SetFocus(a.chatList)
		})
	}()
}

// logout tears the session down and discards every cache. The next
// login starts from a REST fetch, exactly like a fresh process.
func (a *App) logout() {
	a.teardownSession()
	if err := session.ClearIdentity(a.sessionName); err != nil {
		a.logger.Warn("clear identity failed", zap.Error(err))
	}
	a.chats.Clear()
	a.thread.Clear()
	a.chatList.Update(nil)
	a.msgView.Update(nil)
	a.pages.SwitchToPage("auth")
	a.app.SetFocus(a.authView.Form())
}

func (a *App) openChat(chatID string) {
	rec := a.reconciler()
	if rec == nil {
		return
	}
	go func() {
		if err := rec.ActivateChat(a.ctx, chatID); err != nil {
			a.flash.Set("Load failed: "+err.Error(), flashDuration)
			return
		}

		var name string
		var members []model.User
		selfID := a.selfID()
		for _, c := range a.chats.Snapshot() {
			if model.SameKey(c.Key(), chatID) {
				name = c.DisplayName(selfID)
				members = c.Members
				break
			}
		}
		a.app.QueueUpdateDraw(func() {
			a.msgView.SetChatName(name)
			a.msgView.SetMembers(members)
			a.msgView.Update(a.thread.Snapshot())
			a.pages.SwitchToPage("chat")
			a.app.SetFocus(a.composer.InputField)
		})
	}()
}

// startChat creates (or re-opens) a direct chat with the given user.
func (a *App) startChat(userID string) {
	rec := a.reconciler()
	if rec == nil {
		return
	}
	go func() {
		chat, err := a.api.CreateChat(a.ctx, []string{userID}, "", false)
		if err != nil {
			a.flash.Set("Create chat failed: "+err.Error(), flashDuration)
			return
		}
		a.chats.UpsertFromCreated(*chat)
		a.bus.Publish(bus.New(bus.KindChatsChanged, nil))
		a.openChat(chat.Key())
	}()
}

func (a *App) showSearch() {
	a.pages.SwitchToPage("search")
	a.app.SetFocus(a.searchV.Input())
}

func (a *App) selfID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ident.UserID()
}

// eventLoop redraws views in response to change events from the
// reconciler and the push channel.
func (a *App) eventLoop() {
	events, unsub := a.bus.Subscribe("", 128)
	defer unsub()

	for {
		select {
		case evt := <-events:
			a.handleEvent(evt)
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindChatsChanged:
		a.app.QueueUpdateDraw(func() {
			a.chatList.Update(a.chats.Snapshot())
		})
	case bus.KindMessagesChanged:
		a.app.QueueUpdateDraw(func() {
			a.msgView.Update(a.thread.Snapshot())
			a.statusBar.SetFlash(a.flash.Get())
		})
	case bus.KindSendFailed:
		if reason, ok := evt.Payload.(string); ok {
			a.flash.Set("Send failed: "+reason, flashDuration)
		}
		a.app.QueueUpdateDraw(func() {
			a.statusBar.SetFlash(a.flash.Get())
		})
	case bus.KindConnStatus:
		change, ok := evt.Payload.(status.StatusChange)
		if !ok {
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.statusBar.SetConnState(change.To)
		})
	case bus.KindConnError:
		err, ok := evt.Payload.(error)
		if !ok {
			return
		}
		var authErr *realtime.AuthError
		if errors.As(err, &authErr) {
			// Token rejected: back to the sign-in form.
			a.app.QueueUpdateDraw(func() {
				a.logout()
				a.authView.ShowMessage(authErr.Reason)
			})
			return
		}
		a.flash.Set(err.Error(), flashDuration)
		a.app.QueueUpdateDraw(func() {
			a.statusBar.SetFlash(a.flash.Get())
		})
	}
}
