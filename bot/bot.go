// Package bot wires the Discord gateway session to prefix commands,
// reaction handlers and the background task runner.
//
// Monitor packages register their commands on the Router and, where they
// need the live gateway, reaction and message hooks on the Bot. The bot
// itself only knows the Discord interface, so every handler can be driven
// by bottest.Fake in tests.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
)

// Config configures the bot.
type Config struct {
	Prefix string
	// OnlineChannelID receives a short message on every Ready. Optional.
	OnlineChannelID string
	Logger          *slog.Logger
}

func (c *Config) defaults() {
	if c.Prefix == "" {
		c.Prefix = "!"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ReactionHandler handles a reaction add (added=true) or removal.
type ReactionHandler func(ctx context.Context, api Discord, r *discordgo.MessageReaction, added bool) error

// MessageHook sees every non-command message from a human.
type MessageHook func(ctx context.Context, api Discord, m *discordgo.Message) error

// Bot is the running Discord client.
type Bot struct {
	cfg     Config
	session *discordgo.Session
	api     Discord
	router  *Router
	tasks   *Tasks
	cancel  context.CancelFunc

	selfID    atomic.Value
	ready     chan struct{}
	readyOnce sync.Once

	mu        sync.RWMutex
	reactions []ReactionHandler
	hooks     []MessageHook
}

// New creates a bot for token. Call Open to connect.
func New(token string, cfg Config) (*Bot, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("bot: session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsAllWithoutPrivileged |
		discordgo.IntentMessageContent |
		discordgo.IntentGuildMembers
	b := NewWithAPI(s, cfg)
	b.session = s
	s.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) { b.HandleReady(r) })
	s.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) { b.HandleMessage(m.Message) })
	s.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionAdd) { b.HandleReactionAdd(r) })
	s.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionRemove) { b.HandleReaction(r.MessageReaction, false) })
	return b, nil
}

// NewWithAPI creates a bot around an existing Discord client without a
// gateway connection. Events are fed through the Handle methods.
func NewWithAPI(api Discord, cfg Config) *Bot {
	cfg.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bot{
		cfg:    cfg,
		api:    api,
		router: NewRouter(cfg.Prefix, cfg.Logger),
		tasks:  NewTasks(ctx, cfg.Logger),
		cancel: cancel,
		ready:  make(chan struct{}),
	}
	b.selfID.Store("")
	return b
}

// API returns the Discord client.
func (b *Bot) API() Discord { return b.api }

// Router returns the command router.
func (b *Bot) Router() *Router { return b.router }

// Tasks returns the background task runner.
func (b *Bot) Tasks() *Tasks { return b.tasks }

// Ready is closed on the first Ready event.
func (b *Bot) Ready() <-chan struct{} { return b.ready }

// SelfID returns the bot user's id once Ready was seen.
func (b *Bot) SelfID() string { return b.selfID.Load().(string) }

// OnReaction registers a reaction handler.
func (b *Bot) OnReaction(h ReactionHandler) {
	b.mu.Lock()
	b.reactions = append(b.reactions, h)
	b.mu.Unlock()
}

// OnMessage registers a hook for non-command messages.
func (b *Bot) OnMessage(h MessageHook) {
	b.mu.Lock()
	b.hooks = append(b.hooks, h)
	b.mu.Unlock()
}

// Open connects the gateway.
func (b *Bot) Open() error {
	if b.session == nil {
		return fmt.Errorf("bot: no gateway session")
	}
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("bot: open gateway: %w", err)
	}
	return nil
}

// Close cancels running tasks, waits for them and closes the gateway.
func (b *Bot) Close() error {
	b.cancel()
	b.tasks.Wait()
	if b.session != nil {
		return b.session.Close()
	}
	return nil
}

// HandleReady records the bot identity and signals readiness. Reconnects
// deliver Ready again; only the first one closes the channel.
func (b *Bot) HandleReady(r *discordgo.Ready) {
	if r.User != nil {
		b.selfID.Store(r.User.ID)
	}
	first := false
	b.readyOnce.Do(func() {
		close(b.ready)
		first = true
	})
	b.cfg.Logger.Info("bot: ready", "user", b.SelfID(), "guilds", len(r.Guilds), "reconnect", !first)

	if b.cfg.OnlineChannelID != "" {
		b.tasks.Go("online message", func(ctx context.Context) error {
			_, err := b.api.ChannelMessageSend(b.cfg.OnlineChannelID, "I'm online! 🐾", discordgo.WithContext(ctx))
			return err
		})
	}
}

// HandleMessage routes a created message to the command router, or to
// message hooks when it is not a command.
func (b *Bot) HandleMessage(m *discordgo.Message) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == b.SelfID() {
		return
	}
	b.tasks.Go("message "+m.ID, func(ctx context.Context) error {
		c := &Context{Ctx: ctx, API: b.api, Message: m, Logger: b.cfg.Logger, Tasks: b.tasks}
		if b.router.Dispatch(c) {
			return nil
		}
		b.mu.RLock()
		hooks := b.hooks
		b.mu.RUnlock()
		for _, h := range hooks {
			if err := h(ctx, b.api, m); err != nil {
				b.cfg.Logger.Warn("bot: message hook failed", "message", m.ID, "error", err)
			}
		}
		return nil
	})
}

// HandleReactionAdd filters reactions added by other bots, then dispatches
// like HandleReaction. Only add events carry the member.
func (b *Bot) HandleReactionAdd(r *discordgo.MessageReactionAdd) {
	if r == nil || r.MessageReaction == nil {
		return
	}
	if r.Member != nil && r.Member.User != nil && r.Member.User.Bot {
		return
	}
	b.HandleReaction(r.MessageReaction, true)
}

// HandleReaction dispatches a reaction event to every handler as its own
// task. The bot's own reactions are ignored.
func (b *Bot) HandleReaction(r *discordgo.MessageReaction, added bool) {
	if r == nil || r.UserID == b.SelfID() {
		return
	}
	b.mu.RLock()
	handlers := b.reactions
	b.mu.RUnlock()
	verb := "reaction remove"
	if added {
		verb = "reaction add"
	}
	for _, h := range handlers {
		b.tasks.Go(verb+" "+r.MessageID, func(ctx context.Context) error {
			return h(ctx, b.api, r, added)
		})
	}
}
