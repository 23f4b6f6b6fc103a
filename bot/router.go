package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/bwmarrin/discordgo"

	"github.com/yu320/NBot/channels"
)

// Handler runs one command invocation.
type Handler func(c *Context) error

// Command is a top-level prefix command. A command either has Run or a set
// of subcommands selected by the first argument.
type Command struct {
	Name    string
	Aliases []string
	Summary string
	// Usage lines shown by help, without prefix ("ping", "clean <n>").
	Usage []string
	// Perm is the Discord permission bit required of the caller. 0 = none.
	Perm int64
	Run  Handler
	Sub  []Subcommand
	// Color of the usage embed. Default: ColorSteel.
	Color int
}

// Subcommand is one verb of a command group ("monitor add").
type Subcommand struct {
	Name    string
	Aliases []string
	Usage   string
	Perm    int64
	Run     Handler
}

func (c *Command) sub(name string) (*Subcommand, bool) {
	for i := range c.Sub {
		s := &c.Sub[i]
		if strings.EqualFold(s.Name, name) || containsFold(s.Aliases, name) {
			return s, true
		}
	}
	return nil, false
}

// Context carries one command invocation.
type Context struct {
	Ctx     context.Context
	API     Discord
	Message *discordgo.Message
	// Args are the arguments after the command (and subcommand) name.
	Args   []string
	Prefix string
	Logger *slog.Logger
	Tasks  *Tasks
}

// GuildID returns the guild the command was sent in.
func (c *Context) GuildID() string { return c.Message.GuildID }

// ChannelID returns the channel the command was sent in.
func (c *Context) ChannelID() string { return c.Message.ChannelID }

// Author returns the invoking user.
func (c *Context) Author() *discordgo.User { return c.Message.Author }

// DisplayName returns the invoking member's nickname, or the user name.
func (c *Context) DisplayName() string {
	if c.Message.Member != nil && c.Message.Member.Nick != "" {
		return c.Message.Member.Nick
	}
	if u := c.Message.Author; u != nil {
		if u.GlobalName != "" {
			return u.GlobalName
		}
		return u.Username
	}
	return ""
}

// Arg returns the i-th argument or "".
func (c *Context) Arg(i int) string {
	if i < len(c.Args) {
		return c.Args[i]
	}
	return ""
}

// Reply sends content to the invoking channel.
func (c *Context) Reply(format string, args ...any) error {
	content := format
	if len(args) > 0 {
		content = fmt.Sprintf(format, args...)
	}
	_, err := c.API.ChannelMessageSend(c.ChannelID(), content, discordgo.WithContext(c.Ctx))
	return err
}

// ReplyEmbed sends an embed to the invoking channel.
func (c *Context) ReplyEmbed(e *channels.Embed) error {
	_, err := c.Send(channels.Message{ChannelID: c.ChannelID(), Embed: e})
	return err
}

// Send posts msg and returns the created message.
func (c *Context) Send(msg channels.Message) (*discordgo.Message, error) {
	ch := msg.ChannelID
	if ch == "" {
		ch = c.ChannelID()
	}
	return c.API.ChannelMessageSendComplex(ch, channels.ToMessageSend(msg), discordgo.WithContext(c.Ctx))
}

// Can reports whether the invoking user holds perm in the current channel.
// Administrator implies every permission.
func (c *Context) Can(perm int64) bool {
	return HasPermission(c.API, c.Author().ID, c.ChannelID(), perm)
}

// HasPermission reports whether userID holds perm in channelID.
func HasPermission(api Discord, userID, channelID string, perm int64) bool {
	if perm == 0 {
		return true
	}
	p, err := api.UserChannelPermissions(userID, channelID)
	if err != nil {
		return false
	}
	return p&discordgo.PermissionAdministrator != 0 || p&perm == perm
}

var permNames = map[int64]string{
	discordgo.PermissionAdministrator:  "Administrator",
	discordgo.PermissionManageRoles:    "Manage Roles",
	discordgo.PermissionManageMessages: "Manage Messages",
	discordgo.PermissionManageServer:   "Manage Server",
}

// PermissionName returns a readable name for a single permission bit.
func PermissionName(perm int64) string {
	if n, ok := permNames[perm]; ok {
		return n
	}
	return fmt.Sprintf("permission %#x", perm)
}

// Router dispatches prefix commands.
type Router struct {
	prefix   string
	logger   *slog.Logger
	commands []*Command
	index    map[string]*Command
}

// NewRouter creates a router for prefix (usually "!").
func NewRouter(prefix string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{prefix: prefix, logger: logger, index: make(map[string]*Command)}
}

// Prefix returns the command prefix.
func (r *Router) Prefix() string { return r.prefix }

// Handle registers cmd. A later registration under the same name or alias
// replaces the earlier one.
func (r *Router) Handle(cmd Command) {
	c := &cmd
	if c.Color == 0 {
		c.Color = channels.ColorSteel
	}
	r.commands = append(r.commands, c)
	r.index[strings.ToLower(c.Name)] = c
	for _, a := range c.Aliases {
		r.index[strings.ToLower(a)] = c
	}
}

// Commands returns registered commands in registration order.
func (r *Router) Commands() []*Command { return r.commands }

// Dispatch handles m if it is a command. It reports whether a command
// matched.
func (r *Router) Dispatch(c *Context) bool {
	m := c.Message
	if m.Author == nil || m.Author.Bot || !strings.HasPrefix(m.Content, r.prefix) {
		return false
	}
	args := SplitArgs(m.Content[len(r.prefix):])
	if len(args) == 0 {
		return false
	}
	cmd, ok := r.index[strings.ToLower(args[0])]
	if !ok {
		return false
	}
	c.Prefix = r.prefix
	c.Args = args[1:]
	log := r.logger.With("command", cmd.Name, "user", m.Author.ID, "channel", m.ChannelID)

	run, perm := cmd.Run, cmd.Perm
	if len(cmd.Sub) > 0 {
		if len(c.Args) == 0 {
			r.reply(log, c.ReplyEmbed(r.Usage(cmd)))
			return true
		}
		sub, ok := cmd.sub(c.Args[0])
		if !ok {
			r.reply(log, c.ReplyEmbed(r.Usage(cmd)))
			return true
		}
		log = log.With("sub", sub.Name)
		c.Args = c.Args[1:]
		run = sub.Run
		if sub.Perm != 0 {
			perm = sub.Perm
		}
	}
	if run == nil {
		r.reply(log, c.ReplyEmbed(r.Usage(cmd)))
		return true
	}
	if !c.Can(perm) {
		r.reply(log, c.Reply("❌ You need the **%s** permission to do that.", PermissionName(perm)))
		return true
	}

	err := run(c)
	var ue *UserError
	switch {
	case err == nil:
		log.Debug("bot: command done")
	case errors.As(err, &ue):
		r.reply(log, c.Reply("%s", ue.Msg))
	default:
		log.Error("bot: command failed", "error", err)
		r.reply(log, c.Reply("⚠️ Command failed: %v", err))
	}
	return true
}

func (r *Router) reply(log *slog.Logger, err error) {
	if err != nil {
		log.Warn("bot: reply failed", "error", err)
	}
}

// Usage renders the help card for one command.
func (r *Router) Usage(cmd *Command) *channels.Embed {
	e := &channels.Embed{Title: r.prefix + cmd.Name, Description: cmd.Summary, Color: cmd.Color}
	for _, u := range cmd.Usage {
		e.AddField("`"+r.prefix+u+"`", "\u200b", false)
	}
	for _, s := range cmd.Sub {
		name := "`" + r.prefix + cmd.Name + " " + s.Name + "`"
		if s.Usage != "" {
			name = "`" + r.prefix + cmd.Name + " " + s.Usage + "`"
		}
		var notes []string
		if len(s.Aliases) > 0 {
			notes = append(notes, "aliases: "+strings.Join(s.Aliases, ", "))
		}
		if s.Perm != 0 {
			notes = append(notes, "needs "+PermissionName(s.Perm))
		}
		value := "\u200b"
		if len(notes) > 0 {
			value = strings.Join(notes, " · ")
		}
		e.AddField(name, value, false)
	}
	if len(cmd.Aliases) > 0 {
		e.Footer = "aliases: " + strings.Join(cmd.Aliases, ", ")
	}
	return e
}

// SplitArgs splits a command line on whitespace. Double quotes (ASCII or
// CJK “”「」) group words; a backslash escapes the next rune.
func SplitArgs(s string) []string {
	var (
		args    []string
		cur     strings.Builder
		inQuote rune
		hasTok  bool
		escaped bool
	)
	closing := map[rune]rune{'"': '"', '“': '”', '「': '」'}
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped, hasTok = true, true
		case inQuote != 0:
			if r == inQuote {
				inQuote = 0
			} else {
				cur.WriteRune(r)
			}
		case closing[r] != 0:
			inQuote, hasTok = closing[r], true
		case unicode.IsSpace(r):
			if hasTok {
				args = append(args, cur.String())
				cur.Reset()
				hasTok = false
			}
		default:
			cur.WriteRune(r)
			hasTok = true
		}
	}
	if hasTok {
		args = append(args, cur.String())
	}
	return args
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// Disabled returns cmd with every handler replaced by one that answers
// with reason. Used for domains whose configuration is incomplete.
func Disabled(cmd Command, reason error) Command {
	run := func(c *Context) error {
		return Errorf("⚠️ `%s%s` is disabled: %v", c.Prefix, cmd.Name, reason)
	}
	cmd.Run = run
	sub := make([]Subcommand, len(cmd.Sub))
	for i, s := range cmd.Sub {
		s.Run, s.Perm = run, 0
		sub[i] = s
	}
	cmd.Sub = sub
	return cmd
}
