package meetup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/yu320/NBot/bot"
	"github.com/yu320/NBot/registry"
	"github.com/yu320/NBot/watch"
)

const reactionPage = 100

// Fetcher reads the ✋ roster of a meetup card.
type Fetcher struct {
	API bot.Discord
	// SelfID returns the bot's user id; its own reaction is not a sign-up.
	SelfID func() string
}

// Fetch lists every non-bot user holding the sign-up reaction.
func (f *Fetcher) Fetch(ctx context.Context, e Entry) (Snapshot, error) {
	self := ""
	if f.SelfID != nil {
		self = f.SelfID()
	}
	var (
		users []string
		after string
	)
	for {
		page, err := f.API.MessageReactions(e.ChannelID.String(), e.MessageID.String(), Emoji, reactionPage, "", after, discordgo.WithContext(ctx))
		if err != nil {
			return Snapshot{}, fmt.Errorf("meetup: reactions on %s: %w", e.MessageID, err)
		}
		for _, u := range page {
			if u.Bot || u.ID == self {
				continue
			}
			users = append(users, u.ID)
		}
		if len(page) < reactionPage {
			return Snapshot{Users: users}, nil
		}
		after = page[len(page)-1].ID
	}
}

// Notifier applies a roster diff: entering users get the meetup role,
// leaving users lose it. When the previous roster was known it also posts
// a short update on the card's channel.
type Notifier struct {
	API    bot.Discord
	Logger *slog.Logger
}

// Notify implements watch.Funcs.Notify.
func (n *Notifier) Notify(ctx context.Context, c watch.Change[Entry, Snapshot]) error {
	e := c.Target
	guild, err := guildOf(ctx, n.API, e)
	if err != nil {
		return err
	}
	entered, left := c.New.Diff(c.Old)

	var errs []error
	for _, u := range entered {
		if err := n.API.GuildMemberRoleAdd(guild, u, e.RoleID.String(), discordgo.WithContext(ctx)); err != nil {
			errs = append(errs, fmt.Errorf("grant %s: %w", u, err))
		}
	}
	for _, u := range left {
		if err := n.API.GuildMemberRoleRemove(guild, u, e.RoleID.String(), discordgo.WithContext(ctx)); err != nil {
			errs = append(errs, fmt.Errorf("revoke %s: %w", u, err))
		}
	}

	if c.Old.IsSet() && len(entered)+len(left) > 0 {
		var parts []string
		for _, u := range entered {
			parts = append(parts, "+<@"+u+">")
		}
		for _, u := range left {
			parts = append(parts, "-<@"+u+">")
		}
		msg := fmt.Sprintf("%s **%s** roster synced: %s (%d going)", Emoji, e.Name, strings.Join(parts, " "), len(c.New.Kinds()))
		if _, err := n.API.ChannelMessageSend(e.ChannelID.String(), msg, discordgo.WithContext(ctx)); err != nil {
			errs = append(errs, fmt.Errorf("roster update: %w", err))
		}
	}
	return errors.Join(errs...)
}

// guildOf returns the meetup's guild, resolving it from the channel for
// entries written before the guild was stored.
func guildOf(ctx context.Context, api bot.Discord, e Entry) (string, error) {
	if e.GuildID != "" {
		return e.GuildID.String(), nil
	}
	ch, err := api.Channel(e.ChannelID.String(), discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("meetup: resolve guild of %s: %w", e.MessageID, err)
	}
	return ch.GuildID, nil
}

// Live applies ✋ reactions as they happen.
type Live struct {
	Registry *registry.Registry[Entry]
	Logger   *slog.Logger
}

// HandleReaction implements bot.ReactionHandler.
func (l *Live) HandleReaction(ctx context.Context, api bot.Discord, r *discordgo.MessageReaction, added bool) error {
	if r.Emoji.Name != Emoji {
		return nil
	}
	e, err := l.Registry.Get(r.MessageID)
	if errors.Is(err, registry.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := Validate(e); err != nil {
		return err
	}
	if !added && !e.Status().Has(r.UserID) {
		// Never granted: a bot's reaction or one that predates the entry.
		return nil
	}
	guild := r.GuildID
	if guild == "" {
		if guild, err = guildOf(ctx, api, e); err != nil {
			return err
		}
	}

	if added {
		err = api.GuildMemberRoleAdd(guild, r.UserID, e.RoleID.String(), discordgo.WithContext(ctx))
	} else {
		err = api.GuildMemberRoleRemove(guild, r.UserID, e.RoleID.String(), discordgo.WithContext(ctx))
	}
	if err != nil {
		return fmt.Errorf("meetup: role %s for %s: %w", e.RoleID, r.UserID, err)
	}

	_, err = l.Registry.Modify(r.MessageID, func(e Entry) (Entry, error) {
		users := e.Status().Kinds()
		if added {
			users = append(users, r.UserID)
		} else {
			users = slices.DeleteFunc(users, func(u string) bool { return u == r.UserID })
		}
		return e.WithStatus(watch.StateOf(users...)), nil
	})
	if err != nil {
		return err
	}
	l.logger().Info("meetup: roster changed", "meetup", r.MessageID, "user", r.UserID, "joined", added)
	return nil
}

func (l *Live) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}
