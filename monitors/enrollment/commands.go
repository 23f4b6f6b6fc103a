package enrollment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/yu320/NBot/bot"
	"github.com/yu320/NBot/channels"
	"github.com/yu320/NBot/registry"
	"github.com/yu320/NBot/watch"
)

// DefaultSemester is used when add is given no semester.
const DefaultSemester = "1142"

var semesterRe = regexp.MustCompile(`^\d{4}$`)

// Commands implements the !monitor command group.
type Commands struct {
	Registry *registry.Registry[Entry]
	Engine   *watch.Engine[Entry, Snapshot]
	// ChannelID is where watches are announced and notifications go.
	ChannelID string
	// RoleAnchorID positions new Mon- roles. Optional.
	RoleAnchorID    string
	DefaultSemester string
	Interval        time.Duration
	Logger          *slog.Logger
}

// Command returns the command definition for the router.
func (m *Commands) Command() bot.Command {
	if m.DefaultSemester == "" {
		m.DefaultSemester = DefaultSemester
	}
	if m.Logger == nil {
		m.Logger = slog.Default()
	}
	return bot.Command{
		Name:    "monitor",
		Aliases: []string{"監測", "課表監測"},
		Summary: "Course seat watches.",
		Color:   channels.ColorSteel,
		Sub: []bot.Subcommand{
			{Name: "add", Aliases: []string{"新增"}, Usage: "add <course_id> [semester]", Perm: discordgo.PermissionManageRoles, Run: m.add},
			{Name: "update", Aliases: []string{"更新學期"}, Usage: "update <course_id> <semester>", Perm: discordgo.PermissionManageRoles, Run: m.update},
			{Name: "remove", Aliases: []string{"移除", "刪除"}, Usage: "remove <course_id>", Perm: discordgo.PermissionManageRoles, Run: m.remove},
			{Name: "list", Aliases: []string{"清單"}, Run: m.list},
			{Name: "check", Aliases: []string{"檢查"}, Usage: "check <course_id>", Run: m.check},
		},
	}
}

func (m *Commands) add(c *bot.Context) error {
	courseID := c.Arg(0)
	if courseID == "" {
		return bot.Errorf("⚠️ Usage: `%smonitor add <course_id> [semester]`", c.Prefix)
	}
	semester := c.Arg(1)
	if semester == "" {
		semester = m.DefaultSemester
	}
	if !semesterRe.MatchString(semester) {
		return bot.Errorf("⚠️ The semester must be 4 digits (e.g. 1141).")
	}
	roleName := "Mon-" + courseID
	role, err := bot.FindRole(c.Ctx, c.API, c.GuildID(), roleName)
	if err != nil {
		return err
	}
	created := false
	if role == nil {
		role, err = bot.CreateRole(c.Ctx, c.API, c.GuildID(), roleName, m.RoleAnchorID, m.Logger)
		if err != nil {
			return bot.Errorf("❌ Could not create role %s: %v", roleName, err)
		}
		created = true
	}

	err = m.Registry.Add(Entry{
		CourseID:  courseID,
		AcadSeme:  semester,
		ChannelID: registry.ID(m.ChannelID),
		UserID:    registry.ID(c.Author().ID),
		RoleID:    registry.ID(role.ID),
		SetBy:     c.DisplayName(),
	})
	if err != nil && created {
		m.rollbackRole(c, role.ID)
	}
	if errors.Is(err, registry.ErrDuplicate) {
		return bot.Errorf("⚠️ Course `%s` is already watched.", courseID)
	}
	if err != nil {
		return err
	}

	if _, err := c.Send(channels.Message{
		ChannelID: m.ChannelID,
		Content: fmt.Sprintf("✅ Watch added: course `%s` (semester %s).\nJoin <@&%s> to get notified.",
			courseID, semester, role.ID),
	}); err != nil {
		m.Logger.Warn("enrollment: announce failed", "course", courseID, "error", err)
	}
	if c.ChannelID() != m.ChannelID {
		c.Reply("✅ Watch created in <#%s>.", m.ChannelID)
	}

	// The first reading is announced by the engine as the initial status.
	c.Tasks.Go("enrollment initial check "+courseID, func(ctx context.Context) error {
		if _, err := m.Engine.CheckOne(ctx, courseID); err != nil {
			c.Send(channels.Message{
				ChannelID: m.ChannelID,
				Content:   fmt.Sprintf("❌ Could not read the initial status of `%s`. The portal may be down or the course id is wrong.", courseID),
			})
			return err
		}
		return nil
	})
	return nil
}

// rollbackRole deletes a role created for a watch that was never stored.
func (m *Commands) rollbackRole(c *bot.Context, roleID string) {
	if err := c.API.GuildRoleDelete(c.GuildID(), roleID, discordgo.WithContext(c.Ctx)); err != nil {
		m.Logger.Warn("enrollment: role rollback failed", "role", roleID, "error", err)
	}
}

func (m *Commands) update(c *bot.Context) error {
	courseID, semester := c.Arg(0), c.Arg(1)
	if courseID == "" || semester == "" {
		return bot.Errorf("⚠️ Usage: `%smonitor update <course_id> <semester>`", c.Prefix)
	}
	if !semesterRe.MatchString(semester) {
		return bot.Errorf("⚠️ The semester must be 4 digits (e.g. 1141).")
	}
	var old string
	_, err := m.Registry.Modify(courseID, func(e Entry) (Entry, error) {
		old = e.AcadSeme
		e.AcadSeme = semester
		e.LastStatus = ""
		return e, nil
	})
	if errors.Is(err, registry.ErrNotFound) {
		return bot.Errorf("❌ Course `%s` is not watched. Add it with `%smonitor add`.", courseID, c.Prefix)
	}
	if err != nil {
		return err
	}
	return c.Reply("✅ Updated course `%s`: semester `%s` → `%s`.", courseID, old, semester)
}

func (m *Commands) remove(c *bot.Context) error {
	courseID := c.Arg(0)
	if courseID == "" {
		return bot.Errorf("⚠️ Usage: `%smonitor remove <course_id>`", c.Prefix)
	}
	e, err := m.Registry.Remove(courseID)
	if errors.Is(err, registry.ErrNotFound) {
		return bot.Errorf("❌ Course `%s` is not watched.", courseID)
	}
	if err != nil {
		return err
	}

	roleNote := ""
	if e.RoleID != "" {
		if err := c.API.GuildRoleDelete(c.GuildID(), e.RoleID.String(), discordgo.WithContext(c.Ctx)); err != nil {
			m.Logger.Warn("enrollment: role delete failed", "course", courseID, "role", e.RoleID, "error", err)
			roleNote = " (the role could not be deleted)"
		} else {
			roleNote = " and deleted its role"
		}
	}
	return c.Reply("✅ Removed course `%s`%s.", courseID, roleNote)
}

func (m *Commands) list(c *bot.Context) error {
	entries, err := m.Registry.Load()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return c.Reply("No course watches yet.")
	}
	embed := &channels.Embed{
		Title:       "📚 Course watches",
		Description: fmt.Sprintf("%d watches, checked every %s.", len(entries), m.Interval),
		Color:       channels.ColorSteel,
	}
	for _, e := range entries {
		role := "N/A"
		if e.RoleID != "" {
			role = fmt.Sprintf("<@&%s>", e.RoleID)
		}
		embed.AddField(
			fmt.Sprintf("%s (semester %s)", e.Title(), e.AcadSeme),
			fmt.Sprintf("Status: **%s**\nRole: %s\nSet by: <@%s>", StatusLabel(e.LastStatus), role, e.UserID),
			false,
		)
	}
	return c.ReplyEmbed(embed)
}

func (m *Commands) check(c *bot.Context) error {
	courseID := c.Arg(0)
	if courseID == "" {
		return bot.Errorf("⚠️ Usage: `%smonitor check <course_id>`", c.Prefix)
	}
	res, err := m.Engine.CheckOne(c.Ctx, courseID)
	switch {
	case errors.Is(err, watch.ErrUnknownTarget):
		return bot.Errorf("❌ Course `%s` is not watched.", courseID)
	case errors.Is(err, ErrNoRole):
		return bot.Errorf("⚠️ Course `%s` lost its role; remove and add it again.", courseID)
	case err != nil:
		return bot.Errorf("❌ Check failed: %v", err)
	}
	changed := ""
	if res.Changed {
		changed = " (changed, notification sent)"
	}
	return c.Reply("📚 `%s`: %d / %d → **%s**%s", courseID, res.Snapshot.Current, res.Snapshot.Max, StatusLabel(res.New.Value()), changed)
}

// StatusLabel renders a stored status for lists.
func StatusLabel(s string) string {
	switch s {
	case Available:
		return "🟢 seats available"
	case Full:
		return "🔴 full"
	default:
		return "not checked yet"
	}
}
