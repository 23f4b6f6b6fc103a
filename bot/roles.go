package bot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// FindRole returns the role called name in guildID, or nil when there is
// none.
func FindRole(ctx context.Context, api Discord, guildID, name string) (*discordgo.Role, error) {
	roles, err := api.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	for _, r := range roles {
		if r.Name == name {
			return r, nil
		}
	}
	return nil, nil
}

// CreateRole creates a mentionable role without permissions. When anchorID
// names an existing role the new role is moved to its position; a failed
// move is logged and ignored.
func CreateRole(ctx context.Context, api Discord, guildID, name, anchorID string, logger *slog.Logger) (*discordgo.Role, error) {
	var none int64
	mentionable := true
	role, err := api.GuildRoleCreate(guildID, &discordgo.RoleParams{
		Name:        name,
		Permissions: &none,
		Mentionable: &mentionable,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("create role %s: %w", name, err)
	}
	if anchorID == "" {
		return role, nil
	}

	if logger == nil {
		logger = slog.Default()
	}
	roles, err := api.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		logger.Warn("bot: role anchor lookup failed", "role", name, "error", err)
		return role, nil
	}
	for _, r := range roles {
		if r.ID != anchorID {
			continue
		}
		if _, err := api.GuildRoleReorder(guildID, []*discordgo.Role{{ID: role.ID, Position: r.Position}}, discordgo.WithContext(ctx)); err != nil {
			logger.Warn("bot: role move failed", "role", name, "anchor", anchorID, "error", err)
		} else {
			role.Position = r.Position
		}
		return role, nil
	}
	logger.Warn("bot: role anchor not found", "anchor", anchorID)
	return role, nil
}
