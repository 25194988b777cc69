package bot

import (
	"context"
	"time"

	"emperror.dev/errors"
	"github.com/bwmarrin/discordgo"
)

// sessionEnforcer applies antispam actions through the Discord REST API,
// preferring the gateway state cache for lookups.
type sessionEnforcer struct {
	session *discordgo.Session
}

func (e *sessionEnforcer) Moderatable(ctx context.Context, guildID, userID string) (bool, error) {
	if e.session.State == nil || e.session.State.User == nil {
		return false, errors.New("session is not ready")
	}
	guild, err := e.guild(guildID)
	if err != nil {
		return false, err
	}
	target, err := e.member(guildID, userID)
	if err != nil {
		return false, err
	}
	self, err := e.member(guildID, e.session.State.User.ID)
	if err != nil {
		return false, err
	}
	return canModerate(guild, self, target), nil
}

// Timeout disables communication for the member until the given time and
// records reason in the guild's audit log.
func (e *sessionEnforcer) Timeout(ctx context.Context, guildID, userID string, until time.Time, reason string) error {
	var options []discordgo.RequestOption
	if reason != "" {
		options = append(options, discordgo.WithAuditLogReason(reason))
	}
	if err := e.session.GuildMemberTimeout(guildID, userID, &until, options...); err != nil {
		return errors.WrapWithDetails(err, "timeout member", "guild_id", guildID, "user_id", userID, "reason", reason)
	}
	return nil
}

func (e *sessionEnforcer) guild(guildID string) (*discordgo.Guild, error) {
	guild, err := e.session.State.Guild(guildID)
	if err == nil && guild != nil {
		return guild, nil
	}
	guild, err = e.session.Guild(guildID)
	if err != nil {
		return nil, errors.Wrap(err, "fetch guild")
	}
	return guild, nil
}

func (e *sessionEnforcer) member(guildID, userID string) (*discordgo.Member, error) {
	member, err := e.session.State.Member(guildID, userID)
	if err == nil && member != nil {
		return member, nil
	}
	member, err = e.session.GuildMember(guildID, userID)
	if err != nil {
		return nil, errors.Wrap(err, "fetch member")
	}
	return member, nil
}

// canModerate mirrors Discord's timeout rules: the owner and administrators
// cannot be timed out, the bot needs Moderate Members, and its highest role
// must sit above the target's.
func canModerate(guild *discordgo.Guild, self, target *discordgo.Member) bool {
	if guild == nil || self == nil || target == nil || target.User == nil {
		return false
	}
	if target.User.ID == guild.OwnerID {
		return false
	}
	if self.User != nil && self.User.ID == target.User.ID {
		return false
	}
	if memberPermissions(guild, target)&discordgo.PermissionAdministrator != 0 {
		return false
	}

	selfIsOwner := self.User != nil && self.User.ID == guild.OwnerID
	perms := memberPermissions(guild, self)
	if !selfIsOwner && perms&(discordgo.PermissionModerateMembers|discordgo.PermissionAdministrator) == 0 {
		return false
	}
	return selfIsOwner || highestRolePosition(guild, self) > highestRolePosition(guild, target)
}

func memberPermissions(guild *discordgo.Guild, member *discordgo.Member) int64 {
	perms := int64(0)
	roleMap := make(map[string]*discordgo.Role, len(guild.Roles))
	for _, role := range guild.Roles {
		roleMap[role.ID] = role
		if role.ID == guild.ID {
			perms |= role.Permissions
		}
	}
	for _, roleID := range member.Roles {
		if role := roleMap[roleID]; role != nil {
			perms |= role.Permissions
		}
	}
	return perms
}

func highestRolePosition(guild *discordgo.Guild, member *discordgo.Member) int {
	highest := 0
	for _, roleID := range member.Roles {
		for _, role := range guild.Roles {
			if role.ID == roleID && role.Position > highest {
				highest = role.Position
			}
		}
	}
	return highest
}
