package evocore

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const roleMenuMaxRoles = discordMaxButtonsPerActionRow

func appCommandRoleMenu() *discordgo.ApplicationCommand {
	manageRoles := int64(discordgo.PermissionManageRoles)

	options := []*discordgo.ApplicationCommandOption{
		{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        "title",
			Description: "Text shown above the buttons",
			Required:    true,
		},
	}
	for n := 1; n <= roleMenuMaxRoles; n++ {
		options = append(
			options, &discordgo.ApplicationCommandOption{
				Type:        discordgo.ApplicationCommandOptionRole,
				Name:        fmt.Sprintf("role%d", n),
				Description: fmt.Sprintf("Self-assignable role #%d", n),
				Required:    n == 1,
			},
		)
	}

	return &discordgo.ApplicationCommand{
		Name:                     DiscordSlashCommandRoleMenu,
		Description:              "Post a self-assign role menu in this channel",
		DefaultMemberPermissions: &manageRoles,
		Options:                  options,
	}
}

// handleRoleMenuCommand posts a message with one toggle button per
// selected role.
func (e *Evocore) handleRoleMenuCommand(
	ctx context.Context,
	handler InteractionHandler,
	i *discordgo.InteractionCreate,
) {
	logger := handler.Logger()
	opts := discordInteractionOptions(i)

	resolvedRoles := map[string]*discordgo.Role{}
	if data, ok := i.Interaction.Data.(discordgo.ApplicationCommandInteractionData); ok {
		if data.Resolved != nil {
			resolvedRoles = data.Resolved.Roles
		}
	}

	buttons := make([]discordgo.MessageComponent, 0, roleMenuMaxRoles)
	for n := 1; n <= roleMenuMaxRoles; n++ {
		opt := opts[fmt.Sprintf("role%d", n)]
		if opt == nil {
			continue
		}
		roleID, _ := opt.Value.(string)
		if roleID == "" {
			continue
		}
		label := roleID
		if role := resolvedRoles[roleID]; role != nil {
			label = role.Name
		}
		buttons = append(
			buttons, discordgo.Button{
				Label:    label,
				Style:    discordgo.SecondaryButton,
				CustomID: fmt.Sprintf("%s:%s", customIDRoleToggle, roleID),
			},
		)
	}

	if len(buttons) == 0 {
		editResponseContent(ctx, handler, "Pick at least one role!")
		return
	}

	_, err := e.discord.session.ChannelMessageSendComplex(
		i.ChannelID, &discordgo.MessageSend{
			Content: fmt.Sprintf(
				"**%s**\nClick a button to add or remove the role.",
				opts["title"].StringValue(),
			),
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: buttons},
			},
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		logger.ErrorContext(ctx, "error posting role menu", tint.Err(err))
		editResponseContent(ctx, handler, "I couldn't post the menu here.")
		return
	}
	editResponseContent(ctx, handler, "Role menu posted.")
}

// handleRoleToggleComponent adds the role if the member doesn't have
// it, removes it if they do.
func (e *Evocore) handleRoleToggleComponent(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	u *User,
	roleID string,
) *discordgo.InteractionResponse {
	ctx, logger := e.getLogger(ctx)
	logger = logger.With(
		slog.String("user_id", u.ID),
		slog.String("role_id", roleID),
	)

	if i.Member == nil {
		return ephemeralResponse("Role menus only work in a server.")
	}

	hasRole := slices.Contains(i.Member.Roles, roleID)

	var err error
	if hasRole {
		err = e.discord.session.GuildMemberRoleRemove(
			i.GuildID,
			u.ID,
			roleID,
			discordgo.WithContext(ctx),
		)
	} else {
		err = e.discord.session.GuildMemberRoleAdd(
			i.GuildID,
			u.ID,
			roleID,
			discordgo.WithContext(ctx),
		)
	}
	if err != nil {
		logger.ErrorContext(
			ctx,
			"error toggling role",
			"has_role", hasRole,
			tint.Err(err),
		)
		return ephemeralResponse(
			"I couldn't change that role - check my permissions and role position.",
		)
	}

	if hasRole {
		return ephemeralResponse(fmt.Sprintf("Removed <@&%s>.", roleID))
	}
	return ephemeralResponse(fmt.Sprintf("Added <@&%s>!", roleID))
}
