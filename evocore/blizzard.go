package evocore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	blizzardOAuthURLFormat = "https://%s.battle.net/oauth/token"
	blizzardAPIURLFormat   = "https://%s.api.blizzard.com"

	// refresh the OAuth token this long before it actually expires
	blizzardTokenExpiryMargin = time.Minute

	embedColorWoW = 0xF8B700
)

// BlizzardClient looks up World of Warcraft characters via the
// Blizzard profile API and Raider.IO. Both calls share one
// client-side rate limiter.
type BlizzardClient struct {
	config     *BlizzardConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger

	// oauthURL and apiBaseURL are derived from the configured region;
	// tests point them at a local server
	oauthURL   string
	apiBaseURL string

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time
}

func newBlizzardClient(
	config *BlizzardConfig,
	httpClient *http.Client,
) *BlizzardClient {
	limit := rate.Inf
	if config.MaxRequestsPerSecond > 0 {
		limit = rate.Limit(config.MaxRequestsPerSecond)
	}
	logger := slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "blizzard")

	return &BlizzardClient{
		config:     config,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
		oauthURL:   fmt.Sprintf(blizzardOAuthURLFormat, config.Region),
		apiBaseURL: fmt.Sprintf(blizzardAPIURLFormat, config.Region),
	}
}

func (b *BlizzardClient) enabled() bool {
	return b.config.ClientID != "" && b.config.ClientSecret != ""
}

// WoWCharacter is the subset of the Blizzard character profile
// endpoint we render.
type WoWCharacter struct {
	Name  string `json:"name"`
	Level int    `json:"level"`
	Realm struct {
		Name string `json:"name"`
	} `json:"realm"`
	CharacterClass struct {
		Name string `json:"name"`
	} `json:"character_class"`
	ActiveSpec struct {
		Name string `json:"name"`
	} `json:"active_spec"`
	Faction struct {
		Name string `json:"name"`
	} `json:"faction"`
	Guild struct {
		Name string `json:"name"`
	} `json:"guild"`
	AverageItemLevel  int `json:"average_item_level"`
	EquippedItemLevel int `json:"equipped_item_level"`
}

// RaiderIOProfile is the subset of the Raider.IO character profile we
// render.
type RaiderIOProfile struct {
	Name                     string `json:"name"`
	ProfileURL               string `json:"profile_url"`
	MythicPlusScoresBySeason []struct {
		Scores struct {
			All float64 `json:"all"`
		} `json:"scores"`
	} `json:"mythic_plus_scores_by_season"`
}

func (p RaiderIOProfile) CurrentScore() float64 {
	if len(p.MythicPlusScoresBySeason) == 0 {
		return 0
	}
	return p.MythicPlusScoresBySeason[0].Scores.All
}

// CharacterSummary combines the Blizzard profile with the Raider.IO
// mythic+ score. RaiderIO may be nil when that lookup failed.
type CharacterSummary struct {
	Character *WoWCharacter
	RaiderIO  *RaiderIOProfile
}

func (b *BlizzardClient) accessToken(ctx context.Context) (string, error) {
	b.tokenMu.Lock()
	defer b.tokenMu.Unlock()

	if b.token != "" && time.Now().Before(b.tokenExpiry) {
		return b.token, nil
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return "", err
	}

	form := url.Values{"grant_type": []string{"client_credentials"}}
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		b.oauthURL,
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(b.config.ClientID, b.config.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rv, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("error requesting token: %w", err)
	}
	defer func() {
		_ = rv.Body.Close()
	}()
	if rv.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request failed: %s", rv.Status)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err = json.NewDecoder(rv.Body).Decode(&payload); err != nil {
		return "", err
	}

	b.token = payload.AccessToken
	b.tokenExpiry = time.Now().Add(
		time.Duration(payload.ExpiresIn)*time.Second - blizzardTokenExpiryMargin,
	)
	b.logger.InfoContext(ctx, "refreshed blizzard access token")
	return b.token, nil
}

// realmSlug converts a realm display name to the slug form both APIs
// expect ("Area 52" -> "area-52").
func realmSlug(realm string) string {
	slug := strings.ToLower(strings.TrimSpace(realm))
	slug = strings.ReplaceAll(slug, "'", "")
	return strings.ReplaceAll(slug, " ", "-")
}

// CharacterProfile fetches a character from the Blizzard profile API.
func (b *BlizzardClient) CharacterProfile(
	ctx context.Context,
	realm string,
	name string,
) (*WoWCharacter, error) {
	token, err := b.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	if err = b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf(
		"%s/profile/wow/character/%s/%s?namespace=profile-%s&locale=%s",
		b.apiBaseURL,
		realmSlug(realm),
		url.PathEscape(strings.ToLower(name)),
		b.config.Region,
		b.config.Locale,
	)
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		endpoint,
		nil,
	)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))

	rv, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rv.Body.Close()
	}()

	switch rv.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf(
			"character %s-%s not found",
			name,
			realm,
		)
	default:
		body, _ := io.ReadAll(rv.Body)
		b.logger.WarnContext(
			ctx,
			"unexpected blizzard response",
			"status", rv.Status,
			"body", shortenString(string(body), 256),
		)
		return nil, fmt.Errorf("character lookup failed: %s", rv.Status)
	}

	var character WoWCharacter
	if err = json.NewDecoder(rv.Body).Decode(&character); err != nil {
		return nil, err
	}
	return &character, nil
}

// RaiderIOCharacter fetches the mythic+ profile from Raider.IO.
func (b *BlizzardClient) RaiderIOCharacter(
	ctx context.Context,
	realm string,
	name string,
) (*RaiderIOProfile, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	query := url.Values{
		"region": []string{b.config.Region},
		"realm":  []string{realmSlug(realm)},
		"name":   []string{strings.ToLower(name)},
		"fields": []string{"mythic_plus_scores_by_season:current"},
	}
	endpoint := fmt.Sprintf(
		"%s/characters/profile?%s",
		b.config.RaiderIOBaseURL,
		query.Encode(),
	)
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		endpoint,
		nil,
	)
	if err != nil {
		return nil, err
	}

	rv, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rv.Body.Close()
	}()
	if rv.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("raider.io lookup failed: %s", rv.Status)
	}

	var profile RaiderIOProfile
	if err = json.NewDecoder(rv.Body).Decode(&profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// CharacterSummary fetches the Blizzard profile and Raider.IO score
// in parallel. A Raider.IO failure only degrades the summary; a
// Blizzard failure fails the lookup.
func (b *BlizzardClient) CharacterSummary(
	ctx context.Context,
	realm string,
	name string,
) (*CharacterSummary, error) {
	summary := &CharacterSummary{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(
		func() error {
			character, err := b.CharacterProfile(gctx, realm, name)
			if err != nil {
				return err
			}
			summary.Character = character
			return nil
		},
	)
	g.Go(
		func() error {
			profile, err := b.RaiderIOCharacter(gctx, realm, name)
			if err != nil {
				b.logger.WarnContext(
					gctx,
					"raider.io lookup failed",
					"realm", realm,
					"name", name,
					tint.Err(err),
				)
				return nil
			}
			summary.RaiderIO = profile
			return nil
		},
	)
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summary, nil
}

func appCommandWoW() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandWoW,
		Description: "Look up a World of Warcraft character",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "realm",
				Description: "Realm name (e.g. 'Area 52')",
				Required:    true,
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "character",
				Description: "Character name",
				Required:    true,
			},
		},
	}
}

func (e *Evocore) handleWoWCommand(
	ctx context.Context,
	handler InteractionHandler,
	i *discordgo.InteractionCreate,
) {
	logger := handler.Logger()

	if !e.blizzard.enabled() {
		editResponseContent(
			ctx,
			handler,
			"Character lookups aren't configured on this bot.",
		)
		return
	}

	opts := discordInteractionOptions(i)
	realm := opts["realm"].StringValue()
	name := opts["character"].StringValue()

	summary, err := e.blizzard.CharacterSummary(ctx, realm, name)
	if err != nil {
		logger.WarnContext(
			ctx,
			"character lookup failed",
			"realm", realm,
			"name", name,
			tint.Err(err),
		)
		editResponseContent(
			ctx,
			handler,
			fmt.Sprintf("Couldn't find **%s** on **%s**.", name, realm),
		)
		return
	}

	embed := wowCharacterEmbed(summary)
	if _, err = handler.Edit(
		ctx, &discordgo.WebhookEdit{
			Embeds: &[]*discordgo.MessageEmbed{embed},
		},
	); err != nil {
		logger.ErrorContext(
			ctx,
			"error sending character embed",
			tint.Err(err),
		)
	}
}

func wowCharacterEmbed(summary *CharacterSummary) *discordgo.MessageEmbed {
	character := summary.Character
	fields := []*discordgo.MessageEmbedField{
		{
			Name: "Class",
			Value: fmt.Sprintf(
				"%s (%s)",
				character.CharacterClass.Name,
				character.ActiveSpec.Name,
			),
			Inline: true,
		},
		{
			Name:   "Level",
			Value:  fmt.Sprintf("%d", character.Level),
			Inline: true,
		},
		{
			Name: "Item Level",
			Value: fmt.Sprintf(
				"%d equipped / %d average",
				character.EquippedItemLevel,
				character.AverageItemLevel,
			),
			Inline: true,
		},
	}
	if character.Guild.Name != "" {
		fields = append(
			fields, &discordgo.MessageEmbedField{
				Name:   "Guild",
				Value:  character.Guild.Name,
				Inline: true,
			},
		)
	}
	if summary.RaiderIO != nil && summary.RaiderIO.CurrentScore() > 0 {
		fields = append(
			fields, &discordgo.MessageEmbedField{
				Name:   "Mythic+ Score",
				Value:  fmt.Sprintf("%.1f", summary.RaiderIO.CurrentScore()),
				Inline: true,
			},
		)
	}

	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf(
			"%s - %s (%s)",
			character.Name,
			character.Realm.Name,
			character.Faction.Name,
		),
		Color:  embedColorWoW,
		Fields: fields,
	}
	if summary.RaiderIO != nil && summary.RaiderIO.ProfileURL != "" {
		embed.URL = summary.RaiderIO.ProfileURL
	}
	return embed
}
