package nellebot

import (
	"context"
	"fmt"
	"github.com/NELLExchange/Reifnir/ordbok"
	"github.com/bwmarrin/discordgo"
	"log/slog"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	ordbokArticlesPerPage    = 5
	ordbokDefinitionsPerWord = 5
	ordbokSuggestions        = 10
	ordbokCopyright          = "Universitetet i Bergen og Språkrådet - ordbokene.no"
	ordbokNoMatch            = "No match"
	ordbokPagesTTL           = 15 * time.Minute

	cacheKeyOrdbokPages      = "OrdbokPages_"
	ordbokPageCustomIDPrefix = "ordbok_page"
)

// ordbokSearcher is implemented by *ordbok.Client
type ordbokSearcher interface {
	Search(ctx context.Context, dictionary string, query string, exact bool) (*ordbok.SearchResponse, error)
	Suggest(ctx context.Context, dictionary string, query string, maxResults int) (*ordbok.SuggestResponse, error)
	GetArticles(ctx context.Context, dictionary string, articleIDs []int) ([]*ordbok.Article, error)
}

type componentResponder interface {
	RespondWithComponents(
		ctx context.Context,
		embeds []*discordgo.MessageEmbed,
		components []discordgo.MessageComponent,
	) error
}

// ordbokPages is a search result, one embed per page, along with the
// user allowed to page through it
type ordbokPages struct {
	UserID string
	Pages  []*discordgo.MessageEmbed
}

type ordbokHandler struct {
	client ordbokSearcher
	cache  *SharedCache
	logger *slog.Logger
}

func newOrdbokHandler(client ordbokSearcher, cache *SharedCache, logger *slog.Logger) *ordbokHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ordbokHandler{
		client: client,
		cache:  cache,
		logger: logger.With(loggerNameKey, "ordbok"),
	}
}

func (h *ordbokHandler) register(b *MediatorBuilder) {
	HandleQuery(b, h.search)
}

func dictionaryName(dictionary string) string {
	if dictionary == ordbok.DictionaryNynorsk {
		return "Nynorskordboka"
	}
	return "Bokmålsordboka"
}

// search looks up the query, and responds with the first page of
// results. The pages are cached, for paging through with the buttons
// on the response.
func (h *ordbokHandler) search(ctx context.Context, q SearchOrdbokQuery) (*ordbokPages, error) {
	sc := q.Ctx
	if err := sc.Defer(ctx, false); err != nil {
		return nil, err
	}
	query := strings.TrimSpace(q.Query)
	if query == "" {
		return nil, sc.Respond(ctx, ordbokNoMatch, false)
	}

	exact := false
	if q.Autocomplete {
		suggestions, err := h.client.Suggest(ctx, q.Dictionary, query, ordbokSuggestions)
		if err != nil {
			return nil, fmt.Errorf("error getting suggestions: %w", err)
		}
		exact = containsSuggestion(suggestions, query)
	}

	found, err := h.client.Search(ctx, q.Dictionary, query, exact)
	if err != nil {
		return nil, fmt.Errorf("error searching %s: %w", q.Dictionary, err)
	}
	ids := found.Articles[q.Dictionary]
	if len(ids) == 0 {
		return nil, sc.Respond(ctx, ordbokNoMatch, false)
	}

	articles, err := h.client.GetArticles(ctx, q.Dictionary, ids)
	if err != nil {
		return nil, err
	}
	articles = slices.DeleteFunc(articles, func(a *ordbok.Article) bool { return a == nil })
	slices.SortStableFunc(
		articles,
		func(a, b *ordbok.Article) int { return a.MaxHomographNumber() - b.MaxHomographNumber() },
	)

	result := &ordbokPages{Pages: buildOrdbokPages(q.Dictionary, query, articles)}
	if u := sc.User(); u != nil {
		result.UserID = u.ID
	}
	if len(result.Pages) == 0 {
		return nil, sc.Respond(ctx, ordbokNoMatch, false)
	}

	interactionID := sc.Interaction().ID
	if len(result.Pages) > 1 {
		h.cache.set(cacheKeyOrdbokPages+interactionID, result, ordbokPagesTTL)
	}
	return result, h.respondPage(ctx, sc, interactionID, result, 0)
}

func (h *ordbokHandler) respondPage(
	ctx context.Context,
	sc SlashContext,
	key string,
	result *ordbokPages,
	page int,
) error {
	embeds := result.Pages[page : page+1]
	components := ordbokPageButtons(key, page, len(result.Pages))
	cr, ok := sc.(componentResponder)
	if !ok || len(components) == 0 {
		return sc.RespondEmbeds(ctx, embeds, false)
	}
	return cr.RespondWithComponents(ctx, embeds, components)
}

// turnPage handles clicks on the paging buttons of a search result
func (h *ordbokHandler) turnPage(ctx context.Context, session DiscordSessionHandler, i *discordgo.InteractionCreate) error {
	key, page, ok := parseOrdbokPageCustomID(i.MessageComponentData().CustomID)
	if !ok {
		return fmt.Errorf("invalid page button: %s", i.MessageComponentData().CustomID)
	}
	result, found := h.cache.get(cacheKeyOrdbokPages + key)
	pages, _ := result.(*ordbokPages)
	if !found || pages == nil || page < 0 || page >= len(pages.Pages) {
		return session.InteractionRespond(
			i.Interaction,
			&discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseChannelMessageWithSource,
				Data: &discordgo.InteractionResponseData{
					Content: "This search has expired. Search again to see more.",
					Flags:   discordgo.MessageFlagsEphemeral,
				},
			},
			discordgo.WithContext(ctx),
		)
	}

	var userID string
	if i.Member != nil && i.Member.User != nil {
		userID = i.Member.User.ID
	} else if i.User != nil {
		userID = i.User.ID
	}
	if userID != pages.UserID {
		return session.InteractionRespond(
			i.Interaction,
			&discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseChannelMessageWithSource,
				Data: &discordgo.InteractionResponseData{
					Content: "Only the person who searched can change pages.",
					Flags:   discordgo.MessageFlagsEphemeral,
				},
			},
			discordgo.WithContext(ctx),
		)
	}

	return session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseUpdateMessage,
			Data: &discordgo.InteractionResponseData{
				Embeds:     pages.Pages[page : page+1],
				Components: ordbokPageButtons(key, page, len(pages.Pages)),
			},
		},
		discordgo.WithContext(ctx),
	)
}

// autocomplete suggests words for the query option
func (h *ordbokHandler) autocomplete(
	ctx context.Context,
	dictionary string,
	prefix string,
) ([]*discordgo.ApplicationCommandOptionChoice, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, nil
	}
	suggestions, err := h.client.Suggest(ctx, dictionary, prefix, ordbokSuggestions)
	if err != nil {
		return nil, err
	}
	var choices []*discordgo.ApplicationCommandOptionChoice
	seen := map[string]bool{}
	for _, key := range []string{"exact", "inflect", "freetext", "similar"} {
		for _, s := range suggestions.Suggestions[key] {
			if seen[s.Word] || len(choices) == ordbokSuggestions {
				continue
			}
			seen[s.Word] = true
			choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: s.Word, Value: s.Word})
		}
	}
	return choices, nil
}

func containsSuggestion(r *ordbok.SuggestResponse, query string) bool {
	if r == nil {
		return false
	}
	for _, suggestions := range r.Suggestions {
		for _, s := range suggestions {
			if strings.EqualFold(s.Word, query) {
				return true
			}
		}
	}
	return false
}

func ordbokSearchURL(dictionary string, query string) string {
	return fmt.Sprintf(
		"https://ordbokene.no/%s/search?q=%s&scope=ei",
		dictionary,
		url.QueryEscape(query),
	)
}

func buildOrdbokPages(dictionary string, query string, articles []*ordbok.Article) []*discordgo.MessageEmbed {
	title := fmt.Sprintf("%s | %d treff", dictionaryName(dictionary), len(articles))
	pageCount := (len(articles) + ordbokArticlesPerPage - 1) / ordbokArticlesPerPage

	pages := make([]*discordgo.MessageEmbed, 0, pageCount)
	for i, chunk := range chunkItems(ordbokArticlesPerPage, articles...) {
		var b strings.Builder
		for j, a := range chunk {
			writeOrdbokArticle(&b, i*ordbokArticlesPerPage+j+1, a)
		}
		if pageCount > 1 {
			fmt.Fprintf(&b, "Side %d av %d", i+1, pageCount)
		}
		pages = append(
			pages,
			&discordgo.MessageEmbed{
				Title:       title,
				URL:         ordbokSearchURL(dictionary, query),
				Description: truncate(strings.TrimSpace(b.String()), MaxEmbedContentLength),
				Footer:      &discordgo.MessageEmbedFooter{Text: ordbokCopyright},
				Color:       DefaultEmbedColor,
			},
		)
	}
	return pages
}

func writeOrdbokArticle(b *strings.Builder, n int, a *ordbok.Article) {
	lemmas := make([]string, 0, len(a.Lemmas))
	for _, l := range a.Lemmas {
		lemmas = append(lemmas, l.Lemma)
	}
	fmt.Fprintf(b, "**%d. %s**", n, strings.Join(lemmas, ", "))
	if hg := a.MaxHomographNumber(); hg > 0 {
		fmt.Fprintf(b, " (%d)", hg)
	}
	b.WriteString("\n")

	defs := a.Definitions()
	for i, d := range defs {
		if i == ordbokDefinitionsPerWord {
			fmt.Fprintf(b, "*... %d more*\n", len(defs)-ordbokDefinitionsPerWord)
			break
		}
		fmt.Fprintf(b, "%d. %s\n", i+1, strings.Join(d.Explanations, "; "))
		for _, ex := range d.Examples {
			fmt.Fprintf(b, "    *%s*\n", ex)
		}
	}
	b.WriteString("\n")
}

func ordbokPageCustomID(key string, page int) string {
	return fmt.Sprintf("%s:%s:%d", ordbokPageCustomIDPrefix, key, page)
}

func parseOrdbokPageCustomID(customID string) (key string, page int, ok bool) {
	parts := strings.Split(customID, ":")
	if len(parts) != 3 || parts[0] != ordbokPageCustomIDPrefix {
		return "", 0, false
	}
	page, err := strconv.Atoi(parts[2])
	if err != nil {
		return "", 0, false
	}
	return parts[1], page, true
}

// ordbokPageButtons returns the previous/next buttons for page, or
// nothing if there's only one page
func ordbokPageButtons(key string, page int, pageCount int) []discordgo.MessageComponent {
	if pageCount <= 1 {
		return nil
	}
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Forrige",
					Style:    discordgo.SecondaryButton,
					CustomID: ordbokPageCustomID(key, page-1),
					Disabled: page == 0,
				},
				discordgo.Button{
					Label:    "Neste",
					Style:    discordgo.SecondaryButton,
					CustomID: ordbokPageCustomID(key, page+1),
					Disabled: page == pageCount-1,
				},
			},
		},
	}
}
