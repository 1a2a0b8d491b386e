package imageprovider

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"cgt.name/pkg/go-mwclient"
	"github.com/antonholmquist/jason"
	"github.com/google/uuid"
	"github.com/k3a/html2text"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/conf"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/errors"
)

const (
	wikiProviderName = "wikimedia"
	wikiAPIEndpoint  = "https://en.wikipedia.org/w/api.php"

	// User-Agent fields per the Wikimedia robot policy:
	// https://foundation.wikimedia.org/wiki/Policy:Wikimedia_Foundation_User-Agent_Policy
	userAgentName    = "CulicidaeLab-Go"
	userAgentContact = "https://github.com/iloncka-ds/culicidaelab-server-sub001"
	userAgentLibrary = "Go-HTTP-Client"

	// wikiThumbSize is the requested thumbnail width in pixels.
	wikiThumbSize = "400"
)

// WikiMediaProvider fetches species reference images through the
// MediaWiki API: a pageimages query for the thumbnail, then an
// imageinfo query against the file page for author and license.
type WikiMediaProvider struct {
	client     *mwclient.Client
	limiter    *rate.Limiter
	maxRetries int
}

// wikiAuthor carries attribution extracted from file page metadata.
type wikiAuthor struct {
	name        string
	url         string
	licenseName string
	licenseURL  string
}

// buildUserAgent constructs a policy-compliant user agent:
// <client>/<version> (<contact>) <library>/<version>.
func buildUserAgent(appVersion string) string {
	if appVersion == "" {
		appVersion = "unknown"
	}
	return fmt.Sprintf("%s/%s (%s) %s/%s",
		userAgentName, appVersion, userAgentContact, userAgentLibrary, runtime.Version())
}

// NewWikiMediaProvider creates a provider against the public API,
// carrying the queries through mwclient with a policy-compliant user
// agent. Requests are rate limited to 2 per second to respect
// Wikimedia's robot policy.
func NewWikiMediaProvider(settings *conf.Settings) (*WikiMediaProvider, error) {
	client, err := mwclient.New(wikiAPIEndpoint, buildUserAgent(settings.Version))
	if err != nil {
		return nil, errors.New(err).
			Component("imageprovider").
			Category(errors.CategoryNetwork).
			Context("provider", wikiProviderName).
			Context("operation", "create_mwclient").
			Build()
	}
	return &WikiMediaProvider{
		client:     client,
		limiter:    rate.NewLimiter(rate.Limit(2), 2),
		maxRetries: 3,
	}, nil
}

// Name returns the provider identifier used in persisted cache rows.
func (p *WikiMediaProvider) Name() string { return wikiProviderName }

// Fetch retrieves the reference image for a scientific name. A page
// without a free thumbnail yields ErrImageNotFound; missing attribution
// degrades to "Unknown" rather than failing the fetch.
func (p *WikiMediaProvider) Fetch(ctx context.Context, scientificName string) (SpeciesImage, error) {
	reqID := uuid.New().String()[:8]
	logger := getLoggerSafe("imageprovider").With(
		"provider", wikiProviderName,
		"scientific_name", scientificName,
		"request_id", reqID)

	thumbnailURL, fileName, err := p.queryThumbnail(ctx, reqID, scientificName)
	if err != nil {
		if errors.Is(err, ErrImageNotFound) {
			logger.Debug("no free thumbnail for species")
			return SpeciesImage{}, ErrImageNotFound
		}
		logger.Error("thumbnail query failed", "error", err)
		return SpeciesImage{}, err
	}

	author, err := p.queryAuthorInfo(ctx, reqID, fileName)
	if err != nil {
		if !errors.Is(err, ErrImageNotFound) {
			logger.Error("author info query failed", "error", err)
			return SpeciesImage{}, errors.Newf("unable to retrieve image attribution for species: %s", scientificName).
				Component("imageprovider").
				Category(errors.CategoryImageFetch).
				Context("provider", wikiProviderName).
				Context("request_id", reqID).
				Context("scientific_name", scientificName).
				Context("operation", "fetch_author_info").
				Build()
		}
		logger.Debug("author info not available, using defaults")
		author = &wikiAuthor{name: "Unknown", licenseName: "Unknown"}
	}

	logger.Info("image fetched",
		"url", thumbnailURL,
		"author", author.name,
		"license", author.licenseName)

	return SpeciesImage{
		URL:            thumbnailURL,
		ScientificName: scientificName,
		AuthorName:     author.name,
		AuthorURL:      author.url,
		LicenseName:    author.licenseName,
		LicenseURL:     author.licenseURL,
	}, nil
}

// queryThumbnail resolves the page thumbnail and its source file name.
func (p *WikiMediaProvider) queryThumbnail(ctx context.Context, reqID, scientificName string) (thumbnailURL, fileName string, err error) {
	page, err := p.queryFirstPage(ctx, reqID, map[string]string{
		"action":        "query",
		"format":        "json",
		"formatversion": "2",
		"prop":          "pageimages",
		"piprop":        "thumbnail|name",
		"pilicense":     "free",
		"titles":        scientificName,
		"pithumbsize":   wikiThumbSize,
		"redirects":     "",
	})
	if err != nil {
		return "", "", err
	}

	thumbnailURL, err = page.GetString("thumbnail", "source")
	if err != nil {
		// Pages without a free lead image are common; not an error.
		return "", "", ErrImageNotFound
	}
	fileName, err = page.GetString("pageimage")
	if err != nil {
		return "", "", ErrImageNotFound
	}
	return thumbnailURL, fileName, nil
}

// queryAuthorInfo resolves attribution from the file page extmetadata.
func (p *WikiMediaProvider) queryAuthorInfo(ctx context.Context, reqID, fileName string) (*wikiAuthor, error) {
	page, err := p.queryFirstPage(ctx, reqID, map[string]string{
		"action":        "query",
		"format":        "json",
		"formatversion": "2",
		"prop":          "imageinfo",
		"iiprop":        "extmetadata",
		"titles":        "File:" + fileName,
		"redirects":     "",
	})
	if err != nil {
		return nil, err
	}

	imageInfo, err := page.GetObjectArray("imageinfo")
	if err != nil || len(imageInfo) == 0 {
		return nil, ErrImageNotFound
	}
	extMetadata, err := imageInfo[0].GetObject("extmetadata")
	if err != nil {
		return nil, ErrImageNotFound
	}

	artistHTML, _ := extMetadata.GetString("Artist", "value")
	licenseName, _ := extMetadata.GetString("LicenseShortName", "value")
	licenseURL, _ := extMetadata.GetString("LicenseUrl", "value")

	authorName, authorURL := "", ""
	if artistHTML != "" {
		authorURL, authorName, err = extractArtistInfo(artistHTML)
		if err != nil {
			// Attribution may be plain text; keep what html2text finds.
			authorName = html2text.HTML2Text(artistHTML)
		}
	}
	if authorName == "" {
		authorName = "Unknown"
	}
	if licenseName == "" {
		licenseName = "Unknown"
	}

	return &wikiAuthor{
		name:        authorName,
		url:         authorURL,
		licenseName: licenseName,
		licenseURL:  licenseURL,
	}, nil
}

// queryFirstPage issues an API query and returns the first page object.
// A response without pages means the species has no article; that is
// reported as ErrImageNotFound, not a network failure.
func (p *WikiMediaProvider) queryFirstPage(ctx context.Context, reqID string, params map[string]string) (*jason.Object, error) {
	resp, err := p.queryWithRetry(ctx, reqID, params)
	if err != nil {
		return nil, err
	}

	query, err := resp.GetObject("query")
	if err != nil {
		return nil, ErrImageNotFound
	}
	pages, err := query.GetObjectArray("pages")
	if err != nil || len(pages) == 0 {
		return nil, ErrImageNotFound
	}
	if missing, err := pages[0].GetBoolean("missing"); err == nil && missing {
		return nil, ErrImageNotFound
	}
	return pages[0], nil
}

// queryWithRetry issues the API query through mwclient with the rate
// limiter and a bounded exponential backoff. The context bounds the
// limiter wait and the backoff sleeps; mwclient carries the request
// itself.
func (p *WikiMediaProvider) queryWithRetry(ctx context.Context, reqID string, params map[string]string) (*jason.Object, error) {
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, errors.New(err).
				Component("imageprovider").
				Category(errors.CategoryNetwork).
				Context("provider", wikiProviderName).
				Context("request_id", reqID).
				Context("operation", "rate_limiter_wait").
				Build()
		}

		resp, err := p.client.Get(params)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if attempt < p.maxRetries-1 {
			backoff := time.Second * time.Duration(1<<attempt)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, errors.New(lastErr).
		Component("imageprovider").
		Category(errors.CategoryNetwork).
		Context("provider", wikiProviderName).
		Context("request_id", reqID).
		Context("max_retries", p.maxRetries).
		Context("operation", "query_with_retry").
		Context("api_action", params["action"]).
		Context("species_query", params["titles"]).
		Build()
}

// extractArtistInfo pulls the author name and link from attribution
// HTML, preferring Wikipedia user links over other anchors.
func extractArtistInfo(htmlStr string) (href, text string, err error) {
	doc, err := html.Parse(strings.NewReader(htmlStr))
	if err != nil {
		return "", "", err
	}

	links := findLinks(doc)
	if userLinks := findWikipediaUserLinks(links); len(userLinks) > 0 {
		return extractHref(userLinks[0]), extractText(userLinks[0]), nil
	}
	if len(links) > 0 {
		return extractHref(links[0]), extractText(links[0]), nil
	}
	return "", html2text.HTML2Text(htmlStr), nil
}

// findWikipediaUserLinks filters anchors down to user page links.
func findWikipediaUserLinks(nodes []*html.Node) []*html.Node {
	var userLinks []*html.Node
	for _, node := range nodes {
		for _, attr := range node.Attr {
			if attr.Key == "href" && strings.Contains(attr.Val, "/wiki/User:") {
				userLinks = append(userLinks, node)
				break
			}
		}
	}
	return userLinks
}

// findLinks returns all anchor tags in document order.
func findLinks(doc *html.Node) []*html.Node {
	var links []*html.Node
	var traverse func(*html.Node)
	traverse = func(node *html.Node) {
		if node.Type == html.ElementNode && node.Data == "a" {
			links = append(links, node)
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			traverse(child)
		}
	}
	traverse(doc)
	return links
}

func extractHref(link *html.Node) string {
	for _, attr := range link.Attr {
		if attr.Key == "href" {
			return attr.Val
		}
	}
	return ""
}

func extractText(link *html.Node) string {
	if link.FirstChild == nil {
		return ""
	}
	var b bytes.Buffer
	if err := html.Render(&b, link.FirstChild); err != nil {
		return ""
	}
	return html2text.HTML2Text(b.String())
}
