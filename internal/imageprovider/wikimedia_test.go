package imageprovider

import (
	"context"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/conf"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/errors"
)

const wikiThumbResponse = `{
  "query": {
    "pages": [
      {
        "pageid": 1,
        "title": "Aedes aegypti",
        "thumbnail": {
          "source": "https://upload.wikimedia.org/wikipedia/commons/thumb/a/a1/Aedes_aegypti.jpg/400px-Aedes_aegypti.jpg",
          "width": 400,
          "height": 300
        },
        "pageimage": "Aedes_aegypti.jpg"
      }
    ]
  }
}`

const wikiAuthorResponse = `{
  "query": {
    "pages": [
      {
        "title": "File:Aedes_aegypti.jpg",
        "imageinfo": [
          {
            "extmetadata": {
              "Artist": {"value": "<a href=\"https://en.wikipedia.org/wiki/User:Muhammad\">Muhammad Mahdi Karim</a>"},
              "LicenseShortName": {"value": "CC BY-SA 4.0"},
              "LicenseUrl": {"value": "https://creativecommons.org/licenses/by-sa/4.0"}
            }
          }
        ]
      }
    ]
  }
}`

const wikiMissingPageResponse = `{
  "query": {
    "pages": [
      {"title": "Nonexistent species", "missing": true}
    ]
  }
}`

// newTestWikiProvider intercepts the default transport, which mwclient's
// internal client falls back to, so no seam into the provider is needed.
func newTestWikiProvider(t *testing.T) *WikiMediaProvider {
	t.Helper()
	p, err := NewWikiMediaProvider(&conf.Settings{Version: "test"})
	require.NoError(t, err)
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)
	return p
}

// registerWikiResponder dispatches on the prop parameter so one
// responder serves both query steps.
func registerWikiResponder(t *testing.T, thumbJSON, authorJSON string) {
	t.Helper()
	httpmock.RegisterResponder(http.MethodGet, wikiAPIEndpoint,
		func(req *http.Request) (*http.Response, error) {
			switch req.URL.Query().Get("prop") {
			case "pageimages":
				return httpmock.NewStringResponse(http.StatusOK, thumbJSON), nil
			case "imageinfo":
				return httpmock.NewStringResponse(http.StatusOK, authorJSON), nil
			default:
				return httpmock.NewStringResponse(http.StatusBadRequest, `{}`), nil
			}
		})
}

func TestWikiMediaProvider_Fetch(t *testing.T) {
	p := newTestWikiProvider(t)
	registerWikiResponder(t, wikiThumbResponse, wikiAuthorResponse)

	img, err := p.Fetch(context.Background(), "Aedes aegypti")
	require.NoError(t, err)

	assert.Equal(t, "wikimedia", p.Name())
	assert.Equal(t, "https://upload.wikimedia.org/wikipedia/commons/thumb/a/a1/Aedes_aegypti.jpg/400px-Aedes_aegypti.jpg", img.URL)
	assert.Equal(t, "Aedes aegypti", img.ScientificName)
	assert.Equal(t, "Muhammad Mahdi Karim", img.AuthorName)
	assert.Equal(t, "https://en.wikipedia.org/wiki/User:Muhammad", img.AuthorURL)
	assert.Equal(t, "CC BY-SA 4.0", img.LicenseName)
	assert.Equal(t, "https://creativecommons.org/licenses/by-sa/4.0", img.LicenseURL)
	assert.Equal(t, 2, httpmock.GetTotalCallCount(), "expected pageimages and imageinfo queries")
}

func TestWikiMediaProvider_Fetch_PageMissing(t *testing.T) {
	p := newTestWikiProvider(t)
	registerWikiResponder(t, wikiMissingPageResponse, wikiAuthorResponse)

	_, err := p.Fetch(context.Background(), "Nonexistent species")
	require.ErrorIs(t, err, ErrImageNotFound)
	assert.Equal(t, 1, httpmock.GetTotalCallCount(), "author query should be skipped")
}

func TestWikiMediaProvider_Fetch_NoFreeThumbnail(t *testing.T) {
	p := newTestWikiProvider(t)
	noThumb := `{"query": {"pages": [{"pageid": 2, "title": "Culex pipiens"}]}}`
	registerWikiResponder(t, noThumb, wikiAuthorResponse)

	_, err := p.Fetch(context.Background(), "Culex pipiens")
	require.ErrorIs(t, err, ErrImageNotFound)
}

func TestWikiMediaProvider_Fetch_MissingAuthorInfoTolerated(t *testing.T) {
	p := newTestWikiProvider(t)
	registerWikiResponder(t, wikiThumbResponse, wikiMissingPageResponse)

	img, err := p.Fetch(context.Background(), "Aedes aegypti")
	require.NoError(t, err, "missing attribution must not fail the fetch")
	assert.NotEmpty(t, img.URL)
	assert.Equal(t, "Unknown", img.AuthorName)
	assert.Equal(t, "Unknown", img.LicenseName)
}

func TestWikiMediaProvider_Fetch_RetriesTransientFailure(t *testing.T) {
	p := newTestWikiProvider(t)

	pageimagesCalls := 0
	httpmock.RegisterResponder(http.MethodGet, wikiAPIEndpoint,
		func(req *http.Request) (*http.Response, error) {
			if req.URL.Query().Get("prop") == "pageimages" {
				pageimagesCalls++
				if pageimagesCalls == 1 {
					return httpmock.NewStringResponse(http.StatusInternalServerError, ""), nil
				}
				return httpmock.NewStringResponse(http.StatusOK, wikiThumbResponse), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, wikiAuthorResponse), nil
		})

	img, err := p.Fetch(context.Background(), "Aedes aegypti")
	require.NoError(t, err)
	assert.Equal(t, 2, pageimagesCalls)
	assert.NotEmpty(t, img.URL)
}

func TestWikiMediaProvider_Fetch_GivesUpAfterMaxRetries(t *testing.T) {
	p := newTestWikiProvider(t)
	p.maxRetries = 1

	httpmock.RegisterResponder(http.MethodGet, wikiAPIEndpoint,
		httpmock.NewStringResponder(http.StatusServiceUnavailable, ""))

	_, err := p.Fetch(context.Background(), "Aedes aegypti")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrImageNotFound), "a network failure is not a missing image")
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestWikiMediaProvider_Fetch_ContextCancelled(t *testing.T) {
	p := newTestWikiProvider(t)
	registerWikiResponder(t, wikiThumbResponse, wikiAuthorResponse)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Fetch(ctx, "Aedes aegypti")
	require.Error(t, err)
}

func TestBuildUserAgent(t *testing.T) {
	t.Parallel()
	ua := buildUserAgent("1.2.3")
	assert.Contains(t, ua, "CulicidaeLab-Go/1.2.3")
	assert.Contains(t, ua, userAgentContact)
	assert.Contains(t, ua, "Go-HTTP-Client/")

	assert.Contains(t, buildUserAgent(""), "CulicidaeLab-Go/unknown")
}

func TestExtractArtistInfo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		html     string
		wantHref string
		wantText string
	}{
		{
			name:     "prefers_user_link",
			html:     `<a href="https://example.org/other">Other</a> <a href="https://en.wikipedia.org/wiki/User:Jane">Jane Doe</a>`,
			wantHref: "https://en.wikipedia.org/wiki/User:Jane",
			wantText: "Jane Doe",
		},
		{
			name:     "falls_back_to_first_link",
			html:     `<a href="https://example.org/jane">Jane Doe</a>`,
			wantHref: "https://example.org/jane",
			wantText: "Jane Doe",
		},
		{
			name:     "plain_text_without_links",
			html:     `Jane Doe, own work`,
			wantHref: "",
			wantText: "Jane Doe, own work",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			href, text, err := extractArtistInfo(tt.html)
			require.NoError(t, err)
			assert.Equal(t, tt.wantHref, href)
			assert.Equal(t, tt.wantText, text)
		})
	}
}
