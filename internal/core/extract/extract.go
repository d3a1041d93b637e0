// Package extract reads agent data out of directory and profile pages.
//
// Both page kinds embed their data as a JSON document inside a
// <script id="__NEXT_DATA__"> tag. The functions here locate that document
// and map it onto domain types. Nothing in this package performs I/O.
package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/artpar/realty-collector/internal/core/domain"
	"golang.org/x/net/html"
)

// =============================================================================
// Constants and Errors
// =============================================================================

const (
	// DefaultBaseURL is the directory host.
	DefaultBaseURL = "https://www.zillow.com"

	// AgentsPerPage is the number of agents the directory shows per page.
	AgentsPerPage = 15

	// MaxDirectoryPages is the deepest page the directory serves.
	MaxDirectoryPages = 25

	nextDataID = "__NEXT_DATA__"
)

var (
	ErrNoNextData      = errors.New("__NEXT_DATA__ script not found")
	ErrUnexpectedShape = errors.New("unexpected page data shape")
)

// =============================================================================
// URLs
// =============================================================================

// DirectoryURL builds the URL of one directory results page.
func DirectoryURL(base, city, state, agentType string, page int) string {
	slug := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(city)), " ", "-")
	return fmt.Sprintf("%s/professionals/real-estate-agent-reviews/%s-%s/?specialties=%s&page=%d",
		strings.TrimRight(base, "/"), url.PathEscape(slug), strings.ToLower(strings.TrimSpace(state)),
		url.QueryEscape(agentType), page)
}

// ProfileURL builds the URL of an agent profile from its profile link.
func ProfileURL(base, profileLink string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(profileLink, "/")
}

// =============================================================================
// Next Data
// =============================================================================

// NextData returns the JSON text embedded in the page's __NEXT_DATA__ script.
func NextData(page []byte) ([]byte, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var found *html.Node
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && n.Data == "script" && attr(n, "id") == nextDataID {
			found = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(doc)

	if found == nil {
		return nil, ErrNoNextData
	}

	var buf bytes.Buffer
	for c := found.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			buf.WriteString(c.Data)
		}
	}
	text := bytes.TrimSpace(buf.Bytes())
	if len(text) == 0 {
		return nil, ErrNoNextData
	}
	return text, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// =============================================================================
// Directory Pages
// =============================================================================

// DirectoryPage is the result of parsing one directory results page.
type DirectoryPage struct {
	Agents  []domain.Agent
	Total   int
	Skipped int
}

type directoryData struct {
	Props struct {
		PageProps struct {
			ProResults *struct {
				Results struct {
					Professionals []json.RawMessage `json:"professionals"`
					Total         int               `json:"total"`
				} `json:"results"`
			} `json:"proResults"`
		} `json:"pageProps"`
	} `json:"props"`
}

// ParseDirectory maps a directory page onto agents. Every agent is tagged
// with the agent type it was listed under, its 1-based position on the page
// and the page number. Entries that do not decode or lack an encodedZuid are
// counted in Skipped.
func ParseDirectory(page []byte, agentType string, pageNumber int) (DirectoryPage, error) {
	data, err := NextData(page)
	if err != nil {
		return DirectoryPage{}, err
	}

	var doc directoryData
	if err := json.Unmarshal(data, &doc); err != nil {
		return DirectoryPage{}, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}
	results := doc.Props.PageProps.ProResults
	if results == nil {
		return DirectoryPage{}, fmt.Errorf("%w: missing proResults", ErrUnexpectedShape)
	}

	out := DirectoryPage{Total: results.Results.Total}
	for i, raw := range results.Results.Professionals {
		var agent domain.Agent
		if err := json.Unmarshal(raw, &agent); err != nil || agent.Validate() != nil {
			out.Skipped++
			continue
		}
		rank := i + 1
		pg := pageNumber
		agent.Specialties = []string{agentType}
		agent.Ranking = &rank
		agent.Page = &pg
		out.Agents = append(out.Agents, agent)
	}
	return out, nil
}

// MaxPages converts the directory's total agent count into a page count,
// capped at the deepest page the directory serves.
func MaxPages(total int) int {
	if total <= 0 {
		return 0
	}
	pages := (total + AgentsPerPage - 1) / AgentsPerPage
	return min(pages, MaxDirectoryPages)
}
