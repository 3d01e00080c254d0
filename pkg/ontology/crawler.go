package ontology

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/synaptica-ai/curator/pkg/common/logger"
	"github.com/synaptica-ai/curator/pkg/gateway/httpclient"
	"github.com/synaptica-ai/curator/pkg/mapping"
)

const (
	defaultPageSize = 200
	fetchAttempts   = 3
)

type olsTerm struct {
	IRI         string   `json:"iri"`
	Label       string   `json:"label"`
	Synonyms    []string `json:"synonyms"`
	Description []string `json:"description"`
}

type olsChildren struct {
	Embedded struct {
		Terms []olsTerm `json:"terms"`
	} `json:"_embedded"`
	Page struct {
		Number     int `json:"number"`
		TotalPages int `json:"totalPages"`
	} `json:"page"`
}

// Crawler walks the hierarchical children of ontology terms through the
// OLS terms API.
type Crawler struct {
	client   *resty.Client
	pageSize int
}

func NewCrawler(baseURL string, timeout time.Duration, pageSize int) *Crawler {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Crawler{
		client:   httpclient.NewResty(strings.TrimRight(baseURL, "/"), timeout, fetchAttempts),
		pageSize: pageSize,
	}
}

// Crawl returns the roots and all their descendants breadth first, each
// term once. Labels of the form "Malignant X Neoplasm" become "X Cancer".
func (c *Crawler) Crawl(ctx context.Context, termType string, roots []Root) ([]Term, error) {
	var terms []Term
	seen := map[string]bool{}
	queue := make([]string, 0, len(roots))

	for _, root := range roots {
		if seen[root.URL] {
			continue
		}
		seen[root.URL] = true
		queue = append(queue, root.URL)
		terms = append(terms, Term{URL: root.URL, Label: root.Label, Type: termType, Synonyms: []string{}})
	}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		parent := queue[0]
		queue = queue[1:]

		children, err := c.children(ctx, parent)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			if child.IRI == "" || seen[child.IRI] {
				continue
			}
			seen[child.IRI] = true
			queue = append(queue, child.IRI)
			terms = append(terms, newTerm(termType, child))
		}
	}

	logger.Log.WithFields(map[string]interface{}{
		"type":  termType,
		"terms": len(terms),
	}).Info("Ontology crawl finished")
	return terms, nil
}

func newTerm(termType string, t olsTerm) Term {
	label, relabeled := mapping.RelabelCancer(t.Label)
	if !relabeled {
		label = strings.ReplaceAll(t.Label, ",", "")
	}
	synonyms := t.Synonyms
	if synonyms == nil {
		synonyms = []string{}
	}
	return Term{
		URL:         t.IRI,
		Label:       label,
		Type:        termType,
		Synonyms:    synonyms,
		Description: strings.Join(t.Description, " "),
	}
}

// children fetches every page of a term's hierarchical children. OLS wants
// the term IRI url-encoded twice in the path.
func (c *Crawler) children(ctx context.Context, iri string) ([]olsTerm, error) {
	encoded := url.QueryEscape(url.QueryEscape(iri))

	var out []olsTerm
	for page := 0; ; page++ {
		var body olsChildren
		resp, err := c.client.R().
			SetContext(ctx).
			SetRawPathParam("iri", encoded).
			SetQueryParam("size", strconv.Itoa(c.pageSize)).
			SetQueryParam("page", strconv.Itoa(page)).
			SetResult(&body).
			Get("/{iri}/hierarchicalChildren")
		if err != nil {
			return nil, fmt.Errorf("failed to fetch children of %s: %w", iri, err)
		}
		if resp.StatusCode() == http.StatusNotFound {
			return out, nil
		}
		if resp.IsError() {
			return nil, fmt.Errorf("failed to fetch children of %s: status %d", iri, resp.StatusCode())
		}

		out = append(out, body.Embedded.Terms...)
		if page+1 >= body.Page.TotalPages {
			return out, nil
		}
	}
}
