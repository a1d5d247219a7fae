// Package prompt holds the small, immutable set of active prompt templates
// fanned out against every enabled provider for each domain.
package prompt

import "strings"

// Template is a versioned question shape parameterized by a domain hostname.
// Templates are immutable: a wording change creates a new ID rather than
// mutating an existing one.
type Template struct {
	ID       string
	Body     string
	Category string
}

// Render substitutes hostname into the template's single {domain} site.
func (t Template) Render(hostname string) string {
	return strings.Replace(t.Body, "{domain}", hostname, 1)
}

// Active is the small, fixed set of templates fanned out against every
// domain each crawl cycle. Roughly 3 per §3's Prompt Template invariant.
var Active = []Template{
	{
		ID:       "brand_memory_v1",
		Category: "memory",
		Body:     "What do you know about the company behind {domain}? Describe their products, reputation, and market position.",
	},
	{
		ID:       "brand_sentiment_v1",
		Category: "sentiment",
		Body:     "What is the general public sentiment toward {domain} and the organization that operates it?",
	},
	{
		ID:       "brand_comparison_v1",
		Category: "comparison",
		Body:     "Name the top competitors of the company behind {domain} and how it compares to them.",
	},
}

// ByID looks up an active template by its ID.
func ByID(id string) (Template, bool) {
	for _, t := range Active {
		if t.ID == id {
			return t, true
		}
	}
	return Template{}, false
}
