package search

import (
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/lang/cjk"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
)

// textAnalyzer is registered on every searchable field. The unicode
// tokenizer segments on word boundaries (single ideographs for CJK
// scripts) and the cjk bigram filter recombines adjacent ideographs, so
// Chinese queries match on substrings. A whitespace tokenizer would
// silently break CJK search; do not swap it in.
const textAnalyzer = "blogtext"

func buildIndexMapping() (mapping.IndexMapping, error) {
	m := bleve.NewIndexMapping()
	err := m.AddCustomAnalyzer(textAnalyzer, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": unicode.Name,
		"token_filters": []string{
			cjk.WidthName,
			lowercase.Name,
			cjk.BigramName,
		},
	})
	if err != nil {
		return nil, err
	}

	text := bleve.NewTextFieldMapping()
	text.Analyzer = textAnalyzer
	text.Store = true

	exact := bleve.NewTextFieldMapping()
	exact.Analyzer = keyword.Name
	exact.Store = true

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("id", exact)
	doc.AddFieldMappingsAt("slug", exact)
	doc.AddFieldMappingsAt("title", text)
	doc.AddFieldMappingsAt("summary", text)
	doc.AddFieldMappingsAt("content", text)
	doc.AddFieldMappingsAt("tags", text)

	m.AddDocumentMapping("_default", doc)
	m.DefaultAnalyzer = textAnalyzer
	return m, nil
}
