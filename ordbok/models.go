package ordbok

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	DictionaryBokmal  = "bm"
	DictionaryNynorsk = "nn"
)

// SearchResponse holds the IDs of matching articles, per dictionary
type SearchResponse struct {
	Meta     map[string]SearchMeta `json:"meta"`
	Articles map[string][]int      `json:"articles"`
}

type SearchMeta struct {
	Total int `json:"total"`
}

// SuggestResponse is the result of a suggest (autocomplete) request.
// Suggestions are keyed by match type, e.g. "exact" or "inflect".
type SuggestResponse struct {
	Query       string                  `json:"q"`
	Count       int                     `json:"cnt"`
	CountMatch  int                     `json:"cmatch"`
	Suggestions map[string][]Suggestion `json:"a"`
}

// Suggestion is a suggested word, and the dictionaries containing it.
// The API encodes it as a two-element array.
type Suggestion struct {
	Word         string
	Dictionaries []string
}

func (s *Suggestion) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("error decoding suggestion: %w", err)
	}
	if len(tuple) == 0 {
		return fmt.Errorf("empty suggestion")
	}
	if err := json.Unmarshal(tuple[0], &s.Word); err != nil {
		return fmt.Errorf("error decoding suggestion word: %w", err)
	}
	if len(tuple) > 1 {
		if err := json.Unmarshal(tuple[1], &s.Dictionaries); err != nil {
			return fmt.Errorf("error decoding suggestion dictionaries: %w", err)
		}
	}
	return nil
}

func (s Suggestion) MarshalJSON() ([]byte, error) {
	dicts := s.Dictionaries
	if dicts == nil {
		dicts = []string{}
	}
	return json.Marshal([]any{s.Word, dicts})
}

type Article struct {
	ArticleID  int     `json:"article_id"`
	Dictionary string  `json:"dictionary"`
	Score      float64 `json:"score"`
	Lemmas     []Lemma `json:"lemmas"`
	Body       Body    `json:"body"`
}

// MaxHomographNumber returns the highest homograph number of the
// article's lemmas
func (a Article) MaxHomographNumber() int {
	var n int
	for _, l := range a.Lemmas {
		if l.HgNo > n {
			n = l.HgNo
		}
	}
	return n
}

type Lemma struct {
	ID        int        `json:"id"`
	Lemma     string     `json:"lemma"`
	HgNo      int        `json:"hgno"`
	Paradigms []Paradigm `json:"paradigm_info"`
}

type Paradigm struct {
	InflectionGroup string   `json:"inflection_group"`
	Standardisation string   `json:"standardisation"`
	Tags            []string `json:"tags"`
}

type Body struct {
	Definitions []Element `json:"definitions"`
	Etymology   []Element `json:"etymology"`
}

// Element is a node of an article body. Which fields are set depends
// on Type: definitions nest Elements, explanations carry Content,
// examples carry a Quote.
type Element struct {
	Type     string    `json:"type_"`
	Content  string    `json:"content"`
	Items    []Item    `json:"items"`
	Elements []Element `json:"elements"`
	Quote    *Element  `json:"quote"`
}

const (
	ElementTypeDefinition  = "definition"
	ElementTypeExplanation = "explanation"
	ElementTypeExample     = "example"
)

// Item fills a "$" placeholder of an element's content
type Item struct {
	Type string `json:"type_"`
	Text string `json:"text"`
	ID   any    `json:"id"`
}

func (i Item) String() string {
	if i.Text != "" {
		return i.Text
	}
	if i.ID != nil {
		return fmt.Sprint(i.ID)
	}
	return ""
}

// Text returns the element's content, with each "$" placeholder
// replaced by the matching item. Placeholders without an item
// are left as they are.
func (e Element) Text() string {
	if len(e.Items) == 0 {
		return e.Content
	}
	var b strings.Builder
	next := 0
	for _, r := range e.Content {
		if r == '$' && next < len(e.Items) {
			b.WriteString(e.Items[next].String())
			next++
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Definition is a flattened article definition
type Definition struct {
	Explanations []string
	Examples     []string
}

// Definitions flattens the article's definition tree. A definition
// made up only of nested definitions is replaced by them.
func (a Article) Definitions() []Definition {
	var rv []Definition
	for _, group := range a.Body.Definitions {
		rv = append(rv, flattenDefinition(group)...)
	}
	return rv
}

func flattenDefinition(e Element) []Definition {
	nested := len(e.Elements) > 0
	for _, child := range e.Elements {
		if child.Type != ElementTypeDefinition {
			nested = false
			break
		}
	}
	if nested {
		var rv []Definition
		for _, child := range e.Elements {
			rv = append(rv, flattenDefinition(child)...)
		}
		return rv
	}

	var d Definition
	for _, child := range e.Elements {
		switch child.Type {
		case ElementTypeExplanation:
			if t := strings.TrimSpace(child.Text()); t != "" {
				d.Explanations = append(d.Explanations, t)
			}
		case ElementTypeExample:
			if child.Quote != nil {
				if t := strings.TrimSpace(child.Quote.Text()); t != "" {
					d.Examples = append(d.Examples, t)
				}
			}
		}
	}
	if len(d.Explanations) == 0 && len(d.Examples) == 0 {
		return nil
	}
	return []Definition{d}
}

// Concepts maps abbreviations used in articles to their expansions
type Concepts struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	Concepts map[string]Concept `json:"concepts"`
}

type Concept struct {
	Class     string `json:"class"`
	Expansion string `json:"expansion"`
}
