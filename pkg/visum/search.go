package visum

// TermScope selects which side of a record a search term addresses: the data
// stored on it, or what the recognition models predicted for it.
type TermScope string

const (
	// ScopeStored matches data the caller attached to records.
	ScopeStored TermScope = "record"
	// ScopePredicted matches concepts the recognition models inferred.
	ScopePredicted TermScope = "predictions"
)

// termKind tags a Term with how it compiles.
type termKind int

const (
	termAuto termKind = iota // classify from the populated fields
	termConcept
	termImage
)

// Term is a single search predicate. Build one with ConceptTerm, ImageTerm
// or ImageBytesTerm; a plain struct literal also works and is classified once
// at compile time from its fields: a Name makes it a concept term, anything
// else an image term. A term with neither a name nor media compiles to an
// empty image term, which the service rejects.
type Term struct {
	kind  termKind
	Scope TermScope

	// Name and Value assert a concept.
	Name  string
	Value *bool

	// URL or Base64 reference media for similarity matching.
	URL    string
	Base64 []byte
	Crop   *Crop
}

// ConceptTerm matches records carrying the named concept, or explicitly not
// carrying it when value is false.
func ConceptTerm(name string, value bool) Term {
	return Term{kind: termConcept, Name: name, Value: &value}
}

// ImageTerm matches records whose media resembles the image at the URL.
func ImageTerm(url string) Term {
	return Term{kind: termImage, URL: url}
}

// ImageBytesTerm matches records whose media resembles the given image bytes.
func ImageBytesTerm(data []byte) Term {
	return Term{kind: termImage, Base64: data}
}

// WithScope returns a copy of the term bound to the given scope. Terms
// default to ScopeStored.
func (t Term) WithScope(scope TermScope) Term {
	t.Scope = scope
	return t
}

// WithCrop returns a copy of the term restricted to a region of the query
// image.
func (t Term) WithCrop(crop Crop) Term {
	t.Crop = &crop
	return t
}

// classify resolves an untagged term literal.
func (t Term) classify() termKind {
	if t.kind != termAuto {
		return t.kind
	}
	if t.Name != "" {
		return termConcept
	}
	return termImage
}

// SearchRequest describes a search: every term in Ands must hold, and when
// Ors is non-empty at least one of its terms must hold as well. Pagination
// fields are passed to the service verbatim; zero values are omitted and the
// service applies its defaults.
type SearchRequest struct {
	Ands []Term
	Ors  []Term

	Page    int
	PerPage int
}

// queryTerm is one entry of query.ands: a scoped term, or a nested or-group.
type queryTerm struct {
	Record      *termBody   `json:"record,omitempty"`
	Predictions *termBody   `json:"predictions,omitempty"`
	Ors         []queryTerm `json:"ors,omitempty"`
}

// termBody is the payload of a compiled term.
type termBody struct {
	Concepts []Concept `json:"concepts,omitempty"`
	Image    *Image    `json:"image,omitempty"`
}

// searchBody is the wire form of a search request.
type searchBody struct {
	Query      searchQuery `json:"query"`
	Pagination *pagination `json:"pagination,omitempty"`
}

type searchQuery struct {
	Ands []queryTerm `json:"ands"`
}

type pagination struct {
	Page    int `json:"page,omitempty"`
	PerPage int `json:"per_page,omitempty"`
}

// searchEnvelope is the search response wrapper.
type searchEnvelope struct {
	Status *Status `json:"status,omitempty"`
	Hits   []hit   `json:"hits"`
}

// hit pairs a matched record with its relevance score.
type hit struct {
	Score  float64 `json:"score"`
	Record *Record `json:"record"`
}

// compileTerm renders one term into its wire form.
func compileTerm(t Term) queryTerm {
	var body termBody
	switch t.classify() {
	case termConcept:
		body.Concepts = normalizeConcepts([]Concept{{Name: t.Name, Value: t.Value}})
	default:
		body.Image = &Image{URL: t.URL, Base64: t.Base64, Crop: t.Crop}
	}

	if t.Scope == ScopePredicted {
		return queryTerm{Predictions: &body}
	}
	return queryTerm{Record: &body}
}

// compileSearch renders a search request into its wire form. Each and-term
// compiles to one entry of query.ands; a non-empty or-group is appended as
// one additional ors entry. Compilation is pure: the same request always
// compiles to a structurally identical body.
func compileSearch(req *SearchRequest) searchBody {
	if req == nil {
		req = &SearchRequest{}
	}

	ands := make([]queryTerm, 0, len(req.Ands)+1)
	for _, t := range req.Ands {
		ands = append(ands, compileTerm(t))
	}

	if len(req.Ors) > 0 {
		ors := make([]queryTerm, 0, len(req.Ors))
		for _, t := range req.Ors {
			ors = append(ors, compileTerm(t))
		}
		ands = append(ands, queryTerm{Ors: ors})
	}

	body := searchBody{Query: searchQuery{Ands: ands}}
	if req.Page != 0 || req.PerPage != 0 {
		body.Pagination = &pagination{Page: req.Page, PerPage: req.PerPage}
	}

	return body
}

// flattenHits lifts each hit's score onto its record and returns the records
// in hit order.
func flattenHits(hits []hit) []*Record {
	records := make([]*Record, 0, len(hits))
	for _, h := range hits {
		if h.Record == nil {
			continue
		}
		record := h.Record
		record.Score = h.Score
		records = append(records, record)
	}
	return records
}
