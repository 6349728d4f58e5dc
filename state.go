package bluebonnet

import "time"

// Intent is the classified purpose of a query.
type Intent string

const (
	// IntentInformation covers policy, eligibility, and procedure questions.
	IntentInformation Intent = "information"
	// IntentLocation covers "where can I find childcare near X" questions.
	IntentLocation Intent = "location_search"
	// IntentWebFallback marks answers that used live web results. It is a
	// response type, never a classifier output.
	IntentWebFallback Intent = "web_fallback"
)

// State is the pipeline state for one request. Nodes read it and return a
// Patch; the graph engine applies patches between nodes. A State is created
// per request and discarded on return.
type State struct {
	Query             string
	ReformulatedQuery string
	ThreadID          string

	Intent          Intent
	RetrievedChunks []RankedChunk
	RerankedChunks  []RankedChunk

	Answer       string
	Sources      []CitedSource
	ResponseType Intent

	// Conversational mode only.
	Messages            []ThreadMessage
	ConversationSummary string

	Debug     bool
	DebugInfo []DebugRecord
}

// EffectiveQuery is the query string used for retrieval and reranking: the
// reformulated form when present, the original otherwise.
func (s *State) EffectiveQuery() string {
	if s.ReformulatedQuery != "" {
		return s.ReformulatedQuery
	}
	return s.Query
}

// Patch is a partial state update returned by a node. Nil fields leave the
// corresponding State field untouched; the graph engine merges non-nil
// fields in node order.
type Patch struct {
	ReformulatedQuery   *string
	ConversationSummary *string
	Intent              *Intent
	RetrievedChunks     []RankedChunk
	RerankedChunks      []RankedChunk
	Answer              *string
	Sources             []CitedSource
	ResponseType        *Intent
	DebugNote           string
}

// apply merges the patch into s. Slice fields replace wholesale; an empty
// non-nil slice is a deliberate "no results" write.
func (p *Patch) apply(s *State) {
	if p == nil {
		return
	}
	if p.ReformulatedQuery != nil {
		s.ReformulatedQuery = *p.ReformulatedQuery
	}
	if p.ConversationSummary != nil {
		s.ConversationSummary = *p.ConversationSummary
	}
	if p.Intent != nil {
		s.Intent = *p.Intent
	}
	if p.RetrievedChunks != nil {
		s.RetrievedChunks = p.RetrievedChunks
	}
	if p.RerankedChunks != nil {
		s.RerankedChunks = p.RerankedChunks
	}
	if p.Answer != nil {
		s.Answer = *p.Answer
	}
	if p.Sources != nil {
		s.Sources = p.Sources
	}
	if p.ResponseType != nil {
		s.ResponseType = *p.ResponseType
	}
}

// DebugRecord is one node's timing entry, collected when State.Debug is set.
type DebugRecord struct {
	Node      string        `json:"node"`
	ElapsedMS int64         `json:"elapsed_ms"`
	Inputs    string        `json:"inputs"`
	Outputs   string        `json:"outputs"`
	At        time.Time     `json:"-"`
	Elapsed   time.Duration `json:"-"`
}

// strPtr, intentPtr: patch field helpers.
func strPtr(s string) *string    { return &s }
func intentPtr(i Intent) *Intent { return &i }
