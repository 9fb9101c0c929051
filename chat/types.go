package chat

// Request is one question about the document a session (or a bare source)
// currently points at.
type Request struct {
	Question  string
	SessionID string
	Source    string
	Title     string
	// Text is the cached extraction. Empty or failure-prefixed text means
	// the question is answered without paper context.
	Text string
	// Indexed reports that Text is already in the vector store for this
	// scope, so it need not be stored again.
	Indexed bool
	// ContextOnly text is chunked into the prompt but never stored or
	// searched.
	ContextOnly bool
}

// Context paths, also used as log and metric values.
const (
	PathGreeting  = "greeting"
	PathNoContext = "no_context"
	PathRetrieved = "retrieved"
	PathRawChunks = "raw_chunks"
)

type Source struct {
	ChunkID string
	Source  string
	Score   float32
	Snippet string
}

type Response struct {
	Answer  string
	Path    string
	Indexed bool
	Sources []Source
}
