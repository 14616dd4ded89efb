package mcp

// toolDescriptions is the canonical tool table. Transports must expose
// exactly these names.
var toolDescriptions = []ToolInfo{
	{
		Name:        "rlm.session.create",
		Description: "Create a session for processing large document corpora. Sessions carry a tool-call budget, response-size caps, and optional model hints.",
	},
	{
		Name:        "rlm.session.info",
		Description: "Get session statistics: document counts, character and token sums, budget usage, and whether the search index is built.",
	},
	{
		Name:        "rlm.session.close",
		Description: "Close a session. Marks it completed, persists the search index for later reuse, and returns a summary of documents, spans, artifacts, and tool calls.",
	},
	{
		Name:        "rlm.docs.load",
		Description: "Load documents into the session from inline text, files, glob patterns, or directories. Failing sources are reported per-source; the rest load in one transaction.",
	},
	{
		Name:        "rlm.docs.list",
		Description: "List the session's documents with sizes and span counts. Supports limit/offset pagination.",
	},
	{
		Name:        "rlm.docs.peek",
		Description: "View a slice of a document without loading the whole thing. Responses are capped at the session's peek limit.",
	},
	{
		Name:        "rlm.chunk.create",
		Description: "Chunk a document into spans with a fixed-size, line-based, or delimiter-regex strategy. Re-requesting the same strategy returns the existing spans.",
	},
	{
		Name:        "rlm.span.get",
		Description: "Retrieve the content of one or more spans with provenance. Responses are capped at the session's response limit.",
	},
	{
		Name:        "rlm.search.query",
		Description: "Search the session's documents with BM25 (index is lazy-built on first use), regex, or case-insensitive literal matching. Matches carry context windows and highlight offsets.",
	},
	{
		Name:        "rlm.artifact.store",
		Description: "Store a derived artifact (summary, extraction, classification, ...) optionally bound to a span, with provenance metadata.",
	},
	{
		Name:        "rlm.artifact.list",
		Description: "List the session's artifacts, optionally filtered by span or type.",
	},
	{
		Name:        "rlm.artifact.get",
		Description: "Retrieve a full artifact including its resolved span reference.",
	},
	{
		Name:        "rlm.export.github",
		Description: "Export the session (manifest, artifacts, traces, optionally documents) to a GitHub branch. A secret scan gates the upload; the default branch is never modified.",
	},
}

// describe looks up a tool description by canonical name.
func describe(name string) (string, bool) {
	for _, info := range toolDescriptions {
		if info.Name == name {
			return info.Description, true
		}
	}
	return "", false
}
