package server

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// AuthSignupRequest represents the signup payload.
type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthLoginRequest represents the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

// IDResponse is a generic id response wrapper.
type IDResponse struct {
	ID int64 `json:"id"`
}

// TransformRequest configures a model rewrite job.
type TransformRequest struct {
	BaseKind         string `json:"base_kind"`
	FixSpelling      bool   `json:"fix_spelling"`
	ImproveStructure bool   `json:"improve_structure"`
	TOC              bool   `json:"toc"`
	Extra            string `json:"extra"`
}

// NormalizeRequest configures a deterministic typeset job.
type NormalizeRequest struct {
	TOC bool `json:"toc"`
}

// ShareRequest names a user by email for share add/remove.
type ShareRequest struct {
	Email string `json:"email"`
}

// DocumentSummary is the dashboard view of one document.
type DocumentSummary struct {
	ID        int64   `json:"id"`
	Filename  string  `json:"filename"`
	Size      int64   `json:"size"`
	Status    string  `json:"status"`
	LastError *string `json:"last_error,omitempty"`
	UpdatedAt string  `json:"updated_at"`
}

// SearchResult is one highlighted keyword match.
type SearchResult struct {
	DocID    int64  `json:"doc_id"`
	Kind     string `json:"kind"`
	Snippet  string `json:"snippet"`
	Filename string `json:"filename"`
}

// DashboardResponse is the document list plus optional search results.
type DashboardResponse struct {
	Documents []DocumentSummary `json:"documents"`
	Shared    []DocumentSummary `json:"shared"`
	Results   []SearchResult    `json:"results,omitempty"`
}

// DocumentResponse is the full editor view of one document.
type DocumentResponse struct {
	ID            int64    `json:"id"`
	Filename      string   `json:"filename"`
	Status        string   `json:"status"`
	LastError     *string  `json:"last_error,omitempty"`
	EffectiveKind string   `json:"effective_kind"`
	HasDraft      bool     `json:"has_draft"`
	HasSaved      bool     `json:"has_saved"`
	TexSource     string   `json:"tex_source,omitempty"`
	Text          string   `json:"text,omitempty"`
	Owned         bool     `json:"owned"`
	Shares        []string `json:"shares,omitempty"`
}

// StatusResponse is the lightweight polling view of one document.
type StatusResponse struct {
	Status        string  `json:"status"`
	LastError     *string `json:"last_error,omitempty"`
	EffectiveKind string  `json:"effective_kind"`
	HasDraft      bool    `json:"has_draft"`
	HasSaved      bool    `json:"has_saved"`
	PDFReady      bool    `json:"pdf_ready"`
}
