package rpc

import (
	"time"

	"github.com/jcdickinson/rsindex/internal/index"
	"github.com/jcdickinson/rsindex/internal/loader"
)

// RegisterImplementorsRequest is the request body for POST /register-implementors.
type RegisterImplementorsRequest struct {
	Trait   string             `json:"trait"`
	Module  string             `json:"module"`
	Entries index.Contribution `json:"entries"`
}

// RegisterSidebarRequest is the request body for POST /register-sidebar.
type RegisterSidebarRequest struct {
	Module string             `json:"module"`
	Items  index.SidebarIndex `json:"items"`
}

// RegisterResponse is returned by every register endpoint. State is the
// index state after the registration: "buffering" means it was queued.
type RegisterResponse struct {
	State   string `json:"state"`
	Pending int    `json:"pending"`
}

// ActivateResponse is the response body for POST /activate.
type ActivateResponse struct {
	Activated bool   `json:"activated"`
	State     string `json:"state"`
}

// LoadRequest is the request body for POST /load.
type LoadRequest struct {
	Root     string `json:"root"`
	Activate bool   `json:"activate,omitempty"`
}

// ProgressLine is a single line of NDJSON streamed from the load endpoint.
type ProgressLine struct {
	Type    string        `json:"type"` // "progress", "result" or "error"
	Message string        `json:"message,omitempty"`
	Stats   *loader.Stats `json:"stats,omitempty"`
}

// ImplementorsRequest is the request body for POST /implementors.
type ImplementorsRequest struct {
	Trait string `json:"trait"`
}

// ImplementorsResponse is the response body for POST /implementors.
type ImplementorsResponse struct {
	Trait   string                     `json:"trait"`
	Modules []index.ModuleContribution `json:"modules"`
}

// SidebarRequest is the request body for POST /sidebar.
type SidebarRequest struct {
	Module string `json:"module"`
}

// SidebarResponse is the response body for POST /sidebar.
type SidebarResponse struct {
	Module string             `json:"module"`
	Items  index.SidebarIndex `json:"items"`
}

// StatusResponse is the response body for GET /status.
type StatusResponse struct {
	State     string           `json:"state"`
	Pending   int              `json:"pending"`
	Traits    int              `json:"traits"`
	Modules   int              `json:"modules"`
	Conflicts []index.Conflict `json:"conflicts"`
	LastSave  *SaveInfo        `json:"last_save,omitempty"`
	// Stored is the number of (trait, module) pairs in the database.
	Stored int `json:"stored_contributions,omitempty"`
}

// SaveInfo describes one persisted snapshot.
type SaveInfo struct {
	ID            int       `json:"id"`
	SavedAt       time.Time `json:"saved_at"`
	Traits        int       `json:"traits"`
	Contributions int       `json:"contributions"`
	Sidebars      int       `json:"sidebars"`
}

// SaveResponse is the response body for POST /save.
type SaveResponse struct {
	Save SaveInfo `json:"save"`
}
