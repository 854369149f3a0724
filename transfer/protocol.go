// Package transfer implements MediaGit's HTTP wire protocol: ref
// discovery, have/want negotiation, pack upload/download, chunked
// large-object transfer, and multi-ref updates reported per ref.
package transfer

// RefInfo is one entry in a RefsResponse.
type RefInfo struct {
	Name   string `json:"name"`
	OID    string `json:"oid,omitempty"`
	Target string `json:"target,omitempty"` // set instead of OID for symbolic refs
}

// RefsResponse answers GET info/refs.
type RefsResponse struct {
	Refs         []RefInfo `json:"refs"`
	Capabilities []string  `json:"capabilities"`
}

// WantHaveRequest is the body of POST objects/want.
type WantHaveRequest struct {
	Want []string `json:"want"`
	Have []string `json:"have"`
}

// WantHaveResponse acknowledges a want/have negotiation and hands back a
// session key the client uses for the subsequent pack download.
type WantHaveResponse struct {
	Session string `json:"session"`
}

// PackManifest travels in the X-Large-Objects header of a pack download.
// The server fills in only ChunkOIDs, which lists every collected object
// whose reconstructed bytes exceed largeObjectThreshold (a chunk manifest
// included); those objects are left out of the pack and the client fetches
// each one whole through /objects/blob/{oid}. A large chunked file's chunks
// still travel in the pack, and ManifestOID and TotalSize are not set.
type PackManifest struct {
	ManifestOID string   `json:"manifest_oid"`
	ChunkOIDs   []string `json:"chunk_oids"`
	TotalSize   uint64   `json:"total_size"`
}

// RefUpdate is one requested ref move.
type RefUpdate struct {
	Name   string `json:"name"`
	OldOID string `json:"old_oid,omitempty"`
	NewOID string `json:"new_oid,omitempty"`
	Delete bool   `json:"delete"`
}

// RefUpdateRequest is the body of POST refs/update.
type RefUpdateRequest struct {
	Updates []RefUpdate `json:"updates"`
	Force   bool        `json:"force"`
}

// RefUpdateResult reports the outcome for one requested update.
type RefUpdateResult struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// RefUpdateResponse answers POST refs/update.
type RefUpdateResponse struct {
	Results []RefUpdateResult `json:"results"`
}

// chunkUploadHeader names the upload/chunk request headers carrying
// position within a multi-part upload.
const (
	headerChunkIndex  = "X-Chunk-Index"
	headerTotalChunks = "X-Total-Chunks"
	headerUploadID    = "X-Upload-Id"
)

// finalizeRequest is the body of POST upload/finalize.
type finalizeRequest struct {
	UploadID string `json:"upload_id"`
	Filename string `json:"filename"`
}

// finalizeResponse answers POST upload/finalize with the resulting
// manifest/object OID.
type finalizeResponse struct {
	OID string `json:"oid"`
}

// errorResponse is the JSON body on any non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

// largeObjectThreshold is the size above which a pack download lists an
// object's OID in the PackManifest header instead of putting its bytes in
// the pack.
const largeObjectThreshold = 100 << 20
