package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mediagit/mediagit/chunk"
	"github.com/mediagit/mediagit/mgerr"
	"github.com/mediagit/mediagit/objects"
	"github.com/mediagit/mediagit/odb"
	"github.com/mediagit/mediagit/oid"
	"github.com/mediagit/mediagit/pack"
	"github.com/mediagit/mediagit/refs"
)

// IsAncestorFunc answers whether ancestor is reachable from descendant,
// used to gate non-force ref updates to fast-forwards.
type IsAncestorFunc func(ctx context.Context, ancestor, descendant oid.OID) (bool, error)

// Server answers the MediaGit transfer protocol over HTTP: ref discovery,
// want/have negotiation, pack upload/download, chunked large-object
// upload, and ref updates.
type Server struct {
	refs       *refs.DB
	store      *odb.ODB
	isAncestor IsAncestorFunc

	mu       sync.Mutex
	sessions map[string]map[oid.OID]objects.Kind // want/have session -> collected set
	uploads  map[string]*uploadState
}

type uploadState struct {
	mu     sync.Mutex
	total  int
	parts  [][]byte
	filled int
}

// NewServer builds a transfer server over refsDB and store.
func NewServer(refsDB *refs.DB, store *odb.ODB, isAncestor IsAncestorFunc) *Server {
	return &Server{
		refs:       refsDB,
		store:      store,
		isAncestor: isAncestor,
		sessions:   make(map[string]map[oid.OID]objects.Kind),
		uploads:    make(map[string]*uploadState),
	}
}

// Handler builds the HTTP mux for the transfer protocol.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/info/refs", s.handleInfoRefs)
	mux.HandleFunc("/objects/want", s.handleObjectsWant)
	mux.HandleFunc("/objects/pack", s.handleObjectsPack)
	mux.HandleFunc("/objects/blob/", s.handleObjectBlob)
	mux.HandleFunc("/refs/update", s.handleRefsUpdate)
	mux.HandleFunc("/upload/chunk", s.handleUploadChunk)
	mux.HandleFunc("/upload/finalize", s.handleUploadFinalize)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch mgerr.KindOf(err) {
	case mgerr.NotFound, mgerr.MissingObject:
		return http.StatusNotFound
	case mgerr.InvalidName, mgerr.Corrupt:
		return http.StatusBadRequest
	case mgerr.NotFastForward, mgerr.Conflict:
		return http.StatusConflict
	case mgerr.Integrity:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// handleInfoRefs answers GET /info/refs with every ref currently known.
func (s *Server) handleInfoRefs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	ctx := r.Context()

	names, err := s.refs.List(ctx, "")
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	resp := RefsResponse{Capabilities: []string{"fetch", "push", "chunked-upload"}}
	for _, name := range names {
		ref, err := s.refs.Read(ctx, name)
		if err != nil {
			continue
		}
		info := RefInfo{Name: name}
		if ref.Kind == refs.Symbolic {
			info.Target = ref.Points
		} else {
			info.OID = ref.Target.String()
		}
		resp.Refs = append(resp.Refs, info)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleObjectsWant answers POST /objects/want: it computes the object
// set reachable from want but not have, stashes it under a session key,
// and returns that key for the subsequent pack download.
func (s *Server) handleObjectsWant(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var req WantHaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	want, err := parseOIDs(req.Want)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	have, err := parseOIDs(req.Have)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	set, err := reachableMinusHave(r.Context(), s.store, want, have)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	session := uuid.NewString()
	s.mu.Lock()
	s.sessions[session] = set
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, WantHaveResponse{Session: session})
}

// handleObjectsPack answers GET /objects/pack?session=...: objects at or
// under largeObjectThreshold go into the pack body; larger ones are
// listed in a manifest sidecar for the client to fetch individually via
// /objects/blob/{oid} (with Range support for parallel/partial fetch).
func (s *Server) handleObjectsPack(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.downloadPack(w, r)
	case http.MethodPost:
		s.uploadPack(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
	}
}

func (s *Server) downloadPack(w http.ResponseWriter, r *http.Request) {
	session := r.URL.Query().Get("session")
	s.mu.Lock()
	set, ok := s.sessions[session]
	delete(s.sessions, session)
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown session %q", session))
		return
	}

	ctx := r.Context()
	var records []pack.Record
	var large []string
	for id, kind := range set {
		data, err := s.store.Read(ctx, id)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		if len(data) > largeObjectThreshold {
			large = append(large, id.String())
			continue
		}
		records = append(records, pack.Record{OID: id, Kind: kind, Data: data})
	}

	data, err := pack.Write(records)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if len(large) > 0 {
		manifestJSON, _ := json.Marshal(PackManifest{ChunkOIDs: large})
		w.Header().Set("X-Large-Objects", string(manifestJSON))
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleObjectBlob answers GET /objects/blob/{oid}, serving a single
// object's raw bytes with Range support, used for objects too large to
// bundle into a pack.
func (s *Server) handleObjectBlob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	hex := strings.TrimPrefix(r.URL.Path, "/objects/blob/")
	id, err := oid.Parse(hex)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	data, err := s.store.Read(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	http.ServeContent(w, r, hex, time.Time{}, bytes.NewReader(data))
}

// uploadPack handles a pushed pack: parse-validate the whole stream
// (checksum included) before writing any object, so a push is
// all-or-nothing.
func (s *Server) uploadPack(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx := r.Context()
	resolve := func(id oid.OID) ([]byte, error) { return s.store.Read(ctx, id) }
	reader, err := pack.Open(body, resolve)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	ids := reader.OIDs()
	decoded := make([][]byte, len(ids))
	kinds := make([]objects.Kind, len(ids))
	for i, id := range ids {
		kind, data, err := reader.Get(id)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		decoded[i] = data
		kinds[i] = kind
	}
	for i := range ids {
		if _, err := s.store.Write(ctx, kinds[i], decoded[i]); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, struct {
		Count int `json:"count"`
	}{Count: len(ids)})
}

// handleRefsUpdate answers POST /refs/update: applies each requested ref
// move or delete, reporting a per-ref result so a partial failure (one
// non-fast-forward ref among several) doesn't abort the rest.
func (s *Server) handleRefsUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var req RefUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx := r.Context()
	resp := RefUpdateResponse{Results: make([]RefUpdateResult, 0, len(req.Updates))}
	for _, u := range req.Updates {
		result := RefUpdateResult{Name: u.Name}
		var err error
		switch {
		case u.Delete:
			err = s.refs.Delete(ctx, u.Name)
		default:
			var newOID oid.OID
			newOID, err = oid.Parse(u.NewOID)
			if err == nil {
				err = s.refs.Update(ctx, u.Name, newOID, req.Force, s.isAncestor)
			}
		}
		if err != nil {
			result.Error = err.Error()
		} else {
			result.Success = true
		}
		resp.Results = append(resp.Results, result)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleUploadChunk answers POST /upload/chunk: one part of a multi-part
// large-file upload, identified by an upload ID the client mints itself.
func (s *Server) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	uploadID := r.Header.Get(headerUploadID)
	if uploadID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("missing %s", headerUploadID))
		return
	}
	index, err := strconv.Atoi(r.Header.Get(headerChunkIndex))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid %s", headerChunkIndex))
		return
	}
	total, err := strconv.Atoi(r.Header.Get(headerTotalChunks))
	if err != nil || total <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid %s", headerTotalChunks))
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	state, ok := s.uploads[uploadID]
	if !ok {
		state = &uploadState{total: total, parts: make([][]byte, total)}
		s.uploads[uploadID] = state
	}
	s.mu.Unlock()

	state.mu.Lock()
	if index < 0 || index >= len(state.parts) {
		state.mu.Unlock()
		writeError(w, http.StatusBadRequest, fmt.Errorf("chunk index %d out of range", index))
		return
	}
	if state.parts[index] == nil {
		state.filled++
	}
	state.parts[index] = body
	state.mu.Unlock()

	writeJSON(w, http.StatusOK, struct {
		Received int `json:"received"`
		Total    int `json:"total"`
	}{Received: state.filled, Total: total})
}

// handleUploadFinalize answers POST /upload/finalize: assembles the
// uploaded parts, writes the result through the chunking-eligible path,
// and returns the resulting object OID.
func (s *Server) handleUploadFinalize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var req finalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	state, ok := s.uploads[req.UploadID]
	delete(s.uploads, req.UploadID)
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown upload %q", req.UploadID))
		return
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	var size int
	for i, p := range state.parts {
		if p == nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("missing chunk %d of %d", i, state.total))
			return
		}
		size += len(p)
	}
	data := make([]byte, 0, size)
	for _, p := range state.parts {
		data = append(data, p...)
	}

	ctx := r.Context()
	var id oid.OID
	var err error
	if chunk.Eligible(int64(len(data)), req.Filename) {
		id, err = s.store.WriteChunked(ctx, data, req.Filename)
	} else {
		id, err = s.store.Write(ctx, objects.KindBlob, data)
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, finalizeResponse{OID: id.String()})
}

func parseOIDs(hexes []string) ([]oid.OID, error) {
	out := make([]oid.OID, len(hexes))
	for i, h := range hexes {
		id, err := oid.Parse(h)
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}
