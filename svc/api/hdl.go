package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/text/unicode/norm"

	"wordbin/cfg"
	"wordbin/pkg/domain"
	"wordbin/svc/codec"
	"wordbin/svc/files"
	"wordbin/svc/store"
	"wordbin/svc/util"
)

// Hdl is the ingestion adapter: it extracts raw field values from
// requests, converts word-sequence identifiers to numeric form at the
// boundary, and hands everything to the paste store.
type Hdl struct {
	store *store.Store
	files *files.Store
	cfg   *cfg.Cfg
}

type PasteResp struct {
	ID        string      `json:"id"`
	URL       string      `json:"url"`
	Content   string      `json:"content"`
	FileName  string      `json:"file_name,omitempty"`
	Kind      domain.Kind `json:"kind"`
	CreatedAt int64       `json:"created_at"`
	ExpiresAt int64       `json:"expires_at"`
}

func toResp(p *domain.Paste) PasteResp {
	encoded := codec.Encode(p.ID)
	return PasteResp{
		ID:        encoded,
		URL:       "/pasta/" + encoded,
		Content:   p.Content,
		FileName:  p.FileName,
		Kind:      p.Kind,
		CreatedAt: p.CreatedAt,
		ExpiresAt: p.ExpiresAt,
	}
}

// CreatePaste consumes a multipart form with fields "content",
// "expiration" and "file". The file part streams straight to the staging
// area; it is committed under the paste's encoded id only once the
// record exists, so the store never sees a half-written payload.
func (h *Hdl) CreatePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())

	mr, err := r.MultipartReader()
	if err != nil {
		log.Warn().Err(err).Msg("not a multipart request")
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}

	var (
		content    string
		expiration = "never"
		fileName   string
		staged     string
	)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Warn().Err(err).Msg("malformed multipart body")
			if staged != "" {
				h.files.Discard(staged)
			}
			writeErr(w, domain.ErrInvalidRequest, requestID)
			return
		}
		switch part.FormName() {
		case "content":
			data, err := readLimited(part, h.cfg.MaxPasteSize)
			if err != nil {
				if staged != "" {
					h.files.Discard(staged)
				}
				writeErr(w, domain.ErrPasteTooLarge, requestID)
				return
			}
			content = norm.NFC.String(string(data))
		case "expiration":
			data, err := readLimited(part, 64)
			if err != nil {
				if staged != "" {
					h.files.Discard(staged)
				}
				writeErr(w, domain.ErrInvalidExpiration, requestID)
				return
			}
			expiration = strings.TrimSpace(string(data))
		case "file":
			name := part.FileName()
			if name == "" {
				continue
			}
			// A repeated file part supersedes the previous one; its
			// staging file must not be left orphaned.
			if staged != "" {
				h.files.Discard(staged)
				staged = ""
			}
			fileName = files.NormalizeName(name)
			staged, _, err = h.files.Stage(part, h.cfg.MaxFileSize)
			if err != nil {
				log.Warn().Err(err).Str("file_name", fileName).Msg("file staging failed")
				writeErr(w, domain.ErrPasteTooLarge, requestID)
				return
			}
		}
		part.Close()
	}

	if content == "" && fileName == "" {
		if staged != "" {
			h.files.Discard(staged)
		}
		writeErr(w, domain.ErrContentRequired, requestID)
		return
	}

	paste, err := h.store.Create(r.Context(), domain.CreateParams{
		Content:    content,
		FileName:   fileName,
		Expiration: expiration,
	})
	if err != nil {
		if staged != "" {
			h.files.Discard(staged)
		}
		log.Warn().Err(err).Msg("create failed")
		writeErr(w, err, requestID)
		return
	}
	encoded := codec.Encode(paste.ID)

	if staged != "" {
		if err := h.files.Commit(staged, encoded, fileName); err != nil {
			log.Error().Err(err).Str("paste_id", encoded).Msg("payload commit failed, rolling back")
			if rmErr := h.store.Remove(r.Context(), paste.ID); rmErr != nil {
				log.Error().Err(rmErr).Str("paste_id", encoded).Msg("rollback failed")
			}
			writeErr(w, domain.ErrInternalServer, requestID)
			return
		}
	}

	log.Info().
		Str("paste_id", encoded).
		Str("kind", string(paste.Kind)).
		Str("expiration", expiration).
		Msg("paste created")
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Location", "/pasta/"+encoded)
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toResp(paste))
}

func (h *Hdl) GetPaste(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	paste, err := h.findByEncodedID(r)
	if err != nil {
		writeErr(w, err, requestID)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toResp(paste))
}

// GetRawPaste serves the bare content as text.
func (h *Hdl) GetRawPaste(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	paste, err := h.findByEncodedID(r)
	if err != nil {
		writeErr(w, err, requestID)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, paste.Content)
}

// GetFile streams a file paste's committed payload. The record lookup
// runs first, so expired or removed pastes stay irretrievable even if a
// payload lingers on disk.
func (h *Hdl) GetFile(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	paste, err := h.findByEncodedID(r)
	if err != nil {
		writeErr(w, err, requestID)
		return
	}
	// The URL must name the exact stored file; anything else, including
	// traversal attempts, is a miss.
	if !paste.HasFile() || chi.URLParam(r, "name") != paste.FileName {
		writeErr(w, domain.ErrPasteNotFound, requestID)
		return
	}
	http.ServeFile(w, r, h.files.Path(codec.Encode(paste.ID), paste.FileName))
}

// RedirectURL 302s to the stored target for url-kind pastes.
func (h *Hdl) RedirectURL(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	paste, err := h.findByEncodedID(r)
	if err != nil {
		writeErr(w, err, requestID)
		return
	}
	if paste.Kind != domain.KindURL {
		writeErr(w, domain.ErrNotAURL, requestID)
		return
	}
	http.Redirect(w, r, paste.Content, http.StatusFound)
}

func (h *Hdl) RemovePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id, err := codec.Decode(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err, requestID)
		return
	}
	if err := h.store.Remove(r.Context(), id); err != nil {
		writeErr(w, err, requestID)
		return
	}
	log.Info().Str("paste_id", chi.URLParam(r, "id")).Msg("paste removed")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "removed"})
}

func (h *Hdl) ListPastes(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	pastes, err := h.store.List(r.Context())
	if err != nil {
		writeErr(w, err, requestID)
		return
	}
	resp := make([]PasteResp, len(pastes))
	for i, p := range pastes {
		resp[i] = toResp(p)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *Hdl) findByEncodedID(r *http.Request) (*domain.Paste, error) {
	id, err := codec.Decode(chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	return h.store.Find(r.Context(), id)
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, errors.Wrap(err, "read field")
	}
	if int64(len(data)) > limit {
		return nil, errors.New("field exceeds limit")
	}
	return data, nil
}

func writeErr(w http.ResponseWriter, err error, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(domain.Status(err))
	json.NewEncoder(w).Encode(domain.ToResp(err))
}
