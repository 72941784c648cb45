package cart

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/FaustProMaxPX/Takeaway-Mall/pkg/kit"
)

const maxItemBody = 1 << 16

type Server struct {
	Service *Service
	Log     *zap.Logger
}

// itemReq keeps the legacy request shape: exactly one of dish_id and
// setmeal_id is set.
type itemReq struct {
	DishID      *int64 `json:"dish_id"`
	SetmealID   *int64 `json:"setmeal_id"`
	Name        string `json:"name"`
	Image       string `json:"image"`
	AmountCents int64  `json:"amount_cents"`
}

type itemResp struct {
	Item ItemRef `json:"item"`
}

func (s *Server) add(w http.ResponseWriter, r *http.Request) {
	uid, ok := UserIDFromContext(r.Context())
	if !ok {
		kit.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "no user", nil)
		return
	}

	req, ref, err := decodeItemRequest(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out, err := s.Service.AddOrIncrement(r.Context(), uid, ref, Details{
		Name:        req.Name,
		Image:       req.Image,
		AmountCents: req.AmountCents,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	kit.WriteJSON(w, http.StatusOK, itemResp{Item: out})
}

func (s *Server) sub(w http.ResponseWriter, r *http.Request) {
	uid, ok := UserIDFromContext(r.Context())
	if !ok {
		kit.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "no user", nil)
		return
	}

	_, ref, err := decodeItemRequest(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out, err := s.Service.Decrement(r.Context(), uid, ref)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	kit.WriteJSON(w, http.StatusOK, itemResp{Item: out})
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	uid, ok := UserIDFromContext(r.Context())
	if !ok {
		kit.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "no user", nil)
		return
	}

	lines, err := s.Service.List(r.Context(), uid)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	kit.WriteJSON(w, http.StatusOK, lines)
}

func (s *Server) clean(w http.ResponseWriter, r *http.Request) {
	uid, ok := UserIDFromContext(r.Context())
	if !ok {
		kit.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "no user", nil)
		return
	}

	if err := s.Service.Clear(r.Context(), uid); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeItemRequest(w http.ResponseWriter, r *http.Request) (itemReq, ItemRef, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxItemBody)
	defer func() { _ = r.Body.Close() }()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req itemReq
	if err := dec.Decode(&req); err != nil {
		return itemReq{}, ItemRef{}, errBadJSON
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return itemReq{}, ItemRef{}, errBadJSON
	}

	ref, err := ParseItemRef(req.DishID, req.SetmealID)
	if err != nil {
		return itemReq{}, ItemRef{}, err
	}
	return req, ref, nil
}

var errBadJSON = errors.New("bad json")

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errBadJSON):
		kit.WriteError(w, r, http.StatusBadRequest, "bad_json", "bad json", nil)
	case errors.Is(err, ErrInvalidItem):
		kit.WriteError(w, r, http.StatusBadRequest, "invalid_item", err.Error(), nil)
	case errors.Is(err, ErrLineNotFound):
		kit.WriteError(w, r, http.StatusNotFound, "line_not_found", "nothing to remove", nil)
	case errors.Is(err, ErrComboUnavailable):
		kit.WriteError(w, r, http.StatusConflict, "combo_unavailable", "combo contains a withdrawn dish", nil)
	case errors.Is(err, ErrStoreUnavailable):
		s.logError("cart store unavailable", r, err)
		kit.WriteError(w, r, http.StatusServiceUnavailable, "store_unavailable", "cart temporarily unavailable", nil)
	default:
		s.logError("cart request failed", r, err)
		kit.WriteError(w, r, http.StatusInternalServerError, "internal", "server error", nil)
	}
}

func (s *Server) logError(msg string, r *http.Request, err error) {
	if s.Log == nil {
		return
	}
	s.Log.Error(msg, zap.String("route", kit.RoutePatternOrPath(r)), zap.Error(err))
}
