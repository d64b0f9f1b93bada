package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"cwfork/internal/engine"
	"cwfork/internal/models"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// ParsePagination reads ?limit= and ?offset=, falling back to defaults on bad input
func ParsePagination(query url.Values) (limit, offset int) {
	limit = defaultPageSize
	if limitStr := query.Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= maxPageSize {
			limit = parsed
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}

// StatusForError maps a sandbox error to an HTTP status
func StatusForError(err error) int {
	switch engine.Classify(err).Kind {
	case engine.KindContractNotFound, engine.KindCodeNotFound:
		return http.StatusNotFound
	case engine.KindRemoteUnavailable:
		return http.StatusBadGateway
	case engine.KindContractError, engine.KindVMTrap:
		return http.StatusUnprocessableEntity
	case engine.KindDepthExceeded, engine.KindInsufficientFunds:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// BuildSessionResponse describes the session for GET /session
func BuildSessionResponse(s Session) models.SessionResponse {
	block := s.Block()
	return models.SessionResponse{
		SessionID: s.SessionID(),
		ChainID:   block.ChainID,
		Height:    block.Height,
		BlockTime: time.Unix(0, int64(block.Time)).UTC(),
		Sender:    s.Sender(),
		Prefix:    s.Prefix(),
	}
}

// BuildContractResponse converts a contract record to its API form
func BuildContractResponse(rec *models.ContractRecord) models.ContractResponse {
	return models.ContractResponse{
		Address:  rec.Address,
		CodeID:   rec.CodeID,
		CodeHash: rec.CodeHash(),
		CodeSize: len(rec.Code),
		Local:    rec.Local,
	}
}

// BuildQueryResponse inlines JSON answers and base64-encodes anything else
func BuildQueryResponse(out []byte) models.QueryResponseBody {
	if len(out) > 0 && json.Valid(out) {
		return models.QueryResponseBody{Data: json.RawMessage(out)}
	}
	return models.QueryResponseBody{Raw: out}
}
