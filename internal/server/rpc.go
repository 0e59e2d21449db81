package server

import (
	"bytes"
	"encoding/json"
	"net/http"

	apperrors "github.com/copyleftdev/ARDI/internal/errors"
	"github.com/copyleftdev/ARDI/internal/spectral"
)

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// handleJSONRPC handles JSON-RPC 2.0 requests
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request rpcRequest
	if err := s.decode(w, r, &request); err != nil {
		if apperrors.HTTPStatus(err) == http.StatusRequestEntityTooLarge {
			s.respondWithRPCError(w, codeInvalidRequest, "Request too large", nil, nil)
			return
		}
		s.respondWithRPCError(w, codeParseError, "Parse error", nil, nil)
		return
	}

	// Validate JSON-RPC 2.0 request
	if request.JSONRPC != "2.0" || request.Method == "" {
		s.respondWithRPCError(w, codeInvalidRequest, "Invalid Request", request.ID, nil)
		return
	}

	var result interface{}
	var err error

	switch request.Method {
	case "spectrum.detect":
		var params DetectRequest
		if err = decodeParams(request.Params, &params); err == nil {
			result, err = s.detect(&params)
		}
	case "spectrum.smooth":
		var params SmoothRequest
		if err = decodeParams(request.Params, &params); err == nil {
			result, err = s.smooth(&params)
		}
	case "spectrum.fit":
		var params FitRequest
		if err = decodeParams(request.Params, &params); err == nil {
			result, err = s.fit(r.Context(), &params)
		}
	default:
		s.respondWithRPCError(w, codeMethodNotFound, "Method not found", request.ID, nil)
		return
	}

	if err != nil {
		body := newErrorBody(err)
		s.metrics.ObserveError(body.Kind)
		if spectral.IsKind(err, spectral.KindInput) || spectral.IsKind(err, spectral.KindOverrideValidation) {
			s.respondWithRPCError(w, codeInvalidParams, "Invalid params", request.ID, body)
			return
		}
		s.respondWithRPCError(w, codeServerError, "Server error", request.ID, body)
		return
	}

	s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	})
}

// decodeParams accepts params as an object or as a one-element array
// holding the object.
func decodeParams(raw json.RawMessage, dst interface{}) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return spectral.InputErrorf("missing required parameters").WithField("params").WithComponent("rpc")
	}
	if raw[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil || len(list) != 1 {
			return spectral.InputErrorf("params must be an object or a one-element array").
				WithField("params").WithComponent("rpc")
		}
		raw = list[0]
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return spectral.WrapError(err, spectral.KindInput, "invalid parameter format").
			WithField("params").WithComponent("rpc")
	}
	return nil
}

// respondWithRPCError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithRPCError(w http.ResponseWriter, code int, message string, id interface{}, data interface{}) {
	s.logger.Debug("RPC error", map[string]interface{}{
		"code":    code,
		"message": message,
	})

	s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"error": rpcError{
			Code:    code,
			Message: message,
			Data:    data,
		},
		"id": id,
	})
}
