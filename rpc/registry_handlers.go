package rpc

import (
	"net/http"
	"strings"
	"time"
)

type registryRegisterParams struct {
	Caller       string `json:"caller"`
	Symbol       string `json:"symbol"`
	FeedEndpoint string `json:"feedEndpoint"`
	FeedAPIKey   string `json:"feedApiKey,omitempty"`
}

type registryAssetResult struct {
	Symbol      string `json:"symbol"`
	MaxQuoteAge string `json:"maxQuoteAge"`
}

func (s *Server) handleRegistryList(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	assets := s.engine.Registry().Assets()
	results := make([]registryAssetResult, 0, len(assets))
	for _, asset := range assets {
		entry := registryAssetResult{Symbol: asset.Symbol}
		if asset.Adapter != nil {
			entry.MaxQuoteAge = asset.Adapter.MaxAge().Truncate(time.Second).String()
		}
		results = append(results, entry)
	}
	writeResult(w, req.ID, results)
}

func (s *Server) handleRegistryRegister(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if s.factory == nil {
		writeError(w, http.StatusNotImplemented, req.ID, codeServerError, "collateral registration is not enabled", nil)
		return
	}
	var input registryRegisterParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	caller, err := decodeBech32(input.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(input.Symbol))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "symbol required", nil)
		return
	}
	if strings.TrimSpace(input.FeedEndpoint) == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "feedEndpoint required", nil)
		return
	}
	asset, adapter, err := s.factory(symbol, input.FeedEndpoint, input.FeedAPIKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to build collateral backing", err.Error())
		return
	}
	if err := s.engine.Registry().Register(caller, symbol, asset, adapter); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, registryAssetResult{
		Symbol:      symbol,
		MaxQuoteAge: adapter.MaxAge().Truncate(time.Second).String(),
	})
}

func (s *Server) handleRegistryRebindOracle(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if s.oracles == nil {
		writeError(w, http.StatusNotImplemented, req.ID, codeServerError, "oracle rebinding is not enabled", nil)
		return
	}
	var input registryRegisterParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	caller, err := decodeBech32(input.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(input.Symbol))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "symbol required", nil)
		return
	}
	if strings.TrimSpace(input.FeedEndpoint) == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "feedEndpoint required", nil)
		return
	}
	adapter, err := s.oracles(input.FeedEndpoint, input.FeedAPIKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to build oracle adapter", err.Error())
		return
	}
	if err := s.engine.Registry().RebindOracle(caller, symbol, adapter); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, registryAssetResult{
		Symbol:      symbol,
		MaxQuoteAge: adapter.MaxAge().Truncate(time.Second).String(),
	})
}
