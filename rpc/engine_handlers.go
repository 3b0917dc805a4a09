package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"usdx/crypto"
	"usdx/observability"
)

type engineDepositParams struct {
	From   string `json:"from"`
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
}

type engineRedeemParams struct {
	From      string `json:"from"`
	Symbol    string `json:"symbol"`
	Amount    string `json:"amount"`
	Recipient string `json:"recipient,omitempty"`
}

type engineMintParams struct {
	From   string `json:"from"`
	Amount string `json:"amount"`
}

type engineCompositeParams struct {
	From          string `json:"from"`
	Symbol        string `json:"symbol"`
	DepositAmount string `json:"depositAmount,omitempty"`
	MintAmount    string `json:"mintAmount,omitempty"`
	RedeemAmount  string `json:"redeemAmount,omitempty"`
	BurnAmount    string `json:"burnAmount,omitempty"`
}

type engineLiquidateParams struct {
	Liquidator  string `json:"liquidator"`
	Symbol      string `json:"symbol"`
	User        string `json:"user"`
	DebtToCover string `json:"debtToCover"`
}

type engineAccountParams struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol,omitempty"`
}

type engineTxResult struct {
	Status string `json:"status"`
}

type enginePositionResult struct {
	Address         string            `json:"address"`
	Collateral      map[string]string `json:"collateral"`
	DebtMinted      string            `json:"debtMinted"`
	CollateralValue string            `json:"collateralValue"`
	HealthFactor    string            `json:"healthFactor"`
}

func decodeBech32(value string) (crypto.Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return crypto.Address{}, fmt.Errorf("address required")
	}
	return crypto.DecodeAddress(trimmed)
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected parameter object")
	}
	return json.Unmarshal(req.Params[0], out)
}

func (s *Server) handleEngineDeposit(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input engineDepositParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	from, err := decodeBech32(input.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid from address", err.Error())
		return
	}
	amount, err := parseAmount(input.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	started := time.Now()
	opErr := s.engine.Deposit(from, input.Symbol, amount)
	observability.Engine().Observe("deposit", time.Since(started), opErr)
	if opErr != nil {
		writeEngineError(w, req.ID, opErr)
		return
	}
	writeResult(w, req.ID, engineTxResult{Status: "ok"})
}

func (s *Server) handleEngineRedeem(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input engineRedeemParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	from, err := decodeBech32(input.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid from address", err.Error())
		return
	}
	recipient := from
	if strings.TrimSpace(input.Recipient) != "" {
		if recipient, err = decodeBech32(input.Recipient); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid recipient", err.Error())
			return
		}
	}
	amount, err := parseAmount(input.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	started := time.Now()
	opErr := s.engine.Redeem(from, input.Symbol, amount, recipient)
	observability.Engine().Observe("redeem", time.Since(started), opErr)
	if opErr != nil {
		writeEngineError(w, req.ID, opErr)
		return
	}
	writeResult(w, req.ID, engineTxResult{Status: "ok"})
}

func (s *Server) handleEngineMint(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input engineMintParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	from, err := decodeBech32(input.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid from address", err.Error())
		return
	}
	amount, err := parseAmount(input.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	started := time.Now()
	opErr := s.engine.Mint(from, amount)
	observability.Engine().Observe("mint", time.Since(started), opErr)
	if opErr != nil {
		writeEngineError(w, req.ID, opErr)
		return
	}
	writeResult(w, req.ID, engineTxResult{Status: "ok"})
}

func (s *Server) handleEngineBurn(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input engineMintParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	from, err := decodeBech32(input.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid from address", err.Error())
		return
	}
	amount, err := parseAmount(input.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	started := time.Now()
	opErr := s.engine.Burn(from, amount)
	observability.Engine().Observe("burn", time.Since(started), opErr)
	if opErr != nil {
		writeEngineError(w, req.ID, opErr)
		return
	}
	writeResult(w, req.ID, engineTxResult{Status: "ok"})
}

func (s *Server) handleEngineDepositAndMint(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input engineCompositeParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	from, err := decodeBech32(input.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid from address", err.Error())
		return
	}
	depositAmount, err := parseAmount(input.DepositAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, fmt.Sprintf("depositAmount: %v", err), nil)
		return
	}
	mintAmount, err := parseAmount(input.MintAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, fmt.Sprintf("mintAmount: %v", err), nil)
		return
	}
	started := time.Now()
	opErr := s.engine.DepositAndMint(from, input.Symbol, depositAmount, mintAmount)
	observability.Engine().Observe("depositAndMint", time.Since(started), opErr)
	if opErr != nil {
		writeEngineError(w, req.ID, opErr)
		return
	}
	writeResult(w, req.ID, engineTxResult{Status: "ok"})
}

func (s *Server) handleEngineRedeemForBurn(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input engineCompositeParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	from, err := decodeBech32(input.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid from address", err.Error())
		return
	}
	redeemAmount, err := parseAmount(input.RedeemAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, fmt.Sprintf("redeemAmount: %v", err), nil)
		return
	}
	burnAmount, err := parseAmount(input.BurnAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, fmt.Sprintf("burnAmount: %v", err), nil)
		return
	}
	started := time.Now()
	opErr := s.engine.RedeemForBurn(from, input.Symbol, redeemAmount, burnAmount)
	observability.Engine().Observe("redeemForBurn", time.Since(started), opErr)
	if opErr != nil {
		writeEngineError(w, req.ID, opErr)
		return
	}
	writeResult(w, req.ID, engineTxResult{Status: "ok"})
}

func (s *Server) handleEngineLiquidate(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input engineLiquidateParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	liquidator, err := decodeBech32(input.Liquidator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid liquidator address", err.Error())
		return
	}
	user, err := decodeBech32(input.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid user address", err.Error())
		return
	}
	debtToCover, err := parseAmount(input.DebtToCover)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, fmt.Sprintf("debtToCover: %v", err), nil)
		return
	}
	started := time.Now()
	opErr := s.engine.Liquidate(liquidator, input.Symbol, user, debtToCover)
	observability.Engine().Observe("liquidate", time.Since(started), opErr)
	if opErr != nil {
		writeEngineError(w, req.ID, opErr)
		return
	}
	writeResult(w, req.ID, engineTxResult{Status: "ok"})
}

func (s *Server) parseAccountParams(req *RPCRequest) (*engineAccountParams, error) {
	if len(req.Params) != 1 {
		return nil, fmt.Errorf("expected address parameter")
	}
	var direct string
	if err := json.Unmarshal(req.Params[0], &direct); err == nil {
		return &engineAccountParams{Address: direct}, nil
	}
	var wrapped engineAccountParams
	if err := json.Unmarshal(req.Params[0], &wrapped); err != nil {
		return nil, fmt.Errorf("invalid address parameter")
	}
	return &wrapped, nil
}

func (s *Server) handleEngineGetPosition(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	params, err := s.parseAccountParams(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	addr, err := decodeBech32(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	debt, value, err := s.engine.AccountInformation(addr)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	health, err := s.engine.HealthFactor(addr)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	collateral := make(map[string]string)
	for _, asset := range s.engine.Registry().Assets() {
		balance, balErr := s.engine.CollateralBalance(addr, asset.Symbol)
		if balErr != nil {
			writeEngineError(w, req.ID, balErr)
			return
		}
		if balance.Sign() > 0 {
			collateral[asset.Symbol] = balance.String()
		}
	}
	writeResult(w, req.ID, enginePositionResult{
		Address:         addr.String(),
		Collateral:      collateral,
		DebtMinted:      debt.String(),
		CollateralValue: value.String(),
		HealthFactor:    health.String(),
	})
}

func (s *Server) handleEngineHealthFactor(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	params, err := s.parseAccountParams(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	addr, err := decodeBech32(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	health, err := s.engine.HealthFactor(addr)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{
		"address":      addr.String(),
		"healthFactor": health.String(),
	})
}

func (s *Server) handleEngineCollateralValue(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	params, err := s.parseAccountParams(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	addr, err := decodeBech32(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	if strings.TrimSpace(params.Symbol) != "" {
		balance, balErr := s.engine.CollateralBalance(addr, params.Symbol)
		if balErr != nil {
			writeEngineError(w, req.ID, balErr)
			return
		}
		writeResult(w, req.ID, map[string]string{
			"address": addr.String(),
			"symbol":  strings.ToUpper(strings.TrimSpace(params.Symbol)),
			"balance": balance.String(),
		})
		return
	}
	value, err := s.engine.AccountCollateralValue(addr)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{
		"address":         addr.String(),
		"collateralValue": value.String(),
	})
}
