package core

// api.go – operational HTTP surface: chain head, block/transaction/receipt
// queries, read-only service calls and raw transaction submission.

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

// APIServer serves the read API over chi.
type APIServer struct {
	driver   *ChainDriver
	executor *ServiceExecutor
	storage  Storage
	mempool  MemPool
	router   chi.Router
}

// NewAPIServer wires the routes.
func NewAPIServer(driver *ChainDriver, executor *ServiceExecutor, storage Storage, mempool MemPool) *APIServer {
	s := &APIServer{
		driver:   driver,
		executor: executor,
		storage:  storage,
		mempool:  mempool,
	}

	r := chi.NewRouter()
	r.Get("/status", s.handleStatus)
	r.Get("/block/latest", s.handleLatestBlock)
	r.Get("/block/{height}", s.handleBlock)
	r.Get("/tx/{hash}", s.handleTransaction)
	r.Get("/receipt/{hash}", s.handleReceipt)
	r.Post("/query", s.handleQuery)
	r.Post("/tx", s.handleSubmitTx)
	s.router = r
	return s
}

// Handler exposes the router for the HTTP server.
func (s *APIServer) Handler() http.Handler { return s.router }

// Serve blocks on the listen address.
func (s *APIServer) Serve(addr string) error {
	logrus.Infof("api: listening on %s", addr)
	return http.ListenAndServe(addr, s.router)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *APIServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.driver.Status())
}

func (s *APIServer) handleLatestBlock(w http.ResponseWriter, _ *http.Request) {
	block, err := s.storage.GetLatestBlock()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if block == nil {
		writeError(w, http.StatusNotFound, "no blocks")
		return
	}
	writeJSON(w, http.StatusOK, block)
}

func (s *APIServer) handleBlock(w http.ResponseWriter, r *http.Request) {
	height, err := strconv.ParseUint(chi.URLParam(r, "height"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad height")
		return
	}
	block, err := s.storage.GetBlockByHeight(height)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if block == nil {
		writeError(w, http.StatusNotFound, "block not found")
		return
	}
	writeJSON(w, http.StatusOK, block)
}

func (s *APIServer) handleTransaction(w http.ResponseWriter, r *http.Request) {
	hash, err := HashFromHex(chi.URLParam(r, "hash"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad hash")
		return
	}
	tx, err := s.storage.GetTransactionByHash(hash)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if tx == nil {
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *APIServer) handleReceipt(w http.ResponseWriter, r *http.Request) {
	hash, err := HashFromHex(chi.URLParam(r, "hash"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad hash")
		return
	}
	receipt, err := s.storage.GetReceiptByHash(hash)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if receipt == nil {
		writeError(w, http.StatusNotFound, "receipt not found")
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

type queryRequest struct {
	Caller      Address            `json:"caller"`
	CyclesPrice uint64             `json:"cycles_price"`
	Request     TransactionRequest `json:"request"`
}

func (s *APIServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	status := s.driver.Status()
	params := &ExecutorParams{
		StateRoot:   status.StateRoot,
		Height:      status.Height,
		CyclesLimit: ^uint64(0),
	}
	resp := s.executor.Read(params, req.Caller, req.CyclesPrice, &req.Request)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"code":     resp.Code,
		"ret":      resp.Ret,
		"is_error": resp.IsError,
	})
}

func (s *APIServer) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	var tx SignedTransaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.mempool.Insert(r.Context(), &tx); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"tx_hash": tx.TxHash.Hex()})
}
