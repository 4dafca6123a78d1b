// Package server exposes the top-up predicate, rosters and tasks of Safes
// over HTTP.
package server

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/blndgs/safeauto"
	"github.com/blndgs/safeauto/automate"
	"github.com/blndgs/safeauto/contracts"
)

// Backend answers the read-only queries of the API.
type Backend interface {
	Checker(ctx context.Context, safe common.Address) (bool, []byte, error)
	Roster(ctx context.Context, safe common.Address) ([]safeauto.Receiver, error)
	ReceiverBalance(ctx context.Context, safe, receiver common.Address) (*big.Int, error)
	TasksByUser(ctx context.Context, user common.Address) ([]*automate.Task, error)
	Authorize(ctx context.Context, safe common.Address, txs []safeauto.SafeTransaction) error
}

// Server routes API requests to a Backend.
type Server struct {
	backend Backend
	limiter *limiter
	logger  *zap.Logger
}

// New returns a server over backend that allows requestsPerSecond requests
// per client with the given burst.
func New(backend Backend, requestsPerSecond float64, burst int, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := safeauto.NewValidator(); err != nil {
		return nil, err
	}
	return &Server{
		backend: backend,
		limiter: &limiter{limit: rate.Limit(requestsPerSecond), burst: burst},
		logger:  logger,
	}, nil
}

// Router returns the gin engine serving the API.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.rateLimit())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	safes := v1.Group("/safes/:address", s.safeAddress)
	safes.GET("/checker", s.checker)
	safes.GET("/receivers", s.receivers)
	safes.GET("/tasks", s.tasks)
	safes.POST("/authorize", s.authorize)
	v1.POST("/rosters/validate", s.validateRoster)
	v1.POST("/whitelist/encode", s.encodeWhitelist)
	return r
}

// Run serves the API on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

const safeKey = "safe"

func (s *Server) safeAddress(c *gin.Context) {
	address := c.Param("address")
	if !common.IsHexAddress(address) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid safe address"})
		return
	}
	c.Set(safeKey, common.HexToAddress(address))
	c.Next()
}

func (s *Server) fail(c *gin.Context, err error) {
	s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

type checkerResponse struct {
	CanExec  bool          `json:"canExec"`
	ExecData hexutil.Bytes `json:"execData"`
	// Targets are the receivers the payload refills.
	Targets []common.Address `json:"targets"`
	// Transactions are the sub-calls the module forwards to the Safe.
	Transactions []*safeauto.SafeTransaction `json:"transactions"`
}

func (s *Server) checker(c *gin.Context) {
	safe := c.MustGet(safeKey).(common.Address)
	canExec, payload, err := s.backend.Checker(c.Request.Context(), safe)
	if err != nil {
		s.fail(c, err)
		return
	}

	resp := checkerResponse{
		CanExec:      canExec,
		ExecData:     payload,
		Targets:      []common.Address{},
		Transactions: []*safeauto.SafeTransaction{},
	}
	if canExec {
		txs, targets, err := performTargets(payload)
		if err != nil {
			s.fail(c, err)
			return
		}
		resp.Targets = targets
		for i := range txs {
			resp.Transactions = append(resp.Transactions, &txs[i])
		}
	}
	c.JSON(http.StatusOK, resp)
}

// performTargets decodes an execute(safe, [performTopUps(safe, targets)])
// payload into its transactions and the receivers they refill.
func performTargets(payload []byte) ([]safeauto.SafeTransaction, []common.Address, error) {
	_, txs, err := contracts.DecodeExecute(payload)
	if err != nil {
		return nil, nil, err
	}
	var targets []common.Address
	for _, tx := range txs {
		method, err := contracts.Method(contracts.TopUp, tx.Data)
		if err != nil {
			return nil, nil, err
		}
		var args struct {
			Safe    common.Address
			Targets []common.Address
		}
		if err := contracts.UnpackInputs(method, tx.Data, &args); err != nil {
			return nil, nil, err
		}
		targets = append(targets, args.Targets...)
	}
	return txs, targets, nil
}

type authorizeRequest struct {
	Transactions []safeauto.SafeTransaction `json:"transactions" binding:"required,min=1"`
}

// authorize tells whether the module would forward a batch for the Safe.
func (s *Server) authorize(c *gin.Context) {
	safe := c.MustGet(safeKey).(common.Address)
	var req authorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for i := range req.Transactions {
		s.logger.Debug("authorizing transaction", zap.Stringer("safe", safe), zap.Stringer("tx", &req.Transactions[i]))
	}

	err := s.backend.Authorize(c.Request.Context(), safe, req.Transactions)
	switch {
	case errors.Is(err, safeauto.ErrAuthorizationDenied):
		c.JSON(http.StatusForbidden, gin.H{"authorized": false, "error": err.Error()})
	case err != nil:
		s.fail(c, err)
	default:
		c.JSON(http.StatusOK, gin.H{"authorized": true})
	}
}

type receiverResponse struct {
	Address    common.Address `json:"address"`
	Amount     string         `json:"amount"`
	Threshold  string         `json:"threshold"`
	Balance    string         `json:"balance"`
	NeedsTopUp bool           `json:"needsTopUp"`
}

func (s *Server) receivers(c *gin.Context) {
	ctx := c.Request.Context()
	safe := c.MustGet(safeKey).(common.Address)
	roster, err := s.backend.Roster(ctx, safe)
	if err != nil {
		s.fail(c, err)
		return
	}

	resp := make([]receiverResponse, 0, len(roster))
	for _, rcv := range roster {
		balance, err := s.backend.ReceiverBalance(ctx, safe, rcv.Address)
		if err != nil {
			s.fail(c, err)
			return
		}
		resp = append(resp, receiverResponse{
			Address:    rcv.Address,
			Amount:     safeauto.FormatEther(rcv.Amount),
			Threshold:  safeauto.FormatEther(rcv.Threshold),
			Balance:    safeauto.FormatEther(balance),
			NeedsTopUp: rcv.NeedsTopUp(balance),
		})
	}
	c.JSON(http.StatusOK, gin.H{"safe": safe, "receivers": resp})
}

type taskResponse struct {
	ID          common.Hash    `json:"id"`
	ExecAddress common.Address `json:"execAddress"`
	Modules     []string       `json:"modules"`
	NextExec    uint64         `json:"nextExec,omitempty"`
	Interval    uint64         `json:"interval,omitempty"`
}

func (s *Server) tasks(c *gin.Context) {
	safe := c.MustGet(safeKey).(common.Address)
	tasks, err := s.backend.TasksByUser(c.Request.Context(), safe)
	if err != nil {
		s.fail(c, err)
		return
	}

	resp := make([]taskResponse, 0, len(tasks))
	for _, task := range tasks {
		modules := make([]string, 0, len(task.Modules.Modules))
		for _, m := range task.Modules.Modules {
			modules = append(modules, m.String())
		}
		resp = append(resp, taskResponse{
			ID:          task.ID,
			ExecAddress: task.ExecAddress,
			Modules:     modules,
			NextExec:    task.NextExec,
			Interval:    task.Interval,
		})
	}
	c.JSON(http.StatusOK, gin.H{"safe": safe, "tasks": resp})
}

type rosterResponse struct {
	Safe            *common.Address    `json:"safe,omitempty"`
	TreasuryDeposit string             `json:"treasuryDeposit"`
	Receivers       []receiverResponse `json:"receivers"`
	// CallData is the startAutoTopUp call the Safe delegate-calls.
	CallData hexutil.Bytes `json:"callData"`
}

func (s *Server) validateRoster(c *gin.Context) {
	var req safeauto.RosterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	deposit, roster, err := req.Parse()
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	callData, err := contracts.EncodeStartAutoTopUp(deposit, roster)
	if err != nil {
		s.fail(c, err)
		return
	}

	resp := rosterResponse{
		TreasuryDeposit: safeauto.FormatEther(deposit),
		Receivers:       make([]receiverResponse, 0, len(roster)),
		CallData:        callData,
	}
	if safe, ok := req.SafeAddress(); ok {
		resp.Safe = &safe
	}
	for _, rcv := range roster {
		resp.Receivers = append(resp.Receivers, receiverResponse{
			Address:   rcv.Address,
			Amount:    safeauto.FormatEther(rcv.Amount),
			Threshold: safeauto.FormatEther(rcv.Threshold),
		})
	}
	c.JSON(http.StatusOK, resp)
}

type whitelistResponse struct {
	Specs []safeauto.TransactionSpec `json:"specs"`
	// CallData is the whitelistTransaction call the Safe sends to the module.
	CallData hexutil.Bytes `json:"callData"`
}

func (s *Server) encodeWhitelist(c *gin.Context) {
	var req safeauto.WhitelistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	specs, err := req.Parse()
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	callData, err := contracts.EncodeWhitelistTransaction(specs...)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, whitelistResponse{Specs: specs, CallData: callData})
}

// limiter keeps one token bucket per client IP.
type limiter struct {
	limit    rate.Limit
	burst    int
	limiters sync.Map
}

func (l *limiter) get(key string) *rate.Limiter {
	if v, ok := l.limiters.Load(key); ok {
		return v.(*rate.Limiter)
	}
	actual, _ := l.limiters.LoadOrStore(key, rate.NewLimiter(l.limit, l.burst))
	return actual.(*rate.Limiter)
}

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Next()
			return
		}
		if !s.limiter.get(c.ClientIP()).Allow() {
			s.logger.Warn("rate limit exceeded",
				zap.String("client_ip", c.ClientIP()),
				zap.String("path", c.Request.URL.Path),
			)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
