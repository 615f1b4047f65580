package coordinator

import (
	"context"
	"net/http"
	"strconv"

	"ATX/configs"
	"ATX/network"
	"ATX/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Server exposes the client-facing transfer API.
type Server struct {
	manager *Manager
	sweeper *Sweeper
	conf    *configs.Config
	txns    TxnLogStore
	http    *http.Server
}

func NewServer(ctx context.Context, conf *configs.Config) (*Server, error) {
	txns, err := NewTxnLogStore(ctx, conf)
	if err != nil {
		return nil, err
	}
	manager, err := NewManager(ctx, conf, txns)
	if err != nil {
		txns.Close()
		return nil, err
	}
	c := &Server{
		manager: manager,
		sweeper: NewSweeper(manager),
		conf:    conf,
		txns:    txns,
	}
	c.http = &http.Server{Addr: conf.CoordinatorAddr, Handler: c.routes()}
	return c, nil
}

func (c *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Group(func(r chi.Router) {
		r.Use(network.BearerAuth(c.conf.TokenSecret))
		r.Post("/transfers", c.handleTransfer)
		r.Get("/transfers/status/{tx_id}", c.handleStatus)
		r.Get("/transfers/history/{account_id}", c.handleHistory)
	})
	return r
}

// ListenAndServe starts the sweeper and blocks on the listener.
func (c *Server) ListenAndServe(ctx context.Context) error {
	go c.sweeper.Run(ctx)
	logrus.WithFields(logrus.Fields{
		"addr":        c.conf.CoordinatorAddr,
		"participant": c.conf.ParticipantURL,
	}).Info("coordinator listening")
	return c.http.ListenAndServe()
}

func (c *Server) Shutdown(ctx context.Context) error {
	err := c.http.Shutdown(ctx)
	c.manager.Close()
	c.txns.Close()
	return err
}

// Handler returns the route tree without binding a listener.
func (c *Server) Handler() http.Handler {
	return c.routes()
}

func (c *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	req := network.TransferRequest{}
	defer func() { _ = r.Body.Close() }()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		network.WriteJSON(w, http.StatusBadRequest, network.Failed(utils.ErrInvalidAmount, nil))
		return
	}
	res, err := c.manager.TransferWithRetry(r.Context(), &req)
	if err != nil {
		status := http.StatusBadRequest
		if utils.CodeOf(err) == utils.CodeNotFound {
			status = http.StatusNotFound
		}
		network.WriteJSON(w, status, network.Failed(err, nil))
		return
	}
	if res.Status == configs.TxnCommitted {
		network.WriteJSON(w, http.StatusOK, network.OK(res))
		return
	}
	network.WriteJSON(w, http.StatusConflict, &network.APIResponse{
		Success: false,
		Data:    res,
		Error: &network.WireError{
			Code:    res.AbortReason,
			Message: "transfer aborted",
		},
	})
}

func (c *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	txn, err := c.manager.Status(r.Context(), chi.URLParam(r, "tx_id"))
	if err != nil {
		network.WriteJSON(w, http.StatusNotFound, network.Failed(err, nil))
		return
	}
	network.WriteJSON(w, http.StatusOK, network.OK(txn))
}

func (c *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	rows, err := c.manager.History(r.Context(), chi.URLParam(r, "account_id"), limit, offset)
	if err != nil {
		network.WriteJSON(w, http.StatusInternalServerError, network.Failed(err, nil))
		return
	}
	network.WriteJSON(w, http.StatusOK, network.OK(rows))
}
