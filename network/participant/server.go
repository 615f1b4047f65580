package participant

import (
	"context"
	"net/http"

	"ATX/configs"
	"ATX/network"
	"ATX/storage"
	"ATX/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

// Server exposes the participant verbs over HTTP.
type Server struct {
	manager *Manager
	conf    *configs.Config
	http    *http.Server
}

func NewServer(ctx context.Context, conf *configs.Config) (*Server, error) {
	store, err := storage.NewAccountStore(ctx, conf)
	if err != nil {
		return nil, err
	}
	log := storage.NewLogManager(ctx, "participant", conf.WALDir)
	c := &Server{
		manager: NewManager(ctx, store, log),
		conf:    conf,
	}
	c.http = &http.Server{Addr: conf.ParticipantAddr, Handler: c.routes()}
	return c, nil
}

func (c *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(network.BearerAuth(c.conf.TokenSecret))
	r.Post("/2pc/prepare", c.handlePrepare)
	r.Post("/2pc/commit", c.handleCommit)
	r.Post("/2pc/abort", c.handleAbort)
	r.Get("/2pc/status/{tx_id}", c.handleLockStatus)
	r.Post("/accounts", c.handleCreateAccount)
	r.Get("/accounts/{account_id}", c.handleGetAccount)
	return r
}

// ListenAndServe blocks until the listener fails or the server is shut down.
func (c *Server) ListenAndServe() error {
	logrus.WithFields(logrus.Fields{
		"addr":    c.conf.ParticipantAddr,
		"backend": c.conf.StorageBackend,
	}).Info("participant listening")
	return c.http.ListenAndServe()
}

func (c *Server) Shutdown(ctx context.Context) error {
	err := c.http.Shutdown(ctx)
	c.manager.Close()
	return err
}

// Handler returns the route tree without binding a listener. Tests mount it
// on httptest servers.
func (c *Server) Handler() http.Handler {
	return c.routes()
}

// statusOf maps taxonomy codes onto participant HTTP statuses.
func statusOf(err error) int {
	switch utils.CodeOf(err) {
	case utils.CodeNotFound:
		return http.StatusNotFound
	case utils.CodeInvalidArgument:
		return http.StatusBadRequest
	case utils.CodeConflict, utils.CodeInsufficientFunds:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decode(r *http.Request, into interface{}) error {
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(r.Body).Decode(into)
}

func (c *Server) handlePrepare(w http.ResponseWriter, r *http.Request) {
	req := network.PrepareRequest{}
	if err := decode(r, &req); err != nil {
		network.WriteJSON(w, http.StatusBadRequest, network.VotedAbort(utils.ErrInvalidAmount, nil))
		return
	}
	details, err := c.manager.Prepare(r.Context(), &req)
	if err != nil {
		network.WriteJSON(w, statusOf(err), network.VotedAbort(err, nil))
		return
	}
	network.WriteJSON(w, http.StatusOK, network.Voted(configs.VoteCommit, details))
}

func (c *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	req := network.CommitRequest{}
	if err := decode(r, &req); err != nil {
		network.WriteJSON(w, http.StatusBadRequest, network.Failed(utils.ErrInvalidAmount, nil))
		return
	}
	details, err := c.manager.Commit(r.Context(), &req)
	if err != nil {
		network.WriteJSON(w, statusOf(err), network.Failed(err, nil))
		return
	}
	network.WriteJSON(w, http.StatusOK, network.OK(details))
}

func (c *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	req := network.AbortRequest{}
	if err := decode(r, &req); err != nil {
		network.WriteJSON(w, http.StatusBadRequest, network.Failed(utils.ErrInvalidAmount, nil))
		return
	}
	if err := c.manager.Abort(r.Context(), &req); err != nil {
		network.WriteJSON(w, statusOf(err), network.Failed(err, nil))
		return
	}
	network.WriteJSON(w, http.StatusOK, &network.APIResponse{Success: true})
}

func (c *Server) handleLockStatus(w http.ResponseWriter, r *http.Request) {
	res, err := c.manager.LockStatus(r.Context(), chi.URLParam(r, "tx_id"))
	if err != nil {
		network.WriteJSON(w, statusOf(err), network.Failed(err, nil))
		return
	}
	network.WriteJSON(w, http.StatusOK, network.OK(res))
}

func (c *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	req := network.CreateAccountRequest{}
	if err := decode(r, &req); err != nil {
		network.WriteJSON(w, http.StatusBadRequest, network.Failed(utils.ErrInvalidAmount, nil))
		return
	}
	acct, err := c.manager.CreateAccount(r.Context(), &req)
	if err != nil {
		network.WriteJSON(w, statusOf(err), network.Failed(err, nil))
		return
	}
	network.WriteJSON(w, http.StatusCreated, network.OK(acct))
}

func (c *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := c.manager.GetAccount(r.Context(), chi.URLParam(r, "account_id"))
	if err != nil {
		network.WriteJSON(w, statusOf(err), network.Failed(err, nil))
		return
	}
	network.WriteJSON(w, http.StatusOK, network.OK(acct))
}
