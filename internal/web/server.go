package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"git.sr.ht/~jakintosh/orden/internal/bridge"
	"git.sr.ht/~jakintosh/orden/internal/domain"
	"git.sr.ht/~jakintosh/orden/internal/httpx"
	"git.sr.ht/~jakintosh/orden/internal/realtime"
)

const maxBodyBytes = 1 << 20

type Server struct {
	bridge       *bridge.Bridge
	ws           *realtime.WSHandler
	logger       *slog.Logger
	router       chi.Router
	presentation *Presentation
}

func NewServer(b *bridge.Bridge, hub *realtime.Hub, logger *slog.Logger, readLimit int64) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pres, err := NewPresentation()
	if err != nil {
		return nil, err
	}
	s := &Server{
		bridge:       b,
		ws:           realtime.NewWSHandler(hub, logger, readLimit),
		logger:       logger,
		router:       chi.NewRouter(),
		presentation: pres,
	}
	s.routes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := s.router
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "message": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	// Pages
	r.Get("/colecciones/{coleccion}/{ownerID}", s.handleListPage)
	r.Post("/colecciones/{coleccion}/{ownerID}/orden", s.handleSortList)
	r.Get("/crm/{crmID}/pipeline", s.handleBoardPage)
	r.Post("/crm/{crmID}/pipeline/mover", s.handleDropLead)

	// Realtime
	r.Get("/ws/colecciones/{coleccion}/{ownerID}", s.handleListSocket)
	r.Get("/ws/crm/{crmID}", s.handleBoardSocket)

	r.Route("/api", func(r chi.Router) {
		r.Route("/colecciones/{coleccion}/{ownerID}", func(r chi.Router) {
			r.Get("/items", s.handleListItems)
			r.Post("/items", s.handleCreateItem)
			r.Patch("/items/{id}", s.handleUpdateItem)
			r.Delete("/items/{id}", s.handleDeleteItem)
			r.Put("/orden", s.handlePersistOrder)
		})
		r.Route("/crm/{crmID}", func(r chi.Router) {
			r.Get("/pipeline", s.handleGetBoard)
			r.Post("/leads", s.handleCreateLead)
			r.Post("/leads/{leadID}/etapa", s.handleMoveLead)
		})
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		hx := parseRequestContext(r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"dur", time.Since(start),
			"request_id", chimw.GetReqID(r.Context()),
			"htmx", hx.IsHTMX,
			"hx_target", hx.TargetID,
		)
	})
}

// listParams reads and validates the coleccion/owner pair of the route.
func listParams(r *http.Request) (domain.Coleccion, string, error) {
	col, err := domain.ParseColeccion(strings.TrimSpace(chi.URLParam(r, "coleccion")))
	if err != nil {
		return "", "", err
	}
	ownerID := strings.TrimSpace(chi.URLParam(r, "ownerID"))
	if err := col.CheckOwner(ownerID); err != nil {
		return "", "", err
	}
	return col, ownerID, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domain.Invalid("body", "JSON inválido: %v", err)
	}
	return nil
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := httpx.StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	httpx.WriteDomainError(w, err)
}

// Collections

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	col, ownerID, err := listParams(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items, err := s.bridge.Fetch(r.Context(), col, ownerID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "data": items})
}

type createItemRequest struct {
	Nombre string `json:"nombre"`
}

func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	col, ownerID, err := listParams(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req createItemRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	item, err := s.bridge.AddItem(r.Context(), col, ownerID, req.Nombre)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if parseRequestContext(r).IsHTMX {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := s.presentation.RenderItem(w, NewItemView(col, item, false)); err != nil {
			s.logger.Error("render item", "err", err)
		}
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"success": true, "data": item})
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	col, ownerID, err := listParams(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var patch bridge.ItemPatch
	if err := decodeBody(w, r, &patch); err != nil {
		s.fail(w, r, err)
		return
	}
	item, err := s.bridge.UpdateItem(r.Context(), col, ownerID, chi.URLParam(r, "id"), patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if parseRequestContext(r).IsHTMX {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := s.presentation.RenderItem(w, NewItemView(col, item, true)); err != nil {
			s.logger.Error("render item", "err", err)
		}
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "data": item})
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	col, ownerID, err := listParams(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	item, err := s.bridge.DeleteItem(r.Context(), col, ownerID, chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "data": item})
}

type persistOrderRequest struct {
	Items []domain.RankUpdate `json:"items"`
}

func (s *Server) handlePersistOrder(w http.ResponseWriter, r *http.Request) {
	col, ownerID, err := listParams(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req persistOrderRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.bridge.Persist(r.Context(), col, ownerID, req.Items); err != nil {
		s.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "message": "orden actualizado"})
}

// Pipeline

func (s *Server) handleGetBoard(w http.ResponseWriter, r *http.Request) {
	board, err := s.bridge.Board(r.Context(), chi.URLParam(r, "crmID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "data": board})
}

type createLeadRequest struct {
	Nombre        string  `json:"nombre"`
	ValorEstimado float64 `json:"valorEstimado"`
}

func (s *Server) handleCreateLead(w http.ResponseWriter, r *http.Request) {
	var req createLeadRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	lead, err := s.bridge.AddLead(r.Context(), chi.URLParam(r, "crmID"), req.Nombre, req.ValorEstimado)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"success": true, "data": lead})
}

type moveLeadRequest struct {
	EtapaID string `json:"etapaId"`
}

func (s *Server) handleMoveLead(w http.ResponseWriter, r *http.Request) {
	var req moveLeadRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	lead, err := s.bridge.MoveLead(r.Context(), chi.URLParam(r, "crmID"), chi.URLParam(r, "leadID"), req.EtapaID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "data": lead})
}

// Pages

func (s *Server) handleListPage(w http.ResponseWriter, r *http.Request) {
	ctx := parseRequestContext(r)
	col, ownerID, err := listParams(r)
	if err != nil {
		http.Error(w, err.Error(), httpx.StatusFor(err))
		return
	}
	items, err := s.bridge.Fetch(r.Context(), col, ownerID)
	if err != nil {
		http.Error(w, "No se pudo cargar la lista", httpx.StatusFor(err))
		return
	}

	view := NewListView(col, ownerID, items)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if ctx.WantsFragment() {
		err = s.presentation.RenderList(w, view)
	} else {
		err = s.presentation.RenderPage(w, string(col), view)
	}
	if err != nil {
		s.logger.Error("render list", "err", err)
	}
}

func (s *Server) handleBoardPage(w http.ResponseWriter, r *http.Request) {
	ctx := parseRequestContext(r)
	board, err := s.bridge.Board(r.Context(), chi.URLParam(r, "crmID"))
	if err != nil {
		http.Error(w, "No se pudo cargar el pipeline", httpx.StatusFor(err))
		return
	}

	view := NewBoardView(board)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if ctx.WantsFragment() {
		err = s.presentation.RenderBoard(w, view)
	} else {
		err = s.presentation.RenderPage(w, "Pipeline", view)
	}
	if err != nil {
		s.logger.Error("render board", "err", err)
	}
}

// handleSortList takes the row DOM ids of a list form in their new order.
func (s *Server) handleSortList(w http.ResponseWriter, r *http.Request) {
	ctx := parseRequestContext(r)
	col, ownerID, err := listParams(r)
	if err != nil {
		http.Error(w, err.Error(), httpx.StatusFor(err))
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	domIDs := r.PostForm["id"]
	if len(domIDs) == 0 {
		return // Nothing to do
	}
	updates := make([]domain.RankUpdate, len(domIDs))
	for i, domID := range domIDs {
		id, ok := ItemIDFromDOM(domID)
		if !ok {
			http.Error(w, "id de fila invalido: "+domID, http.StatusBadRequest)
			return
		}
		updates[i] = domain.RankUpdate{ID: id, Orden: i + domain.RankBase}
	}

	if err := s.bridge.Persist(r.Context(), col, ownerID, updates); err != nil {
		http.Error(w, err.Error(), httpx.StatusFor(err))
		return
	}

	if !ctx.IsHTMX {
		http.Redirect(w, r, listPage(col, ownerID), http.StatusSeeOther)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleDropLead moves the card posted as lead_id to the etapa_id column.
func (s *Server) handleDropLead(w http.ResponseWriter, r *http.Request) {
	ctx := parseRequestContext(r)
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	crmID := chi.URLParam(r, "crmID")
	leadID := r.PostFormValue("lead_id")
	etapaID := r.PostFormValue("etapa_id")
	if _, err := s.bridge.MoveLead(r.Context(), crmID, leadID, etapaID); err != nil {
		http.Error(w, err.Error(), httpx.StatusFor(err))
		return
	}

	if !ctx.IsHTMX {
		http.Redirect(w, r, boardBase(crmID), http.StatusSeeOther)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Sockets

func (s *Server) handleListSocket(w http.ResponseWriter, r *http.Request) {
	col, ownerID, err := listParams(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ws.Serve(w, r, realtime.ListTopic(col, ownerID), realtime.ListEvent(realtime.TipoHello, col, ownerID, ""))
}

func (s *Server) handleBoardSocket(w http.ResponseWriter, r *http.Request) {
	crmID := strings.TrimSpace(chi.URLParam(r, "crmID"))
	if err := domain.Etapas.CheckOwner(crmID); err != nil {
		s.fail(w, r, err)
		return
	}
	s.ws.Serve(w, r, realtime.BoardTopic(crmID), realtime.BoardEvent(realtime.TipoHello, crmID, ""))
}
