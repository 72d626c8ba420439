package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.sr.ht/~jakintosh/orden/internal/bridge"
	"git.sr.ht/~jakintosh/orden/internal/domain"
	"git.sr.ht/~jakintosh/orden/internal/realtime"
	"git.sr.ht/~jakintosh/orden/internal/store"
)

const seedYAML = `
items:
  instrucciones:
    - {id: A, owner: hab-1, nombre: Saludar, orden: 1}
    - {id: B, owner: hab-1, nombre: Preguntar, orden: 2}
    - {id: C, owner: hab-1, nombre: Despedir, orden: 3}
    - {id: X, owner: hab-2, nombre: Otra, orden: 1}
  etapas:
    - {id: nuevo, owner: crm-1, nombre: Nuevo, orden: 1}
    - {id: ganado, owner: crm-1, nombre: Ganado, orden: 2}
leads:
  - {id: l1, crm: crm-1, etapa: nuevo, nombre: Acme, valor: 1200}
`

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T) (*httptest.Server, *realtime.Hub) {
	t.Helper()
	s := store.NewInMemoryStore()
	seed, err := store.ParseSeed([]byte(seedYAML))
	require.NoError(t, err)
	require.NoError(t, s.Import(context.Background(), seed))

	hub := realtime.NewHub()
	t.Cleanup(hub.Close)

	srv, err := NewServer(bridge.New(s, hub, nil), hub, nil, 0)
	require.NoError(t, err)

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts, hub
}

func do(t *testing.T, method, url string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(res.Body).Decode(&env))
	return res.StatusCode, env
}

func itemIDs(t *testing.T, raw json.RawMessage) []string {
	t.Helper()
	var items []*domain.Item
	require.NoError(t, json.Unmarshal(raw, &items))
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestListAndPersistOrder(t *testing.T) {
	ts, _ := newTestServer(t)
	base := ts.URL + "/api/colecciones/instrucciones/hab-1"

	status, env := do(t, http.MethodGet, base+"/items", nil)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)
	assert.Equal(t, []string{"A", "B", "C"}, itemIDs(t, env.Data))

	status, env = do(t, http.MethodPut, base+"/orden", map[string]any{
		"items": []domain.RankUpdate{{ID: "C", Orden: 1}, {ID: "A", Orden: 2}, {ID: "B", Orden: 3}},
	})
	require.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)

	_, env = do(t, http.MethodGet, base+"/items", nil)
	assert.Equal(t, []string{"C", "A", "B"}, itemIDs(t, env.Data))
}

func TestPersistOrderErrors(t *testing.T) {
	ts, _ := newTestServer(t)
	base := ts.URL + "/api/colecciones/instrucciones/hab-1"

	status, env := do(t, http.MethodPut, base+"/orden", map[string]any{
		"items": []domain.RankUpdate{{ID: "A", Orden: 1}, {ID: "X", Orden: 2}},
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, env.Success)
	assert.NotEmpty(t, env.Message)

	status, _ = do(t, http.MethodPut, ts.URL+"/api/colecciones/desconocida/hab-1/orden", map[string]any{"items": []any{}})
	assert.Equal(t, http.StatusBadRequest, status)

	_, env = do(t, http.MethodGet, base+"/items", nil)
	assert.Equal(t, []string{"A", "B", "C"}, itemIDs(t, env.Data))
}

func TestItemCRUD(t *testing.T) {
	ts, _ := newTestServer(t)
	base := ts.URL + "/api/colecciones/instrucciones/hab-1"

	status, env := do(t, http.MethodPost, base+"/items", map[string]string{"nombre": "Cerrar"})
	require.Equal(t, http.StatusCreated, status)
	var created domain.Item
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, 4, created.Rank())

	status, _ = do(t, http.MethodPost, base+"/items", map[string]string{"nombre": "  "})
	assert.Equal(t, http.StatusBadRequest, status)

	status, env = do(t, http.MethodPatch, base+"/items/"+created.ID, map[string]any{"activo": false})
	require.Equal(t, http.StatusOK, status)
	var updated domain.Item
	require.NoError(t, json.Unmarshal(env.Data, &updated))
	assert.False(t, updated.Activo)
	assert.Equal(t, "Cerrar", updated.Nombre)

	status, _ = do(t, http.MethodPatch, base+"/items/X", map[string]any{"nombre": "robado"})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = do(t, http.MethodDelete, base+"/items/A", nil)
	require.Equal(t, http.StatusOK, status)

	_, env = do(t, http.MethodGet, base+"/items", nil)
	assert.Equal(t, []string{"B", "C", created.ID}, itemIDs(t, env.Data))
}

func TestPipelineRoutes(t *testing.T) {
	ts, _ := newTestServer(t)
	base := ts.URL + "/api/crm/crm-1"

	status, env := do(t, http.MethodPost, base+"/leads/l1/etapa", map[string]string{"etapaId": "ganado"})
	require.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)

	status, _ = do(t, http.MethodPost, base+"/leads/l1/etapa", map[string]string{"etapaId": "perdido"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, http.MethodPost, base+"/leads/l9/etapa", map[string]string{"etapaId": "nuevo"})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = do(t, http.MethodPost, base+"/leads", map[string]any{"nombre": "Globex", "valorEstimado": 50})
	require.Equal(t, http.StatusCreated, status)

	status, env = do(t, http.MethodGet, base+"/pipeline", nil)
	require.Equal(t, http.StatusOK, status)
	var board domain.Board
	require.NoError(t, json.Unmarshal(env.Data, &board))
	require.Len(t, board.Columns, 2)
	require.Len(t, board.Columns[0].Leads, 1)
	assert.Equal(t, "Globex", board.Columns[0].Leads[0].Nombre)
	require.Len(t, board.Columns[1].Leads, 1)
	assert.Equal(t, "l1", board.Columns[1].Leads[0].ID)
}

func TestPagesRenderFragmentsForHTMX(t *testing.T) {
	ts, _ := newTestServer(t)

	get := func(path string, htmx bool) string {
		req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
		require.NoError(t, err)
		if htmx {
			req.Header.Set("HX-Request", "true")
		}
		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer res.Body.Close()
		require.Equal(t, http.StatusOK, res.StatusCode)
		var buf bytes.Buffer
		_, err = buf.ReadFrom(res.Body)
		require.NoError(t, err)
		return buf.String()
	}

	page := get("/colecciones/instrucciones/hab-1", false)
	assert.Contains(t, page, "<html")
	assert.Contains(t, page, `id="orden-item-A"`)
	assert.Contains(t, page, `data-orden="2"`)

	fragment := get("/colecciones/instrucciones/hab-1", true)
	assert.NotContains(t, fragment, "<html")
	assert.Contains(t, fragment, `id="orden-item-C"`)

	assert.Contains(t, fragment, `hx-post="/colecciones/instrucciones/hab-1/orden"`)
	assert.Contains(t, fragment, `name="id" value="orden-item-B"`)

	board := get("/crm/crm-1/pipeline", true)
	assert.Contains(t, board, `data-etapa="ganado"`)
	assert.Contains(t, board, `data-move-url="/crm/crm-1/pipeline/mover"`)
	assert.Contains(t, board, `id="orden-item-l1"`)
	assert.Contains(t, board, "1200.00")
}

func postForm(t *testing.T, target string, form url.Values, htmx bool) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if htmx {
		req.Header.Set("HX-Request", "true")
	}
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	res, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func TestSortListForm(t *testing.T) {
	ts, _ := newTestServer(t)
	sortURL := ts.URL + "/colecciones/instrucciones/hab-1/orden"
	itemsURL := ts.URL + "/api/colecciones/instrucciones/hab-1/items"

	rows := url.Values{"id": {ItemDOMID("C"), ItemDOMID("A"), ItemDOMID("B")}}
	res := postForm(t, sortURL, rows, true)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	_, env := do(t, http.MethodGet, itemsURL, nil)
	assert.Equal(t, []string{"C", "A", "B"}, itemIDs(t, env.Data))

	rows = url.Values{"id": {ItemDOMID("A"), ItemDOMID("B"), ItemDOMID("C")}}
	res = postForm(t, sortURL, rows, false)
	assert.Equal(t, http.StatusSeeOther, res.StatusCode)
	assert.Equal(t, "/colecciones/instrucciones/hab-1", res.Header.Get("Location"))

	res = postForm(t, sortURL, url.Values{"id": {"A", "B", "C"}}, true)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode, "raw ids are not row ids")

	res = postForm(t, sortURL, url.Values{"id": {ItemDOMID("B")}}, true)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode, "a partial list is rejected")

	_, env = do(t, http.MethodGet, itemsURL, nil)
	assert.Equal(t, []string{"A", "B", "C"}, itemIDs(t, env.Data))
}

func TestDropLeadForm(t *testing.T) {
	ts, _ := newTestServer(t)
	moveURL := ts.URL + "/crm/crm-1/pipeline/mover"

	res := postForm(t, moveURL, url.Values{"lead_id": {"l1"}, "etapa_id": {"ganado"}}, true)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	_, env := do(t, http.MethodGet, ts.URL+"/api/crm/crm-1/pipeline", nil)
	var board domain.Board
	require.NoError(t, json.Unmarshal(env.Data, &board))
	_, col := board.FindLead("l1")
	require.GreaterOrEqual(t, col, 0)
	assert.Equal(t, "ganado", board.Columns[col].Etapa.ID)

	res = postForm(t, moveURL, url.Values{"lead_id": {"l1"}, "etapa_id": {"perdido"}}, true)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = postForm(t, moveURL, url.Values{"lead_id": {"l1"}, "etapa_id": {"nuevo"}}, false)
	assert.Equal(t, http.StatusSeeOther, res.StatusCode)
	assert.Equal(t, "/crm/crm-1/pipeline", res.Header.Get("Location"))
}

func TestBoardSocketReceivesMoves(t *testing.T) {
	ts, _ := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/crm/crm-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var hello realtime.Event
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, realtime.TipoHello, hello.Tipo)
	assert.Equal(t, "crm-1", hello.CrmID)

	status, _ := do(t, http.MethodPost, ts.URL+"/api/crm/crm-1/leads/l1/etapa", map[string]string{"etapaId": "ganado"})
	require.Equal(t, http.StatusOK, status)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt realtime.Event
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, realtime.TipoLead, evt.Tipo)
	assert.Equal(t, "l1", evt.ID)
}

func TestHealthAndMetrics(t *testing.T) {
	ts, _ := newTestServer(t)

	status, env := do(t, http.MethodGet, ts.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)

	res, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestItemDOMIDRoundTrip(t *testing.T) {
	id, ok := ItemIDFromDOM(ItemDOMID("abc"))
	assert.True(t, ok)
	assert.Equal(t, "abc", id)

	_, ok = ItemIDFromDOM("abc")
	assert.False(t, ok)
	_, ok = ItemIDFromDOM("orden-item-")
	assert.False(t, ok)
}
