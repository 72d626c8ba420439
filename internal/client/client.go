// Package client talks to the orden HTTP API and adapts it to the reconcilers.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"git.sr.ht/~jakintosh/orden/internal/domain"
	"git.sr.ht/~jakintosh/orden/internal/httpx"
	"git.sr.ht/~jakintosh/orden/internal/reconciler"
	"git.sr.ht/~jakintosh/orden/internal/reorder"
)

// DefaultHTTPTimeout is the default timeout for HTTP requests.
const DefaultHTTPTimeout = 30 * time.Second

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return NewWithHTTP(&http.Client{Timeout: DefaultHTTPTimeout}, baseURL)
}

// NewWithHTTP creates a client with a custom HTTP client.
func NewWithHTTP(httpClient *http.Client, baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

func listPath(col domain.Coleccion, ownerID string) string {
	return "/api/colecciones/" + url.PathEscape(string(col)) + "/" + url.PathEscape(ownerID)
}

func crmPath(crmID string) string {
	return "/api/crm/" + url.PathEscape(crmID)
}

// do sends body as JSON and decodes the envelope's data into out when both
// are present. Failed responses come back as domain errors.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.Persistence(method+" "+path, err)
	}
	defer res.Body.Close()

	var env httpx.Envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		return domain.Persistence(method+" "+path, fmt.Errorf("decode response (status %d): %w", res.StatusCode, err))
	}
	if res.StatusCode >= 300 || !env.Success {
		return httpx.ErrorFor(res.StatusCode, env.Message)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return domain.Persistence(method+" "+path, fmt.Errorf("decode data: %w", err))
		}
	}
	return nil
}

func (c *Client) Fetch(ctx context.Context, col domain.Coleccion, ownerID string) ([]*domain.Item, error) {
	var items []*domain.Item
	if err := c.do(ctx, http.MethodGet, listPath(col, ownerID)+"/items", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) Persist(ctx context.Context, col domain.Coleccion, ownerID string, updates []domain.RankUpdate) error {
	body := map[string]any{"items": updates}
	return c.do(ctx, http.MethodPut, listPath(col, ownerID)+"/orden", body, nil)
}

func (c *Client) AddItem(ctx context.Context, col domain.Coleccion, ownerID, nombre string) (*domain.Item, error) {
	var it domain.Item
	body := map[string]string{"nombre": nombre}
	if err := c.do(ctx, http.MethodPost, listPath(col, ownerID)+"/items", body, &it); err != nil {
		return nil, err
	}
	return &it, nil
}

func (c *Client) DeleteItem(ctx context.Context, col domain.Coleccion, ownerID, id string) error {
	return c.do(ctx, http.MethodDelete, listPath(col, ownerID)+"/items/"+url.PathEscape(id), nil, nil)
}

func (c *Client) Board(ctx context.Context, crmID string) (*domain.Board, error) {
	var b domain.Board
	if err := c.do(ctx, http.MethodGet, crmPath(crmID)+"/pipeline", nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) AddLead(ctx context.Context, crmID, nombre string, valor float64) (*domain.Lead, error) {
	var l domain.Lead
	body := map[string]any{"nombre": nombre, "valorEstimado": valor}
	if err := c.do(ctx, http.MethodPost, crmPath(crmID)+"/leads", body, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func (c *Client) MoveLead(ctx context.Context, crmID, leadID, etapaID string) error {
	body := map[string]string{"etapaId": etapaID}
	return c.do(ctx, http.MethodPost, crmPath(crmID)+"/leads/"+url.PathEscape(leadID)+"/etapa", body, nil)
}

// ListOptions binds a reconciler to one remote collection.
func (c *Client) ListOptions(col domain.Coleccion, ownerID string) reconciler.Options[*domain.Item] {
	return reconciler.Options[*domain.Item]{
		Fetch: func(ctx context.Context) ([]*domain.Item, error) {
			return c.Fetch(ctx, col, ownerID)
		},
		Persist: func(ctx context.Context, updates []domain.RankUpdate) error {
			return c.Persist(ctx, col, ownerID, updates)
		},
		IDOf:    reorder.ItemID,
		SetRank: func(it *domain.Item, orden int) { it.SetRank(orden) },
	}
}

// BoardOptions binds a board reconciler to one remote pipeline.
func (c *Client) BoardOptions(crmID string) reconciler.BoardOptions {
	return reconciler.BoardOptions{
		Fetch: func(ctx context.Context) (*domain.Board, error) {
			return c.Board(ctx, crmID)
		},
		MoveLead: func(ctx context.Context, leadID, etapaID string) error {
			return c.MoveLead(ctx, crmID, leadID, etapaID)
		},
	}
}
