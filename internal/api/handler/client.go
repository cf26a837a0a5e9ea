// 文件路径: internal/api/handler/client.go
// 模块说明: 客户端 JSON 接口，节点列表、状态查询与控制操作
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/creamcroissant/xray-client/internal/client"
	"github.com/creamcroissant/xray-client/internal/probe"
)

// Service 是接口层依赖的客户端操作。
type Service interface {
	List() client.Listing
	Status(ctx context.Context) (client.Status, error)
	SelectAndApply(ctx context.Context, index int) error
	Update(ctx context.Context, name string) (client.UpdateReport, error)
	Apply(ctx context.Context) error
	Restart(ctx context.Context) error
	Test(ctx context.Context) []probe.Result
	Ping(ctx context.Context) (probe.PingResult, error)
	TryExclusive(fn func() error) (bool, error)
}

// ClientHandler serves the node list, status and control endpoints. Control
// actions share the client's gate; a concurrent request gets 409.
type ClientHandler struct {
	svc Service
}

func NewClientHandler(svc Service) *ClientHandler {
	return &ClientHandler{svc: svc}
}

type nodeView struct {
	Index        int    `json:"index"`
	ID           string `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	Server       string `json:"server"`
	Port         int    `json:"port"`
	Subscription string `json:"subscription,omitempty"`
	Selected     bool   `json:"selected"`
}

type nodesResponse struct {
	UpdateTime    *time.Time `json:"update_time"`
	Subscriptions []string   `json:"subscriptions"`
	Selected      int        `json:"selected"`
	Nodes         []nodeView `json:"nodes"`
}

// Nodes handles GET /api/nodes.
func (h *ClientHandler) Nodes(w http.ResponseWriter, r *http.Request) {
	list := h.svc.List()
	resp := nodesResponse{
		Subscriptions: list.Registry.Subscriptions,
		Selected:      list.Selected,
		Nodes:         make([]nodeView, 0, list.Registry.Len()),
	}
	if !list.Registry.UpdateTime.IsZero() {
		t := list.Registry.UpdateTime
		resp.UpdateTime = &t
	}
	if resp.Subscriptions == nil {
		resp.Subscriptions = []string{}
	}
	for i, n := range list.Registry.Nodes {
		resp.Nodes = append(resp.Nodes, nodeView{
			Index:        i,
			ID:           n.ID(),
			Name:         n.Name,
			Type:         string(n.Kind()),
			Server:       n.Server,
			Port:         n.Port,
			Subscription: n.Origin,
			Selected:     i == list.Selected,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

// Status handles GET /api/status.
func (h *ClientHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(r.Context())
	resp := map[string]any{
		"service":     st.Service,
		"active":      st.Active,
		"selected":    st.Selected,
		"node_count":  st.NodeCount,
		"tun_enabled": st.Tun.Enabled,
		"tun_port":    st.Tun.Port,
		"tun_state":   st.TunState,
		"proxy":       st.Proxy,
	}
	if st.Node != nil {
		resp["node"] = map[string]any{
			"name":   st.Node.Name,
			"type":   string(st.Node.Kind()),
			"server": st.Node.Server,
			"port":   st.Node.Port,
		}
	}
	if !st.UpdateTime.IsZero() {
		resp["update_time"] = st.UpdateTime
	}
	if err != nil {
		resp["error"] = err.Error()
	}
	respondJSON(w, http.StatusOK, resp)
}

type selectRequest struct {
	Index *int `json:"index"`
}

// Select handles POST /api/select {"index": N}: select and restart.
func (h *ClientHandler) Select(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := decodeBody(r, &req); err != nil || req.Index == nil {
		respondError(w, http.StatusBadRequest, "select", errors.New("body must be {\"index\": N}"))
		return
	}
	h.exclusive(w, "select", func() (any, error) {
		if err := h.svc.SelectAndApply(r.Context(), *req.Index); err != nil {
			return nil, err
		}
		return map[string]any{"selected": *req.Index}, nil
	})
}

type updateRequest struct {
	Name string `json:"name"`
}

type subscriptionResult struct {
	Name        string `json:"name"`
	Format      string `json:"format,omitempty"`
	Nodes       int    `json:"nodes"`
	ParseErrors int    `json:"parse_errors"`
	Unsupported int    `json:"unsupported"`
	Error       string `json:"error,omitempty"`
}

// Update handles POST /api/update, optionally {"name": "..."}, then restarts
// the engine on the selected node.
func (h *ClientHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "update", err)
		return
	}
	h.exclusive(w, "update", func() (any, error) {
		report, err := h.svc.Update(r.Context(), req.Name)
		if err != nil {
			return nil, err
		}
		subs := make([]subscriptionResult, 0, len(report.Outcomes))
		for _, out := range report.Outcomes {
			res := subscriptionResult{
				Name:        out.Subscription.Name,
				Format:      string(out.Result.Format),
				Nodes:       len(out.Result.Nodes),
				ParseErrors: len(out.Result.Errors),
				Unsupported: out.Result.Unsupported,
			}
			if out.Err != nil {
				res.Error = out.Err.Error()
			}
			subs = append(subs, res)
		}
		if err := h.svc.Apply(r.Context()); err != nil {
			return nil, err
		}
		return map[string]any{"nodes": report.Registry.Len(), "subscriptions": subs}, nil
	})
}

// Restart handles POST /api/restart.
func (h *ClientHandler) Restart(w http.ResponseWriter, r *http.Request) {
	h.exclusive(w, "restart", func() (any, error) {
		if err := h.svc.Restart(r.Context()); err != nil {
			return nil, err
		}
		return map[string]any{"restarted": true}, nil
	})
}

type latencyView struct {
	Index     int    `json:"index"`
	Name      string `json:"name"`
	LatencyMS int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Latency handles POST /api/test.
func (h *ClientHandler) Latency(w http.ResponseWriter, r *http.Request) {
	h.exclusive(w, "test", func() (any, error) {
		results := probe.Sorted(h.svc.Test(r.Context()))
		out := make([]latencyView, 0, len(results))
		for _, res := range results {
			v := latencyView{Index: res.Index, Name: res.Node.Name}
			if res.OK() {
				v.LatencyMS = res.Latency.Milliseconds()
			} else {
				v.Error = res.Err.Error()
			}
			out = append(out, v)
		}
		return map[string]any{"results": out}, nil
	})
}

// Ping handles POST /api/ping.
func (h *ClientHandler) Ping(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Ping(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, "ping", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"url":        res.URL,
		"status":     res.StatusCode,
		"ok":         res.OK(),
		"elapsed_ms": res.Elapsed.Milliseconds(),
	})
}

// exclusive runs fn unless another action holds the client's gate.
func (h *ClientHandler) exclusive(w http.ResponseWriter, action string, fn func() (any, error)) {
	var payload any
	ran, err := h.svc.TryExclusive(func() error {
		var err error
		payload, err = fn()
		return err
	})
	if !ran {
		err = client.ErrBusy
	}
	if err != nil {
		respondError(w, statusFor(err), action, err)
		return
	}
	respondJSON(w, http.StatusOK, payload)
}

// decodeBody accepts an empty body as the zero value.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
