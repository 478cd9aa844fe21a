package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xhad/distill/internal/models"
	"github.com/xhad/distill/pkg/processor"
)

// Request is a client frame. Type is "process" or "extract".
type Request struct {
	Type         string   `json:"type"`
	Instruction  string   `json:"instruction,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Query        string   `json:"query,omitempty"`
	Documents    []string `json:"documents,omitempty"`
	Sources      []string `json:"sources,omitempty"`
}

// Message is a server frame: "status", "progress", "response" or "error".
type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

// DocumentLoader resolves sources (paths or URLs) into documents.
type DocumentLoader interface {
	Load(ctx context.Context, sources ...string) ([]models.Document, error)
}

// Retriever finds passages for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]models.Passage, error)
}

type Config struct {
	Loader    DocumentLoader
	Retriever Retriever
	Logger    *zap.Logger
	// AllowedOrigins lists browser origins, besides the server's own host,
	// that may open a connection. "*" allows any origin.
	AllowedOrigins []string
}

type WSServer struct {
	processor *processor.Processor
	loader    DocumentLoader
	retriever Retriever
	log       *zap.Logger
	origins   map[string]bool
	upgrader  websocket.Upgrader
}

func NewWSServer(proc *processor.Processor, config Config) *WSServer {
	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &WSServer{
		processor: proc,
		loader:    config.Loader,
		retriever: config.Retriever,
		log:       log,
		origins:   make(map[string]bool, len(config.AllowedOrigins)),
	}
	for _, o := range config.AllowedOrigins {
		s.origins[strings.ToLower(strings.TrimRight(o, "/"))] = true
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin admits clients without an Origin header (non-browser),
// same-host browsers and the configured allowlist.
func (s *WSServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	if s.origins["*"] || s.origins[strings.ToLower(u.Scheme+"://"+u.Host)] {
		return true
	}
	s.log.Warn("rejected websocket origin", zap.String("origin", origin))
	return false
}

// Handler serves /ws and /health.
func (s *WSServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

// conn serializes writes; progress frames arrive from many workers.
type conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *conn) send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(msg)
}

func (s *WSServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &conn{ws: ws}
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("error reading message", zap.Error(err))
			}
			cancel()
			return
		}

		var req Request
		if err := json.Unmarshal(message, &req); err != nil {
			s.sendMessage(c, "error", fmt.Sprintf("invalid request: %v", err), nil)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleMessage(ctx, c, req)
		}()
	}
}

func (s *WSServer) handleMessage(ctx context.Context, c *conn, req Request) {
	documents := req.Documents
	if len(req.Sources) > 0 {
		if s.loader == nil {
			s.sendMessage(c, "error", "loading sources is not enabled", nil)
			return
		}
		docs, err := s.loader.Load(ctx, req.Sources...)
		if err != nil {
			s.sendMessage(c, "error", fmt.Sprintf("Failed to load sources: %v", err), nil)
			return
		}
		documents = append(documents, models.Contents(docs)...)
		s.sendMessage(c, "status", fmt.Sprintf("Loaded %d documents", len(docs)), nil)
	}

	ctx = processor.WithProgress(ctx, func(ev processor.ProgressEvent) {
		s.sendMessage(c, "progress", fmt.Sprintf("Processed %d/%d %s", ev.Completed, ev.Total, ev.Stage), ev)
	})

	var (
		result string
		err    error
	)
	switch req.Type {
	case "process", "":
		if req.Instruction == "" {
			s.sendMessage(c, "error", "instruction is required", nil)
			return
		}
		result, err = s.processor.ProcessDocuments(ctx, documents, req.Instruction, req.SystemPrompt)
	case "extract":
		if req.Query == "" {
			s.sendMessage(c, "error", "query is required", nil)
			return
		}
		var passages []models.Passage
		if s.retriever != nil {
			passages, err = s.retriever.Retrieve(ctx, req.Query)
			if err != nil {
				// retrieval is optional context; fall back to documents only
				s.log.Warn("passage retrieval failed", zap.Error(err))
				s.sendMessage(c, "status", fmt.Sprintf("Passage search unavailable: %v", err), nil)
				passages = nil
			}
		}
		result, err = s.processor.ExtractWithRAGFallback(ctx, documents, req.Query, passages)
	default:
		s.sendMessage(c, "error", fmt.Sprintf("unknown request type %q", req.Type), nil)
		return
	}

	if err != nil {
		s.sendMessage(c, "error", fmt.Sprintf("Error: %v", err), nil)
		return
	}
	s.sendMessage(c, "response", result, nil)
}

func (s *WSServer) sendMessage(c *conn, msgType string, content string, data interface{}) {
	if err := c.send(Message{Type: msgType, Content: content, Data: data}); err != nil {
		s.log.Debug("error sending message", zap.Error(err))
	}
}
