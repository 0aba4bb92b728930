package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/jupark12/voxnotes/dispatch"
	"github.com/jupark12/voxnotes/logging"
	"github.com/jupark12/voxnotes/models"
	"github.com/jupark12/voxnotes/queue"
	"github.com/jupark12/voxnotes/stages"
)

// multipartMemory is how much of an upload is buffered in memory before
// spilling to a temp file.
const multipartMemory = 10 << 20

// Submitter accepts an uploaded file for processing.
type Submitter interface {
	Submit(ctx context.Context, r io.Reader, originalFileName, recipientEmail string) (dispatch.Receipt, error)
}

// Config holds HTTP server settings.
type Config struct {
	HTTPAddr       string
	MaxUploadBytes int64
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// Server handles HTTP requests for uploads, job bookkeeping and notes
type Server struct {
	queue          *queue.JobQueue
	dispatcher     Submitter
	records        stages.RecordStore
	wsManager      *models.WebSocketManager
	upgrader       websocket.Upgrader
	httpAddr       string
	maxUploadBytes int64
	gatherer       prometheus.Gatherer

	httpServer *http.Server
	ready      atomic.Bool
	done       chan struct{}
	stopOnce   sync.Once
}

// NewServer creates a new server instance
func NewServer(cfg Config, q *queue.JobQueue, dispatcher Submitter, records stages.RecordStore) *Server {
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &Server{
		queue:          q,
		dispatcher:     dispatcher,
		records:        records,
		wsManager:      models.NewWebSocketManager(),
		httpAddr:       cfg.HTTPAddr,
		maxUploadBytes: cfg.MaxUploadBytes,
		gatherer:       gatherer,
		done:           make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Get("/ws", s.handleWebSocket)

	r.Group(func(r chi.Router) {
		r.Use(corsMiddleware)
		r.Post("/upload", s.handleUpload)
		r.Options("/upload", func(w http.ResponseWriter, r *http.Request) {})
		r.Get("/jobs", s.handleJobs)
		r.Get("/jobs/{id}", s.handleJobDetails)
		r.Get("/notes/{id}", s.handleNote)
	})

	return r
}

// Start begins the websocket feed and the HTTP listener.
func (s *Server) Start() error {
	s.wsManager.Start()
	go s.forwardUpdates()

	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", s.httpAddr).Msg("HTTP server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	s.ready.Store(true)
	return nil
}

// Shutdown stops accepting requests and closes websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	s.stopOnce.Do(func() { close(s.done) })
	s.wsManager.Stop()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// forwardUpdates relays queue state changes to websocket subscribers.
func (s *Server) forwardUpdates() {
	updates := s.queue.GetJobUpdateChannel()
	for {
		select {
		case <-s.done:
			return
		case update := <-updates:
			s.wsManager.BroadcastJobUpdate(update)
		}
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

// handleUpload accepts one audio file and answers as soon as the job is queued
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing audio file")
		return
	}
	defer file.Close()

	receipt, err := s.dispatcher.Submit(r.Context(), file, header.Filename, r.FormValue("email"))
	if err != nil {
		var verr *dispatch.ValidationError
		switch {
		case errors.As(err, &verr):
			writeError(w, http.StatusBadRequest, verr.Error())
		case errors.Is(err, queue.ErrQueueFull):
			writeError(w, http.StatusServiceUnavailable, "Queue is full, try again later")
		default:
			log.Error().Err(err).Str("file", header.Filename).Msg("Upload failed")
			writeError(w, http.StatusInternalServerError, "Failed to accept upload")
		}
		return
	}

	writeJSON(w, http.StatusOK, receipt)
}

// handleJobs lists jobs, optionally filtered by status
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		writeJSON(w, http.StatusOK, s.queue.GetAllJobs())
		return
	}

	var jobs []models.Job
	switch models.JobStatus(status) {
	case models.StatusPending:
		jobs = s.queue.GetPendingJobs()
	case models.StatusProcessing:
		jobs = s.queue.GetProcessingJobs()
	case models.StatusCompleted:
		jobs = s.queue.GetCompletedJobs()
	case models.StatusFailed:
		jobs = s.queue.GetFailedJobs()
	default:
		writeError(w, http.StatusBadRequest, "Invalid status parameter")
		return
	}

	writeJSON(w, http.StatusOK, jobs)
}

// handleJobDetails returns one job's bookkeeping
func (s *Server) handleJobDetails(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.GetJob(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleNote returns the persisted record of a finished job
func (s *Server) handleNote(w http.ResponseWriter, r *http.Request) {
	record, err := s.records.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, stages.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "Note not found")
			return
		}
		log.Error().Err(err).Msg("Failed to load note")
		writeError(w, http.StatusInternalServerError, "Failed to load note")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to upgrade to WebSocket")
		return
	}

	// The initial snapshot goes out before registration so it never
	// interleaves with a broadcast write on the same connection.
	initialData, err := json.Marshal(map[string]interface{}{
		"type": "initial_jobs",
		"jobs": s.queue.GetAllJobs(),
	})
	if err == nil {
		if err := conn.WriteMessage(websocket.TextMessage, initialData); err != nil {
			conn.Close()
			return
		}
	}

	s.wsManager.RegisterClient(conn)

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.wsManager.UnregisterClient(conn)
				return
			}
		}
	}()
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger := logging.WithComponent("http")
		logger.Debug().
			Str("requestId", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
