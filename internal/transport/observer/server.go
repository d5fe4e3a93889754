// Package observer serves a loopback-only read view of a running
// simulation: a bootstrap endpoint for run metadata, a websocket stream of
// tick summaries, and Prometheus metrics.
package observer

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tmesim/internal/sim/engine"
)

const ProtocolVersion = 1

// BootstrapResponse carries everything a client needs before subscribing.
type BootstrapResponse struct {
	ProtocolVersion int            `json:"protocol_version"`
	RunID           string         `json:"run_id"`
	Tick            uint64         `json:"tick"`
	Seed            uint64         `json:"seed"`
	DtSec           float64        `json:"dt_sec"`
	BoundsUm        [2]float64     `json:"bounds_um"`
	FieldBins       [2]int         `json:"field_bins"`
	Populations     map[string]int `json:"populations"`
}

type Server struct {
	eng *engine.Engine
	log *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu   sync.Mutex
	subs map[uint64]chan []byte

	registry     *prometheus.Registry
	tickCounter  prometheus.Counter
	population   *prometheus.GaugeVec
	fieldMass    *prometheus.GaugeVec
	stepDuration prometheus.Histogram
}

func NewServer(eng *engine.Engine, logger *log.Logger) *Server {
	s := &Server{
		eng:  eng,
		log:  logger,
		subs: map[uint64]chan []byte{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		registry: prometheus.NewRegistry(),
		tickCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tmesim_ticks_total",
			Help: "Ticks advanced since start.",
		}),
		population: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tmesim_population",
			Help: "Live agents by type and phenotype.",
		}, []string{"group"}),
		fieldMass: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tmesim_field_mass_ng",
			Help: "Total field mass per species in nanograms.",
		}, []string{"species"}),
		stepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tmesim_step_duration_seconds",
			Help:    "Wall time per simulation tick.",
			Buckets: prometheus.ExponentialBuckets(1e-4, 2, 14),
		}),
	}
	s.registry.MustRegister(s.tickCounter, s.population, s.fieldMass, s.stepDuration)
	eng.OnTick(s.onTick)
	return s
}

// ObserveStepDuration records the wall time one tick took.
func (s *Server) ObserveStepDuration(d time.Duration) {
	s.stepDuration.Observe(d.Seconds())
}

func (s *Server) onTick(entry engine.TickLogEntry) {
	s.tickCounter.Inc()
	for group, n := range entry.Populations {
		s.population.WithLabelValues(group).Set(float64(n))
	}
	for sp, m := range entry.FieldMassNg {
		s.fieldMass.WithLabelValues(sp).Set(m)
	}

	// Subscribers get a trimmed summary, not the per-agent records.
	summary := struct {
		Type        string             `json:"type"`
		Tick        uint64             `json:"tick"`
		Digest      string             `json:"digest"`
		Populations map[string]int     `json:"populations"`
		FieldMassNg map[string]float64 `json:"field_mass_ng"`
		Births      int                `json:"births"`
		Deaths      int                `json:"deaths"`
	}{
		Type:        "TICK",
		Tick:        entry.Tick,
		Digest:      entry.Digest,
		Populations: entry.Populations,
		FieldMassNg: entry.FieldMassNg,
		Births:      len(entry.Births),
		Deaths:      len(entry.Deaths),
	}
	b, err := json.Marshal(summary)
	if err != nil {
		return
	}
	s.mu.Lock()
	for _, ch := range s.subs {
		select {
		case ch <- b:
		default:
			// Slow client; it catches up from the next tick.
		}
	}
	s.mu.Unlock()
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/bootstrap", s.bootstrapHandler())
	mux.HandleFunc("/ws", s.wsHandler())
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

func (s *Server) bootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		cfg := s.eng.Config()
		resp := BootstrapResponse{
			ProtocolVersion: ProtocolVersion,
			RunID:           cfg.ID,
			Tick:            s.eng.CurrentTick(),
			Seed:            cfg.Seed,
			DtSec:           cfg.DtSec,
			BoundsUm:        s.eng.Field().Bounds(),
			FieldBins:       s.eng.Field().Bins(),
			Populations:     s.eng.Populations(),
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) wsHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sid := s.nextID.Add(1)
		s.log.Printf("observer %d connected from %s", sid, r.RemoteAddr)
		out := make(chan []byte, 64)
		s.mu.Lock()
		s.subs[sid] = out
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.subs, sid)
			s.mu.Unlock()
		}()

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-done:
				return
			case b := <-out:
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					return
				}
			}
		}
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
