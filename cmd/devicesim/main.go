package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"router-fleet/pkg/model"
	"router-fleet/pkg/version"
)

// simDevice is an in-memory router exposing the primary-channel surface.
type simDevice struct {
	mu     sync.Mutex
	state  model.DeviceState
	apiKey string
}

func main() {
	defaultID := os.Getenv("DEVICE_ID")
	defaultController := os.Getenv("CONTROLLER_ADDR")
	if defaultController == "" {
		defaultController = "http://127.0.0.1:8080"
	}

	deviceID := flag.String("id", defaultID, "device id (overrides DEVICE_ID env)")
	addr := flag.String("addr", ":9090", "listen address for the simulated device API")
	hostname := flag.String("hostname", "", "reported hostname (defaults to device id)")
	apiKey := flag.String("api-key", "sim-api-key", "key expected in X-Api-Key")
	controller := flag.String("controller", defaultController, "controller base URL for health reports")
	healthInterval := flag.Duration("health-interval", 0, "if >0, post health signals to the controller (e.g., 30s)")
	failReads := flag.Bool("fail-reads", false, "serve 503 on state reads, forcing the fallback channel")
	showVersion := flag.Bool("v", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		log.Printf("devicesim version=%s", version.Version)
		return
	}
	if *deviceID == "" {
		log.Fatalf("device id required (--id or DEVICE_ID)")
	}
	name := *hostname
	if name == "" {
		name = *deviceID
	}

	dev := &simDevice{
		state: model.DeviceState{
			DeviceID:   *deviceID,
			Hostname:   name,
			DNSServers: []string{"9.9.9.9"},
			NTPServers: []string{"pool.ntp.org"},
		},
		apiKey: *apiKey,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/state", func(w http.ResponseWriter, r *http.Request) {
		if !dev.authed(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if *failReads {
			http.Error(w, "simulated outage", http.StatusServiceUnavailable)
			return
		}
		dev.mu.Lock()
		state := dev.state
		state.CollectedAt = time.Now()
		dev.mu.Unlock()
		writeJSON(w, state)
	})
	mux.HandleFunc("/api/v1/config", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !dev.authed(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var req struct {
			Ops []model.Op `json:"ops"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Ops) == 0 {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		if err := dev.apply(req.Ops); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		dev.mu.Lock()
		state := dev.state
		state.CollectedAt = time.Now()
		dev.mu.Unlock()
		log.Printf("devicesim: applied %d ops", len(req.Ops))
		writeJSON(w, state)
	})

	if *healthInterval > 0 {
		go reportHealth(*controller, *deviceID, *healthInterval)
	}

	log.Printf("devicesim %s listening on %s", *deviceID, *addr)
	srv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func (d *simDevice) authed(r *http.Request) bool {
	return r.Header.Get("X-Api-Key") == d.apiKey
}

func (d *simDevice) apply(ops []model.Op) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, op := range ops {
		switch op.Field {
		case "dnsServers":
			d.state.DNSServers = toStrings(op.Value)
		case "ntpServers":
			d.state.NTPServers = toStrings(op.Value)
		case "syslogHost":
			if s, ok := op.Value.(string); ok {
				d.state.SyslogHost = s
			}
		default:
			log.Printf("devicesim: ignoring unknown field %q", op.Field)
		}
	}
	return nil
}

func toStrings(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// reportHealth posts synthetic load figures on a ticker, the same path a real
// poller would use.
func reportHealth(controller, deviceID string, interval time.Duration) {
	client := &http.Client{Timeout: 5 * time.Second}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		sig := model.HealthSignal{
			DeviceID:      deviceID,
			CPUPercent:    10 + rand.Float64()*20,
			MemoryPercent: 30 + rand.Float64()*20,
			Reachable:     true,
			Timestamp:     time.Now(),
		}
		b, _ := json.Marshal(sig)
		resp, err := client.Post(controller+"/api/v1/health", "application/json", bytes.NewReader(b))
		if err != nil {
			log.Printf("health report failed: %v", err)
		} else {
			_ = resp.Body.Close()
		}
		<-ticker.C
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("devicesim: write response failed: %v", err)
	}
}
