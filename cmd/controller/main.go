package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"router-fleet/pkg/api"
	"router-fleet/pkg/audit"
	"router-fleet/pkg/creds"
	"router-fleet/pkg/db"
	"router-fleet/pkg/health"
	"router-fleet/pkg/model"
	"router-fleet/pkg/registry"
	"router-fleet/pkg/rollout"
	"router-fleet/pkg/store"
	"router-fleet/pkg/transport"
)

func main() {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}

	addr := flag.String("addr", ":8080", "listen address")
	token := flag.String("token", "", "bootstrap auth token (optional)")
	storeType := flag.String("store", "memory", "store backend: memory|sqlite|consul (consul requires build tag consul)")
	sqlitePath := flag.String("sqlite-path", "/var/lib/router-fleet/state.db", "sqlite database path (when store=sqlite)")
	consulAddr := flag.String("consul-addr", "127.0.0.1:8500", "consul address (when store=consul)")
	devicesFile := flag.String("devices", "", "JSON file with initial device inventory (optional)")
	credsFile := flag.String("creds", "", "JSON file with credential plaintexts to seal at startup (lab only)")
	sshUser := flag.String("ssh-user", "fleet", "username for the fallback command channel")
	workers := flag.Int64("workers", 8, "max in-flight devices per batch")
	perDevice := flag.Int64("per-device-limit", 2, "max in-flight operations per device")
	primaryTimeout := flag.Duration("primary-timeout", 5*time.Second, "per-call timeout on the primary channel")
	fallbackTimeout := flag.Duration("fallback-timeout", 10*time.Second, "bounded execution time on the command channel")
	degradedCPU := flag.Float64("degraded-cpu", 80, "cpu%% at or above which a device is degraded")
	degradedMem := flag.Float64("degraded-mem", 85, "memory%% at or above which a device is degraded")
	criticalCPU := flag.Float64("critical-cpu", 95, "cpu%% at or above which a device is critical")
	criticalMem := flag.Float64("critical-mem", 95, "memory%% at or above which a device is critical")
	maxSignalAge := flag.Duration("max-signal-age", 2*time.Minute, "health signals older than this count as absent")
	tlsCert := flag.String("tls-cert", "", "TLS cert path (enables HTTPS if set with --tls-key)")
	tlsKey := flag.String("tls-key", "", "TLS key path (enables HTTPS if set with --tls-cert)")
	clientCA := flag.String("client-ca", "", "require and verify client certs using this CA (optional)")
	flag.Parse()

	var st store.Store
	switch *storeType {
	case "memory":
		st = store.NewMemoryStore()
	case "sqlite":
		s, err := store.NewSQLiteStore(*sqlitePath)
		if err != nil {
			log.Fatalf("open sqlite store: %v", err)
		}
		defer s.Close()
		st = s
	case "consul":
		st = store.NewConsulStore(*consulAddr)
	default:
		log.Fatalf("unsupported store type: %s", *storeType)
	}

	var reg registry.Registry
	if *storeType == "consul" {
		reg = registry.NewConsulRegistry(*consulAddr)
	} else {
		reg = registry.NewMemoryRegistry()
	}
	if *devicesFile != "" {
		if err := seedDevices(reg, *devicesFile); err != nil {
			log.Fatalf("seed devices: %v", err)
		}
	}

	credStore := mustCredStore()
	if *credsFile != "" {
		if err := credStore.LoadFile(*credsFile); err != nil {
			log.Fatalf("load credentials: %v", err)
		}
	}

	primary := transport.NewRESTChannel(credStore, *primaryTimeout)
	fallback := transport.NewCommandChannel(&transport.SSHRunner{User: *sshUser}, credStore, *fallbackTimeout)
	routerCfg := transport.DefaultRouterConfig()
	routerCfg.PerDeviceLimit = *perDevice
	router := transport.NewRouter(primary, fallback, routerCfg)

	collector := health.NewMemoryCollector()
	gate := health.NewGate(collector, health.Thresholds{
		DegradedCPU:    *degradedCPU,
		DegradedMemory: *degradedMem,
		CriticalCPU:    *criticalCPU,
		CriticalMemory: *criticalMem,
		MaxSignalAge:   *maxSignalAge,
	})

	bus := rollout.NewBus()
	defer bus.Close()

	var mirror *db.Mirror
	if os.Getenv("MYSQL_DSN") != "" || os.Getenv("MYSQL_HOST") != "" {
		gdb, err := db.Init()
		if err != nil {
			log.Fatalf("mysql mirror init failed: %v", err)
		}
		mirror = db.NewMirror(gdb)
		go mirrorLoop(bus, st, mirror)
		log.Printf("mysql mirror enabled")
	}

	var sink audit.Sink = audit.NewStoreSink(st)
	if mirror != nil {
		sink = audit.Fanout{sink, mirrorSink{mirror}}
	}
	orch := rollout.NewOrchestrator(st, reg, router, gate, sink, bus, *workers)

	deps := api.Deps{
		Store:        st,
		Registry:     reg,
		Router:       router,
		Collector:    collector,
		Orchestrator: orch,
		Bus:          bus,
		Token:        *token,
		StoreName:    *storeType,
	}
	if mirror != nil {
		deps.Mirror = mirror
	}
	mux := http.NewServeMux()
	api.RegisterRoutes(mux, deps)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("controller listening on %s store=%s", *addr, *storeType)
	var err error
	if *tlsCert != "" && *tlsKey != "" {
		if *clientCA != "" {
			cfg, errTLS := api.ServerTLSConfig(*tlsCert, *tlsKey, *clientCA)
			if errTLS != nil {
				log.Fatalf("failed to build TLS config: %v", errTLS)
			}
			srv.TLSConfig = cfg
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServeTLS(*tlsCert, *tlsKey)
		}
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// mustCredStore opens the sealed store; without a configured master key it
// generates an ephemeral one, which only suits lab use.
func mustCredStore() *creds.SealedStore {
	cs, err := creds.NewSealedStore()
	if err == nil {
		return cs
	}
	log.Printf("credential key not configured (%v); generating ephemeral key", err)
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		log.Fatalf("generate credential key: %v", err)
	}
	log.Printf("ephemeral FLEET_CREDS_KEY=%s", base64.StdEncoding.EncodeToString(key))
	cs, err = creds.NewSealedStoreWithKey(key)
	if err != nil {
		log.Fatalf("credential store: %v", err)
	}
	return cs
}

func seedDevices(reg registry.Registry, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var devices []model.Device
	if err := json.Unmarshal(b, &devices); err != nil {
		return err
	}
	for _, d := range devices {
		if err := reg.UpsertDevice(d); err != nil {
			return err
		}
	}
	log.Printf("seeded %d devices from %s", len(devices), path)
	return nil
}

// mirrorSink adapts the MySQL mirror to the audit sink interface.
type mirrorSink struct{ m *db.Mirror }

func (s mirrorSink) Record(e model.AuditEvent) { s.m.SaveAudit(e) }

// mirrorLoop copies job transitions into MySQL as they happen.
func mirrorLoop(bus *rollout.Bus, st store.Store, mirror *db.Mirror) {
	events, cancel := bus.Subscribe()
	defer cancel()
	for e := range events {
		if e.Type != model.EventJobStatus {
			continue
		}
		if job, ok, err := st.GetJob(e.JobID); err == nil && ok {
			mirror.SaveJob(job)
		}
	}
}
