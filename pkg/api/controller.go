package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"router-fleet/pkg/auth"
	"router-fleet/pkg/health"
	"router-fleet/pkg/model"
	"router-fleet/pkg/registry"
	"router-fleet/pkg/rollout"
	"router-fleet/pkg/store"
	"router-fleet/pkg/transport"
	"router-fleet/pkg/version"
)

// defaultPlanTTL bounds how long an unapplied plan stays approvable.
const defaultPlanTTL = 24 * time.Hour

// PlanMirror receives best-effort plan copies for durable reporting.
// *db.Mirror implements it.
type PlanMirror interface {
	SavePlan(model.Plan)
}

// Deps collects everything the HTTP surface needs.
type Deps struct {
	Store        store.Store
	Registry     registry.Registry
	Router       *transport.Router
	Collector    *health.MemoryCollector
	Orchestrator *rollout.Orchestrator
	Bus          *rollout.Bus
	Mirror       PlanMirror // optional MySQL mirror
	Token        string     // bootstrap bearer token; empty disables auth
	StoreName    string
}

// RegisterRoutes wires all control-plane endpoints onto mux.
func RegisterRoutes(mux *http.ServeMux, deps Deps) {
	authed := authFunc(deps.Token)
	hub := NewHub(deps.Bus)

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.Ping(); err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, InfoResponse{Version: version.Version, Store: deps.StoreName, Time: time.Now()})
	})

	mux.HandleFunc("/api/v1/devices", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			devices, err := deps.Registry.ListDevices()
			if err != nil {
				http.Error(w, "failed to list", http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{"items": devices})
		case http.MethodPost:
			if !authed(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			var d model.Device
			if err := json.NewDecoder(r.Body).Decode(&d); err != nil || d.ID == "" || d.Address == "" {
				http.Error(w, "invalid payload", http.StatusBadRequest)
				return
			}
			d.LastSeen = time.Now()
			if err := deps.Registry.UpsertDevice(d); err != nil {
				http.Error(w, "failed to save", http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, d)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Read-through device state; exercises the fallback path and reports which
	// channel served the response.
	mux.HandleFunc("/api/v1/devices/state", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "id required", http.StatusBadRequest)
			return
		}
		device, err := deps.Registry.GetDevice(id)
		if err != nil {
			http.Error(w, "device not found", http.StatusNotFound)
			return
		}
		res, err := deps.Router.Execute(r.Context(), device, transport.Operation{
			Name: transport.OpGetState, Kind: transport.OpRead,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, DeviceStateResponse{State: *res.State, Channel: res.Channel})
	})

	mux.HandleFunc("/api/v1/plans", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			if id := r.URL.Query().Get("id"); id != "" {
				plan, ok, err := deps.Store.GetPlan(id)
				if err != nil || !ok {
					http.Error(w, "plan not found", http.StatusNotFound)
					return
				}
				writeJSON(w, http.StatusOK, plan)
				return
			}
			plans, err := deps.Store.ListPlans(50)
			if err != nil {
				http.Error(w, "failed to list", http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{"items": plans})
		case http.MethodPost:
			if !authed(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			handleCreatePlan(w, r, deps)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/v1/plans/apply", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !authed(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		handleApplyPlan(w, r, deps)
	})

	mux.HandleFunc("/api/v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if id := r.URL.Query().Get("id"); id != "" {
			job, ok, err := deps.Store.GetJob(id)
			if err != nil || !ok {
				http.Error(w, "job not found", http.StatusNotFound)
				return
			}
			records, err := deps.Store.ListRecords(id)
			if err != nil {
				http.Error(w, "failed to load records", http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, model.JobSummary{Job: job, Devices: records})
			return
		}
		jobs, err := deps.Store.ListJobs(50)
		if err != nil {
			http.Error(w, "failed to list", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"items": jobs})
	})

	mux.HandleFunc("/api/v1/jobs/cancel", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !authed(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var req CancelJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.JobID == "" {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		if err := deps.Store.RequestCancellation(req.JobID); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		log.Printf("api: cancellation requested for job %s", req.JobID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancellation requested"})
	})

	mux.HandleFunc("/api/v1/jobs/rollback", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !authed(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var req RollbackJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.JobID == "" {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		go func() {
			if err := deps.Orchestrator.TriggerRollback(context.Background(), req.JobID, req.Reason); err != nil {
				log.Printf("api: manual rollback of job %s rejected: %v", req.JobID, err)
			}
		}()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "rollback started"})
	})

	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var sig model.HealthSignal
		if err := json.NewDecoder(r.Body).Decode(&sig); err != nil || sig.DeviceID == "" {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		if sig.Timestamp.IsZero() {
			sig.Timestamp = time.Now()
		}
		deps.Collector.Record(sig)
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/api/v1/audit", func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		items, err := deps.Store.ListAudit(limit)
		if err != nil {
			http.Error(w, "failed to list", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
	})

	mux.HandleFunc("/api/v1/ws/jobs", hub.HandleJobWS)
}

func handleCreatePlan(w http.ResponseWriter, r *http.Request, deps Deps) {
	var req CreatePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if len(req.Devices) == 0 {
		http.Error(w, "deviceIds required", http.StatusBadRequest)
		return
	}
	if err := req.Change.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	seen := map[string]bool{}
	for _, id := range req.Devices {
		if seen[id] {
			http.Error(w, "duplicate device "+id, http.StatusBadRequest)
			return
		}
		seen[id] = true
		if _, err := deps.Registry.GetDevice(id); err != nil {
			http.Error(w, "unknown device "+id, http.StatusBadRequest)
			return
		}
	}
	if req.BatchSize < 1 {
		req.BatchSize = 1
	}
	now := time.Now()
	plan := model.Plan{
		ID:               uuid.NewString(),
		DeviceIDs:        req.Devices,
		Change:           req.Change,
		BatchSize:        req.BatchSize,
		PauseBetween:     time.Duration(req.PauseBetweenSec) * time.Second,
		RollbackOnFail:   req.RollbackOnFailure,
		TolerateDegraded: req.TolerateDegraded,
		Approval:         model.ApprovalUnapproved,
		CreatedAt:        now,
		ExpiresAt:        now.Add(defaultPlanTTL),
	}
	if err := deps.Store.SavePlan(plan); err != nil {
		http.Error(w, "failed to save", http.StatusInternalServerError)
		return
	}
	if deps.Mirror != nil {
		deps.Mirror.SavePlan(plan)
	}
	log.Printf("api: plan %s created devices=%d batchSize=%d", plan.ID, len(plan.DeviceIDs), plan.BatchSize)
	writeJSON(w, http.StatusCreated, plan)
}

func handleApplyPlan(w http.ResponseWriter, r *http.Request, deps Deps) {
	var req ApplyPlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlanID == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	plan, ok, err := deps.Store.GetPlan(req.PlanID)
	if err != nil || !ok {
		http.Error(w, "plan not found", http.StatusNotFound)
		return
	}
	if plan.Expired(time.Now()) {
		_ = deps.Store.SetPlanApproval(plan.ID, model.ApprovalExpired)
		if deps.Mirror != nil {
			plan.Approval = model.ApprovalExpired
			deps.Mirror.SavePlan(plan)
		}
		http.Error(w, "plan expired", http.StatusConflict)
		return
	}
	claims, err := auth.VerifyApproval(req.ApprovalToken, plan.ID)
	if err != nil {
		http.Error(w, "plan not approved", http.StatusForbidden)
		return
	}
	if err := deps.Store.SetPlanApproval(plan.ID, model.ApprovalApproved); err != nil {
		http.Error(w, "failed to save", http.StatusInternalServerError)
		return
	}
	if deps.Mirror != nil {
		plan.Approval = model.ApprovalApproved
		deps.Mirror.SavePlan(plan)
	}

	job := model.Job{
		ID:        uuid.NewString(),
		PlanID:    plan.ID,
		Status:    model.JobPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := deps.Store.CreateJob(job); err != nil {
		http.Error(w, "failed to create job", http.StatusInternalServerError)
		return
	}
	log.Printf("api: plan %s applied by %s as job %s", plan.ID, claims.Approver, job.ID)
	go deps.Orchestrator.Run(context.Background(), job.ID)
	writeJSON(w, http.StatusAccepted, job)
}

func authFunc(token string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if token == "" {
			return true
		}
		h := r.Header.Get("Authorization")
		return strings.HasPrefix(h, "Bearer ") && strings.TrimPrefix(h, "Bearer ") == token
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: write response failed: %v", err)
	}
}
