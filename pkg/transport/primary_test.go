package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"router-fleet/pkg/model"
)

func newDeviceServer(t *testing.T, status int, state *model.DeviceState) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "secret-pw" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if status != http.StatusOK {
			http.Error(w, "scripted", status)
			return
		}
		_ = json.NewEncoder(w).Encode(state)
	}))
}

func TestRESTChannelGetState(t *testing.T) {
	srv := newDeviceServer(t, http.StatusOK, &model.DeviceState{Hostname: "edge-01", DNSServers: []string{"1.1.1.1"}})
	defer srv.Close()

	ch := NewRESTChannel(testCredStore(t), time.Second)
	device := model.Device{ID: "r1", Address: srv.URL, CredentialRef: "ref"}
	res, err := ch.Execute(context.Background(), device, Operation{Name: OpGetState, Kind: OpRead})
	require.NoError(t, err)
	require.Equal(t, model.ChannelPrimary, res.Channel)
	require.Equal(t, "r1", res.State.DeviceID) // channel stamps the registry id
	require.Equal(t, "edge-01", res.State.Hostname)
}

func TestRESTChannelStatusClassification(t *testing.T) {
	cases := []struct {
		status    int
		kind      Kind
		retryable bool
	}{
		{http.StatusInternalServerError, KindServer, true},
		{http.StatusServiceUnavailable, KindServer, true},
		{http.StatusBadRequest, KindValidation, false},
		{http.StatusForbidden, KindAuth, false},
	}
	for _, tc := range cases {
		srv := newDeviceServer(t, tc.status, nil)
		ch := NewRESTChannel(testCredStore(t), time.Second)
		device := model.Device{ID: "r1", Address: srv.URL, CredentialRef: "ref"}
		_, err := ch.Execute(context.Background(), device, Operation{Name: OpGetState, Kind: OpRead})
		srv.Close()

		var terr *Error
		require.ErrorAsf(t, err, &terr, "status %d", tc.status)
		require.Equalf(t, tc.kind, terr.Kind, "status %d", tc.status)
		require.Equalf(t, tc.retryable, terr.Retryable, "status %d", tc.status)
	}
}

func TestRESTChannelDisabledDevice(t *testing.T) {
	ch := NewRESTChannel(testCredStore(t), time.Second)
	device := model.Device{ID: "r1", Address: "http://127.0.0.1:1", CredentialRef: "ref", APIDisabled: true}
	_, err := ch.Execute(context.Background(), device, Operation{Name: OpGetState, Kind: OpRead})
	var terr *Error
	require.ErrorAs(t, err, &terr)
	require.Equal(t, KindDisabled, terr.Kind)
}

func TestRESTChannelUnknownCredentialRef(t *testing.T) {
	ch := NewRESTChannel(testCredStore(t), time.Second)
	device := model.Device{ID: "r1", Address: "http://127.0.0.1:1", CredentialRef: "missing"}
	_, err := ch.Execute(context.Background(), device, Operation{Name: OpGetState, Kind: OpRead})
	var terr *Error
	require.ErrorAs(t, err, &terr)
	require.Equal(t, KindAuth, terr.Kind)
}

func TestRESTChannelConnectionRefused(t *testing.T) {
	ch := NewRESTChannel(testCredStore(t), 200*time.Millisecond)
	device := model.Device{ID: "r1", Address: "http://127.0.0.1:1", CredentialRef: "ref"}
	_, err := ch.Execute(context.Background(), device, Operation{Name: OpGetState, Kind: OpRead})
	var terr *Error
	require.ErrorAs(t, err, &terr)
	require.True(t, terr.Retryable)
}

func TestRESTChannelApplyConfig(t *testing.T) {
	var gotOps []model.Op
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Ops []model.Op `json:"ops"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotOps = req.Ops
		_ = json.NewEncoder(w).Encode(model.DeviceState{Hostname: "edge-01", DNSServers: []string{"1.1.1.1"}})
	}))
	defer srv.Close()

	ch := NewRESTChannel(testCredStore(t), time.Second)
	device := model.Device{ID: "r1", Address: srv.URL, CredentialRef: "ref"}
	res, err := ch.Execute(context.Background(), device, Operation{
		Name: OpApplyConfig, Kind: OpMutate,
		Ops: []model.Op{{Field: "dnsServers", Value: []string{"1.1.1.1"}}},
	})
	require.NoError(t, err)
	require.Equal(t, model.ChannelPrimary, res.Channel)
	require.Len(t, gotOps, 1)
	require.Equal(t, "dnsServers", gotOps[0].Field)
}
