package main

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jveski/hostsections/internal/api"
	"github.com/jveski/hostsections/internal/collect"
	"github.com/jveski/hostsections/internal/concurrency"
	"github.com/jveski/hostsections/internal/hostconfig"
	"github.com/jveski/hostsections/internal/multihost"
	"github.com/jveski/hostsections/internal/rpc"
	"github.com/jveski/hostsections/internal/sections"
	"github.com/jveski/hostsections/internal/store"
)

const testConfig = `
[settings]
ipmi_command = "echo 'CPU Temp|45|degrees C|ok'"

[[host]]
name = "esx1"
address = "127.0.0.1"
tags = ["tcp", "no-piggyback"]
datasource_program = "printf '<<<check_mk>>>\\nVersion: 2.1.0\\n<<<cpu>>>\\n1 2\\n'"

[[host]]
name = "esx2"
tags = ["tcp", "no-piggyback"]
datasource_program = "printf '<<<cpu>>>\\n3 4\\n'"

[[host]]
name = "srv"
address = "127.0.0.1"
tags = ["tcp", "no-piggyback"]
datasource_program = "printf '<<<cpu>>>\\n5 6\\n'"

  [host.management]
  protocol = "ipmi"
  address = "127.0.0.9"

[[host]]
name = "c1"
nodes = ["esx1", "esx2"]
`

func newTestState(t *testing.T) runContainer {
	cfg, err := hostconfig.Decode(testConfig, t.TempDir())
	require.NoError(t, err)

	logger := zap.NewNop().Sugar()
	c := &collect.Collector{
		Config:   cfg,
		Env:      collect.NewEnv(cfg, store.Policy{}, logger),
		Registry: multihost.NewRegistry(),
		Logger:   logger,
	}
	run, err := c.Run(context.Background(), nil)
	require.NoError(t, err)

	state := &concurrency.StateContainer[*collect.Run]{}
	state.Swap(run)
	return state
}

func TestListHosts(t *testing.T) {
	fn := newListHostsHandler(newTestState(t))

	w := httptest.NewRecorder()
	fn(w, httptest.NewRequest("GET", "/hosts", nil), httprouter.Params{})
	require.Equal(t, 200, w.Code)

	status := &api.RunStatus{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), status))
	assert.NotEmpty(t, status.ID)
	require.Len(t, status.Hosts, 4)

	assert.Equal(t, "c1", status.Hosts[0].Name)
	assert.Equal(t, "Cluster of esx1, esx2", status.Hosts[0].Sources)
	assert.Empty(t, status.Hosts[0].Summaries)

	assert.Equal(t, "esx1", status.Hosts[1].Name)
	require.Len(t, status.Hosts[1].Summaries, 1)
	assert.Equal(t, &api.SourceSummary{
		Source:      "agent",
		Description: "Program: printf '<<<check_mk>>>\\nVersion: 2.1.0\\n<<<cpu>>>\\n1 2\\n'",
		State:       "OK",
		Output:      "Version: 2.1.0, OS: unknown",
	}, status.Hosts[1].Summaries[0])
}

func TestListHostsBeforeFirstRun(t *testing.T) {
	fn := newListHostsHandler(&concurrency.StateContainer[*collect.Run]{})

	w := httptest.NewRecorder()
	fn(w, httptest.NewRequest("GET", "/hosts", nil), httprouter.Params{})
	assert.Equal(t, 503, w.Code)
}

func TestGetSummary(t *testing.T) {
	fn := newGetSummaryHandler(newTestState(t))

	t.Run("known host", func(t *testing.T) {
		w := httptest.NewRecorder()
		fn(w, httptest.NewRequest("GET", "/hosts/esx2/summary", nil), httprouter.Params{{Key: "host", Value: "esx2"}})
		require.Equal(t, 200, w.Code)

		status := &api.HostStatus{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), status))
		require.Len(t, status.Summaries, 1)
		assert.Equal(t, "OK", status.Summaries[0].State)
	})

	t.Run("unknown host", func(t *testing.T) {
		w := httptest.NewRecorder()
		fn(w, httptest.NewRequest("GET", "/hosts/nope/summary", nil), httprouter.Params{{Key: "host", Value: "nope"}})
		assert.Equal(t, 404, w.Code)
	})
}

func TestGetSections(t *testing.T) {
	fn := newGetSectionsHandler(newTestState(t))

	get := func(t *testing.T, host, query string) (int, *api.Sections) {
		w := httptest.NewRecorder()
		fn(w, httptest.NewRequest("GET", "/hosts/"+host+"/sections"+query, nil), httprouter.Params{{Key: "host", Value: host}})

		resp := &api.Sections{}
		if w.Code == 200 {
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), resp))
		}
		return w.Code, resp
	}

	t.Run("raw", func(t *testing.T) {
		code, resp := get(t, "esx1", "")
		require.Equal(t, 200, code)
		assert.Equal(t, []sections.Row{{"1", "2"}}, resp.Raw["cpu"])
		assert.Nil(t, resp.Kwargs)
	})

	t.Run("management", func(t *testing.T) {
		code, resp := get(t, "srv", "?management=true")
		require.Equal(t, 200, code)
		assert.Equal(t, map[sections.SectionName][]sections.Row{
			"mgmt_ipmi_sensors": {{"CPU Temp", "45", "degrees C", "ok"}},
		}, resp.Raw)

		code, resp = get(t, "srv", "")
		require.Equal(t, 200, code)
		assert.Equal(t, map[sections.SectionName][]sections.Row{"cpu": {{"5", "6"}}}, resp.Raw)
	})

	t.Run("management without board", func(t *testing.T) {
		code, resp := get(t, "esx1", "?management=true")
		require.Equal(t, 200, code)
		assert.Empty(t, resp.Raw)
	})

	t.Run("parsed", func(t *testing.T) {
		code, resp := get(t, "esx2", "?parsed=cpu")
		require.Equal(t, 200, code)
		assert.Equal(t, map[string]any{"section": []any{[]any{"3", "4"}}}, resp.Kwargs)
	})

	t.Run("parsed missing", func(t *testing.T) {
		code, resp := get(t, "esx2", "?parsed=nope")
		require.Equal(t, 200, code)
		assert.Empty(t, resp.Kwargs)
		assert.Nil(t, resp.CacheInfo)
	})

	t.Run("cluster", func(t *testing.T) {
		code, resp := get(t, "c1", "?parsed=cpu")
		require.Equal(t, 200, code)
		assert.Equal(t, map[string]any{
			"section": map[string]any{
				"esx1": []any{[]any{"1", "2"}},
				"esx2": []any{[]any{"3", "4"}},
			},
		}, resp.Kwargs)
	})

	t.Run("cluster raw", func(t *testing.T) {
		code, _ := get(t, "c1", "")
		assert.Equal(t, 400, code)
	})
}

func TestCollectHandler(t *testing.T) {
	trigger := make(chan struct{}, 1)
	fn := newCollectHandler(trigger)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		fn(w, httptest.NewRequest("POST", "/collect", nil), httprouter.Params{})
		assert.Equal(t, 202, w.Code)
	}
	assert.Len(t, trigger, 1)
}

func TestApiHandlerRequiresClientCert(t *testing.T) {
	handler := newApiHandler(rpc.NewStaticAuthorizer("anything"), newTestState(t), make(chan struct{}, 1))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/hosts", nil))
	assert.Equal(t, 401, w.Code)
}

func TestLoadTrustedCerts(t *testing.T) {
	dir := t.TempDir()

	auth, err := loadTrustedCerts(filepath.Join(dir, "trustedcerts"))
	require.NoError(t, err)
	assert.Empty(t, auth)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "trustedcerts"), []byte("aaa\n# comment\n\nbbb \n"), 0644))
	auth, err = loadTrustedCerts(filepath.Join(dir, "trustedcerts"))
	require.NoError(t, err)
	assert.True(t, auth.TrustsCert("aaa"))
	assert.True(t, auth.TrustsCert("bbb"))
	assert.False(t, auth.TrustsCert("# comment"))
}
