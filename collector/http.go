package main

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/jveski/hostsections/internal/api"
	"github.com/jveski/hostsections/internal/collect"
	"github.com/jveski/hostsections/internal/concurrency"
	"github.com/jveski/hostsections/internal/hostconfig"
	"github.com/jveski/hostsections/internal/rpc"
	"github.com/jveski/hostsections/internal/sections"
	"github.com/jveski/hostsections/internal/sources"
)

type runContainer = *concurrency.StateContainer[*collect.Run]

func newApiHandler(auth rpc.Authorizer, state runContainer, trigger chan<- struct{}) http.Handler {
	router := httprouter.New()
	router.GET("/hosts", rpc.WithAuth(auth, newListHostsHandler(state)))
	router.GET("/hosts/:host/summary", rpc.WithAuth(auth, newGetSummaryHandler(state)))
	router.GET("/hosts/:host/sections", rpc.WithAuth(auth, newGetSectionsHandler(state)))
	router.POST("/collect", rpc.WithAuth(auth, newCollectHandler(trigger)))
	return router
}

func newListHostsHandler(state runContainer) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		run := state.Get()
		if run == nil {
			http.Error(w, "no collection has finished yet", 503)
			return
		}

		status := &api.RunStatus{ID: run.ID, Started: run.Started, Finished: run.Finished, Hosts: []*api.HostStatus{}}
		for _, name := range run.Hosts() {
			host := run.Config.Lookup(string(name))
			if host == nil {
				continue // removed from the configuration
			}
			status.Hosts = append(status.Hosts, newHostStatus(run, host))
		}

		writeJSON(w, status)
	}
}

func newGetSummaryHandler(state runContainer) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		run, host := lookupHost(w, state, p.ByName("host"))
		if host == nil {
			return
		}
		writeJSON(w, newHostStatus(run, host))
	}
}

// newGetSectionsHandler returns the raw sections of a host, or the check
// function arguments of the parsed sections named by the "parsed" query parameter.
// Clusters only support the latter.
func newGetSectionsHandler(state runContainer) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		run, host := lookupHost(w, state, p.ByName("host"))
		if host == nil {
			return
		}

		resp := &api.Sections{Host: host.Name}
		parsed := r.URL.Query()["parsed"]
		if len(parsed) == 0 {
			if host.IsCluster() {
				http.Error(w, "clusters have no raw sections, request parsed sections instead", 400)
				return
			}

			key, ok := collect.HostKey(host), true
			if r.URL.Query().Get("management") != "" {
				key, ok = collect.ManagementKey(host)
			}
			resp.Raw = map[sections.SectionName][]sections.Row{}
			if hs := run.Sections.HostSections(key); ok && hs != nil {
				resp.Raw = hs.Sections
			}
			writeJSON(w, resp)
			return
		}

		names := make([]sections.ParsedSectionName, len(parsed))
		for i, name := range parsed {
			names[i] = sections.ParsedSectionName(name)
		}

		if host.IsCluster() {
			resp.Kwargs = run.Sections.GetSectionClusterKwargs(run.NodeKeys(host), names)
		} else {
			resp.Kwargs = run.Sections.GetSectionKwargs(collect.HostKey(host), names)
		}
		resp.CacheInfo = run.Sections.GetCacheInfo(names)
		writeJSON(w, resp)
	}
}

func newCollectHandler(trigger chan<- struct{}) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		select {
		case trigger <- struct{}{}:
		default: // a collection is already pending
		}
		w.WriteHeader(202)
	}
}

func lookupHost(w http.ResponseWriter, state runContainer, name string) (*collect.Run, *hostconfig.HostConfig) {
	run := state.Get()
	if run == nil {
		http.Error(w, "no collection has finished yet", 503)
		return nil, nil
	}

	host := run.Config.Lookup(name)
	if host == nil || run.Summaries(sections.HostName(name)) == nil {
		http.Error(w, "unknown host", 404)
		return nil, nil
	}
	return run, host
}

func newHostStatus(run *collect.Run, host *hostconfig.HostConfig) *api.HostStatus {
	description, err := sources.DescribeSources(host)
	if err != nil {
		description = err.Error()
	}

	status := &api.HostStatus{Name: host.Name, Sources: description, Summaries: []*api.SourceSummary{}}
	for _, s := range run.Summaries(sections.HostName(host.Name)) {
		status.Summaries = append(status.Summaries, &api.SourceSummary{
			Source:      s.SourceID,
			Description: s.Description,
			State:       s.State.String(),
			Output:      s.Output,
			FromCache:   s.FromCache,
		})
	}
	return status
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
