package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestValidateRejectsEmptyChain(t *testing.T) {
	if err := Validate(ChainDefinition{Config: DefaultConfig()}); err == nil {
		t.Fatalf("expected error for empty chain")
	}
}

func TestValidateRejectsDuplicateIDs(t *testing.T) {
	def := ChainDefinition{
		Config: DefaultConfig(),
		Links: []ChainLink{
			{Request: ChainRequest{ID: "a"}},
			{Request: ChainRequest{ID: "a"}},
		},
	}
	err := Validate(def)
	if err == nil {
		t.Fatalf("expected error for duplicate ids")
	}
	if err.Error() != "Duplicate request IDs found in chain" {
		t.Fatalf("unexpected error message: %v", err)
	}
}

func TestValidateRejectsMissingDependency(t *testing.T) {
	def := ChainDefinition{
		Config: DefaultConfig(),
		Links: []ChainLink{
			{Request: ChainRequest{ID: "a", DependsOn: []string{"ghost"}}},
		},
	}
	err := Validate(def)
	if err == nil {
		t.Fatalf("expected error for missing dependency")
	}
	if err.Error() != "Request 'a' depends on 'ghost' which does not exist in the chain" {
		t.Fatalf("unexpected error message: %v", err)
	}
}

func TestValidateRejectsCycle(t *testing.T) {
	def := ChainDefinition{
		Config: DefaultConfig(),
		Links: []ChainLink{
			{Request: ChainRequest{ID: "a", DependsOn: []string{"b"}}},
			{Request: ChainRequest{ID: "b", DependsOn: []string{"a"}}},
		},
	}
	err := Validate(def)
	if err == nil {
		t.Fatalf("expected error for circular dependency")
	}
	if err.Error() != "Circular dependency detected involving request 'a'" {
		t.Fatalf("unexpected error message: %v", err)
	}
}

func TestValidateRejectsOverMaxLength(t *testing.T) {
	def := ChainDefinition{
		Config: Config{MaxChainLength: 1},
		Links: []ChainLink{
			{Request: ChainRequest{ID: "a"}},
			{Request: ChainRequest{ID: "b"}},
		},
	}
	err := Validate(def)
	if err == nil {
		t.Fatalf("expected error for exceeding max chain length")
	}
	if err.Error() != "chain length 2 exceeds maximum allowed length 1" {
		t.Fatalf("unexpected error message: %v", err)
	}
}

func TestValidateAcceptsValidDAG(t *testing.T) {
	def := ChainDefinition{
		Config: DefaultConfig(),
		Links: []ChainLink{
			{Request: ChainRequest{ID: "a"}},
			{Request: ChainRequest{ID: "b", DependsOn: []string{"a"}}},
			{Request: ChainRequest{ID: "c", DependsOn: []string{"a", "b"}}},
		},
	}
	if err := Validate(def); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStoreRegisterAndRetrieve(t *testing.T) {
	s := NewStore(DefaultConfig())
	def := ChainDefinition{
		Name:   "test chain",
		Config: DefaultConfig(),
		Links:  []ChainLink{{Request: ChainRequest{ID: "a"}}},
	}

	id, err := s.RegisterChain(def)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if id == "" {
		t.Fatalf("expected generated id")
	}

	got, ok := s.GetChain(id)
	if !ok || got.Name != "test chain" {
		t.Fatalf("expected to retrieve registered chain, got %+v ok=%v", got, ok)
	}

	if ids := s.ListChains(); len(ids) != 1 {
		t.Fatalf("expected 1 chain listed, got %d", len(ids))
	}

	if err := s.RemoveChain(id); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := s.GetChain(id); ok {
		t.Fatalf("expected chain removed")
	}
}

func TestStoreRegisterFromYAML(t *testing.T) {
	s := NewStore(DefaultConfig())
	yamlDoc := `
id: chain-1
name: fetch user
links:
  - request:
      id: get-user
      method: GET
      url: "https://example.com/users/1"
`
	id, err := s.RegisterFromYAML([]byte(yamlDoc))
	if err != nil {
		t.Fatalf("register from yaml: %v", err)
	}
	if id != "chain-1" {
		t.Fatalf("expected explicit id to be preserved, got %q", id)
	}
}

func TestTopoOrderRespectsDependencies(t *testing.T) {
	links := []ChainLink{
		{Request: ChainRequest{ID: "c", DependsOn: []string{"b"}}},
		{Request: ChainRequest{ID: "b", DependsOn: []string{"a"}}},
		{Request: ChainRequest{ID: "a"}},
	}
	order := topoOrder(links)
	pos := map[string]int{}
	for i, id := range order {
		pos[id] = i
	}
	if pos["a"] > pos["b"] || pos["b"] > pos["c"] {
		t.Fatalf("expected topological order a,b,c; got %v", order)
	}
}

func TestExecutorRunsChainAndExtractsVariable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"id": 42, "name": "widget"})
	}))
	defer srv.Close()

	def := ChainDefinition{
		Config: DefaultConfig(),
		Links: []ChainLink{
			{
				Request: ChainRequest{ID: "fetch", Method: "GET", URL: srv.URL},
				Extract: map[string]string{"widgetID": "$.id"},
				StoreAs: "fetch",
			},
		},
	}

	exec := NewExecutor()
	ctx, err := exec.Execute(context.Background(), def)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	resp, ok := ctx.GetResponse("fetch")
	if !ok || resp.Status != 200 {
		t.Fatalf("expected recorded response, got %+v ok=%v", resp, ok)
	}

	v, ok := ctx.GetVariable("widgetID")
	if !ok {
		t.Fatalf("expected extracted variable widgetID")
	}
	if n, ok := v.(float64); !ok || n != 42 {
		t.Fatalf("expected widgetID=42, got %v", v)
	}
}

func TestExecutorTemplatesSecondLinkFromFirst(t *testing.T) {
	var secondPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/first" {
			json.NewEncoder(w).Encode(map[string]any{"userId": "u-99"})
			return
		}
		secondPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	def := ChainDefinition{
		Config: DefaultConfig(),
		Links: []ChainLink{
			{
				Request: ChainRequest{ID: "first", Method: "GET", URL: srv.URL + "/first"},
				Extract: map[string]string{"userId": "$.userId"},
				StoreAs: "first",
			},
			{
				Request: ChainRequest{
					ID:        "second",
					Method:    "GET",
					URL:       srv.URL + "/users/{{userId}}",
					DependsOn: []string{"first"},
				},
			},
		},
	}

	exec := NewExecutor()
	if _, err := exec.Execute(context.Background(), def); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if secondPath != "/users/u-99" {
		t.Fatalf("expected templated path /users/u-99, got %q", secondPath)
	}
}

func TestExecutorRecordsTransportFailure(t *testing.T) {
	def := ChainDefinition{
		Config: DefaultConfig(),
		Links: []ChainLink{
			{Request: ChainRequest{ID: "broken", Method: "GET", URL: "http://127.0.0.1:1"}},
		},
	}

	exec := NewExecutor(WithHTTPClient(&http.Client{Timeout: 200 * time.Millisecond}))
	ctx, err := exec.Execute(context.Background(), def)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	resp, ok := ctx.GetResponse("broken")
	if !ok || resp.Error == "" {
		t.Fatalf("expected transport failure recorded, got %+v ok=%v", resp, ok)
	}
}
