package chain

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/SaaSy-Solutions/mockforge-sub003/mockerr"
)

// Store is the registry of known chain definitions, keyed by id.
type Store struct {
	mu     sync.RWMutex
	chains map[string]ChainDefinition
	config Config
}

// NewStore returns an empty Store using config as the default for chains
// that don't set their own.
func NewStore(config Config) *Store {
	return &Store{
		chains: make(map[string]ChainDefinition),
		config: config,
	}
}

// RegisterChain validates and stores a chain definition, assigning it an id
// via google/uuid if it doesn't already have one.
func (s *Store) RegisterChain(def ChainDefinition) (string, error) {
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	if def.Config == (Config{}) {
		def.Config = s.config
	}

	if err := Validate(def); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.chains[def.ID] = def
	return def.ID, nil
}

// RegisterFromYAML parses and registers a chain definition from YAML source.
func (s *Store) RegisterFromYAML(data []byte) (string, error) {
	var def chainDefinitionDoc
	if err := yaml.Unmarshal(data, &def); err != nil {
		return "", mockerr.Wrap(mockerr.KindChain, "parse_yaml", "failed to parse chain YAML", err)
	}
	return s.RegisterChain(def.toDefinition())
}

// RegisterFromJSON parses and registers a chain definition from JSON source.
func (s *Store) RegisterFromJSON(data []byte) (string, error) {
	var def chainDefinitionDoc
	if err := json.Unmarshal(data, &def); err != nil {
		return "", mockerr.Wrap(mockerr.KindChain, "parse_json", "failed to parse chain JSON", err)
	}
	return s.RegisterChain(def.toDefinition())
}

// GetChain returns the chain definition registered under id.
func (s *Store) GetChain(id string) (ChainDefinition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.chains[id]
	return def, ok
}

// ListChains returns every registered chain id.
func (s *Store) ListChains() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.chains))
	for id := range s.chains {
		ids = append(ids, id)
	}
	return ids
}

// RemoveChain deletes a chain definition by id. Removing a nonexistent id is
// not an error.
func (s *Store) RemoveChain(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chains, id)
	return nil
}

// UpdateConfig replaces the store's default chain configuration.
func (s *Store) UpdateConfig(config Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = config
}

// chainDefinitionDoc is the wire shape used for YAML/JSON parsing, kept
// separate from ChainDefinition so serialization tags don't leak into the
// in-memory type used by the executor.
type chainDefinitionDoc struct {
	ID          string         `yaml:"id" json:"id"`
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description"`
	Links       []chainLinkDoc `yaml:"links" json:"links"`
	Variables   map[string]any `yaml:"variables" json:"variables"`
	Tags        []string       `yaml:"tags" json:"tags"`
}

type chainLinkDoc struct {
	Request chainRequestDoc   `yaml:"request" json:"request"`
	Extract map[string]string `yaml:"extract" json:"extract"`
	StoreAs string            `yaml:"storeAs" json:"storeAs"`
}

type chainRequestDoc struct {
	ID             string            `yaml:"id" json:"id"`
	Method         string            `yaml:"method" json:"method"`
	URL            string            `yaml:"url" json:"url"`
	Headers        map[string]string `yaml:"headers" json:"headers"`
	Body           any               `yaml:"body" json:"body"`
	DependsOn      []string          `yaml:"dependsOn" json:"dependsOn"`
	TimeoutSecs    uint64            `yaml:"timeoutSecs" json:"timeoutSecs"`
	ExpectedStatus []int             `yaml:"expectedStatus" json:"expectedStatus"`
}

func (d chainDefinitionDoc) toDefinition() ChainDefinition {
	links := make([]ChainLink, len(d.Links))
	for i, l := range d.Links {
		links[i] = ChainLink{
			Request: ChainRequest{
				ID:             l.Request.ID,
				Method:         l.Request.Method,
				URL:            l.Request.URL,
				Headers:        l.Request.Headers,
				Body:           requestBodyFromAny(l.Request.Body),
				DependsOn:      l.Request.DependsOn,
				TimeoutSecs:    l.Request.TimeoutSecs,
				ExpectedStatus: l.Request.ExpectedStatus,
			},
			Extract: l.Extract,
			StoreAs: l.StoreAs,
		}
	}

	return ChainDefinition{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Links:       links,
		Variables:   d.Variables,
		Tags:        d.Tags,
	}
}

func requestBodyFromAny(v any) *RequestBody {
	if v == nil {
		return nil
	}
	return &RequestBody{Kind: BodyJSON, JSON: v}
}
