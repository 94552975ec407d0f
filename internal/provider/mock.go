package provider

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"flockbridge.io/flockbridge/internal/domain"
	apperrors "flockbridge.io/flockbridge/internal/pkg/errors"
)

// Call is one recorded MockClient invocation.
type Call struct {
	Op       string
	OrgID    string
	Path     string
	Params   map[string]string
	Resource *Resource
}

// MockClient implements Client in memory for tests and dry runs.
type MockClient struct {
	mu sync.Mutex

	// collections holds list data by path; pagination uses per_page and offset.
	collections map[string][]domain.ExternalEntity
	included    map[string][]domain.ExternalEntity
	resources   map[string]domain.Document
	failures    map[string]error
	calls       []Call

	// OnCreate answers Create calls. Defaults to echoing the resource with id "1".
	OnCreate func(path string, res Resource) (*domain.Document, error)
}

var _ Client = (*MockClient)(nil)

// NewMockClient creates an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{
		collections: make(map[string][]domain.ExternalEntity),
		included:    make(map[string][]domain.ExternalEntity),
		resources:   make(map[string]domain.Document),
		failures:    make(map[string]error),
	}
}

// SeedList sets the collection served at path and entities side-loaded with
// every page.
func (m *MockClient) SeedList(path string, data []domain.ExternalEntity, included ...domain.ExternalEntity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[path] = data
	m.included[path] = included
}

// SeedGet sets the document returned for path.
func (m *MockClient) SeedGet(path string, doc domain.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[path] = doc
}

// Fail makes every call with op ("list", "get", "create", "update") on path
// return err. An empty path matches all paths.
func (m *MockClient) Fail(op, path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op+" "+path] = err
}

// Calls returns recorded calls, optionally filtered by op.
func (m *MockClient) Calls(op string) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Call
	for _, c := range m.calls {
		if op == "" || c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears recorded calls.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

func (m *MockClient) record(op, orgID, path string, params map[string]string, res *Resource) error {
	cp := make(map[string]string, len(params))
	for k, v := range params {
		cp[k] = v
	}
	m.calls = append(m.calls, Call{Op: op, OrgID: orgID, Path: path, Params: cp, Resource: res})
	if err, ok := m.failures[op+" "+path]; ok {
		return err
	}
	if err, ok := m.failures[op+" "]; ok {
		return err
	}
	return nil
}

// List serves a page of a seeded collection.
func (m *MockClient) List(_ context.Context, orgID, path string, params map[string]string) (*ListResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("list", orgID, path, params, nil); err != nil {
		return nil, err
	}

	all := m.collections[path]
	perPage := atoiDefault(params["per_page"], 25)
	if perPage == 0 {
		perPage = 25
	}
	offset := atoiDefault(params["offset"], 0)
	if offset > len(all) {
		offset = len(all)
	}
	end := offset + perPage
	if end > len(all) {
		end = len(all)
	}

	resp := &ListResponse{
		Data:     append([]domain.ExternalEntity(nil), all[offset:end]...),
		Included: append([]domain.ExternalEntity(nil), m.included[path]...),
		Meta:     Meta{TotalCount: len(all), Count: end - offset},
	}
	if end < len(all) {
		resp.Meta.Next = &NextPage{Offset: end}
	}
	return resp, nil
}

// Get serves a seeded document. Unknown paths return a 404 FETCH_ERROR.
func (m *MockClient) Get(_ context.Context, orgID, path string, params map[string]string) (*domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("get", orgID, path, params, nil); err != nil {
		return nil, err
	}
	doc, ok := m.resources[path]
	if !ok {
		return nil, apperrors.ErrFetch("get", http.StatusNotFound, fmt.Errorf("GET %s: not found", path))
	}
	return &doc, nil
}

// Create records the call and answers through OnCreate.
func (m *MockClient) Create(_ context.Context, orgID, path string, res Resource) (*domain.Document, error) {
	m.mu.Lock()
	onCreate := m.OnCreate
	err := m.record("create", orgID, path, nil, &res)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if onCreate != nil {
		return onCreate(path, res)
	}
	return &domain.Document{Data: domain.ExternalEntity{Type: res.Type, ID: "1", Attributes: res.Attributes}}, nil
}

// Update records the call and echoes the resource.
func (m *MockClient) Update(_ context.Context, orgID, path string, res Resource) (*domain.Document, error) {
	m.mu.Lock()
	err := m.record("update", orgID, path, nil, &res)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	id := res.ID
	if id == "" {
		id = path[strings.LastIndex(path, "/")+1:]
	}
	return &domain.Document{Data: domain.ExternalEntity{Type: res.Type, ID: id, Attributes: res.Attributes}}, nil
}

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}
