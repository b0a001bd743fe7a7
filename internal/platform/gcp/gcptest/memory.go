// Package gcptest provides in-memory object store and namespace doubles.
package gcptest

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yungbote/neurobridge-ingest/internal/platform/gcp"
)

type object struct {
	data        []byte
	contentType string
	created     time.Time
}

// Store satisfies gcp.ObjectStore and gcp.NamespaceProvisioner.
type Store struct {
	mu         sync.Mutex
	namespaces map[string]map[string]object
	foreign    map[string]bool

	Creates atomic.Int64
	Puts    atomic.Int64
	Gets    atomic.Int64
	Deletes atomic.Int64

	// Optional failure hooks; a non-nil return aborts the call.
	PutErr    func(namespace, key string) error
	GetErr    func(namespace, key string) error
	DeleteErr func(namespace, key string) error
	CreateErr func(name string) error
	// CreateDelay widens the race window between concurrent creators.
	CreateDelay time.Duration
	Now         func() time.Time
}

func NewStore() *Store {
	return &Store{namespaces: map[string]map[string]object{}, foreign: map[string]bool{}, Now: time.Now}
}

// MarkForeign makes name behave like a bucket held by another project.
func (s *Store) MarkForeign(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.foreign[name] = true
}

func (s *Store) NamespaceExists(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.foreign[name] {
		return false, gcp.ErrNamespaceForeign
	}
	_, ok := s.namespaces[name]
	return ok, nil
}

func (s *Store) CreateNamespace(_ context.Context, name string) error {
	if s.CreateErr != nil {
		if err := s.CreateErr(name); err != nil {
			return err
		}
	}
	if s.CreateDelay > 0 {
		time.Sleep(s.CreateDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.foreign[name] {
		return gcp.ErrNamespaceForeign
	}
	if _, ok := s.namespaces[name]; ok {
		return gcp.ErrNamespaceExists
	}
	s.namespaces[name] = map[string]object{}
	s.Creates.Add(1)
	return nil
}

func (s *Store) Put(_ context.Context, namespace, key string, data []byte, contentType string) error {
	s.Puts.Add(1)
	if s.PutErr != nil {
		if err := s.PutErr(namespace, key); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.namespaces[namespace]
	if !ok {
		return gcp.ErrNamespaceNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	ns[key] = object{data: cp, contentType: contentType, created: s.Now()}
	return nil
}

func (s *Store) Get(_ context.Context, namespace, key string) ([]byte, error) {
	s.Gets.Add(1)
	if s.GetErr != nil {
		if err := s.GetErr(namespace, key); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.namespaces[namespace]
	if !ok {
		return nil, gcp.ErrNamespaceNotFound
	}
	obj, ok := ns[key]
	if !ok {
		return nil, gcp.ErrObjectNotFound
	}
	cp := make([]byte, len(obj.data))
	copy(cp, obj.data)
	return cp, nil
}

func (s *Store) Delete(_ context.Context, namespace, key string) error {
	s.Deletes.Add(1)
	if s.DeleteErr != nil {
		if err := s.DeleteErr(namespace, key); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.namespaces[namespace]
	if !ok {
		return gcp.ErrNamespaceNotFound
	}
	if _, ok := ns[key]; !ok {
		return gcp.ErrObjectNotFound
	}
	delete(ns, key)
	return nil
}

func (s *Store) List(_ context.Context, namespace, prefix string) ([]gcp.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.namespaces[namespace]
	if !ok {
		return nil, gcp.ErrNamespaceNotFound
	}
	out := []gcp.ObjectInfo{}
	for k, obj := range ns {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		out = append(out, gcp.ObjectInfo{
			Key:         k,
			Size:        int64(len(obj.data)),
			ContentType: obj.contentType,
			Created:     obj.created,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Seed writes an object directly, creating the namespace if needed.
func (s *Store) Seed(namespace, key string, data []byte, created time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.namespaces[namespace]
	if !ok {
		ns = map[string]object{}
		s.namespaces[namespace] = ns
	}
	ns[key] = object{data: append([]byte(nil), data...), created: created}
}

// Remove deletes an object out of band, as an operator would.
func (s *Store) Remove(namespace, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ns, ok := s.namespaces[namespace]; ok {
		delete(ns, key)
	}
}

func (s *Store) Has(namespace, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.namespaces[namespace][key]
	return ok
}

// ErrUnavailable is a convenient infrastructure failure for hooks.
var ErrUnavailable = errors.New("object store unavailable")
