package activitypub

import (
	"bytes"
	"context"
	"crypto/rsa"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deemkeen/rendezvous/db"
	"github.com/deemkeen/rendezvous/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const testBase = "https://example.com"

var fixedStart = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

type testKeyPair struct {
	private    *rsa.PrivateKey
	privatePem string
	publicPem  string
}

// key generation is slow, every test shares the same pairs
var testKeys = sync.OnceValue(func() []testKeyPair {
	pairs := make([]testKeyPair, 3)
	for i := range pairs {
		privateKey, publicKey, err := generateTestKeyPair()
		if err != nil {
			panic(err)
		}
		publicPem, err := publicKeyToPEM(publicKey)
		if err != nil {
			panic(err)
		}
		pairs[i] = testKeyPair{private: privateKey, privatePem: privateKeyToPEM(privateKey), publicPem: publicPem}
	}
	return pairs
})

// remotePost is a request received by the fake remote server.
type remotePost struct {
	Method string
	Host   string
	Path   string
	Header http.Header
	Body   []byte
}

// remoteServer plays a remote federated server: it serves documents by path
// and records everything posted to it.
type remoteServer struct {
	*httptest.Server

	mu      sync.Mutex
	docs    map[string]any
	status  map[string]int
	posts   []remotePost
	lastGet http.Header
	fetches atomic.Int64
}

func newRemoteServer(t *testing.T) *remoteServer {
	r := &remoteServer{docs: map[string]any{}, status: map[string]int{}}
	r.Server = httptest.NewServer(http.HandlerFunc(r.serve))
	t.Cleanup(r.Close)
	return r
}

func (r *remoteServer) serve(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)

	r.mu.Lock()
	defer r.mu.Unlock()

	if req.Method == http.MethodGet {
		r.fetches.Add(1)
		r.lastGet = req.Header.Clone()
	}
	if code, ok := r.status[req.URL.Path]; ok {
		w.WriteHeader(code)
		return
	}

	switch req.Method {
	case http.MethodGet:
		doc, ok := r.docs[req.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/activity+json")
		json.NewEncoder(w).Encode(doc)
	case http.MethodPost:
		r.posts = append(r.posts, remotePost{
			Method: req.Method,
			Host:   req.Host,
			Path:   req.URL.Path,
			Header: req.Header.Clone(),
			Body:   body,
		})
		w.WriteHeader(http.StatusAccepted)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (r *remoteServer) addDoc(path string, doc map[string]any) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[path] = doc
	return r.URL + path
}

func (r *remoteServer) addActor(name, publicPem string) string {
	id := r.URL + "/users/" + name
	r.addDoc("/users/"+name, map[string]any{
		"@context":          domain.ActivityStreamsContext,
		"id":                id,
		"type":              "Person",
		"preferredUsername": name,
		"inbox":             id + "/inbox",
		"outbox":            id + "/outbox",
		"publicKey": map[string]any{
			"id":           id + "#main-key",
			"owner":        id,
			"publicKeyPem": publicPem,
		},
	})
	return id
}

func (r *remoteServer) setStatus(path string, code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status[path] = code
}

func (r *remoteServer) postsTo(path string) []remotePost {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []remotePost
	for _, p := range r.posts {
		if p.Path == path {
			out = append(out, p)
		}
	}
	return out
}

func (r *remoteServer) lastGetHeader() http.Header {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastGet
}

// rebuildRequest recreates a received post as the sender signed it.
func rebuildRequest(t *testing.T, p remotePost) *http.Request {
	t.Helper()
	req, err := http.NewRequest(p.Method, "http://"+p.Host+p.Path, bytes.NewReader(p.Body))
	require.NoError(t, err)
	req.Header = p.Header.Clone()
	return req
}

func (r *remoteServer) postCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.posts)
}

type fixture struct {
	ctx    context.Context
	store  *db.DB
	engine *Engine
	remote *remoteServer
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	sqlDB, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	store := db.New(sqlDB, testBase, zap.NewNop())
	require.NoError(t, store.RunMigrations(context.Background()))
	t.Cleanup(func() { store.Close() })

	return fixtureOn(t, store, opts...)
}

// newFileFixture backs the engine with an on-disk database opened the way
// the server opens it, with a full connection pool.
func newFileFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	path := filepath.Join(t.TempDir(), "rendezvous.db")
	store, err := db.Open(context.Background(), path, testBase, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return fixtureOn(t, store, opts...)
}

func fixtureOn(t *testing.T, store *db.DB, opts ...Option) *fixture {
	t.Helper()

	engine, err := NewEngine(testBase, store, opts...)
	require.NoError(t, err)
	t.Cleanup(engine.Wait)

	return &fixture{
		ctx:    context.Background(),
		store:  store,
		engine: engine,
		remote: newRemoteServer(t),
	}
}

func (f *fixture) localActor(t *testing.T, handle string, key int) *domain.Actor {
	t.Helper()
	pair := testKeys()[key]
	actor, err := f.store.CreateActor(f.ctx, handle, pair.publicPem, pair.privatePem)
	require.NoError(t, err)
	return actor
}

func (f *fixture) remoteActor(name string, key int) string {
	return f.remote.addActor(name, testKeys()[key].publicPem)
}

// countingStore counts the lookups the resolver could make.
type countingStore struct {
	Store
	reads atomic.Int64
}

func (c *countingStore) ReadActorByHandle(ctx context.Context, handle string) (*domain.Actor, error) {
	c.reads.Add(1)
	return c.Store.ReadActorByHandle(ctx, handle)
}

func (c *countingStore) ReadObjectByURI(ctx context.Context, uri string) (domain.Object, error) {
	c.reads.Add(1)
	return c.Store.ReadObjectByURI(ctx, uri)
}

func (c *countingStore) ReadActivityByURI(ctx context.Context, uri string) (*domain.Activity, error) {
	c.reads.Add(1)
	return c.Store.ReadActivityByURI(ctx, uri)
}

func (c *countingStore) ReadFollowers(ctx context.Context, followee string) ([]string, error) {
	c.reads.Add(1)
	return c.Store.ReadFollowers(ctx, followee)
}

func TestNewEngineRejectsInvalidBase(t *testing.T) {
	_, err := NewEngine("example.com", nil)
	require.Error(t, err)

	_, err = NewEngine("://bad", nil)
	require.Error(t, err)
}

func TestIsLocal(t *testing.T) {
	engine, err := NewEngine(testBase, nil)
	require.NoError(t, err)

	require.True(t, engine.IsLocal("https://example.com/user/alice"))
	require.True(t, engine.IsLocal("https://EXAMPLE.com/event/1"))
	require.False(t, engine.IsLocal("https://remote.example/users/bob"))
	require.False(t, engine.IsLocal("https://example.com.evil/user/alice"))
	require.False(t, engine.IsLocal("not a uri \x7f"))
}

func TestContextWithActor(t *testing.T) {
	ctx := context.Background()
	require.Nil(t, ActorFromContext(ctx))

	actor := &domain.Actor{ID: "https://example.com/user/alice"}
	require.Same(t, actor, ActorFromContext(ContextWithActor(ctx, actor)))
}
