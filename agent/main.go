package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/grandcat/zeroconf"

	"collabtext/editor"
	"collabtext/ot"
	"collabtext/revlog"
	"collabtext/store"
	"collabtext/undo"
)

const serviceName = "_collabtext._tcp"

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// notifyingBuffer reports every operation applied from the log so the hub
// can push the new text to browsers.
type notifyingBuffer struct {
	*editor.Buffer
	changed func()
}

func (b *notifyingBuffer) ApplyOperation(op ot.TextOperation) error {
	if err := b.Buffer.ApplyOperation(op); err != nil {
		return err
	}
	b.changed()
	return nil
}

type snapshot struct {
	Author   string `json:"author"`
	Text     string `json:"text"`
	Revision int    `json:"revision"`
	Synced   bool   `json:"synced"`
}

// agent is a headless editing peer: one document, one author, edited over
// HTTP and watched over websockets.
type agent struct {
	client *editor.Client
	buf    *notifyingBuffer
	hub    *Hub
	synced bool
}

func newAgent(st revlog.Store, cfg editor.Config, hub *Hub) *agent {
	a := &agent{hub: hub, synced: true}
	a.buf = &notifyingBuffer{Buffer: editor.NewBuffer(), changed: a.broadcast}
	onSynced := cfg.OnSynced
	cfg.OnSynced = func(synced bool) {
		a.synced = synced
		a.broadcast()
		if onSynced != nil {
			onSynced(synced)
		}
	}
	a.client = editor.New(st, a.buf, cfg)
	return a
}

// snapshot must run on the session loop.
func (a *agent) snapshot() snapshot {
	return snapshot{
		Author:   a.client.Author(),
		Text:     a.buf.Text(),
		Revision: a.client.Session().Revision(),
		Synced:   a.synced,
	}
}

func (a *agent) broadcast() {
	data, err := json.Marshal(a.snapshot())
	if err != nil {
		glog.Warningf("[agent] encoding snapshot: %v", err)
		return
	}
	a.hub.broadcast <- data
}

// do runs fn on the session loop and returns the snapshot taken right
// after it.
func (a *agent) do(fn func() error) (snapshot, error) {
	var snap snapshot
	var fnErr error
	if err := a.client.Do(func() {
		fnErr = fn()
		snap = a.snapshot()
	}); err != nil {
		return snapshot{}, err
	}
	return snap, fnErr
}

func (a *agent) edit(e Edit) (snapshot, error) {
	return a.do(func() error {
		if err := e.apply(a.buf.Buffer); err != nil {
			return err
		}
		a.broadcast()
		return nil
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Warningf("[agent] writing response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, revlog.ErrClosed):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, undo.ErrNothingToUndo), errors.Is(err, undo.ErrNothingToRedo):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func (a *agent) handleText(w http.ResponseWriter, r *http.Request) {
	snap, err := a.do(func() error { return nil })
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(snap.Text))
}

func (a *agent) handleEdit(w http.ResponseWriter, r *http.Request) {
	var e Edit
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		http.Error(w, fmt.Sprintf("decoding edit: %v", err), http.StatusBadRequest)
		return
	}
	snap, err := a.edit(e)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, snap)
}

func (a *agent) handleUnredo(perform func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := a.do(func() error {
			if err := perform(); err != nil {
				return err
			}
			a.broadcast()
			return nil
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, snap)
	}
}

func (a *agent) handleWs(w http.ResponseWriter, r *http.Request) {
	snap, err := a.do(func() error { return nil })
	if err != nil {
		writeError(w, err)
		return
	}
	initial, _ := json.Marshal(snap)
	serveWs(a.hub, w, r, initial, func(e Edit) {
		if _, err := a.edit(e); err != nil {
			glog.Warningf("[agent] edit from browser: %v", err)
		}
	})
}

func (a *agent) routes(uiDir string) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/text", a.handleText).Methods(http.MethodGet)
	r.HandleFunc("/edit", a.handleEdit).Methods(http.MethodPost)
	r.HandleFunc("/undo", a.handleUnredo(a.client.Undo)).Methods(http.MethodPost)
	r.HandleFunc("/redo", a.handleUnredo(a.client.Redo)).Methods(http.MethodPost)
	r.HandleFunc("/ws", a.handleWs)
	if uiDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(uiDir)))
	}
	return r
}

// startDiscovery announces this agent over mDNS and logs the other agents
// editing the same document.
func startDiscovery(ctx context.Context, docID, author string, port int) {
	host, _ := os.Hostname()
	instance := fmt.Sprintf("%s-%s-%s", "CollabText", host, author)
	if len(instance) > 63 {
		instance = instance[:63]
	}
	server, err := zeroconf.Register(
		instance,
		serviceName,
		"local.",
		port,
		[]string{"txtv=0", "doc=" + docID, "author=" + author},
		nil,
	)
	if err != nil {
		glog.Warningf("[agent] failed to register mDNS service: %v", err)
		return
	}
	defer server.Shutdown()
	glog.Infof("[agent] mDNS service registered: %s on port %d", serviceName, port)

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		glog.Warningf("[agent] failed to initialize mDNS resolver: %v", err)
		return
	}
	entries := make(chan *zeroconf.ServiceEntry)
	go func(results <-chan *zeroconf.ServiceEntry) {
		for entry := range results {
			if !hasTXT(entry.Text, "doc="+docID) || hasTXT(entry.Text, "author="+author) {
				continue
			}
			addr := "?"
			if len(entry.AddrIPv4) > 0 {
				addr = entry.AddrIPv4[0].String()
			}
			glog.Infof("[agent] mDNS discovered peer on %s: %s at %s:%d", docID, entry.Instance, addr, entry.Port)
		}
	}(entries)
	browseCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := resolver.Browse(browseCtx, serviceName, "local.", entries); err != nil {
		glog.Warningf("[agent] failed to browse for mDNS services: %v", err)
		return
	}
	<-browseCtx.Done()
	glog.V(1).Info("[agent] mDNS browsing finished")
	// Stay announced until shutdown.
	<-ctx.Done()
}

func hasTXT(records []string, want string) bool {
	for _, r := range records {
		if r == want {
			return true
		}
	}
	return false
}

// openStore picks the gateway when SERVER_URL is set and a local bolt file
// otherwise. The returned func releases it.
func openStore(ctx context.Context, docID string) (revlog.Store, func(), error) {
	if serverURL := os.Getenv("SERVER_URL"); serverURL != "" {
		url := strings.TrimSuffix(serverURL, "/") + "/docs/" + docID + "/ws"
		ws, err := store.DialWebSocket(ctx, url)
		if err != nil {
			return nil, nil, err
		}
		glog.Infof("[agent] following %s through %s", docID, url)
		return ws, ws.Close, nil
	}
	path := getenv("BOLT_PATH", "collabtext.bolt")
	db, err := store.OpenBolt(path)
	if err != nil {
		return nil, nil, err
	}
	bs, err := store.NewBoltStore(db, docID)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	glog.Infof("[agent] keeping %s in %s", docID, path)
	return bs, func() {
		bs.Close()
		db.Close()
	}, nil
}

func main() {
	flag.Parse()
	defer glog.Flush()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	docID := getenv("DOC_ID", "test-doc")
	author := getenv("AUTHOR_ID", uuid.NewString())
	addr := getenv("LISTEN_ADDR", ":8080")
	port, err := strconv.Atoi(addr[strings.LastIndex(addr, ":")+1:])
	if err != nil {
		glog.Fatalf("[agent] bad LISTEN_ADDR %q: %v", addr, err)
	}

	st, release, err := openStore(ctx, docID)
	if err != nil {
		glog.Fatalf("[agent] opening store: %v", err)
	}
	defer release()

	hub := newHub()
	go hub.run()
	a := newAgent(st, editor.Config{
		Author:      author,
		DefaultText: os.Getenv("DEFAULT_TEXT"),
		OnReady: func() {
			glog.Infof("[agent] %s ready on %s", author, docID)
		},
	}, hub)
	go func() {
		// TODO: redial the gateway and start a fresh session instead of
		// exiting when the connection drops.
		if err := a.client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			glog.Fatalf("[agent] session ended: %v", err)
		}
	}()
	go startDiscovery(ctx, docID, author, port)

	glog.Infof("[agent] CollabText agent is running on %s", addr)
	if err := http.ListenAndServe(addr, a.routes(getenv("UI_DIR", "../ui"))); err != nil {
		glog.Fatalf("[agent] failed to start server: %v", err)
	}
}
