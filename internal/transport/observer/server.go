package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voxelgrid.ai/internal/observerproto"
	"voxelgrid.ai/internal/sim/encoding"
	"voxelgrid.ai/internal/sim/world"
	"voxelgrid.ai/internal/sim/world/coords"
)

const (
	defaultChunkRadius = 2
	maxChunkRadius     = 8
	defaultMaxChunks   = 512
	maxMaxChunks       = 4096

	// framesPerPublish bounds CHUNK frames per session per step; the rest
	// still differ by digest and go out on later steps.
	framesPerPublish = 64
)

type Server struct {
	world  *world.World
	params observerproto.WorldParams
	log    *log.Logger

	// AllowRemote lifts the loopback-only restriction.
	AllowRemote bool

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session
	lastPos  mgl32.Vec3
	hasPos   bool

	step     atomic.Uint64
	strategy atomic.Value // string
	dropped  atomic.Uint64
}

type session struct {
	id      string
	conn    *websocket.Conn
	tickOut chan []byte
	dataOut chan []byte

	mu        sync.Mutex
	closed    bool
	pos       mgl32.Vec3
	radius    int
	maxChunks int
	sent      map[coords.ChunkKey]uint64
}

func NewServer(w *world.World, params observerproto.WorldParams, logger *log.Logger) *Server {
	s := &Server{
		world:    w,
		params:   params,
		log:      logger,
		sessions: map[string]*session{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	s.strategy.Store(params.Strategy)
	return s
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.AllowRemote && !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		cat := s.world.Catalog()
		params := s.params
		params.Strategy = s.strategy.Load().(string)
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			Step:            s.step.Load(),
			WorldParams:     params,
			VoxelPalette:    cat.Palette(),
			VoxelDigest:     cat.Digest,
		}
		for _, d := range cat.Defs {
			resp.Voxels = append(resp.Voxels, observerproto.VoxelDef{
				ID:          d.ID,
				Name:        d.Name,
				Physics:     strings.ToUpper(d.Physics),
				Transparent: d.Transparent,
				Mass:        d.Mass,
			})
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.AllowRemote && !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, ok := parseSubscribe(msg)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sess := &session{
			id:      uuid.NewString(),
			conn:    conn,
			tickOut: make(chan []byte, 8),
			dataOut: make(chan []byte, 1024),
			sent:    map[coords.ChunkKey]uint64{},
		}
		sess.apply(sub)
		s.join(sess)
		defer s.leave(sess)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b, ok := <-sess.tickOut:
					if !ok {
						writeErr <- nil
						return
					}
					if err := writeText(conn, b); err != nil {
						writeErr <- err
						return
					}
				case b, ok := <-sess.dataOut:
					if !ok {
						writeErr <- nil
						return
					}
					if err := writeText(conn, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			sub, ok := parseSubscribe(msg)
			if !ok {
				continue
			}
			sess.mu.Lock()
			sess.apply(sub)
			sess.mu.Unlock()
			s.notePosition(sub)
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func writeText(conn *websocket.Conn, b []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func parseSubscribe(msg []byte) (observerproto.SubscribeMsg, bool) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, false
	}
	if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
		return sub, false
	}
	normalizeSubscribe(&sub)
	return sub, true
}

func normalizeSubscribe(sub *observerproto.SubscribeMsg) {
	if sub.ChunkRadius <= 0 {
		sub.ChunkRadius = defaultChunkRadius
	}
	if sub.ChunkRadius > maxChunkRadius {
		sub.ChunkRadius = maxChunkRadius
	}
	if sub.MaxChunks <= 0 {
		sub.MaxChunks = defaultMaxChunks
	}
	if sub.MaxChunks > maxMaxChunks {
		sub.MaxChunks = maxMaxChunks
	}
}

// apply must run with sess.mu held, or before the session is shared.
func (sess *session) apply(sub observerproto.SubscribeMsg) {
	sess.pos = mgl32.Vec3{sub.Position[0], sub.Position[1], sub.Position[2]}
	sess.radius = sub.ChunkRadius
	sess.maxChunks = sub.MaxChunks
}

func (s *Server) join(sess *session) {
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.lastPos = sess.pos
	s.hasPos = true
	s.mu.Unlock()
}

func (s *Server) notePosition(sub observerproto.SubscribeMsg) {
	s.mu.Lock()
	s.lastPos = mgl32.Vec3{sub.Position[0], sub.Position[1], sub.Position[2]}
	s.hasPos = true
	s.mu.Unlock()
}

func (s *Server) leave(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
	sess.close()
}

// drop forgets a session that fell behind and closes its connection, which
// ends the handler's read loop.
func (s *Server) drop(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
	if sess.conn != nil {
		_ = sess.conn.Close()
	}
}

func (sess *session) close() {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.closeLocked()
}

func (sess *session) closeLocked() {
	if sess.closed {
		return
	}
	sess.closed = true
	close(sess.tickOut)
	close(sess.dataOut)
}

// Reference returns the position from the most recent SUBSCRIBE.
func (s *Server) Reference() (mgl32.Vec3, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPos, s.hasPos
}

func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Dropped counts sessions closed for falling behind.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

// Publish sends the step summary to every session, then the chunks in each
// session's radius whose contents changed since they were last sent.
func (s *Server) Publish(tick observerproto.TickMsg) {
	tick.Type = observerproto.TypeTick
	tick.ProtocolVersion = observerproto.Version
	s.step.Store(tick.Step)
	if tick.Strategy != "" {
		s.strategy.Store(tick.Strategy)
	}
	b, err := json.Marshal(tick)
	if err != nil {
		return
	}

	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	frames := frameCache{w: s.world, step: tick.Step, frames: map[coords.ChunkKey][]byte{}}
	for _, sess := range sessions {
		if !s.publishTo(sess, b, &frames) {
			s.drop(sess)
			s.dropped.Add(1)
			if s.log != nil {
				s.log.Printf("observer %s: dropped slow consumer", sess.id)
			}
		}
	}
}

// publishTo reports false if the session was closed for being too slow.
func (s *Server) publishTo(sess *session, tick []byte, frames *frameCache) bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return true
	}
	sendLatest(sess.tickOut, tick)

	space := s.world.Space()
	want := map[coords.ChunkKey]bool{}
	for _, k := range coords.KeysInCube(space.ChunkKeyFromWorld(sess.pos), sess.radius) {
		if len(want) >= sess.maxChunks {
			break
		}
		if c, ok := s.world.GetChunk(k); ok && c.Loaded() {
			want[k] = true
		}
	}

	for k := range sess.sent {
		if want[k] {
			continue
		}
		delete(sess.sent, k)
		b, _ := json.Marshal(observerproto.ChunkUnloadMsg{
			Type:            observerproto.TypeChunkUnload,
			ProtocolVersion: observerproto.Version,
			Key:             [3]int{k.X, k.Y, k.Z},
		})
		if !trySend(sess.dataOut, b) {
			sess.closeLocked()
			return false
		}
	}

	budget := framesPerPublish
	for _, k := range sortedKeys(want) {
		if budget == 0 {
			break
		}
		d, err := s.world.Digest(k)
		if err != nil {
			continue
		}
		if prev, ok := sess.sent[k]; ok && prev == d {
			continue
		}
		b, d, ok := frames.get(k)
		if !ok {
			continue
		}
		if !trySend(sess.dataOut, b) {
			sess.closeLocked()
			return false
		}
		sess.sent[k] = d
		budget--
	}
	return true
}

// frameCache encodes each chunk at most once per Publish.
type frameCache struct {
	w      *world.World
	step   uint64
	frames map[coords.ChunkKey][]byte
	digest map[coords.ChunkKey]uint64
}

func (fc *frameCache) get(k coords.ChunkKey) ([]byte, uint64, bool) {
	if b, ok := fc.frames[k]; ok {
		return b, fc.digest[k], true
	}
	data, err := fc.w.Snapshot(k)
	if err != nil {
		return nil, 0, false
	}
	b, err := json.Marshal(observerproto.ChunkMsg{
		Type:            observerproto.TypeChunk,
		ProtocolVersion: observerproto.Version,
		Step:            fc.step,
		Key:             [3]int{k.X, k.Y, k.Z},
		Size:            fc.w.Space().ChunkSize,
		Encoding:        encoding.RLE,
		Data:            encoding.EncodeRLE(data.IDs),
		Digest:          fmt.Sprintf("%016x", data.Digest),
	})
	if err != nil {
		return nil, 0, false
	}
	if fc.digest == nil {
		fc.digest = map[coords.ChunkKey]uint64{}
	}
	fc.frames[k] = b
	fc.digest[k] = data.Digest
	return b, data.Digest, true
}

func sortedKeys(m map[coords.ChunkKey]bool) []coords.ChunkKey {
	out := make([]coords.ChunkKey, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	coords.SortKeys(out)
	return out
}

func trySend(ch chan []byte, b []byte) bool {
	select {
	case ch <- b:
		return true
	default:
		return false
	}
}

// sendLatest drops the oldest queued message when ch is full.
func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
