// Package hub fans live position updates out to subscribers. Each vehicle
// gets its own actor goroutine with a mailbox, so all subscribe, publish,
// and disconnect handling for one vehicle is serialized while different
// vehicles share nothing. Hubs are addressed by an FNV-64a hash of the
// canonicalized external vehicle id.
package hub

import (
	"encoding/json"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"fleettrack/internal/domain"
	"fleettrack/internal/metrics"
)

const (
	shardCount  = 16
	mailboxSize = 64
)

var (
	ErrMissingVehicle = errors.New("vehicle id is required")
	ErrHubBusy        = errors.New("broadcast hub mailbox full")
)

// Conn is one live subscriber connection. Writes must be safe to call from
// the hub goroutine only; the hub closes and drops a conn on the first
// failed write.
type Conn interface {
	WriteMessage(data []byte) error
	Close() error
}

type Registry struct {
	log    *logrus.Logger
	shards [shardCount]*shard
}

type shard struct {
	mu   sync.Mutex
	hubs map[string]*vehicleHub
}

func NewRegistry(log *logrus.Logger) *Registry {
	r := &Registry{log: log}
	for i := range r.shards {
		r.shards[i] = &shard{hubs: make(map[string]*vehicleHub)}
	}
	return r
}

// CanonicalKey normalizes external vehicle ids before hashing so aliasing
// differences in case or whitespace land on the same hub.
func CanonicalKey(vehicleID string) string {
	return strings.ToLower(strings.TrimSpace(vehicleID))
}

func (r *Registry) shardFor(key string) *shard {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return r.shards[h.Sum64()%shardCount]
}

// Subscribe registers a live connection on the vehicle's hub, creating the
// hub if this is its first subscriber, and returns the connection's opaque
// id. The hub sends the initial acknowledgement from its own goroutine.
func (r *Registry) Subscribe(vehicleID string, conn Conn) (string, error) {
	if strings.TrimSpace(vehicleID) == "" {
		return "", ErrMissingVehicle
	}
	id := uuid.NewString()
	if !r.enqueue(vehicleID, op{kind: opSubscribe, id: id, conn: conn}, true) {
		return "", ErrHubBusy
	}
	return id, nil
}

// Unsubscribe removes a connection immediately; no publish after this
// reaches it. Unknown ids and vehicles are no-ops.
func (r *Registry) Unsubscribe(vehicleID, id string) {
	r.enqueue(vehicleID, op{kind: opUnsubscribe, id: id}, false)
}

// Publish fans the point out to every current subscriber of the vehicle.
// Fire-and-forget: no hub, a full mailbox, or failing subscribers never
// block or fail the ingestion path.
func (r *Registry) Publish(vehicleID string, p domain.GpsPoint) {
	payload, err := json.Marshal(updateEvent{
		Type:      "position",
		VehicleID: vehicleID,
		Point:     p,
	})
	if err != nil {
		r.log.WithError(err).Error("marshal position update")
		return
	}
	if !r.enqueue(vehicleID, op{kind: opPublish, payload: payload}, false) {
		metrics.BroadcastDrops.Add(1)
	}
}

type opKind int

const (
	opSubscribe opKind = iota
	opUnsubscribe
	opPublish
)

type op struct {
	kind    opKind
	id      string
	conn    Conn
	payload []byte
}

type updateEvent struct {
	Type      string          `json:"type"`
	VehicleID string          `json:"vehicle_id"`
	Point     domain.GpsPoint `json:"point"`
}

type connectedAck struct {
	Type      string `json:"type"`
	VehicleID string `json:"vehicle_id"`
	ServerMS  int64  `json:"server_time_ms"`
}

// enqueue delivers an op to the vehicle's hub, creating it when asked. The
// shard mutex covers both hub lookup/creation and the mailbox send, so an
// op can never land on an actor that has already deregistered itself.
func (r *Registry) enqueue(vehicleID string, o op, create bool) bool {
	key := CanonicalKey(vehicleID)
	if key == "" {
		return false
	}
	sh := r.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	h, ok := sh.hubs[key]
	if !ok {
		if !create {
			// No hub means no subscribers: publish and unsubscribe are
			// successful no-ops.
			return true
		}
		h = &vehicleHub{
			vehicle: key,
			mailbox: make(chan op, mailboxSize),
			subs:    make(map[string]Conn),
			sh:      sh,
			log:     r.log,
		}
		sh.hubs[key] = h
		go h.run()
	}

	select {
	case h.mailbox <- o:
		return true
	default:
		return false
	}
}

type vehicleHub struct {
	vehicle string
	mailbox chan op
	subs    map[string]Conn
	sh      *shard
	log     *logrus.Logger
}

func (h *vehicleHub) run() {
	for o := range h.mailbox {
		switch o.kind {
		case opSubscribe:
			h.subscribe(o.id, o.conn)
		case opUnsubscribe:
			h.drop(o.id)
		case opPublish:
			h.broadcast(o.payload)
		}

		// Last disconnect: deregister and exit, unless more ops raced in.
		if len(h.subs) == 0 && h.tryStop() {
			return
		}
	}
}

func (h *vehicleHub) subscribe(id string, conn Conn) {
	ack, err := json.Marshal(connectedAck{
		Type:      "connected",
		VehicleID: h.vehicle,
		ServerMS:  time.Now().UnixMilli(),
	})
	if err == nil {
		err = conn.WriteMessage(ack)
	}
	if err != nil {
		h.log.WithError(err).WithField("vehicle", h.vehicle).
			Warn("subscriber ack failed, dropping connection")
		conn.Close()
		return
	}
	h.subs[id] = conn
	metrics.LiveSubscribers.Add(1)
}

func (h *vehicleHub) drop(id string) {
	conn, ok := h.subs[id]
	if !ok {
		return
	}
	conn.Close()
	delete(h.subs, id)
	metrics.LiveSubscribers.Add(-1)
}

// broadcast delivers to each subscriber independently: one failing
// connection is closed and removed without touching the rest.
func (h *vehicleHub) broadcast(payload []byte) {
	for id, conn := range h.subs {
		if err := conn.WriteMessage(payload); err != nil {
			h.log.WithError(err).WithField("vehicle", h.vehicle).
				Debug("subscriber write failed, dropping connection")
			conn.Close()
			delete(h.subs, id)
			metrics.LiveSubscribers.Add(-1)
		}
	}
}

// tryStop deregisters the hub under the shard mutex. Enqueue holds the
// same mutex for its mailbox send, so a non-empty mailbox here means an op
// raced in and the actor must keep running.
func (h *vehicleHub) tryStop() bool {
	h.sh.mu.Lock()
	defer h.sh.mu.Unlock()
	if len(h.mailbox) > 0 {
		return false
	}
	delete(h.sh.hubs, h.vehicle)
	return true
}
