package keyreg

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	OwnerDefault   = "default"
	OwnerGenerated = "generated"

	tokenBytes = 16
)

type KeyRecord struct {
	Key       string    `json:"key"`
	OwnerTag  string    `json:"owner_tag"`
	CreatedAt time.Time `json:"created_at"`
	Active    bool      `json:"active"`
}

// Registry is the source of truth for stream keys. Entries are never deleted,
// deactivation is one-way.
type Registry struct {
	l    sync.Mutex
	keys map[string]*KeyRecord
}

func NewRegistry() *Registry {
	return &Registry{
		keys: make(map[string]*KeyRecord),
	}
}

func newToken() string {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		logrus.Panicf("cannot read random source %+v", err)
	}
	return hex.EncodeToString(b)
}

func (kr *Registry) Generate() string {
	kr.l.Lock()
	defer kr.l.Unlock()
	return kr.register(OwnerGenerated)
}

// register requires kr.l held.
func (kr *Registry) register(ownerTag string) string {
	key := newToken()
	kr.keys[key] = &KeyRecord{
		Key:       key,
		OwnerTag:  ownerTag,
		CreatedAt: time.Now(),
		Active:    true,
	}
	return key
}

func (kr *Registry) Validate(key string) bool {
	kr.l.Lock()
	defer kr.l.Unlock()
	rec, ok := kr.keys[key]
	return ok && rec.Active
}

// GetOrCreateDefault returns a stable key for the well-known default identity,
// creating it on first use.
func (kr *Registry) GetOrCreateDefault() string {
	kr.l.Lock()
	defer kr.l.Unlock()
	for _, rec := range kr.keys {
		if rec.OwnerTag == OwnerDefault {
			return rec.Key
		}
	}
	key := kr.register(OwnerDefault)
	logrus.WithField("stream_key", key).Info("created default stream key")
	return key
}

func (kr *Registry) Deactivate(key string) bool {
	kr.l.Lock()
	defer kr.l.Unlock()
	rec, ok := kr.keys[key]
	if !ok {
		return false
	}
	rec.Active = false
	return true
}

func (kr *Registry) ListAll() []KeyRecord {
	kr.l.Lock()
	defer kr.l.Unlock()
	result := make([]KeyRecord, 0, len(kr.keys))
	for _, rec := range kr.keys {
		result = append(result, *rec)
	}
	return result
}
