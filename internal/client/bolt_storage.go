package client

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

var credentialsBucket = []byte("credentials")

const (
	defaultPollInterval = time.Second
	defaultLockTimeout  = 2 * time.Second
)

// slotRecord is the persisted form of one key. Removal leaves a tombstone
// so watchers can tell who cleared the slot.
type slotRecord struct {
	Value     string `json:"value"`
	Origin    string `json:"origin"`
	UpdatedAt int64  `json:"updatedAt"`
}

// BoltStorage persists the slot in a BBolt file so separate processes
// share one session. The file is opened per operation because bbolt holds
// an exclusive lock while open; watchers poll for foreign writes.
type BoltStorage struct {
	path         string
	pollInterval time.Duration
	lockTimeout  time.Duration
}

var _ Storage = (*BoltStorage)(nil)

// BoltOption customises a BoltStorage.
type BoltOption func(*BoltStorage)

// WithPollInterval sets how often subscribers re-read the file.
func WithPollInterval(d time.Duration) BoltOption {
	return func(s *BoltStorage) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// NewBoltStorage prepares the file at path, creating the bucket.
func NewBoltStorage(path string, opts ...BoltOption) (*BoltStorage, error) {
	s := &BoltStorage{
		path:         path,
		pollInterval: defaultPollInterval,
		lockTimeout:  defaultLockTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	err := s.update(func(b *bbolt.Bucket) error { return nil })
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *BoltStorage) open(readOnly bool) (*bbolt.DB, error) {
	db, err := bbolt.Open(s.path, 0600, &bbolt.Options{Timeout: s.lockTimeout, ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("opening credential store: %w", err)
	}
	return db, nil
}

func (s *BoltStorage) update(fn func(b *bbolt.Bucket) error) error {
	db, err := s.open(false)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(credentialsBucket)
		if err != nil {
			return err
		}
		return fn(b)
	})
}

func (s *BoltStorage) read(key string) (slotRecord, bool, error) {
	var rec slotRecord
	var found bool

	db, err := s.open(true)
	if err != nil {
		return rec, false, err
	}
	defer db.Close()

	err = db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(credentialsBucket)
		if b == nil {
			return nil
		}
		data := b.Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	return rec, found, err
}

func (s *BoltStorage) put(origin, key, value string) error {
	data, err := json.Marshal(slotRecord{Value: value, Origin: origin, UpdatedAt: time.Now().UnixNano()})
	if err != nil {
		return err
	}
	return s.update(func(b *bbolt.Bucket) error {
		return b.Put([]byte(key), data)
	})
}

func (s *BoltStorage) Get(key string) (string, bool, error) {
	rec, found, err := s.read(key)
	if err != nil || !found || rec.Value == "" {
		return "", false, err
	}
	return rec.Value, true, nil
}

func (s *BoltStorage) Set(origin, key, value string) error {
	return s.put(origin, key, value)
}

func (s *BoltStorage) Delete(origin, key string) error {
	rec, found, err := s.read(key)
	if err != nil {
		return err
	}
	if !found || rec.Value == "" {
		return nil
	}
	return s.put(origin, key, "")
}

// Subscribe polls the credential slot and reports changes written by
// other origins. Only SlotKey is watched.
func (s *BoltStorage) Subscribe(origin string) (<-chan Change, func()) {
	ch := make(chan Change, 8)
	done := make(chan struct{})
	var wg sync.WaitGroup

	last := map[string]slotRecord{}
	if rec, found, err := s.read(SlotKey); err == nil && found {
		last[SlotKey] = rec
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(ch)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}
			rec, found, err := s.read(SlotKey)
			if err != nil {
				// usually a writer holding the lock; retry next tick
				continue
			}
			if !found || rec == last[SlotKey] {
				continue
			}
			prev := last[SlotKey]
			last[SlotKey] = rec
			if rec.Origin == origin || (rec.Value == "" && prev.Value == "") {
				continue
			}
			select {
			case ch <- Change{Key: SlotKey, Value: rec.Value, Origin: rec.Origin}:
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}
