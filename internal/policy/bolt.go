package policy

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketName = []byte("policy")

	keyBypassChecks   = []byte("bypass_checks")
	keyForceDirectAPI = []byte("force_direct_api")
	keyOfflineMode    = []byte("offline_mode")
)

// BoltStore persists the flags in a bbolt bucket, one key per flag.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the policy database at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("policy: open db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("policy: create bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Load() (Policy, error) {
	var p Policy
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		p.BypassChecks = decodeBool(b.Get(keyBypassChecks))
		p.ForceDirectAPI = decodeBool(b.Get(keyForceDirectAPI))
		p.OfflineMode = decodeBool(b.Get(keyOfflineMode))
		return nil
	})
	if err != nil {
		return Policy{}, fmt.Errorf("policy: load: %w", err)
	}
	return p, nil
}

func (s *BoltStore) SetBypassChecks(v bool) error   { return s.put(keyBypassChecks, v) }
func (s *BoltStore) SetForceDirectAPI(v bool) error { return s.put(keyForceDirectAPI, v) }
func (s *BoltStore) SetOfflineMode(v bool) error    { return s.put(keyOfflineMode, v) }

func (s *BoltStore) put(key []byte, v bool) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(key, encodeBool(v))
	})
	if err != nil {
		return fmt.Errorf("policy: put %s: %w", key, err)
	}
	return nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func encodeBool(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

// decodeBool treats a missing key as false, the flag default.
func decodeBool(raw []byte) bool {
	return len(raw) == 1 && raw[0] == 1
}
