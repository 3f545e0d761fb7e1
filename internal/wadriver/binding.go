package wadriver

import (
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var bindingBucket = []byte("tenant_bindings")

// bindingIndex maps tenants to their paired WhatsApp JID. The postgres
// device store holds every device in one table, so the index is what
// ties a device row back to a tenant. For sqlite stores it is kept as
// a pairing record for diagnostics.
type bindingIndex struct {
	db *bolt.DB
}

func openBindingIndex(path string) (*bindingIndex, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 3 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "open binding index")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bindingBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "init binding index")
	}
	return &bindingIndex{db: db}, nil
}

func (b *bindingIndex) put(tenant, jid string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bindingBucket).Put([]byte(tenant), []byte(jid))
	})
}

func (b *bindingIndex) get(tenant string) string {
	var jid string
	_ = b.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bindingBucket).Get([]byte(tenant)); v != nil {
			jid = string(v)
		}
		return nil
	})
	return jid
}

func (b *bindingIndex) delete(tenant string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bindingBucket).Delete([]byte(tenant))
	})
}

func (b *bindingIndex) close() error {
	return b.db.Close()
}
