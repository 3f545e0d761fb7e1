package common

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/crypto/bcrypt"
)

const (
	NA       = "N/A"
	ENABLED  = "enabled"
	DISABLED = "disabled"
)

var (
	snowflakeNode *snowflake.Node
	snowflakeOnce sync.Once
)

// UUIDint64 returns a snowflake id suitable for database primary keys.
func UUIDint64() int64 {
	snowflakeOnce.Do(func() {
		var err error
		snowflakeNode, err = snowflake.NewNode(1)
		if err != nil {
			panic(err)
		}
	})
	return snowflakeNode.Generate().Int64()
}

// UUID returns a random 16 byte hex token.
func UUID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return hex.EncodeToString([]byte(time.Now().String()))[:32]
	}
	return hex.EncodeToString(buf)
}

// BcryptHash hashes a secret for storage. Panics only on cost
// misconfiguration, which cannot happen with DefaultCost.
func BcryptHash(plain string) string {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return string(hashed)
}

// BcryptCheck reports whether plain matches the stored bcrypt hash.
func BcryptCheck(hashed, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain)) == nil
}

func IfEmptyStr(src string, def string) string {
	if src == "" {
		return def
	}
	return src
}

// MustJSON renders v as a JSON string, empty object on failure.
func MustJSON(v interface{}) string {
	data, err := jsoniter.MarshalToString(v)
	if err != nil {
		return "{}"
	}
	return data
}

// FileExists reports whether path exists as a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// EnsureDir creates dir and parents when missing.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
