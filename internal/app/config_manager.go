package app

import (
	_ "embed"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"gorm.io/gorm"

	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/pkg/common"
)

//go:embed config_schemas.json
var configSchemasData []byte

// ConfigSchema describes one sys_config entry and its default.
type ConfigSchema struct {
	Key         string `json:"key"`
	Default     string `json:"default"`
	Description string `json:"description"`
}

type ConfigSchemasJSON struct {
	Schemas []ConfigSchema `json:"schemas"`
}

const configCacheTTL = 30 * time.Second

type cachedSetting struct {
	value string
	at    time.Time
}

// ConfigManager reads runtime settings from sys_config with a short
// cache in front, so hot paths do not hit the database per call.
type ConfigManager struct {
	provider DBProvider

	mu    sync.RWMutex
	cache map[string]cachedSetting
}

func NewConfigManager(provider DBProvider) *ConfigManager {
	return &ConfigManager{
		provider: provider,
		cache:    make(map[string]cachedSetting),
	}
}

// GetString returns the setting value, empty when missing.
func (m *ConfigManager) GetString(category, name string) string {
	key := category + "." + name

	m.mu.RLock()
	if c, ok := m.cache[key]; ok && time.Since(c.at) < configCacheTTL {
		m.mu.RUnlock()
		return c.value
	}
	m.mu.RUnlock()

	var row domain.SysConfig
	err := m.provider.DB().
		Where("type = ? and name = ?", category, name).
		First(&row).Error
	if err != nil {
		return ""
	}

	m.mu.Lock()
	m.cache[key] = cachedSetting{value: row.Value, at: time.Now()}
	m.mu.Unlock()
	return row.Value
}

func (m *ConfigManager) GetInt(category, name string) int {
	return cast.ToInt(m.GetString(category, name))
}

func (m *ConfigManager) GetInt64(category, name string) int64 {
	return cast.ToInt64(m.GetString(category, name))
}

func (m *ConfigManager) GetBool(category, name string) bool {
	return cast.ToBool(m.GetString(category, name))
}

// Set upserts a setting and refreshes the cache entry.
func (m *ConfigManager) Set(category, name string, value interface{}) error {
	str := cast.ToString(value)

	db := m.provider.DB()
	var row domain.SysConfig
	err := db.Where("type = ? and name = ?", category, name).First(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		err = db.Create(&domain.SysConfig{
			ID:    common.UUIDint64(),
			Type:  category,
			Name:  name,
			Value: str,
		}).Error
	case err == nil:
		err = db.Model(&domain.SysConfig{}).
			Where("id = ?", row.ID).
			Update("value", str).Error
	}
	if err != nil {
		return errors.Wrapf(err, "save setting %s.%s", category, name)
	}

	m.mu.Lock()
	m.cache[category+"."+name] = cachedSetting{value: str, at: time.Now()}
	m.mu.Unlock()
	return nil
}

// Load decodes an entire category into a struct with mapstructure
// tags. Missing settings leave the destination fields untouched.
func (m *ConfigManager) Load(category string, dst interface{}) error {
	var rows []domain.SysConfig
	if err := m.provider.DB().Where("type = ?", category).Find(&rows).Error; err != nil {
		return errors.Wrapf(err, "load settings %s", category)
	}

	values := make(map[string]interface{}, len(rows))
	for _, row := range rows {
		values[row.Name] = row.Value
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           dst,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return errors.Wrap(err, "build settings decoder")
	}
	return decoder.Decode(values)
}

// Invalidate drops one cached entry, forcing a database read.
func (m *ConfigManager) Invalidate(category, name string) {
	m.mu.Lock()
	delete(m.cache, category+"."+name)
	m.mu.Unlock()
}
