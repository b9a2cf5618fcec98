// Copyright (C) 2025 Wayfarer, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"reflect"
	"strings"

	"github.com/spf13/viper"

	"github.com/wayfarerhq/tripcache/internal/tripcache"
)

// Config aggregates configuration for the service. Cache tunables are
// owned by the tripcache package; this only adds the wiring to the two
// external collaborators and the listen addresses.
type Config struct {
	Database DatabaseConfig   `mapstructure:"database"`
	KV       KVConfig         `mapstructure:"kv"`
	Cache    tripcache.Config `mapstructure:"cache"`
	Server   ServerConfig     `mapstructure:"server"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type KVConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
	// Memory switches to the in-process KV store. Local dev only.
	Memory bool `mapstructure:"memory"`
}

type ServerConfig struct {
	Addr       string `mapstructure:"addr"`
	HealthPort int    `mapstructure:"health_port"`
}

// Load reads configuration from files and environment variables.
// Environment variables use the prefix "TRIPCACHE" and the dot character
// in keys is replaced by an underscore. For example, "kv.token" becomes
// "TRIPCACHE_KV_TOKEN".
func Load() (*Config, error) {
	cfg := &Config{
		Cache: tripcache.DefaultConfig(),
		Server: ServerConfig{
			Addr:       ":8080",
			HealthPort: 8090,
		},
	}

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("TRIPCACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	_ = v.ReadInConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
