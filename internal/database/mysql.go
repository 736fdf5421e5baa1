package database

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func openMySQL(cfg Config) (*gorm.DB, error) {
	dsn, err := mysqlDSN(cfg)
	if err != nil {
		return nil, err
	}
	return gorm.Open(mysql.Open(dsn), &gorm.Config{})
}

func mysqlDSN(cfg Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}

	if cfg.User == "" || cfg.Name == "" {
		return "", errors.New("mysql configuration requires user and database name")
	}

	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port == 0 {
		port = 3306
	}

	var b strings.Builder
	b.WriteString(cfg.User)
	if cfg.Password != "" {
		b.WriteByte(':')
		b.WriteString(cfg.Password)
	}
	fmt.Fprintf(&b, "@tcp(%s:%d)/%s?", host, port, cfg.Name)
	b.WriteString(mysqlOptions(cfg.Options))

	return b.String(), nil
}

// mysqlOptions merges caller options over the defaults and renders them in a
// stable order so DSNs compare equal across restarts.
func mysqlOptions(overrides map[string]string) string {
	opts := map[string]string{
		"charset":   "utf8mb4",
		"parseTime": "True",
		"loc":       "Local",
	}
	for key, value := range overrides {
		opts[key] = value
	}

	keys := make([]string, 0, len(opts))
	for key := range opts {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, key := range keys {
		pairs[i] = key + "=" + url.QueryEscape(opts[key])
	}
	return strings.Join(pairs, "&")
}
