// Package migrations carries the embedded schema for the Postgres run store
// and the ClickHouse candle archive, plus runners that apply it on startup.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed postgres/*.sql
var PostgresFS embed.FS

//go:embed clickhouse/*.sql
var ClickhouseFS embed.FS

// sqlFiles lists the .sql entries under dir in lexical order, which is the
// order migrations are applied in.
func sqlFiles(fsys embed.FS, dir string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read embedded %s migrations: %w", dir, err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func readSQL(fsys embed.FS, dir, file string) (string, error) {
	data, err := fs.ReadFile(fsys, dir+"/"+file)
	if err != nil {
		return "", fmt.Errorf("read migration %s: %w", file, err)
	}
	return string(data), nil
}
