package store

import "github.com/antcode/antcode/pkg/store/postgres"

// Open resolves the Store implementation a composition root should use:
// BoltDB under dataDir when databaseURL is empty (the zero-dependency
// default), or Postgres otherwise.
func Open(databaseURL, dataDir string) (Store, error) {
	if databaseURL == "" {
		return NewBoltStore(dataDir)
	}
	return postgres.New(databaseURL)
}
