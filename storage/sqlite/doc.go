// Package sqlite provides a SQLite storage backend built on the pure Go
// modernc.org/sqlite driver.
//
// Store implements storage.Adapter together with refresh tokens, token family
// revocation and assertion replay detection. Single-use consumption of codes
// and refresh tokens is a conditional UPDATE ... RETURNING, so concurrent
// requests race inside SQLite and exactly one of them wins.
//
//	store, err := sqlite.Open("/var/lib/oauth/oauth.db")
//	if err != nil {
//		return err
//	}
//	defer store.Close()
package sqlite
