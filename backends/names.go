// Package backends has geolib.Backend implementations: a local MaxMind
// DB file, a relational table and MaxMind web service.
package backends

const (
	// Identifier of the local binary (mmdb) database.
	NameMMDB = "mmdb"

	// Identifier of the relational table materialized from mmdb.
	NameTable = "table"

	// Identifier of MaxMind GeoIP2 web service.
	NameRemote = "remote"
)
