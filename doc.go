// geocompare is a service which resolves geolocation of IPv4 addresses
// with three interchangeable backends and compares them side by side.
//
// Backends are:
//
// mmdb
//
// A local MaxMind DB file. It is read once on the first lookup and kept
// in memory.
//
// table
//
// A relational table (PostgreSQL or SQLite) which is materialized from
// mmdb with 'import' command. Use 'verify' to check how well it mirrors
// the binary database.
//
// remote
//
// MaxMind GeoIP2 City web service. It requires an account id and a
// license key.
//
// A backend without configuration is not an error: it is reported as
// disabled. Core logic lives in geolib package, backends are in
// backends package. This package wires them into CLI and HTTP API.
package main
