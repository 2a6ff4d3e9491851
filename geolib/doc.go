// This package provides a set of structs and functions which are used
// to geolocate IPv4 addresses with several backends and to compare
// their answers.
//
// geolib is core of the geocompare project. Backends themselves live in
// a separate package: geolib knows only Backend and Store interfaces.
//
// Comparator is a main entity of the geolib. It asks all backends
// about the same address in parallel, measures their timings and
// builds ComparisonReport: which backend was the fastest, how big a
// difference in timings is and whether backends agree on a location.
// It can also do a sequential lookup where the first backend with data
// wins.
//
// Importer materializes answers of a binary database into a relational
// table. Addresses are produced by a list of CandidateStrategy
// implementations, each distinct address is imported exactly once.
//
// NewHTTPHandler exposes both lookups and comparisons as HTTP API.
package geolib
