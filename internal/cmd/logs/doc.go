// Package logtools implements the offline archive inspection commands:
// printing decoded FIX messages out of archive directories and dumping
// raw term buffer files.
package logtools
