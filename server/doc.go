/*
Package server provides the web interface of n5ng: the neuroglancer precomputed routes
over one array store, plus /api/help, /api/server/info, /metrics and optional
/profiler endpoints.

Configuration comes from a TOML file with [server], [store], [precomputed], [mesh],
[cache], [logging] and [kafka] sections.  See DefaultConfig for the defaults used when
a section or setting is missing.

Each handled request can be published as a JSON activity record to kafka when
[kafka].servers is set.
*/
package server
