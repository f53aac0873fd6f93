package n5ng

import "github.com/blang/semver"

// Version is the server version reported by /api/server/info.
var Version = semver.MustParse("0.4.0")
