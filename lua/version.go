// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package lua

// Version number.
const (
	VersionNum        = 504
	VersionReleaseNum = 50404
)

// Version strings.
const (
	// Version is the version string without the final "release" number.
	Version = "Lua 5.4"
	// Release is the full version string.
	Release = "Lua 5.4.4"
	// Copyright is the full version string with a copyright notice.
	Copyright = Release + "  Copyright (C) 1994-2023 Lua.org, PUC-Rio"
	// Authors is a string listing the authors of Lua.
	Authors = "R. Ierusalimschy, L. H. de Figueiredo, W. Celes"

	VersionMajor   = "5"
	VersionMinor   = "4"
	VersionRelease = "4"
)
