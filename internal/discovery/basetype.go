// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package discovery

import (
	"strings"

	"github.com/tomtom215/athletesync/internal/models"
)

// BaseType maps a remote activity type (e.g. "VirtualRide", "TrailRun") to
// its base type. Unknown types map to "".
func BaseType(activityType string) models.BaseType {
	switch {
	case strings.Contains(activityType, "Ride"):
		return models.BaseTypeRide
	case strings.Contains(activityType, "Run"),
		strings.Contains(activityType, "Hike"),
		strings.Contains(activityType, "Walk"):
		return models.BaseTypeRun
	case strings.Contains(activityType, "Swim"):
		return models.BaseTypeSwim
	}
	return ""
}
