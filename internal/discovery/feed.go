// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

/*
feed.go - Peer Interval Feed Parser

The remote service only exposes other athletes' history as a monthly HTML
feed embedded in a JavaScript response:

	jQuery('#interval-rides').html("<div class=\'feed-entry activity\' ...>...");

The HTML is never rendered. Entries are located with regular expressions
over the escaped markup, so attribute quotes appear as \' or \".

Entry Handling:
  - "activity" entries yield one activity
  - "group-activity" entries contain one <li class="feed-entry"> per
    participant; only the sub entry belonging to the scanned athlete is used
  - The sport comes from the first matching icon class
  - The timestamp comes from <time datetime='YYYY-MM-DD HH:MM:SS UTC'>,
    falling back to the first day of the scanned month
*/

//nolint:staticcheck // File documentation, not package doc
package discovery

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/athletesync/internal/logging"
	"github.com/tomtom215/athletesync/internal/models"
)

// ErrUnrecognizedFeed is returned when the feed body has no entry list.
var ErrUnrecognizedFeed = errors.New("unrecognized interval feed")

// attrSep matches the delimiter around a class name in escaped markup.
const attrSep = `(?: |\\"|\\')`

var activityIcons = []struct {
	class    string
	baseType models.BaseType
}{
	{"icon-run", models.BaseTypeRun},
	{"icon-hike", models.BaseTypeRun},
	{"icon-walk", models.BaseTypeRun},
	{"icon-ride", models.BaseTypeRide},
	{"icon-virtualride", models.BaseTypeRide},
	{"icon-swim", models.BaseTypeSwim},
	{"icon-alpineski", models.BaseTypeSki},
	{"icon-nordicski", models.BaseTypeSki},
	{"icon-backcountryski", models.BaseTypeSki},
	{"icon-ebikeride", models.BaseTypeEBike},
	{"icon-workout", models.BaseTypeWorkout},
	{"icon-standuppaddling", models.BaseTypeWorkout},
	{"icon-yoga", models.BaseTypeWorkout},
	{"icon-snowshoe", models.BaseTypeWorkout},
}

func tagWithClass(tag, class string) string {
	return `<` + tag + ` [^>]*?` + attrSep + regexp.QuoteMeta(class) + attrSep
}

var (
	feedBodyRegexp      = regexp.MustCompile(`jQuery\('#interval-rides'\)\.html\((.*)\)`)
	feedEntryRegexp     = regexp.MustCompile(tagWithClass("div", "feed-entry"))
	subEntryRegexp      = regexp.MustCompile(tagWithClass("li", "feed-entry"))
	activityRegexp      = regexp.MustCompile(`^[^>]*?` + attrSep + `activity` + attrSep)
	groupActivityRegexp = regexp.MustCompile(`^[^>]*?` + attrSep + `group-activity` + attrSep)
	timeRegexp          = regexp.MustCompile(`<time [^>]*?datetime=\\'(.*?)\\'`)
	entryAthleteRegexp  = regexp.MustCompile(`<a [^>]*?entry-athlete[^>]*? href=\\'/(?:athletes|pros)/([0-9]+)\\'`)
	activityIDRegexp    = regexp.MustCompile(`id=\\'Activity-([0-9]+)\\'`)
	iconRegexps         = compileIconRegexps()
)

func compileIconRegexps() []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(activityIcons))
	for i, icon := range activityIcons {
		out[i] = regexp.MustCompile(tagWithClass("span", icon.class))
	}
	return out
}

// splitAt splits s into chunks that each start at a match of re.
func splitAt(s string, re *regexp.Regexp) []string {
	locs := re.FindAllStringIndex(s, -1)
	out := make([]string, 0, len(locs))
	for i, loc := range locs {
		end := len(s)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		out = append(out, s[loc[0]:end])
	}
	return out
}

// ParseIntervalFeed extracts the athlete's activities from one month of the
// interval feed.
func ParseIntervalFeed(body string, athlete int64, year, month int) ([]*models.Activity, error) {
	m := feedBodyRegexp.FindStringSubmatch(body)
	if m == nil {
		return nil, fmt.Errorf("%w for athlete %d %d-%02d", ErrUnrecognizedFeed, athlete, year, month)
	}
	log := logging.With().Int64("athlete_id", athlete).Int("year", year).Int("month", month).Logger()

	var out []*models.Activity
	for _, entry := range splitAt(m[1], feedEntryRegexp) {
		isGroup := false
		if !activityRegexp.MatchString(entry) {
			if !groupActivityRegexp.MatchString(entry) {
				continue
			}
			isGroup = true
		}

		baseType := entryBaseType(entry)
		if baseType == "" {
			log.Warn().Msg("Unhandled activity type in feed entry")
			baseType = models.BaseTypeWorkout
		}

		ts := entryTimestamp(entry)
		if ts == 0 {
			log.Warn().Msg("Unable to get timestamp from feed entry")
			ts = time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC).UnixMilli()
		}

		var idMatch []string
		if isGroup {
			for _, sub := range splitAt(entry, subEntryRegexp) {
				am := entryAthleteRegexp.FindStringSubmatch(sub)
				if am == nil {
					log.Warn().Msg("Unable to get athlete ID from feed sub entry")
					continue
				}
				if am[1] != strconv.FormatInt(athlete, 10) {
					continue
				}
				idMatch = activityIDRegexp.FindStringSubmatch(sub)
				break
			}
			if idMatch == nil {
				log.Warn().Msg("Group activity has no entry for this athlete")
				continue
			}
		} else {
			idMatch = activityIDRegexp.FindStringSubmatch(entry)
		}
		if idMatch == nil {
			log.Warn().Msg("Unable to get activity ID from feed entry")
			continue
		}

		id, err := strconv.ParseInt(idMatch[1], 10, 64)
		if err != nil {
			continue
		}
		out = append(out, &models.Activity{
			ID:       id,
			Athlete:  athlete,
			TS:       ts,
			BaseType: baseType,
		})
	}
	return out, nil
}

func entryBaseType(entry string) models.BaseType {
	for i, re := range iconRegexps {
		if re.MatchString(entry) {
			return activityIcons[i].baseType
		}
	}
	return ""
}

func entryTimestamp(entry string) int64 {
	m := timeRegexp.FindStringSubmatch(entry)
	if m == nil {
		return 0
	}
	raw := strings.TrimSpace(m[1])
	for _, layout := range []string{"2006-01-02 15:04:05 MST", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UnixMilli()
		}
	}
	return 0
}
