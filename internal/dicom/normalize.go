package dicom

import (
	"strconv"
	"strings"

	"dicom-router/internal/common/logging"
)

// MultiValueSeparator separates the items of a multi-valued tag
const MultiValueSeparator = `\`

// Normalize converts raw tag values into Attributes.
//
// Keys containing "Date" or "Time" are parsed as numbers and dropped with a
// warning when they do not parse. Other values containing a backslash become
// sequences, and everything else stays a string. A nil logger uses the global one.
func Normalize(raw map[string]string, logger logging.Logger) Attributes {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	attrs := make(Attributes, len(raw))
	for key, value := range raw {
		switch {
		case isTemporalKey(key):
			n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
			if err != nil {
				logger.Warn("Dropping attribute that is not numeric",
					logging.Field{Key: "attribute", Value: key},
					logging.Field{Key: "value", Value: value},
				)
				continue
			}
			attrs[key] = Number(n)
		case strings.Contains(value, MultiValueSeparator):
			attrs[key] = Sequence(strings.Split(value, MultiValueSeparator))
		default:
			attrs[key] = String(value)
		}
	}
	return attrs
}

func isTemporalKey(key string) bool {
	return strings.Contains(key, "Date") || strings.Contains(key, "Time")
}

// MergeTagGroups flattens tag groups into one map. Later groups win on conflicts,
// so pass study-level tags, then patient-level tags, then requested tags.
func MergeTagGroups(groups ...map[string]string) map[string]string {
	size := 0
	for _, g := range groups {
		size += len(g)
	}

	merged := make(map[string]string, size)
	for _, g := range groups {
		for k, v := range g {
			merged[k] = v
		}
	}
	return merged
}
