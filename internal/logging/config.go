package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

const envVar = "LOGLEVEL"

type tagLevel struct {
	tag   string
	level Level
}

var (
	tagLevelsMu sync.RWMutex
	tagLevels   []tagLevel
)

func init() {
	// Parse environment variable into comma-separated "tag=level" directives.
	// If "tag=" is absent, use the level as the default.
	if err := ParseDirectives(os.Getenv(envVar)); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", envVar, err)
	}
}

// ParseDirectives applies a LOGLEVEL-style directive string such as
// "debug,ingest=trace,signaling=warn". Levels are resolved on every message,
// so existing loggers follow the change.
func ParseDirectives(s string) error {
	for _, d := range strings.Split(s, ",") {
		if d == "" {
			continue
		}
		v := strings.SplitN(d, "=", 2)
		level, err := ParseLevel(v[len(v)-1])
		if err != nil {
			return fmt.Errorf("directive '%s': %v", d, err)
		}
		if len(v) == 1 {
			SetDefaultLevel(level)
		} else {
			SetTagLevel(v[0], level)
		}
	}
	return nil
}

// SetDefaultLevel changes the level of every logger that has neither a tag
// directive nor a level of its own.
func SetDefaultLevel(level Level) {
	tagLevelsMu.Lock()
	defaultLevel = level
	tagLevelsMu.Unlock()
}

// SetTagLevel overrides the level for loggers derived with the given tag.
func SetTagLevel(tag string, level Level) {
	tagLevelsMu.Lock()
	defer tagLevelsMu.Unlock()
	for i := range tagLevels {
		if tagLevels[i].tag == tag {
			tagLevels[i].level = level
			return
		}
	}
	tagLevels = append(tagLevels, tagLevel{tag, level})
}

// determineLevel resolves the effective level for a tag. A tag directive wins
// over the logger's own level, which wins over the default.
func determineLevel(tag string, own *Level) Level {
	tagLevelsMu.RLock()
	defer tagLevelsMu.RUnlock()
	for _, e := range tagLevels {
		if e.tag == tag {
			return e.level
		}
	}
	if own != nil {
		return *own
	}
	return defaultLevel
}
