package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Difficulty is a named variant of the same map content.
// Numeric values follow the client's difficulty table.
type Difficulty uint8

const (
	DifficultyNormal         Difficulty = 1
	DifficultyHeroic         Difficulty = 2
	DifficultyRaid10Normal   Difficulty = 3
	DifficultyRaid25Normal   Difficulty = 4
	DifficultyRaid10Heroic   Difficulty = 5
	DifficultyRaid25Heroic   Difficulty = 6
	DifficultyRaidFinder     Difficulty = 7
	DifficultyMythic         Difficulty = 16
	DifficultyMythicKeystone Difficulty = 23
)

var difficultyNames = map[Difficulty]string{
	DifficultyNormal:         "normal",
	DifficultyHeroic:         "heroic",
	DifficultyRaid10Normal:   "10n",
	DifficultyRaid25Normal:   "25n",
	DifficultyRaid10Heroic:   "10h",
	DifficultyRaid25Heroic:   "25h",
	DifficultyRaidFinder:     "lfr",
	DifficultyMythic:         "mythic",
	DifficultyMythicKeystone: "mythic-keystone",
}

func (d Difficulty) String() string {
	if name, ok := difficultyNames[d]; ok {
		return name
	}
	return strconv.Itoa(int(d))
}

// ParseDifficulty accepts a difficulty name (case-insensitive) or its number.
func ParseDifficulty(s string) (Difficulty, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	for d, name := range difficultyNames {
		if name == s {
			return d, nil
		}
	}
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid difficulty %q", s)
	}
	return Difficulty(n), nil
}

// UnmarshalYAML lets config files use difficulty names.
func (d *Difficulty) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseDifficulty(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
