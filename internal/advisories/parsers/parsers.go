package parsers

import (
	"encoding/json"
	"time"

	"github.com/RobsonDevCode/advidex/internal/advisories/models"
)

// Parser turns one raw feed record into the canonical advisory shape, or
// rejects it with a typed reason. Parsers are pure: fetching is someone
// else's job.
type Parser interface {
	Source() string
	Parse(raw json.RawMessage) (*models.Advisory, error)
}

var registry = map[string]Parser{}

func register(parser Parser) {
	registry[parser.Source()] = parser
}

// Get returns the parser registered for the given feed format.
func Get(format string) (Parser, bool) {
	parser, ok := registry[format]
	return parser, ok
}

func init() {
	register(CVE{})
	register(NVD{})
	register(GitHub{})
	register(GitLab{})
	register(GSD{})
}

// stringList tolerates feeds that serialize a field as either a single
// string or an array of strings.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = stringList{single}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04Z",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(value string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}
