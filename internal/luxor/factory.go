package luxor

import (
	"strings"

	"github.com/rs/zerolog"
)

const namePrefixLen = 5

// New builds the client variant for a dialect. Unknown dialects get the base
// (ZD) client.
func New(kind Kind, opts Options) *Client {
	return newClient(dialectFor(kind), opts)
}

func dialectFor(kind Kind) Dialect {
	switch kind {
	case KindZDC:
		return zdc{}
	case KindZDTWO:
		return zdtwo{}
	default:
		return zd{}
	}
}

// KindFromName classifies a controller by the prefix of the name it reports.
// Unknown prefixes are treated as ZDTWO, the newest generation.
func KindFromName(name string, logger zerolog.Logger) Kind {
	prefix := strings.ToLower(name)
	if len(prefix) > namePrefixLen {
		prefix = prefix[:namePrefixLen]
	}

	switch prefix {
	case "luxor":
		return KindZD
	case "lxzdc":
		return KindZDC
	case "lxtwo":
		return KindZDTWO
	}

	logger.Warn().Str("name", name).Msg("Unrecognized controller name, assuming ZDTWO")
	return KindZDTWO
}
