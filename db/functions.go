package db

// functions.go registers a REGEXP function with the sqlite driver as set
// out in the package docs for modernc.org/sqlite.RegisterFunction and
// modernc.org/sqlite.FunctionImpl. It is used by the catalog name search.

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"modernc.org/sqlite"
)

// regexpCacheSize caps the number of compiled patterns held; the cache is
// emptied when full.
const regexpCacheSize = 64

var (
	registerOnce sync.Once

	// regexps holds compiled patterns; searches repeat the same pattern
	// for every row of a query.
	regexps = regexpCache{patterns: map[string]*regexp.Regexp{}}
)

type regexpCache struct {
	mu       sync.Mutex
	patterns map[string]*regexp.Regexp
}

func (c *regexpCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.patterns)
}

// compile returns a cached compiled regular expression.
func compile(pattern string) (*regexp.Regexp, error) {
	regexps.mu.Lock()
	r, ok := regexps.patterns[pattern]
	regexps.mu.Unlock()
	if ok {
		return r, nil
	}
	r, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexps.mu.Lock()
	if len(regexps.patterns) >= regexpCacheSize {
		clear(regexps.patterns)
	}
	regexps.patterns[pattern] = r
	regexps.mu.Unlock()
	return r, nil
}

// RegisterFunctions registers the custom Go functions with the sqlite
// driver. `X REGEXP Y` in sql calls the function with the pattern Y as
// the first argument.
func RegisterFunctions() {
	registerOnce.Do(func() {
		sqlite.MustRegisterDeterministicScalarFunction(
			"REGEXP",
			2,
			func(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
				var pattern, s string

				switch arg0 := args[0].(type) {
				case string:
					pattern = arg0
				default:
					return nil, errors.New("expected argv[0] to be text")
				}

				switch arg1 := args[1].(type) {
				case string:
					s = arg1
				case nil:
					return false, nil
				default:
					return nil, errors.New("expected argv[1] to be text")
				}

				r, err := compile(pattern)
				if err != nil {
					return nil, fmt.Errorf("bad regular expression: %q", err)
				}
				return r.MatchString(s), nil
			},
		)
	})
}
