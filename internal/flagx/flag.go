// Package flagx holds small helpers for layered configuration: picking
// the flags a component owns out of a shared argument list, locating the
// JSON config file, and overlaying environment variables.
package flagx

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"
)

// FilterArgs returns only the arguments in args that belong to one of
// allowedFlags, together with their values.
//
// Both "-f value" and "-f=value" forms are recognised. A value is only taken
// from the following argument when it does not itself start with "-".
func FilterArgs(args []string, allowedFlags []string) []string {
	allowed := make(map[string]struct{}, len(allowedFlags))
	for _, f := range allowedFlags {
		allowed[f] = struct{}{}
	}

	filtered := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]

		if name, _, found := strings.Cut(arg, "="); found && strings.HasPrefix(arg, "-") {
			if _, ok := allowed[name]; ok {
				filtered = append(filtered, arg)
			}
			continue
		}

		if _, ok := allowed[arg]; !ok {
			continue
		}
		filtered = append(filtered, arg)
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			filtered = append(filtered, args[i+1])
			i++
		}
	}

	return filtered
}

// ConfigFileFromArgs extracts the path given with -c or -config.
// It returns "" when neither is present.
func ConfigFileFromArgs(args []string) string {
	var config string

	fs := flag.NewFlagSet("json", flag.ContinueOnError)
	fs.SetOutput(discard{})
	fs.StringVar(&config, "config", "", "Path to config file")
	fs.StringVar(&config, "c", "", "Path to config file (short)")
	_ = fs.Parse(FilterArgs(args, []string{"-c", "-config", "--config"}))

	return config
}

// JsonConfigFlags is ConfigFileFromArgs applied to os.Args.
func JsonConfigFlags() string {
	return ConfigFileFromArgs(os.Args[1:])
}

// EnvString overwrites *dst with the variable prefix+name when it is set.
func EnvString(prefix, name string, dst *string) {
	if v, ok := os.LookupEnv(prefix + name); ok {
		*dst = v
	}
}

// EnvInt overwrites *dst with the integer variable prefix+name when it is
// set and parses. Unparseable values are ignored.
func EnvInt(prefix, name string, dst *int) {
	if v, ok := os.LookupEnv(prefix + name); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// EnvDuration accepts Go duration syntax ("90s", "5m").
func EnvDuration(prefix, name string, dst *time.Duration) {
	if v, ok := os.LookupEnv(prefix + name); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
