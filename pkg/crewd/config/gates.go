package config

import (
	"fmt"
	"os"
	"strconv"
)

// Feature gate variables. Both must be truthy for any command beyond
// init/help to proceed. Two independent switches: EnvEnabled is the master
// toggle for crewd itself, EnvFleetOK acknowledges that spawning a fleet of
// autonomous agents against the repository is intended.
const (
	EnvEnabled = "CREWD_ENABLED"
	EnvFleetOK = "CREWD_FLEET_OK"
)

// GateError describes a missing feature gate, including the remediation.
type GateError struct {
	Variable string
}

func (e *GateError) Error() string {
	return fmt.Sprintf("%s is not enabled; set %s=1 (for example in .env) to use crewd", e.Variable, e.Variable)
}

// CheckGates verifies both feature gates. Returns a *GateError naming the
// first missing gate so the CLI can print an actionable diagnostic.
func CheckGates() error {
	for _, name := range []string{EnvEnabled, EnvFleetOK} {
		v, ok := os.LookupEnv(name)
		if !ok {
			return &GateError{Variable: name}
		}
		enabled, err := strconv.ParseBool(v)
		if err != nil || !enabled {
			return &GateError{Variable: name}
		}
	}
	return nil
}
