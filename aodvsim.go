package aodvsim

// aodvsim.go holds the simulation configuration structures, their
// file-based serialization, and the error values shared across the package.
//
// The package simulates the AODV routing protocol at the logical layer over
// a graph whose links come and go under the control of seeded random events.
// The simulation is organized the same way an experiment run is: a SimConfig
// is built (from a file, or by a front-end from command-line flags), checked,
// and handed to CreateSimulator, which assembles the topology, the AODV
// engine, the event generator, and the trace.

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Errors the simulation distinguishes.  Configuration problems are reported
// before any step executes; candidate exhaustion is an ordinary run-time
// outcome the event generator converts into a skipped event.
var (
	// ErrConfig marks a configuration rejected before the run starts
	ErrConfig = errors.New("invalid simulation configuration")

	// ErrExhaustedCandidates is returned by RNG context draws for which
	// no valid candidate exists (e.g., a link to add on a complete graph)
	ErrExhaustedCandidates = errors.New("no candidates to draw from")

	// ErrDuplicateLink is returned when adding a link that is already up
	ErrDuplicateLink = errors.New("link already exists")

	// ErrNoSuchLink is returned when removing a link that is already down
	ErrNoSuchLink = errors.New("link does not exist")
)

// InitialLinks selects the topology the simulation starts from
type InitialLinks string

const (
	// InitNone starts with an empty link set
	InitNone InitialLinks = "none"

	// InitConnected starts from a random spanning tree, so that every
	// pair of nodes is initially reachable
	InitConnected InitialLinks = "connected"
)

// SimConfig carries every parameter of a run.  The validate tags express the
// ranges the external interface promises; Check applies them, plus the
// constraints the tags cannot express, before the simulator is built.
type SimConfig struct {
	// number of nodes, fixed for the whole run
	Nodes int `json:"nodes" yaml:"nodes" validate:"gt=0"`

	// number of time steps to execute
	TimeSteps int `json:"timesteps" yaml:"timesteps" validate:"gt=0"`

	// per-step probability of a route-request event
	PrRequest float64 `json:"prrequest" yaml:"prrequest" validate:"gte=0,lte=1"`

	// per-step probability of a new-link event
	PrNewLink float64 `json:"prnewlink" yaml:"prnewlink" validate:"gte=0,lte=1"`

	// per-step probability of a link-failure event
	PrFailure float64 `json:"prfailure" yaml:"prfailure" validate:"gte=0,lte=1"`

	// master seed for the RNG context
	Seed int64 `json:"seed" yaml:"seed"`

	// bound on flooding depth.  Zero selects the node count, which any
	// simple path fits inside, i.e., an unbounded flood
	TTL int `json:"ttl" yaml:"ttl" validate:"gte=0"`

	// initial link construction policy
	InitialLinks InitialLinks `json:"initiallinks" yaml:"initiallinks"`

	// name attached to the run, carried into the trace
	ExpName string `json:"expname" yaml:"expname"`

	// verbose run-time reporting
	Verbose bool `json:"verbose" yaml:"verbose"`
}

// DefaultSimConfig returns a SimConfig with the defaults the original
// experiment used, save for the seed, which has no sensible default
// and must be set by the caller for a reproducible run.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		Nodes:        10,
		TimeSteps:    25,
		PrRequest:    0.3,
		PrNewLink:    0.1,
		PrFailure:    0.2,
		InitialLinks: InitConnected,
		ExpName:      "aodvsim",
	}
}

var cfgValidate *validator.Validate = validator.New(validator.WithRequiredStructEnabled())

// Check validates the configuration, returning an error wrapping ErrConfig
// describing the first problem found
func (cfg *SimConfig) Check() error {
	if cfg.InitialLinks == "" {
		cfg.InitialLinks = InitNone
	}
	if cfg.InitialLinks != InitNone && cfg.InitialLinks != InitConnected {
		return fmt.Errorf("%w: unrecognized initial link policy %q", ErrConfig, cfg.InitialLinks)
	}
	err := cfgValidate.Struct(cfg)
	if err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: field %s fails constraint %s", ErrConfig, fe.Field(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return nil
}

// floodTTL gives the working TTL, substituting the node count for the
// zero value
func (cfg *SimConfig) floodTTL() int {
	if cfg.TTL > 0 {
		return cfg.TTL
	}
	return cfg.Nodes
}

// ReadSimConfig deserializes a byte slice holding a representation of a
// SimConfig.  If the input dict of bytes is empty, the file whose name is
// given is read to acquire them.  The serialization format is chosen by the
// file name extension, yaml unless the extension says json.
func ReadSimConfig(filename string, dict []byte) (*SimConfig, error) {
	var err error

	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	example := DefaultSimConfig()

	ext := path.Ext(filename)
	if ext == ".json" || ext == ".JSON" {
		err = json.Unmarshal(dict, &example)
	} else {
		err = yaml.Unmarshal(dict, &example)
	}

	if err != nil {
		return nil, err
	}

	return &example, nil
}

// WriteToFile serializes the configuration to the named file, json or yaml
// depending on the extension
func (cfg *SimConfig) WriteToFile(filename string) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*cfg)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		bytes, merr = json.MarshalIndent(*cfg, "", "\t")
	} else {
		return fmt.Errorf("unrecognized config file extension %q", pathExt)
	}

	if merr != nil {
		return merr
	}

	return os.WriteFile(filename, bytes, 0644)
}
