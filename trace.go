package aodvsim

// trace.go holds the TraceManager, the append-only record of everything a
// run did, and the end-of-run Snapshot.  The trace is what an external
// visualizer consumes: an ordered sequence of per-step records, each listing
// the events evaluated that step with their participants and outcomes.  The
// simulation driver is the sole writer; everything else only reads.

import (
	"encoding/json"
	"fmt"
	"os"
	"path"

	"gopkg.in/yaml.v3"
)

// StepRecord holds the events of one time step, in evaluation order
type StepRecord struct {
	Step   int           `json:"step" yaml:"step"`
	Events []EventRecord `json:"events" yaml:"events"`
}

// TraceManager gathers the step records of an execution.  By testing the
// InUse flag callers can inhibit trace gathering when it isn't wanted while
// keeping the calls to its methods in place.
type TraceManager struct {
	// experiment uses trace
	InUse bool `json:"inuse" yaml:"inuse"`

	// name of experiment
	ExpName string `json:"expname" yaml:"expname"`

	// text name associated with each node id
	NameByID map[int]string `json:"namebyid" yaml:"namebyid"`

	// all step records for this experiment, in step order
	Steps []StepRecord `json:"steps" yaml:"steps"`
}

// CreateTraceManager is a constructor.  It saves the name of the experiment
// and a flag indicating whether the trace manager is active.
func CreateTraceManager(expName string, active bool) *TraceManager {
	tm := new(TraceManager)
	tm.InUse = active
	tm.ExpName = expName
	tm.NameByID = make(map[int]string)
	tm.Steps = make([]StepRecord, 0)
	return tm
}

// Active tells the caller whether the trace manager is gathering records
func (tm *TraceManager) Active() bool {
	return tm.InUse
}

// AddName adds an element to the id -> name dictionary for the trace file
func (tm *TraceManager) AddName(id int, name string) {
	if tm.InUse {
		_, present := tm.NameByID[id]
		if present {
			panic("duplicated id in AddName")
		}
		tm.NameByID[id] = name
	}
}

// AddStep appends the record of one completed time step
func (tm *TraceManager) AddStep(rec StepRecord) {
	if !tm.InUse {
		return
	}
	tm.Steps = append(tm.Steps, rec)
}

// WriteToFile stores the gathered trace to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension
// of this name.
func (tm *TraceManager) WriteToFile(filename string) error {
	if !tm.InUse {
		return nil
	}
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*tm)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		bytes, merr = json.MarshalIndent(*tm, "", "\t")
	} else {
		return fmt.Errorf("unrecognized trace file extension %q", pathExt)
	}

	if merr != nil {
		return merr
	}

	return os.WriteFile(filename, bytes, 0644)
}

// DeliverySummary aggregates the outcomes of every request event in a run
type DeliverySummary struct {
	Requests    int `json:"requests" yaml:"requests"`
	Established int `json:"established" yaml:"established"`
	Failed      int `json:"failed" yaml:"failed"`
	Skipped     int `json:"skipped" yaml:"skipped"`

	// established over non-skipped attempts; zero when nothing was attempted
	SuccessRate float64 `json:"successrate" yaml:"successrate"`
}

// Snapshot is the state of the network at the end of a run: the surviving
// links as an adjacency listing, every routing table, the control message
// counters per node and in total, and the request outcome summary
type Snapshot struct {
	Step      int                        `json:"step" yaml:"step"`
	Links     []Link                     `json:"links" yaml:"links"`
	Adjacency map[int][]int              `json:"adjacency" yaml:"adjacency"`
	Tables    map[int]map[int]RouteEntry `json:"tables" yaml:"tables"`
	PerNode   map[int]MsgStats           `json:"pernode" yaml:"pernode"`
	Totals    MsgStats                   `json:"totals" yaml:"totals"`
	Summary   DeliverySummary            `json:"summary" yaml:"summary"`
}

// WriteToFile stores the snapshot to the named file, json or yaml by
// extension, like the trace
func (snap *Snapshot) WriteToFile(filename string) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*snap)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		bytes, merr = json.MarshalIndent(*snap, "", "\t")
	} else {
		return fmt.Errorf("unrecognized snapshot file extension %q", pathExt)
	}

	if merr != nil {
		return merr
	}

	return os.WriteFile(filename, bytes, 0644)
}
