package panicrouter

import "gopkg.in/yaml.v2"

// HandlerAction names the boot-time policy a fault code's handler should
// run. main.go still supplies the actual Handler closures (bus publish,
// power.Manager teardown) — this is only the data-driven decision of
// which canned closure a code gets, so adding a fault code's policy is a
// one-line change to a config file instead of a new Register call.
type HandlerAction string

const (
	// ActionDisengageAndReport forces the output down before reporting,
	// for faults where continuing to drive the output is unsafe.
	ActionDisengageAndReport HandlerAction = "disengage-and-report"
	// ActionReportOnly reports the fault without touching the output,
	// for communication faults the driver has already retried locally.
	ActionReportOnly HandlerAction = "report-only"
)

// handlerPolicy is the on-disk shape of a fault-handler policy document:
// fault code name -> action name.
type handlerPolicy struct {
	Faults map[string]string `yaml:"faults"`
}

// ParseHandlerConfig decodes a YAML fault-handler policy document into a
// code -> action map. A fault name that doesn't match a known FaultCode
// is skipped rather than failing the whole document over one typo; an
// unrecognized action string is kept as-is and left for the caller to
// default (main.go defaults it to report-only).
func ParseHandlerConfig(data []byte) (map[FaultCode]HandlerAction, error) {
	var p handlerPolicy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, err
	}

	out := make(map[FaultCode]HandlerAction, len(p.Faults))
	for name, action := range p.Faults {
		code, ok := faultCodeByName(name)
		if !ok {
			continue
		}
		out[code] = HandlerAction(action)
	}
	return out, nil
}

func faultCodeByName(name string) (FaultCode, bool) {
	for i, n := range faultCodeNames {
		if n == name {
			return FaultCode(i), true
		}
	}
	return 0, false
}
