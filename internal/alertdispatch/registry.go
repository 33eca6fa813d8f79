package alertdispatch

import "github.com/merrymaker/scanner/config"

// Registry holds the configured set of enabled sinks, keyed by name.
type Registry struct {
	sinks map[string]AlertSink
}

// NewRegistry builds a Registry from alert runner configuration, wiring in
// whichever of the four sinks are enabled.
func NewRegistry(cfg config.AlertRunnerConfig) *Registry {
	r := &Registry{sinks: make(map[string]AlertSink)}
	r.add(NewHTTPSink(cfg.HTTP))
	r.add(NewKafkaSink(cfg.Kafka))
	r.add(NewSlackSink(cfg.Slack))
	r.add(NewPagerDutySink(cfg.PagerDuty))
	return r
}

func (r *Registry) add(sink AlertSink) {
	if sink == nil {
		return
	}
	rv := interfaceValue(sink)
	if !rv {
		return
	}
	r.sinks[sink.Name()] = sink
}

// interfaceValue guards against a typed-nil AlertSink (e.g. a nil *HTTPSink
// returned by a disabled constructor and passed through the AlertSink
// interface) registering as non-nil.
func interfaceValue(sink AlertSink) bool {
	switch s := sink.(type) {
	case *HTTPSink:
		return s != nil
	case *KafkaSink:
		return s != nil
	case *SlackSink:
		return s != nil
	case *PagerDutySink:
		return s != nil
	default:
		return sink != nil
	}
}

// Names returns the enabled sink names, used by the rule-job handler to
// fan out one alert-dispatch job per sink (§4.7).
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sinks))
	for name := range r.sinks {
		names = append(names, name)
	}
	return names
}

// Get looks up a sink by name.
func (r *Registry) Get(name string) (AlertSink, bool) {
	s, ok := r.sinks[name]
	return s, ok
}

// Close releases any sinks holding live connections (currently only Kafka).
func (r *Registry) Close() error {
	if k, ok := r.sinks["kafka"].(*KafkaSink); ok {
		return k.Close()
	}
	return nil
}
