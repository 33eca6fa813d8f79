package rules

import "github.com/merrymaker/scanner/internal/domain/model"

// Binding associates a Rule with the scan event types it should run against.
type Binding struct {
	Types []model.ScanEventType
	Rule  Rule
}

// Engine keeps a Map<ScanEventType, Rule[]> and a Map<name, Rule> (§4.5).
type Engine struct {
	byType map[model.ScanEventType][]Rule
	byName map[string]Rule
}

// NewEngine builds an Engine from bindings, skipping any with a nil Rule.
func NewEngine(bindings []Binding) *Engine {
	e := &Engine{
		byType: make(map[model.ScanEventType][]Rule),
		byName: make(map[string]Rule),
	}
	for _, b := range bindings {
		if b.Rule == nil {
			continue
		}
		e.byName[b.Rule.ID()] = b.Rule
		for _, t := range b.Types {
			e.byType[t] = append(e.byType[t], b.Rule)
		}
	}
	return e
}

// RulesFor returns the rules bound to scan event type t, or nil if none.
func (e *Engine) RulesFor(t model.ScanEventType) []Rule {
	return e.byType[t]
}

// ByName looks up a rule by its ID, for rule-job dispatch.
func (e *Engine) ByName(name string) (Rule, bool) {
	r, ok := e.byName[name]
	return r, ok
}
