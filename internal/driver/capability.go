package driver

import "strings"

// Capability is one optional driver operation.
type Capability uint32

const (
	CapInitialize Capability = 1 << iota
	CapTeardown
	CapDefine
	CapDescribe
	CapDrop
	CapAlter
	CapCreate
	CapFind
	CapUpdate
	CapDestroy
	CapFindOrCreate
	CapFindAndUpdate
	CapFindAndDestroy
	CapLock
	CapStatus
	CapAutoIncrement
	CapJoin
)

var capabilityNames = []struct {
	cap  Capability
	name string
}{
	{CapInitialize, "initialize"},
	{CapTeardown, "teardown"},
	{CapDefine, "define"},
	{CapDescribe, "describe"},
	{CapDrop, "drop"},
	{CapAlter, "alter"},
	{CapCreate, "create"},
	{CapFind, "find"},
	{CapUpdate, "update"},
	{CapDestroy, "destroy"},
	{CapFindOrCreate, "findOrCreate"},
	{CapFindAndUpdate, "findAndUpdate"},
	{CapFindAndDestroy, "findAndDestroy"},
	{CapLock, "lock"},
	{CapStatus, "status"},
	{CapAutoIncrement, "autoIncrement"},
	{CapJoin, "join"},
}

func (c Capability) String() string {
	for _, n := range capabilityNames {
		if n.cap == c {
			return n.name
		}
	}
	return "unknown"
}

// ParseCapability resolves an operation name such as "findOrCreate".
func ParseCapability(name string) (Capability, bool) {
	for _, n := range capabilityNames {
		if strings.EqualFold(n.name, name) {
			return n.cap, true
		}
	}
	return 0, false
}

// Capabilities is the set of operations a driver implements.
type Capabilities Capability

// Has reports whether every capability in c is present.
func (s Capabilities) Has(c Capability) bool {
	return Capability(s)&c == c
}

// List returns operation names in declaration order.
func (s Capabilities) List() []string {
	var out []string
	for _, n := range capabilityNames {
		if s.Has(n.cap) {
			out = append(out, n.name)
		}
	}
	return out
}

func (s Capabilities) String() string {
	return strings.Join(s.List(), ",")
}

// Probe detects which optional interfaces d implements.
func Probe(d Driver) Capabilities {
	var c Capability
	set := func(ok bool, bit Capability) {
		if ok {
			c |= bit
		}
	}
	_, ok := d.(Initializer)
	set(ok, CapInitialize)
	_, ok = d.(Teardowner)
	set(ok, CapTeardown)
	_, ok = d.(Definer)
	set(ok, CapDefine)
	_, ok = d.(Describer)
	set(ok, CapDescribe)
	_, ok = d.(Dropper)
	set(ok, CapDrop)
	_, ok = d.(Alterer)
	set(ok, CapAlter)
	_, ok = d.(Creator)
	set(ok, CapCreate)
	_, ok = d.(Finder)
	set(ok, CapFind)
	_, ok = d.(Updater)
	set(ok, CapUpdate)
	_, ok = d.(Destroyer)
	set(ok, CapDestroy)
	_, ok = d.(FindOrCreator)
	set(ok, CapFindOrCreate)
	_, ok = d.(FindAndUpdater)
	set(ok, CapFindAndUpdate)
	_, ok = d.(FindAndDestroyer)
	set(ok, CapFindAndDestroy)
	_, ok = d.(Locker)
	set(ok, CapLock)
	_, ok = d.(Statuser)
	set(ok, CapStatus)
	_, ok = d.(AutoIncrementer)
	set(ok, CapAutoIncrement)
	_, ok = d.(Joiner)
	set(ok, CapJoin)
	return Capabilities(c)
}
